// sayd — speak text through the streaming synthesis pipeline.
//
// Usage:
//
//	sayd [-verbose] [-quiet] [flags] "text to speak"
//	echo "text" | sayd -input -
//
// Requires SYNTH_WS_URL (and usually SYNTH_API_KEY) in the environment
// or a .env file.
package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"io"
	stdlog "log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"golang.org/x/sync/errgroup"

	"github.com/ykdojo/super-voice-assistant-sub000/internal/logger"
	"github.com/ykdojo/super-voice-assistant-sub000/internal/player"
	"github.com/ykdojo/super-voice-assistant-sub000/internal/synth"
	"github.com/ykdojo/super-voice-assistant-sub000/internal/wavenc"
)

func main() {
	_ = godotenv.Load()

	verbose := flag.Bool("verbose", false, "enable verbose/debug logging")
	quiet := flag.Bool("quiet", false, "disable all logging")
	voice := flag.String("voice", synth.DefaultVoice, "voice identity for the synthesis session")
	model := flag.String("model", synth.DefaultModel, "remote model identity")
	gapMs := flag.Int("gap-ms", 120, "silence between units in milliseconds")
	minWords := flag.Int("min-words", 5, "minimum words per speakable unit")
	abort := flag.Bool("abort-on-failure", false, "abort the whole sequence when one unit fails")
	wavPath := flag.String("wav", "", "write a WAV file instead of playing (non-streaming path)")
	input := flag.String("input", "", "read text from this file (- for stdin) instead of arguments")
	flag.Parse()

	logLevel := logger.LevelNormal
	if *verbose {
		logLevel = logger.LevelVerbose
	}
	if *quiet {
		logLevel = logger.LevelOff
	}
	log := logger.New(logLevel, os.Stderr)

	// Third-party libraries log through the stdlib logger; keep it on
	// the same output.
	stdlog.SetOutput(log.Writer())
	stdlog.SetFlags(stdlog.Ltime)

	text, err := readText(*input, flag.Args())
	if err != nil {
		fmt.Fprintf(os.Stderr, "sayd: %v\n", err)
		os.Exit(1)
	}
	if strings.TrimSpace(text) == "" {
		fmt.Fprintln(os.Stderr, "sayd: nothing to speak")
		os.Exit(1)
	}

	wsURL := os.Getenv("SYNTH_WS_URL")
	if wsURL == "" {
		fmt.Fprintln(os.Stderr, "sayd: SYNTH_WS_URL is not set")
		os.Exit(1)
	}
	apiKey := os.Getenv("SYNTH_API_KEY")

	dial := synth.WebSocketDialer(wsURL, apiKey)
	source := synth.New(dial, log,
		synth.WithModel(*model),
		synth.WithVoice(*voice),
	)
	defer source.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// One-shot WAV path: synthesize the whole text, encode, done.
	if *wavPath != "" {
		pcm, err := source.SynthesizeAll(ctx, text)
		if err != nil {
			fmt.Fprintf(os.Stderr, "sayd: synthesis failed: %v\n", err)
			os.Exit(1)
		}
		if err := wavenc.EncodeFile(*wavPath, pcm, player.SampleRate, player.ChannelCount); err != nil {
			fmt.Fprintf(os.Stderr, "sayd: %v\n", err)
			os.Exit(1)
		}
		log.Info("wrote %s (%d PCM bytes)", *wavPath, len(pcm))
		return
	}

	sink, err := player.NewOtoSink(log)
	if err != nil {
		fmt.Fprintf(os.Stderr, "sayd: audio device unavailable: %v\n", err)
		os.Exit(1)
	}
	defer sink.Close()

	policy := player.FailContinue
	if *abort {
		policy = player.FailAbort
	}
	pl := player.New(source, sink, log,
		player.WithGap(time.Duration(*gapMs)*time.Millisecond),
		player.WithMinWords(*minWords),
		player.WithFailurePolicy(policy),
		player.WithObserver(func(ev player.UnitEvent) {
			log.Debug("unit %d %s", ev.Unit, ev.State)
		}),
	)

	// Ctrl-C cancels playback cleanly.
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		defer cancel()
		return pl.Speak(gctx, text)
	})
	g.Go(func() error {
		select {
		case <-sigCh:
			log.Info("interrupted, stopping playback")
			pl.Stop()
		case <-gctx.Done():
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		fmt.Fprintf(os.Stderr, "sayd: %v\n", err)
		os.Exit(1)
	}
}

func readText(input string, args []string) (string, error) {
	if input == "" {
		return strings.Join(args, " "), nil
	}

	var r io.Reader = os.Stdin
	if input != "-" {
		f, err := os.Open(input)
		if err != nil {
			return "", err
		}
		defer f.Close()
		r = f
	}

	scanner := bufio.NewScanner(r)
	var lines []string
	for scanner.Scan() {
		lines = append(lines, scanner.Text())
	}
	return strings.Join(lines, " "), scanner.Err()
}
