// Package segment splits free-form text into speakable units, roughly
// one sentence each. It avoids false splits after abbreviations
// ("Dr. Smith") and merges fragments that would be awkwardly short to
// speak on their own. Pure functions, safe for concurrent use.
package segment

import (
	"strings"
	"unicode"
)

// DefaultMinWords is the minimum word count a unit should carry unless
// it is the only unit or the final remainder.
const DefaultMinWords = 5

// abbreviations that commonly precede a period without ending a
// sentence. Compared lowercased, trailing punctuation stripped.
var abbreviations = map[string]struct{}{
	// titles
	"mr": {}, "mrs": {}, "ms": {}, "dr": {}, "prof": {}, "rev": {},
	"hon": {}, "gen": {}, "sen": {}, "rep": {}, "sgt": {}, "capt": {},
	"st": {}, "jr": {}, "sr": {},
	// units
	"oz": {}, "lb": {}, "lbs": {}, "kg": {}, "g": {}, "mg": {},
	"km": {}, "cm": {}, "mm": {}, "ft": {}, "in": {}, "yd": {},
	"hr": {}, "min": {}, "sec": {},
	// months
	"jan": {}, "feb": {}, "mar": {}, "apr": {}, "jun": {}, "jul": {},
	"aug": {}, "sep": {}, "sept": {}, "oct": {}, "nov": {}, "dec": {},
	// weekdays
	"mon": {}, "tue": {}, "tues": {}, "wed": {}, "thu": {}, "thurs": {},
	"fri": {}, "sat": {}, "sun": {},
	// latin and misc
	"etc": {}, "eg": {}, "ie": {}, "vs": {}, "al": {}, "cf": {},
	"viz": {}, "approx": {}, "dept": {}, "est": {}, "inc": {}, "no": {},
}

// Split breaks text into ordered speakable units. minWords is the
// minimum word count per unit; values <= 0 fall back to
// DefaultMinWords. Concatenating the returned units reproduces the
// input's non-whitespace content in order.
func Split(text string, minWords int) []string {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}
	if minWords <= 0 {
		minWords = DefaultMinWords
	}

	// Short input: not worth splitting at all.
	if wordCount(text) <= minWords+2 {
		return []string{text}
	}

	frags := splitBoundaries(text)
	frags = mergeAbbreviations(frags)
	units := coalesce(frags, minWords)

	if len(units) == 0 {
		return []string{text}
	}
	return units
}

// splitBoundaries performs the preliminary split: a run of sentence
// punctuation (optionally followed by closing quotes or brackets)
// followed by whitespace ends a fragment. Punctuation stays attached
// to the preceding fragment.
func splitBoundaries(text string) []string {
	var frags []string
	var current strings.Builder

	runes := []rune(text)
	for i := 0; i < len(runes); i++ {
		current.WriteRune(runes[i])
		if !isSentenceEnd(runes[i]) {
			continue
		}

		// Consume the full punctuation run and any trailing closers.
		for i+1 < len(runes) && isSentenceEnd(runes[i+1]) {
			i++
			current.WriteRune(runes[i])
		}
		for i+1 < len(runes) && isCloser(runes[i+1]) {
			i++
			current.WriteRune(runes[i])
		}

		// Only a boundary if whitespace follows.
		if i+1 < len(runes) && unicode.IsSpace(runes[i+1]) {
			frags = append(frags, strings.TrimSpace(current.String()))
			current.Reset()
			for i+1 < len(runes) && unicode.IsSpace(runes[i+1]) {
				i++
			}
		}
	}
	if s := strings.TrimSpace(current.String()); s != "" {
		frags = append(frags, s)
	}
	return frags
}

// mergeAbbreviations rejoins fragments whose boundary was a false
// split: the token before the boundary is a known abbreviation, a
// short all-caps acronym, or a lone initial.
func mergeAbbreviations(frags []string) []string {
	if len(frags) <= 1 {
		return frags
	}

	out := make([]string, 0, len(frags))
	current := frags[0]
	for _, next := range frags[1:] {
		if spuriousBoundary(current) {
			current = current + " " + next
			continue
		}
		out = append(out, current)
		current = next
	}
	return append(out, current)
}

// spuriousBoundary reports whether the boundary after frag should not
// have split the text, judged by frag's final token.
func spuriousBoundary(frag string) bool {
	fields := strings.Fields(frag)
	if len(fields) == 0 {
		return false
	}
	token := strings.TrimRightFunc(fields[len(fields)-1], func(r rune) bool {
		return unicode.IsPunct(r)
	})
	if token == "" {
		return false
	}

	if _, ok := abbreviations[strings.ToLower(token)]; ok {
		return true
	}
	// Dotted forms: "e.g." and "U.S." carry interior periods.
	plain := strings.ReplaceAll(token, ".", "")
	if _, ok := abbreviations[strings.ToLower(plain)]; ok {
		return true
	}

	runes := []rune(plain)
	if len(runes) == 1 && unicode.IsLetter(runes[0]) {
		return true // initials like "J."
	}
	if len(runes) >= 2 && len(runes) <= 4 && isAllUpper(runes) {
		return true // acronyms like "U.S." or "NASA"
	}
	return false
}

// coalesce merges fragments left to right so no unit (except possibly
// the last) falls below minWords, without letting a merge push a unit
// past twice the minimum.
func coalesce(frags []string, minWords int) []string {
	var units []string
	var acc string

	for _, frag := range frags {
		if acc == "" {
			acc = frag
			continue
		}
		accWords := wordCount(acc)
		if accWords < minWords && accWords+wordCount(frag) <= 2*minWords {
			acc = acc + " " + frag
			continue
		}
		units = append(units, acc)
		acc = frag
	}
	if acc != "" {
		units = append(units, acc)
	}
	return units
}

func wordCount(s string) int {
	return len(strings.Fields(s))
}

func isSentenceEnd(r rune) bool {
	return r == '.' || r == '!' || r == '?'
}

func isCloser(r rune) bool {
	switch r {
	case ')', ']', '"', '\'', '”', '’', '»':
		return true
	}
	return false
}

func isAllUpper(runes []rune) bool {
	for _, r := range runes {
		if !unicode.IsLetter(r) || !unicode.IsUpper(r) {
			return false
		}
	}
	return true
}
