package synth

import "fmt"

// TransportError wraps a connection-level failure: the session could
// not be opened, or a send on the shared connection failed. An open
// failure is retryable by calling Open (or Synthesize) again.
type TransportError struct {
	Op  string // "dial", "setup", "send", "receive"
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("transport %s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// ProtocolError marks a malformed or unexpected frame. It is recovered
// locally — the frame is skipped and logged — and never reaches
// callers of Synthesize.
type ProtocolError struct {
	Reason string
	Err    error
}

func (e *ProtocolError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("protocol: %s: %v", e.Reason, e.Err)
	}
	return fmt.Sprintf("protocol: %s", e.Reason)
}

func (e *ProtocolError) Unwrap() error { return e.Err }
