package charsync

import (
	"fmt"
	"strings"

	"github.com/st-keller/charsync/transport"
)

// Status is the engine's view of the remote.
type Status int

const (
	StatusConnecting   Status = iota // nothing acknowledged yet
	StatusOk                         // last delivery succeeded
	StatusInvalid                    // remote rejected the last payload
	StatusLost                       // last delivery got no response
	StatusDisconnected               // no connection (stream) or engine closed
)

func (s Status) String() string {
	switch s {
	case StatusConnecting:
		return "connecting"
	case StatusOk:
		return "ok"
	case StatusInvalid:
		return "invalid"
	case StatusLost:
		return "lost"
	case StatusDisconnected:
		return "disconnected"
	default:
		return "unknown"
	}
}

// MarshalText renders the status name in JSON output.
func (s Status) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText parses a status name, so replay summaries round-trip.
func (s *Status) UnmarshalText(text []byte) error {
	name := strings.ToLower(strings.TrimSpace(string(text)))
	for candidate := StatusConnecting; candidate <= StatusDisconnected; candidate++ {
		if candidate.String() == name {
			*s = candidate
			return nil
		}
	}
	return fmt.Errorf("unknown status %q", string(text))
}

// statusFor maps a failed delivery to the status it leaves behind.
func statusFor(class transport.FailureClass) Status {
	switch class {
	case transport.FailureRejected:
		return StatusInvalid
	case transport.FailureDisconnected:
		return StatusDisconnected
	default:
		return StatusLost
	}
}
