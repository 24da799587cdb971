package character

import (
	"bytes"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Session is a recorded sequence of snapshots, oldest first.
type Session struct {
	Snapshots []Character `yaml:"snapshots"`
}

// LoadSession reads a recorded session from a YAML file.
func LoadSession(path string) (*Session, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read session file: %w", err)
	}
	return ParseSession(data)
}

// ParseSession decodes a recorded session, rejecting unknown keys.
func ParseSession(data []byte) (*Session, error) {
	var session Session
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true) // Reject typos like "hitpoint:"
	if err := decoder.Decode(&session); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	if len(session.Snapshots) == 0 {
		return nil, fmt.Errorf("session has no snapshots")
	}
	for i := 1; i < len(session.Snapshots); i++ {
		if session.Snapshots[i].Time < session.Snapshots[i-1].Time {
			return nil, fmt.Errorf("snapshot %d: time goes backwards (%d < %d)",
				i, session.Snapshots[i].Time, session.Snapshots[i-1].Time)
		}
	}

	return &session, nil
}
