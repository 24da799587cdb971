// Package encode turns a set of changed fields into the compact JSON payload sent upstream.
package encode

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"math"

	"github.com/st-keller/charsync/schema"
)

// Payload is an immutable serialized snapshot of one sync attempt.
// A retry resends the same Payload; it is never re-encoded.
type Payload struct {
	data     []byte
	checksum string
}

// Bytes returns a copy of the serialized JSON.
func (p *Payload) Bytes() []byte {
	return bytes.Clone(p.data)
}

// Len returns the payload size in bytes.
func (p *Payload) Len() int {
	return len(p.data)
}

// Checksum is the hex SHA256 of the payload, used to correlate retries in logs.
func (p *Payload) Checksum() string {
	return p.checksum
}

func (p *Payload) String() string {
	return string(p.data)
}

// Pair is one metadata key appended after the changed fields.
type Pair struct {
	Key   string
	Value any
}

// Encode writes changes (in the given order) followed by meta into a JSON object.
// NaN and infinite floats are written as null. Returns an error for values JSON
// cannot represent at all (channels, funcs).
func Encode(changes []schema.Change, meta []Pair) (*Payload, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')

	first := true
	write := func(key string, value any) error {
		k, err := json.Marshal(key)
		if err != nil {
			return fmt.Errorf("failed to encode key %q: %w", key, err)
		}
		v, err := json.Marshal(finite(value))
		if err != nil {
			return fmt.Errorf("failed to encode %q: %w", key, err)
		}
		if !first {
			buf.WriteByte(',')
		}
		first = false
		buf.Write(k)
		buf.WriteByte(':')
		buf.Write(v)
		return nil
	}

	for _, c := range changes {
		if err := write(c.Name, c.Value); err != nil {
			return nil, err
		}
	}
	for _, m := range meta {
		if err := write(m.Key, m.Value); err != nil {
			return nil, err
		}
	}

	buf.WriteByte('}')

	data := buf.Bytes()
	hash := sha256.Sum256(data)
	return &Payload{
		data:     data,
		checksum: hex.EncodeToString(hash[:]),
	}, nil
}

func finite(value any) any {
	switch f := value.(type) {
	case float64:
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return nil
		}
	case float32:
		if math.IsNaN(float64(f)) || math.IsInf(float64(f), 0) {
			return nil
		}
	}
	return value
}
