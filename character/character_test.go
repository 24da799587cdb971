package character

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/st-keller/charsync/schema"
)

func TestSchemas(t *testing.T) {
	req := RequestSchema()
	assert.Equal(t, 21, req.Len())
	assert.NotContains(t, req.Names(), "name")
	assert.Equal(t, "level", req.Names()[0])
	assert.Equal(t, "ias", req.Names()[20])

	stream := StreamSchema()
	assert.Equal(t, 22, stream.Len())
	assert.Equal(t, "name", stream.Names()[0])
}

func TestStreamSchemaTracksName(t *testing.T) {
	tr := schema.NewTracker(StreamSchema())
	c := &Character{Name: "Deckard", Level: 1}
	tr.Diff(c)

	c.Name = "Cain"
	assert.Equal(t, []schema.Change{{Name: "name", Value: "Cain"}}, tr.Diff(c))
}

func TestCharacterIsState(t *testing.T) {
	c := &Character{Name: "Warriv", Time: 4200}
	assert.Equal(t, "Warriv", c.Identity())
	assert.Equal(t, int64(4200), c.Elapsed())
}

func TestParseSession(t *testing.T) {
	session, err := ParseSession([]byte(`
snapshots:
  - name: Kashya
    level: 1
    hitpoints: 50
    t: 0
  - name: Kashya
    level: 1
    hitpoints: 45
    deaths: 1
    t: 5000
`))
	require.NoError(t, err)
	require.Len(t, session.Snapshots, 2)
	assert.Equal(t, 45, session.Snapshots[1].Hitpoints)
	assert.Equal(t, int16(1), session.Snapshots[1].Deaths)
	assert.Equal(t, int64(5000), session.Snapshots[1].Time)
}

func TestParseSessionRejects(t *testing.T) {
	tests := []struct {
		name   string
		yaml   string
		errMsg string
	}{
		{name: "unknown field", yaml: "snapshots:\n  - hitpoint: 3\n", errMsg: "failed to parse YAML"},
		{name: "empty", yaml: "snapshots: []\n", errMsg: "no snapshots"},
		{name: "time backwards", yaml: "snapshots:\n  - t: 10\n  - t: 5\n", errMsg: "time goes backwards"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseSession([]byte(tt.yaml))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.errMsg)
		})
	}
}

func TestLoadSession(t *testing.T) {
	path := filepath.Join(t.TempDir(), "session.yaml")
	require.NoError(t, os.WriteFile(path, []byte("snapshots:\n  - name: Gheed\n    gold: 100\n"), 0o600))

	session, err := LoadSession(path)
	require.NoError(t, err)
	assert.Equal(t, 100, session.Snapshots[0].Gold)

	_, err = LoadSession(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.ErrorContains(t, err, "failed to read session file")
}
