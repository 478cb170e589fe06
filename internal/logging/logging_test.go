package logging

import (
	"bytes"
	"encoding/json"
	"testing"

	logger "github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewJSON(t *testing.T) {
	t.Parallel()
	var buf bytes.Buffer
	log := New(Options{Level: "debug", Format: "json", Output: &buf})

	log.WithField("call", "abc").Debug("hello")

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "hello", entry["msg"])
	assert.Equal(t, "abc", entry["call"])
}

func TestNewLevelFallback(t *testing.T) {
	t.Parallel()
	log := New(Options{Level: "nonsense", Output: &bytes.Buffer{}})
	assert.Equal(t, logger.InfoLevel, log.GetLevel())
}

func TestDiscard(t *testing.T) {
	t.Parallel()
	log := Discard()
	log.Error("dropped")
}
