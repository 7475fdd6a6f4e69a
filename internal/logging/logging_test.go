package logging

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	log "github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSetup(t *testing.T) {
	prev := log.GetLevel()
	defer log.SetLevel(prev)

	require.NoError(t, Setup("debug"))
	assert.Equal(t, log.DebugLevel, log.GetLevel())
	assert.Error(t, Setup("chatty"))
}

func TestSessionLogWritesToBothOutputs(t *testing.T) {
	var parentOut bytes.Buffer
	parent := log.New()
	parent.SetOutput(&parentOut)

	path := filepath.Join(t.TempDir(), "logs", "rpi3-01.log")
	sl, err := NewSessionLog(parent, path, log.Fields{"board": "rpi3-01"})
	require.NoError(t, err)

	sl.WithField("state", "Ready").Info("state transition")
	require.NoError(t, sl.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "board=rpi3-01")
	assert.Contains(t, string(data), "state=Ready")
	assert.Contains(t, parentOut.String(), "state transition")
}

func TestDiscard(t *testing.T) {
	Discard().Error("nobody hears this")
}
