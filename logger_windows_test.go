package shadowcascade

import (
	"testing"

	"github.com/apex/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDebugWriter(t *testing.T) {
	n, err := debugWriter{}.Write([]byte("line\n"))
	require.NoError(t, err)
	assert.Equal(t, 5, n)

	_, err = debugWriter{}.Write([]byte("nul\x00inside"))
	assert.Error(t, err)
}

func TestDebuggerHandler(t *testing.T) {
	logger := &log.Logger{Handler: debuggerHandler(), Level: log.DebugLevel}
	assert.NotPanics(t, func() {
		logger.WithField("stage", "test").Info("reaches the debugger")
	})
	require.NoError(t, procOutputDebugStringW.Find())
}
