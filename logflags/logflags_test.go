package logflags

import (
	"bytes"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSetupWithoutLog(t *testing.T) {
	require.NoError(t, Setup(false, "", ""))
	assert.False(t, Session())
	assert.Equal(t, errLogstrWithoutLog, Setup(false, "memory", ""))
}

func TestSetupComponents(t *testing.T) {
	defer Setup(false, "", "")

	require.NoError(t, Setup(true, "", ""))
	assert.True(t, Session())
	assert.False(t, Memory())

	require.NoError(t, Setup(true, "memory, catalog", ""))
	assert.True(t, Memory())
	assert.True(t, Catalog())
	assert.False(t, Session())
	assert.False(t, Process())

	require.NoError(t, Setup(true, "all", ""))
	assert.True(t, Process())

	assert.Error(t, Setup(true, "gdbwire", ""))
}

func TestDisabledLoggerIsQuiet(t *testing.T) {
	var buf bytes.Buffer
	SetOutput(&buf)
	defer SetOutput(nil)
	defer Setup(false, "", "")

	require.NoError(t, Setup(false, "", ""))
	l := MemoryLogger()
	assert.Equal(t, logrus.PanicLevel, l.Logger.Level)
	l.Debug("hidden")
	assert.Empty(t, buf.String())

	require.NoError(t, Setup(true, "memory", ""))
	l = MemoryLogger()
	l.Debug("shown")
	assert.Contains(t, buf.String(), "shown")
	assert.Contains(t, buf.String(), "layer=memory")
}
