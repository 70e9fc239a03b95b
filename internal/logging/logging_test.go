package logging

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestNewBuildsLoggerAtLevel(t *testing.T) {
	t.Parallel()

	for _, format := range []string{"json", "console", ""} {
		logger, err := New("warn", format)
		require.NoError(t, err, format)

		assert.False(t, logger.Core().Enabled(zap.InfoLevel), format)
		assert.True(t, logger.Core().Enabled(zap.WarnLevel), format)
	}
}

func TestNewRejectsUnknownValues(t *testing.T) {
	t.Parallel()

	_, err := New("loud", "json")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "parse log level")

	_, err = New("info", "xml")
	require.EqualError(t, err, `unsupported log format "xml"`)
}
