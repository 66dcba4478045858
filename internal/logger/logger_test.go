package logger

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseLevel(t *testing.T) {
	cases := map[string]Level{
		"debug":   LevelDebug,
		"TRACE":   LevelDebug,
		"warn":    LevelWarn,
		"warning": LevelWarn,
		"error":   LevelError,
		"":        LevelInfo,
		"bogus":   LevelInfo,
	}
	for in, want := range cases {
		assert.Equal(t, want, ParseLevel(in), in)
	}
}

func TestEnabled(t *testing.T) {
	prev := Level(logLevel.Load())
	t.Cleanup(func() { SetLevel(prev) })

	SetLevel(LevelWarn)
	assert.False(t, enabled(LevelInfo))
	assert.True(t, enabled(LevelWarn))
	assert.True(t, enabled(LevelError))

	SetLevel(LevelDebug)
	assert.True(t, enabled(LevelDebug))
}

func TestTag(t *testing.T) {
	SetPrefix("api")
	t.Cleanup(func() { SetPrefix("") })
	assert.Equal(t, "[api] ", tag())
	SetPrefix("")
	assert.Equal(t, "", tag())
}
