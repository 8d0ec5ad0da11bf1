package observability

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"github.com/cory-johannsen/arena/internal/config"
)

func TestNewLogger_JSON(t *testing.T) {
	cfg := config.LoggingConfig{Level: "info", Format: "json"}
	logger, err := NewLogger(cfg)
	require.NoError(t, err)
	assert.NotNil(t, logger)
}

func TestNewLogger_Console(t *testing.T) {
	cfg := config.LoggingConfig{Level: "debug", Format: "console"}
	logger, err := NewLogger(cfg)
	require.NoError(t, err)
	assert.NotNil(t, logger)
}

func TestNewLogger_InvalidLevel(t *testing.T) {
	cfg := config.LoggingConfig{Level: "trace", Format: "json"}
	_, err := NewLogger(cfg)
	assert.Error(t, err)
}

func TestNewLogger_InvalidFormat(t *testing.T) {
	cfg := config.LoggingConfig{Level: "info", Format: "xml"}
	_, err := NewLogger(cfg)
	assert.Error(t, err)
}

func TestNewLogger_AllLevels(t *testing.T) {
	for _, level := range []string{"debug", "info", "warn", "error"} {
		cfg := config.LoggingConfig{Level: level, Format: "json"}
		logger, err := NewLogger(cfg)
		require.NoError(t, err, "level %q should be valid", level)
		assert.NotNil(t, logger)
	}
}

func TestComponent_NilLogger(t *testing.T) {
	logger := Component(nil, "connection")
	assert.NotNil(t, logger)
}

func TestTrace_KeepsOrder(t *testing.T) {
	tr := NewTrace(10, nil)
	tr.Line("first")
	tr.Line("second")
	assert.Equal(t, []string{"first", "second"}, tr.Lines())
	assert.Equal(t, "second", tr.Last())
}

func TestTrace_Empty(t *testing.T) {
	tr := NewTrace(0, nil)
	assert.Empty(t, tr.Lines())
	assert.Equal(t, "", tr.Last())
}

func TestTrace_BoundedCapacity(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		capacity := rapid.IntRange(1, 20).Draw(rt, "capacity")
		n := rapid.IntRange(0, 60).Draw(rt, "lines")
		tr := NewTrace(capacity, nil)
		for i := 0; i < n; i++ {
			tr.Line(fmt.Sprintf("line %d", i))
		}
		lines := tr.Lines()
		want := n
		if want > capacity {
			want = capacity
		}
		if len(lines) != want {
			rt.Fatalf("got %d lines, want %d", len(lines), want)
		}
		if n > 0 && lines[len(lines)-1] != fmt.Sprintf("line %d", n-1) {
			rt.Fatalf("last line %q", lines[len(lines)-1])
		}
	})
}
