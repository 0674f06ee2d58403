package callsdk

import (
	"bytes"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
)

func TestDebugEnabled(t *testing.T) {
	cases := []struct {
		patterns string
		scope    string
		enabled  bool
	}{
		{"", "Channel", false},
		{"*", "Channel", true},
		{"Chan*", "Channel", true},
		{"Orchestrator", "Channel", false},
		{"Orchestrator, Channel", "Channel", true},
		{"*,-Channel", "Channel", false},
		{"*,-Channel", "Orchestrator", true},
		{"-Channel,*", "Channel", true},
		{"[", "Channel", false},
	}
	for _, c := range cases {
		assert.Equal(t, c.enabled, debugEnabled(c.patterns, c.scope), "patterns: %q, scope: %s", c.patterns, c.scope)
	}
}

func TestNewLogger(t *testing.T) {
	t.Setenv("DEBUG", "Test*")

	var buf bytes.Buffer

	saved := defaultLoggerImpl
	defaultLoggerImpl = zerolog.New(&buf)
	defer func() { defaultLoggerImpl = saved }()

	NewLogger("TestScope").V(1).Info("scoped debug")
	NewLogger("Other").V(1).Info("other debug")
	NewLogger("Other").Info("other info")

	output := buf.String()
	assert.Contains(t, output, "scoped debug")
	assert.NotContains(t, output, "other debug")
	assert.Contains(t, output, "other info")
}
