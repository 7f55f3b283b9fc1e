package app

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/agentstation/grimoire/internal/config"
)

// TestDetermineLogLevel tests the log level precedence logic.
func TestDetermineLogLevel(t *testing.T) {
	tests := []struct {
		name     string
		config   *config.Config
		expected string
	}{
		{"default level when no flags set", &config.Config{}, "info"},
		{"verbose flag sets debug", &config.Config{Verbose: true}, "debug"},
		{"quiet flag sets warn", &config.Config{Quiet: true}, "warn"},
		{"explicit log-level overrides verbose", &config.Config{LogLevel: "error", Verbose: true}, "error"},
		{"explicit log-level overrides quiet", &config.Config{LogLevel: "trace", Quiet: true}, "trace"},
		{"both shortcuts prefer quiet", &config.Config{Verbose: true, Quiet: true}, "warn"},
		{"invalid level falls back to info", &config.Config{LogLevel: "loud"}, "info"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, determineLogLevel(tt.config))
		})
	}
}
