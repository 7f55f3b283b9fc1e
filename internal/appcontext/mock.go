package appcontext

import (
	"github.com/rs/zerolog"

	"github.com/agentstation/grimoire/internal/config"
)

// Mock provides a mock implementation of Interface for testing.
// If a function field is nil, the method returns a default value.
type Mock struct {
	ConfigFunc  func() *config.Config
	LoggerFunc  func() *zerolog.Logger
	VersionFunc func() string
}

// Config returns the config from the mock function or an empty config.
func (m *Mock) Config() *config.Config {
	if m.ConfigFunc != nil {
		return m.ConfigFunc()
	}
	return &config.Config{}
}

// Logger returns a logger using the mock function or a no-op logger.
func (m *Mock) Logger() *zerolog.Logger {
	if m.LoggerFunc != nil {
		return m.LoggerFunc()
	}
	logger := zerolog.Nop()
	return &logger
}

// Version returns version using the mock function or "dev".
func (m *Mock) Version() string {
	if m.VersionFunc != nil {
		return m.VersionFunc()
	}
	return "dev"
}

// Ensure Mock implements Interface at compile time.
var _ Interface = (*Mock)(nil)
