// Package appcontext provides the shared application context interface
// used by all commands, so command packages depend on an interface rather
// than on the concrete App.
package appcontext

import (
	"github.com/rs/zerolog"

	"github.com/agentstation/grimoire/internal/config"
)

// Interface defines the application context interface that commands need.
// The App struct from cmd/grimoire/app implements it; tests use Mock.
type Interface interface {
	// Config returns the loaded configuration, with flags applied.
	Config() *config.Config

	// Logger returns the configured logger instance.
	// Commands should use this for all logging operations.
	Logger() *zerolog.Logger

	// Version returns the application version string.
	Version() string
}
