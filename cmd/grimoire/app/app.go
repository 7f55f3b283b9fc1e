// Package app provides the application context and dependency management
// for the grimoire CLI: configuration, logging and command wiring.
package app

import (
	"github.com/rs/zerolog"

	"github.com/agentstation/grimoire/internal/config"
	"github.com/agentstation/grimoire/pkg/errors"
)

// App represents the grimoire application with all its dependencies.
type App struct {
	// Version information
	version string
	commit  string
	date    string

	config *config.Config
	logger *zerolog.Logger
}

// Option configures an App.
type Option func(*App) error

// WithConfig replaces the loaded configuration.
func WithConfig(cfg *config.Config) Option {
	return func(a *App) error {
		a.config = cfg
		return nil
	}
}

// WithLogger replaces the configured logger.
func WithLogger(logger *zerolog.Logger) Option {
	return func(a *App) error {
		a.logger = logger
		return nil
	}
}

// New creates a new App with configuration loaded from the default locations.
// A --config flag given later reloads it in setupCommand.
func New(version, commit, date string, opts ...Option) (*App, error) {
	a := &App{
		version: version,
		commit:  commit,
		date:    date,
	}

	cfg, err := config.Load("")
	if err != nil {
		return nil, errors.WrapResource("load", "config", "", err)
	}
	a.config = cfg

	logger := NewLogger(cfg)
	a.logger = &logger

	for _, opt := range opts {
		if err := opt(a); err != nil {
			return nil, err
		}
	}
	return a, nil
}

// Version returns the version information.
func (a *App) Version() string {
	return a.version
}

// Commit returns the git commit hash.
func (a *App) Commit() string {
	return a.commit
}

// Date returns the build date.
func (a *App) Date() string {
	return a.date
}

// Config returns the application configuration.
func (a *App) Config() *config.Config {
	return a.config
}

// Logger returns the application logger.
func (a *App) Logger() *zerolog.Logger {
	return a.logger
}
