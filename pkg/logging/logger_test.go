package logging_test

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentstation/grimoire/pkg/logging"
)

func TestDefaultLogger(t *testing.T) {
	original := *logging.Default()
	t.Cleanup(func() { logging.SetDefault(original) })

	buf := &bytes.Buffer{}
	logging.SetDefault(zerolog.New(buf).Level(zerolog.DebugLevel))

	logging.Info().Msg("info message")
	logging.Warn().Msg("warning message")

	output := buf.String()
	assert.Contains(t, output, "info message")
	assert.Contains(t, output, "warning message")
}

func TestContextLogger(t *testing.T) {
	tl := logging.NewTestLogger(t)

	ctx := logging.WithLogger(context.Background(), tl.Logger)
	ctx = logging.WithDataset(ctx, "weapons")
	ctx = logging.WithEntityType(ctx, "weapon")
	ctx = logging.WithAnnotation(ctx, "ann-1", "bundle-7")
	ctx = logging.WithRunID(ctx, "run-42")

	logging.FromContext(ctx).Info().Msg("reconciled")

	tl.AssertContains(t, `"dataset":"weapons"`)
	tl.AssertContains(t, `"entity_type":"weapon"`)
	tl.AssertContains(t, `"annotation_id":"ann-1"`)
	tl.AssertContains(t, `"bundle_id":"bundle-7"`)
	tl.AssertContains(t, `"run_id":"run-42"`)
	assert.Equal(t, "run-42", logging.RunID(ctx))
}

func TestFromContextFallsBackToDefault(t *testing.T) {
	//nolint:staticcheck // nil context is handled explicitly
	assert.Equal(t, logging.Default(), logging.FromContext(nil))
	assert.Equal(t, logging.Default(), logging.FromContext(context.Background()))
	assert.Empty(t, logging.RunID(context.Background()))
}

func TestNewLoggerFromConfig(t *testing.T) {
	originalLevel := zerolog.GlobalLevel()
	t.Cleanup(func() { zerolog.SetGlobalLevel(originalLevel) })

	tests := []struct {
		name  string
		level string
		want  []string
		never []string
	}{
		{name: "debug level", level: "debug", want: []string{`"level":"debug"`, `"level":"info"`}},
		{name: "error only", level: "error", want: []string{`"level":"error"`}, never: []string{`"level":"info"`}},
		{name: "warning alias", level: "warning", want: []string{`"level":"error"`}, never: []string{`"level":"info"`}},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			buf := &bytes.Buffer{}
			logger := logging.NewLoggerFromConfig(&logging.Config{Level: tc.level, Format: "json"}).Output(buf)

			logger.Debug().Msg("debug")
			logger.Info().Msg("info")
			logger.Error().Msg("error")

			for _, s := range tc.want {
				assert.Contains(t, buf.String(), s)
			}
			for _, s := range tc.never {
				assert.NotContains(t, buf.String(), s)
			}
		})
	}
}

func TestConfigFileOutput(t *testing.T) {
	originalLevel := zerolog.GlobalLevel()
	t.Cleanup(func() { zerolog.SetGlobalLevel(originalLevel) })

	path := filepath.Join(t.TempDir(), "grimoire.log")
	logger := logging.NewLoggerFromConfig(&logging.Config{Level: "info", Format: "json", Output: path})
	logger.Info().Str("dataset", "bosses").Msg("written to file")

	content, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(content), "written to file")
	assert.Contains(t, string(content), `"dataset":"bosses"`)
}

func TestTestLogger(t *testing.T) {
	tl := logging.NewTestLogger(t)

	tl.Logger.Info().Str("dataset", "weapons").Msg("message 1")
	tl.Logger.Error().Msg("message 2")

	tl.AssertContains(t, "message 1")
	tl.AssertNotContains(t, "message 3")
	assert.Equal(t, 2, tl.Count())

	e, ok := tl.Find("message 1")
	require.True(t, ok)
	assert.Equal(t, "weapons", e["dataset"])
	assert.Equal(t, "info", e["level"])
	_, ok = tl.Find("message 3")
	assert.False(t, ok)

	tl.Reset()
	assert.Equal(t, 0, tl.Count())
}

func TestWithRunIDTagsOnce(t *testing.T) {
	tl := logging.NewTestLogger(t)

	ctx := logging.WithLogger(context.Background(), tl.Logger)
	ctx = logging.WithRunID(ctx, "run-1")
	ctx = logging.WithRunID(ctx, "run-1")
	logging.FromContext(ctx).Info().Msg("exported")

	assert.Equal(t, 1, strings.Count(tl.Output(), `"run_id"`))
	assert.Equal(t, "run-1", logging.RunID(ctx))
}
