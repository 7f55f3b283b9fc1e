package manifest

import (
	"strings"
	"time"

	"github.com/agentstation/grimoire/pkg/errors"
)

// Layouts accepted for timestamps without an explicit zone; they are read as UTC.
var naiveLayouts = []string{
	"2006-01-02T15:04:05.999999999",
	"2006-01-02T15:04:05",
	"2006-01-02T15:04",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

// ParseSince parses an ISO-8601 cutoff. A trailing Z or a numeric offset is
// honored; anything else is read as UTC. Blank input means no cutoff.
func ParseSince(value string) (*time.Time, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return nil, nil
	}
	ts, err := parseTimestamp(value)
	if err != nil {
		return nil, errors.NewParseError("timestamp", "", "invalid since value "+value, err)
	}
	return &ts, nil
}

func parseTimestamp(value string) (time.Time, error) {
	if ts, err := time.Parse(time.RFC3339Nano, value); err == nil {
		return ts.UTC(), nil
	}
	var lastErr error
	for _, layout := range naiveLayouts {
		ts, err := time.ParseInLocation(layout, value, time.UTC)
		if err == nil {
			return ts, nil
		}
		lastErr = err
	}
	return time.Time{}, lastErr
}

func formatTimestamp(ts time.Time) string {
	return ts.UTC().Format(time.RFC3339Nano)
}
