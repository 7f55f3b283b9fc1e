package save

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"

	"github.com/goccy/go-yaml"

	"github.com/agentstation/grimoire/pkg/constants"
	"github.com/agentstation/grimoire/pkg/errors"
)

// Encode renders v in format f. JSON is indented by two spaces with map keys
// sorted; both formats end with a newline.
func Encode(v any, f Format) ([]byte, error) {
	switch f {
	case FormatJSON:
		var buf bytes.Buffer
		enc := json.NewEncoder(&buf)
		enc.SetEscapeHTML(false)
		enc.SetIndent("", "  ")
		if err := enc.Encode(v); err != nil {
			return nil, errors.WrapParse("json", "", err)
		}
		return buf.Bytes(), nil
	case FormatYAML:
		data, err := yaml.MarshalWithOptions(v, yaml.Indent(2), yaml.IndentSequence(true))
		if err != nil {
			return nil, errors.WrapParse("yaml", "", err)
		}
		return data, nil
	}
	return nil, &errors.ValidationError{Field: "format", Value: f, Message: "unsupported format"}
}

// Write encodes v and sends it to the configured writer, or to the configured
// path through WriteFile when no writer is set.
func Write(v any, opts ...Option) error {
	options := Defaults().Apply(opts...)

	data, err := Encode(v, options.Format())
	if err != nil {
		return err
	}

	if w := options.Writer(); w != nil {
		if _, err := w.Write(data); err != nil {
			return errors.WrapIO("write", options.Path(), err)
		}
		return nil
	}
	if options.Path() == "" {
		return &errors.ConfigError{
			Component: "save",
			Message:   "no path or writer configured",
		}
	}
	return WriteFile(options.Path(), data)
}

// WriteFile replaces path with data atomically: the bytes go to a temporary
// file in the same directory, which is then renamed over path. Parent
// directories are created as needed.
func WriteFile(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, constants.DirPermissions); err != nil {
		return errors.WrapIO("create", dir, err)
	}

	tempFile, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return errors.WrapIO("create", "temp file", err)
	}
	tempPath := tempFile.Name()

	if _, err := tempFile.Write(data); err != nil {
		_ = tempFile.Close()
		_ = os.Remove(tempPath)
		return errors.WrapIO("write", path, err)
	}
	if err := tempFile.Close(); err != nil {
		_ = os.Remove(tempPath)
		return errors.WrapIO("write", path, err)
	}
	if err := os.Chmod(tempPath, constants.FilePermissions); err != nil {
		_ = os.Remove(tempPath)
		return errors.WrapIO("chmod", tempPath, err)
	}

	// Atomically move temp file to final location
	if err := os.Rename(tempPath, path); err != nil {
		_ = os.Remove(tempPath)
		return errors.WrapIO("rename", path, err)
	}
	return nil
}
