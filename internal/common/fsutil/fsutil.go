package fsutil

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// MaxDatafileBytes caps seed datafiles read from disk.
const MaxDatafileBytes = 16 << 20

// ExpandHome expands a leading '~' to the user's home directory.
func ExpandHome(path string) (string, error) {
	if path == "" || path[0] != '~' {
		return path, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("home dir: %w", err)
	}
	if path == "~" {
		return home, nil
	}
	return filepath.Join(home, strings.TrimPrefix(path, "~/")), nil
}

// ReadDatafile loads a seed datafile from path ('~' expanded). The document
// must be a JSON object; its content is otherwise not interpreted.
func ReadDatafile(path string) (string, error) {
	p, err := ExpandHome(path)
	if err != nil {
		return "", err
	}
	f, err := os.Open(p)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return "", fmt.Errorf("datafile %s: not found", p)
		}
		return "", fmt.Errorf("datafile %s: %w", p, err)
	}
	defer f.Close()
	b, err := io.ReadAll(io.LimitReader(f, MaxDatafileBytes+1))
	if err != nil {
		return "", fmt.Errorf("datafile %s: %w", p, err)
	}
	if len(b) > MaxDatafileBytes {
		return "", fmt.Errorf("datafile %s: larger than %d bytes", p, MaxDatafileBytes)
	}
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(b, &obj); err != nil {
		return "", fmt.Errorf("datafile %s: not a JSON object: %w", p, err)
	}
	return string(b), nil
}
