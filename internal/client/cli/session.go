package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/dmitrijs2005/gophauth/internal/client/client"
	"github.com/dmitrijs2005/gophauth/internal/filex"
)

// SessionFile keeps the token pair between runs of the CLI. The file is only
// readable by its owner; an empty pair removes it. An empty path keeps the
// session in memory only.
type SessionFile struct {
	path string
}

func NewSessionFile(path string) *SessionFile {
	return &SessionFile{path: path}
}

// Load returns the saved pair, or an empty one when nothing was saved.
func (s *SessionFile) Load() (client.Tokens, error) {
	var t client.Tokens
	if s.path == "" {
		return t, nil
	}

	data, err := os.ReadFile(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		return t, nil
	}
	if err != nil {
		return t, fmt.Errorf("read session: %w", err)
	}
	if err := json.Unmarshal(data, &t); err != nil {
		return client.Tokens{}, fmt.Errorf("parse session %s: %w", s.path, err)
	}
	return t, nil
}

func (s *SessionFile) Save(t client.Tokens) error {
	if s.path == "" {
		return nil
	}
	if t == (client.Tokens{}) {
		err := os.Remove(s.path)
		if err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("remove session: %w", err)
		}
		return nil
	}

	data, err := json.Marshal(t)
	if err != nil {
		return err
	}

	dir, err := filex.EnsureParentDir(s.path)
	if err != nil {
		return fmt.Errorf("save session: %w", err)
	}

	// write to a sibling and rename, so a crash never leaves half a file
	tmp, err := os.CreateTemp(dir, ".session-*")
	if err != nil {
		return fmt.Errorf("save session: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("save session: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("save session: %w", err)
	}
	if err := os.Rename(tmp.Name(), s.path); err != nil {
		return fmt.Errorf("save session: %w", err)
	}
	return nil
}
