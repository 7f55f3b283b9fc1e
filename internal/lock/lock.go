// Package lock guards a corpus directory against concurrent writers.
package lock

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/gofrs/flock"

	"github.com/agentstation/grimoire/pkg/constants"
	"github.com/agentstation/grimoire/pkg/errors"
)

// Lock is an exclusive advisory lock on one directory.
type Lock struct {
	path string
	fl   *flock.Flock
}

// Acquire takes the lock file in dir without blocking. A second writer gets
// an error matching errors.ErrLocked.
func Acquire(dir string) (*Lock, error) {
	if err := os.MkdirAll(dir, constants.DirPermissions); err != nil {
		return nil, errors.WrapIO("create", dir, err)
	}
	path := filepath.Join(dir, constants.LockFileName)
	fl := flock.New(path)

	ok, err := fl.TryLock()
	if err != nil {
		return nil, fmt.Errorf("acquire lock: %w", err)
	}
	if !ok {
		return nil, fmt.Errorf("%w: another grimoire process holds %s", errors.ErrLocked, path)
	}
	return &Lock{path: path, fl: fl}, nil
}

// Path returns the lock file.
func (l *Lock) Path() string {
	return l.path
}

// Release unlocks. It is safe to call more than once.
func (l *Lock) Release() error {
	if l == nil || l.fl == nil {
		return nil
	}
	return l.fl.Unlock()
}
