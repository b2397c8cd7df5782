package index

import (
	"os"
	"path/filepath"

	"github.com/gofrs/flock"

	"github.com/pborenstein/temoa/internal/errors"
	"github.com/pborenstein/temoa/internal/store"
)

// vaultLock serializes index writes at vault granularity. A second writer
// does not wait; it fails fast with IndexBusy.
type vaultLock struct {
	fl *flock.Flock
}

// acquireVaultLock takes the exclusive per-vault index lock.
func acquireVaultLock(vaultPath string) (*vaultLock, error) {
	dir := filepath.Join(vaultPath, store.StateDirName)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, errors.New(errors.ErrCodeIndexWrite, "cannot create state directory", err)
	}

	fl := flock.New(filepath.Join(dir, "index.lock"))
	locked, err := fl.TryLock()
	if err != nil {
		return nil, errors.New(errors.ErrCodeIndexWrite, "cannot acquire index lock", err)
	}
	if !locked {
		return nil, errors.IndexBusy(vaultPath)
	}
	return &vaultLock{fl: fl}, nil
}

// release drops the lock.
func (l *vaultLock) release() {
	_ = l.fl.Unlock()
}
