//go:build unix

package vault

import (
	"io/fs"
	"syscall"
)

type fileKey struct {
	dev uint64
	ino uint64
	alt string
}

// keyFor identifies a file by (device, inode) so hard links and
// case-insensitive duplicate spellings collapse to one record.
func keyFor(path string, info fs.FileInfo) fileKey {
	if st, ok := info.Sys().(*syscall.Stat_t); ok {
		return fileKey{dev: uint64(st.Dev), ino: uint64(st.Ino)}
	}
	return fileKey{alt: path}
}
