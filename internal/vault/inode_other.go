//go:build !unix

package vault

import "io/fs"

type fileKey struct {
	dev uint64
	ino uint64
	alt string
}

// keyFor falls back to the literal path where inode identity is unavailable.
func keyFor(path string, _ fs.FileInfo) fileKey {
	return fileKey{alt: path}
}
