//go:build !windows

package parser

import (
	"os"
	"syscall"
)

// openNoFollow opens a log for reading and fails with ELOOP when
// the final path component is a symlink, so a child log name can
// never be used to read a file outside the session directory.
func openNoFollow(path string) (*os.File, error) {
	return os.OpenFile(
		path, os.O_RDONLY|syscall.O_NOFOLLOW, 0,
	)
}
