//go:build windows

package parser

import "os"

// openNoFollow opens a log for reading. Windows has no
// O_NOFOLLOW; LogPath's name checks are the only guard there.
func openNoFollow(path string) (*os.File, error) {
	return os.Open(path)
}
