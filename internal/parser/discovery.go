package parser

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

// File names inside a session directory.
const (
	MasterLogName = "master.log"
	ErrorLogName  = "master.error_log"
)

// ErrInvalidLogName is returned for child log names that could
// escape the session directory.
var ErrInvalidLogName = errors.New("invalid log file name")

// isDirOrSymlink reports whether the entry is a directory or a
// symlink that resolves to a directory. parentDir is needed to
// build the full path for symlink resolution.
func isDirOrSymlink(
	entry os.DirEntry, parentDir string,
) bool {
	if entry.IsDir() {
		return true
	}
	if entry.Type()&os.ModeSymlink == 0 {
		return false
	}
	fi, err := os.Stat(
		filepath.Join(parentDir, entry.Name()),
	)
	return err == nil && fi.IsDir()
}

// DiscoveredSession is a session directory holding a master log.
type DiscoveredSession struct {
	ID      string
	Dir     string
	ModTime time.Time // master log mtime
}

// DiscoverSessions lists session directories under sessionsDir,
// most recently written first. A missing sessionsDir yields no
// sessions and no error.
func DiscoverSessions(sessionsDir string) ([]DiscoveredSession, error) {
	entries, err := os.ReadDir(sessionsDir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("reading sessions dir: %w", err)
	}

	var sessions []DiscoveredSession
	for _, entry := range entries {
		if !IsValidSessionID(entry.Name()) ||
			!isDirOrSymlink(entry, sessionsDir) {
			continue
		}
		dir := filepath.Join(sessionsDir, entry.Name())
		info, err := os.Lstat(filepath.Join(dir, MasterLogName))
		if err != nil || !info.Mode().IsRegular() {
			continue
		}
		sessions = append(sessions, DiscoveredSession{
			ID:      entry.Name(),
			Dir:     dir,
			ModTime: info.ModTime(),
		})
	}
	sort.Slice(sessions, func(i, j int) bool {
		if !sessions[i].ModTime.Equal(sessions[j].ModTime) {
			return sessions[i].ModTime.After(sessions[j].ModTime)
		}
		return sessions[i].ID < sessions[j].ID
	})
	return sessions, nil
}

// FindSessionDir returns the directory of a session with a
// master log, or "" if there is none.
func FindSessionDir(sessionsDir, sessionID string) string {
	if !IsValidSessionID(sessionID) {
		return ""
	}
	dir := filepath.Join(sessionsDir, sessionID)
	if !IsRegularFile(filepath.Join(dir, MasterLogName)) {
		return ""
	}
	return dir
}

// LogPath joins a log name announced by the master log onto the
// session directory. Names must be plain file names.
func LogPath(dir, name string) (string, error) {
	if !ValidLogName(name) {
		return "", fmt.Errorf("%w: %q", ErrInvalidLogName, name)
	}
	return filepath.Join(dir, name), nil
}

// ValidLogName reports whether name is a single path component.
func ValidLogName(name string) bool {
	if name == "" || name == "." || name == ".." {
		return false
	}
	return !strings.ContainsAny(name, "/\\\x00")
}

// IsValidSessionID reports whether id contains only
// alphanumeric characters, dashes, and underscores.
func IsValidSessionID(id string) bool {
	if id == "" {
		return false
	}
	for _, c := range id {
		if !isAlphanumOrDashUnderscore(c) {
			return false
		}
	}
	return true
}

func isAlphanumOrDashUnderscore(c rune) bool {
	return (c >= 'a' && c <= 'z') ||
		(c >= 'A' && c <= 'Z') ||
		(c >= '0' && c <= '9') ||
		c == '-' || c == '_'
}

// IsRegularFile reports whether path is a regular file (not
// a symlink, directory, or special file).
func IsRegularFile(path string) bool {
	info, err := os.Lstat(path)
	if err != nil {
		return false
	}
	return info.Mode().IsRegular()
}

// OpenLog opens a session log without following a symlink at
// the final path component.
func OpenLog(path string) (*os.File, error) {
	return openNoFollow(path)
}
