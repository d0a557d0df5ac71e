//go:build !unix

package lockfile

import "os"

// Non-unix platforms get a best-effort advisory lock: the file is already
// open exclusively enough for this process's own lifetime; a genuine OS
// file lock isn't wired here since the engine's primary deployment target
// is unix. A cross-platform flock shim would be the next step if Windows
// support becomes a requirement.
func flockExclusive(f *os.File) error { return nil }

func flockUnlock(f *os.File) error { return nil }

func isWouldBlock(err error) bool { return false }
