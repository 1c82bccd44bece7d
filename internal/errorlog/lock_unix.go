//go:build linux || darwin || freebsd || openbsd || netbsd || dragonfly

package errorlog

import (
	"fmt"
	"os"

	"golang.org/x/sys/unix"
)

// appendLocked probes the file with a non-blocking exclusive flock and, once
// the probe succeeds, appends data while holding the lock.
func appendLocked(path string, data []byte) error {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return err
	}
	defer f.Close()

	fd := int(f.Fd())
	if err := unix.Flock(fd, unix.LOCK_EX|unix.LOCK_NB); err != nil {
		return fmt.Errorf("%w: %v", ErrLocked, err)
	}
	defer unix.Flock(fd, unix.LOCK_UN)

	_, err = f.Write(data)
	return err
}
