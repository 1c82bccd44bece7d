//go:build !(linux || darwin || freebsd || openbsd || netbsd || dragonfly)

package errorlog

import "os"

// appendLocked relies on the platform's mandatory sharing rules; opening
// fails while another process holds the file exclusively.
func appendLocked(path string, data []byte) error {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return err
	}
	defer f.Close()
	_, err = f.Write(data)
	return err
}
