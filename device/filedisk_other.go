//go:build !linux && !freebsd

package device

import (
	"errors"
	"io"
	"os"
)

// readBlock fills p from offset off, zero-filling past EOF.
func readBlock(f *os.File, p []byte, off int64) error {
	n, err := f.ReadAt(p, off)
	if errors.Is(err, io.EOF) {
		clear(p[n:])
		return nil
	}
	return err
}

// writeBlock writes p at off and syncs the image.
func writeBlock(f *os.File, p []byte, off int64) error {
	if _, err := f.WriteAt(p, off); err != nil {
		return err
	}
	return f.Sync()
}
