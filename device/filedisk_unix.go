//go:build linux || freebsd

package device

import (
	"io"
	"os"

	"golang.org/x/sys/unix"
)

// readBlock fills p from offset off with pread, zero-filling past EOF.
func readBlock(f *os.File, p []byte, off int64) error {
	fd := int(f.Fd())
	for done := 0; done < len(p); {
		n, err := unix.Pread(fd, p[done:], off+int64(done))
		if err == unix.EINTR {
			continue
		}
		if err != nil {
			return err
		}
		if n == 0 {
			clear(p[done:])
			return nil
		}
		done += n
	}
	return nil
}

// writeBlock writes p at off with pwrite and fdatasyncs the image.
func writeBlock(f *os.File, p []byte, off int64) error {
	fd := int(f.Fd())
	for done := 0; done < len(p); {
		n, err := unix.Pwrite(fd, p[done:], off+int64(done))
		if err == unix.EINTR {
			continue
		}
		if err != nil {
			return err
		}
		if n == 0 {
			return io.ErrShortWrite
		}
		done += n
	}
	return unix.Fdatasync(fd)
}
