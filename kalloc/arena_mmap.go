//go:build linux || darwin || freebsd || netbsd || openbsd

package kalloc

import (
	"fmt"

	"golang.org/x/sys/unix"
)

// mapArena backs the managed range with an anonymous private mapping so the
// frames live outside the Go heap, like real physical memory would.
func mapArena(size int) ([]byte, func() error, error) {
	mem, err := unix.Mmap(-1, 0, size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_ANON|unix.MAP_PRIVATE)
	if err != nil {
		return nil, nil, fmt.Errorf("kalloc: mmap %d bytes: %w", size, err)
	}
	release := func() error {
		if mem == nil {
			return nil
		}
		err := unix.Munmap(mem)
		mem = nil
		return err
	}
	return mem, release, nil
}
