//go:build !linux && !darwin && !freebsd && !netbsd && !openbsd

package kalloc

// mapArena falls back to a heap slice where anonymous mmap is unavailable.
func mapArena(size int) ([]byte, func() error, error) {
	return make([]byte, size), func() error { return nil }, nil
}
