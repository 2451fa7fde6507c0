package util

// IsPowerOfTwo reports whether x is a power of two (> 0).
func IsPowerOfTwo(x uint64) bool {
	return x != 0 && (x&(x-1)) == 0
}

// IsAligned reports whether addr is a multiple of align.
// align must be a power of two.
func IsAligned(addr, align uint64) bool {
	return addr&(align-1) == 0
}
