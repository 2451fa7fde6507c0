package util

import "runtime"

// ReasonableWorkerCount picks the default number of per-worker pools:
// one per schedulable CPU, clamped to [1..256].
func ReasonableWorkerCount() int {
	p := runtime.GOMAXPROCS(0)
	if p < 1 {
		p = 1
	}
	if p > 256 {
		p = 256
	}
	return p
}

// BucketIndex maps a block number to one of n hash buckets.
// Uses a mask when n is a power of two, modulo otherwise (the classic
// prime bucket count of 13 takes the modulo path).
func BucketIndex(blockno uint64, n int) int {
	if n <= 1 {
		return 0
	}
	if IsPowerOfTwo(uint64(n)) {
		return int(blockno & uint64(n-1))
	}
	return int(blockno % uint64(n))
}
