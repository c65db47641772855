package rtcore

// These constants are verified via unit tests.
const (
	// cacheLineSize is the size of a CPU cache line. 64 bytes is standard
	// for x86-64; 128 bytes is standard for Apple Silicon and other ARM64.
	// We use the larger value to satisfy the widest common alignment
	// requirement.
	cacheLineSize = 128

	// sizeOfAtomicUint64 is the size of an atomic.Uint64 variable.
	sizeOfAtomicUint64 = 8
)
