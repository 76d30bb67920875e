package rb

// roundToPowerOf2 rounds the given capacity up to the next power of two.
// A zero capacity is rounded up to 1.
func roundToPowerOf2(capacity uint64) uint64 {
	if capacity == 0 {
		return 1
	}

	capacity--
	capacity |= capacity >> 1
	capacity |= capacity >> 2
	capacity |= capacity >> 4
	capacity |= capacity >> 8
	capacity |= capacity >> 16
	capacity |= capacity >> 32

	return capacity + 1
}
