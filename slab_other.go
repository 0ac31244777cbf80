//go:build !(linux || darwin || freebsd || netbsd || openbsd)

package zpipe

// mapSlab falls back to the Go heap where anonymous mappings are unavailable.
func mapSlab(size int) ([]byte, error) {
	return make([]byte, size), nil
}

// unmapSlab is a no-op; the collector reclaims heap slabs.
func unmapSlab(mem []byte) error {
	return nil
}
