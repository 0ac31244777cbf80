//go:build linux || darwin || freebsd || netbsd || openbsd

package zpipe

import (
	"golang.org/x/sys/unix"
)

// mapSlab maps anonymous private memory for one slab. The mapping lives
// outside the Go heap, so the collector never scans or moves it.
func mapSlab(size int) ([]byte, error) {
	return unix.Mmap(-1, 0, size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_ANON|unix.MAP_PRIVATE)
}

// unmapSlab returns a slab mapped by mapSlab to the OS.
func unmapSlab(mem []byte) error {
	return unix.Munmap(mem)
}
