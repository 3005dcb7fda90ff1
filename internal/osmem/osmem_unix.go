//go:build unix

package osmem

import (
	"errors"

	"golang.org/x/sys/unix"
)

func reserve(size int) ([]byte, error) {
	return unix.Mmap(-1, 0, size,
		unix.PROT_READ|unix.PROT_WRITE,
		unix.MAP_ANON|unix.MAP_PRIVATE)
}

func release(b []byte) error {
	err := unix.Munmap(b)
	if errors.Is(err, unix.EINVAL) {
		// Treat double-unmap as no-op for callers.
		return nil
	}
	return err
}
