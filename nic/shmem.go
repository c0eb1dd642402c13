package nic

import (
	"fmt"

	"golang.org/x/sys/unix"
)

const shmDir = "/dev/shm"

// openNicShmRegion creates (always; unlike ShmemPort's uplink side, an
// endpoint never merely attaches) and maps a size-byte POSIX shared-memory
// region, matching simplenic_t's constructor: shm_open(O_RDWR|O_CREAT),
// ftruncate, mmap.
func openNicShmRegion(name string, size int) ([]byte, error) {
	path := shmDir + "/" + name
	fd, err := unix.Open(path, unix.O_RDWR|unix.O_CREAT, 0700)
	if err != nil {
		return nil, fmt.Errorf("shm_open %s: %w", path, err)
	}
	defer unix.Close(fd)

	if err := unix.Ftruncate(fd, int64(size)); err != nil {
		return nil, fmt.Errorf("ftruncate %s: %w", path, err)
	}

	region, err := unix.Mmap(fd, 0, size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		return nil, fmt.Errorf("mmap %s: %w", path, err)
	}
	return region, nil
}
