//go:build darwin

package volumes

import (
	"fmt"

	"golang.org/x/sys/unix"
)

func platformMounts() ([]Mount, error) {
	n, err := unix.Getfsstat(nil, unix.MNT_NOWAIT)
	if err != nil {
		return nil, fmt.Errorf("failed to count mounts: %w", err)
	}

	stats := make([]unix.Statfs_t, n)
	n, err = unix.Getfsstat(stats, unix.MNT_NOWAIT)
	if err != nil {
		return nil, fmt.Errorf("failed to list mounts: %w", err)
	}

	mounts := make([]Mount, 0, n)
	for _, s := range stats[:n] {
		mounts = append(mounts, Mount{
			Device:     unix.ByteSliceToString(s.Mntfromname[:]),
			MountPoint: unix.ByteSliceToString(s.Mntonname[:]),
			FSType:     unix.ByteSliceToString(s.Fstypename[:]),
		})
	}
	return mounts, nil
}
