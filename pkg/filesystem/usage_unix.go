//go:build linux || darwin

package filesystem

import "golang.org/x/sys/unix"

func diskUsage(path string) (Usage, error) {
	var stat unix.Statfs_t
	if err := unix.Statfs(path, &stat); err != nil {
		return Usage{}, err
	}

	blockSize := uint64(stat.Bsize) //nolint:gosec // block sizes are positive

	return Usage{
		Free:  uint64(stat.Bavail) * blockSize,
		Total: uint64(stat.Blocks) * blockSize,
	}, nil
}
