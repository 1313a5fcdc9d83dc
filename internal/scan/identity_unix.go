//go:build unix

package scan

import (
	"fmt"
	"os"
	"syscall"
)

// fileIdentity returns the (device, inode) pair of info, if the platform exposes it.
func fileIdentity(info os.FileInfo) (string, bool) {
	if stat, ok := info.Sys().(*syscall.Stat_t); ok {
		return fmt.Sprintf("%d:%d", uint64(stat.Dev), uint64(stat.Ino)), true //nolint:unconvert // Dev is int32 on darwin
	}
	return "", false
}
