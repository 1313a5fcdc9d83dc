//go:build linux

package volumes

import (
	"fmt"
	"os"
)

const procMounts = "/proc/self/mounts"

func platformMounts() ([]Mount, error) {
	data, err := os.ReadFile(procMounts)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", procMounts, err)
	}
	return parseProcMounts(data), nil
}
