//go:build windows

package volumes

import (
	"fmt"

	"golang.org/x/sys/windows"
)

const maxFSNameLength = windows.MAX_PATH + 1

func platformMounts() ([]Mount, error) {
	drives, err := windows.GetLogicalDrives()
	if err != nil {
		return nil, fmt.Errorf("failed to list drives: %w", err)
	}

	var mounts []Mount
	for i := range 26 {
		if drives&(1<<uint(i)) == 0 {
			continue
		}
		root := string(rune('A'+i)) + `:\`

		rootPtr, err := windows.UTF16PtrFromString(root)
		if err != nil {
			continue
		}
		switch windows.GetDriveType(rootPtr) {
		case windows.DRIVE_FIXED, windows.DRIVE_REMOVABLE, windows.DRIVE_REMOTE:
		default:
			continue
		}

		fsName := make([]uint16, maxFSNameLength)
		if err := windows.GetVolumeInformation(rootPtr, nil, 0, nil, nil, nil, &fsName[0], maxFSNameLength); err != nil {
			continue // no media
		}

		mounts = append(mounts, Mount{
			Device:     root,
			MountPoint: root,
			FSType:     windows.UTF16ToString(fsName),
		})
	}
	return mounts, nil
}
