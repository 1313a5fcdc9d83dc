//go:build windows

package filesystem

import "golang.org/x/sys/windows"

func diskUsage(path string) (Usage, error) {
	pathPtr, err := windows.UTF16PtrFromString(path)
	if err != nil {
		return Usage{}, err
	}

	var freeAvailable, total, totalFree uint64
	if err := windows.GetDiskFreeSpaceEx(pathPtr, &freeAvailable, &total, &totalFree); err != nil {
		return Usage{}, err
	}

	return Usage{Free: freeAvailable, Total: total}, nil
}
