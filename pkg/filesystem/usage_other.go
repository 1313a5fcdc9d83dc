//go:build !linux && !darwin && !windows

package filesystem

func diskUsage(string) (Usage, error) {
	return Usage{}, ErrUsageUnsupported
}
