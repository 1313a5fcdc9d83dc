//go:build !unix

package scan

import "os"

// fileIdentity has no inode to offer on this platform; callers fall back to the resolved
// path.
func fileIdentity(os.FileInfo) (string, bool) {
	return "", false
}
