package volumes

import (
	"bufio"
	"bytes"
	"strconv"
	"strings"
)

// procMountFields is the minimum number of fields in a /proc/self/mounts line.
const procMountFields = 3

// parseProcMounts reads the fstab-style format of /proc/self/mounts. Spaces and other
// special characters in paths are octal-escaped there (\040 for a space).
func parseProcMounts(data []byte) []Mount {
	var mounts []Mount

	scanner := bufio.NewScanner(bytes.NewReader(data))
	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		if len(fields) < procMountFields || strings.HasPrefix(fields[0], "#") {
			continue
		}
		mounts = append(mounts, Mount{
			Device:     unescapeOctal(fields[0]),
			MountPoint: unescapeOctal(fields[1]),
			FSType:     fields[2],
		})
	}

	return mounts
}

func unescapeOctal(s string) string {
	if !strings.Contains(s, `\`) {
		return s
	}

	var b strings.Builder
	for i := 0; i < len(s); i++ {
		if s[i] == '\\' && i+4 <= len(s) {
			if v, err := strconv.ParseUint(s[i+1:i+4], 8, 8); err == nil {
				b.WriteByte(byte(v))
				i += 3
				continue
			}
		}
		b.WriteByte(s[i])
	}
	return b.String()
}
