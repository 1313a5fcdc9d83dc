// Package volumes enumerates mounted volumes that can receive migrated data.
package volumes

import (
	"errors"
	"fmt"
	"path"
	"runtime"
	"sort"
	"strings"

	"github.com/rs/zerolog"

	"github.com/joe/dirmover/pkg/filesystem"
)

// Exported variables.
var (
	ErrNoVolumes = errors.New("no volumes found")
	ErrNotFound  = errors.New("no volume contains path")
)

// Mount is one entry from the platform's mount table.
type Mount struct {
	Device     string
	MountPoint string
	FSType     string
}

// Volume is a mounted volume with its capacity.
type Volume struct {
	Mount
	Free  uint64
	Total uint64
	// IsSystem marks the volume holding the operating system. It is never offered as a
	// migration target.
	IsSystem bool
}

// Used returns the bytes in use.
func (v Volume) Used() uint64 {
	if v.Free > v.Total {
		return 0
	}
	return v.Total - v.Free
}

// Options configures a Lister. Zero values select the running platform.
type Options struct {
	FS filesystem.FileSystem
	// Mounts overrides the platform mount table.
	Mounts func() ([]Mount, error)
	// SystemPath is a path on the system volume; defaults to "/" or %SystemRoot%.
	SystemPath string
	GOOS       string
	Getenv     func(string) string
	Logger     zerolog.Logger
}

// Lister answers volume queries.
type Lister struct {
	fs         filesystem.FileSystem
	mounts     func() ([]Mount, error)
	systemPath string
	goos       string
	logger     zerolog.Logger
}

// New creates a Lister.
func New(opts Options) *Lister {
	l := &Lister{
		fs:         opts.FS,
		mounts:     opts.Mounts,
		systemPath: opts.SystemPath,
		goos:       opts.GOOS,
		logger:     opts.Logger,
	}
	if l.fs == nil {
		l.fs = filesystem.NewOsFileSystem()
	}
	if l.mounts == nil {
		l.mounts = platformMounts
	}
	if l.goos == "" {
		l.goos = runtime.GOOS
	}
	if l.systemPath == "" {
		l.systemPath = defaultSystemPath(l.goos, opts.Getenv)
	}
	return l
}

// List returns every real volume with its capacity, sorted by mount point. Volumes whose
// capacity cannot be read are skipped.
func (l *Lister) List() ([]Volume, error) {
	mounts, err := l.mounts()
	if err != nil {
		return nil, fmt.Errorf("failed to read mount table: %w", err)
	}

	seen := make(map[string]bool, len(mounts))
	var volumes []Volume

	for _, m := range mounts {
		if !isRealFilesystem(m) || seen[m.MountPoint] {
			continue
		}
		seen[m.MountPoint] = true

		usage, err := l.fs.DiskUsage(m.MountPoint)
		if err != nil {
			l.logger.Debug().Err(err).Str("path", m.MountPoint).Msg("skipping volume without usage")
			continue
		}
		if usage.Total == 0 {
			continue
		}

		volumes = append(volumes, Volume{Mount: m, Free: usage.Free, Total: usage.Total})
	}

	if len(volumes) == 0 {
		return nil, ErrNoVolumes
	}

	sort.Slice(volumes, func(i, j int) bool { return volumes[i].MountPoint < volumes[j].MountPoint })

	if system, ok := containing(volumes, l.systemPath, l.goos); ok {
		volumes[system].IsSystem = true
	}

	return volumes, nil
}

// Targets returns the volumes that may receive migrated data: every volume except the
// one holding the operating system.
func (l *Lister) Targets() ([]Volume, error) {
	volumes, err := l.List()
	if err != nil {
		return nil, err
	}

	targets := volumes[:0]
	for _, v := range volumes {
		if !v.IsSystem {
			targets = append(targets, v)
		}
	}
	return targets, nil
}

// VolumeOf returns the volume whose mount point is the longest prefix of path.
func (l *Lister) VolumeOf(path string) (Volume, error) {
	volumes, err := l.List()
	if err != nil {
		return Volume{}, err
	}

	i, ok := containing(volumes, path, l.goos)
	if !ok {
		return Volume{}, fmt.Errorf("%w: %s", ErrNotFound, path)
	}
	return volumes[i], nil
}

// containing finds the volume with the longest mount point enclosing path.
func containing(volumes []Volume, path, goos string) (int, bool) {
	best, bestLen := -1, -1
	key := normalize(goos, path)

	for i, v := range volumes {
		mount := normalize(goos, v.MountPoint)
		if !encloses(mount, key) {
			continue
		}
		if len(mount) > bestLen {
			best, bestLen = i, len(mount)
		}
	}
	return best, best >= 0
}

func encloses(mount, path string) bool {
	if mount == path {
		return true
	}
	if !strings.HasSuffix(mount, "/") {
		mount += "/"
	}
	return strings.HasPrefix(path, mount)
}

// normalize converts path to a cleaned slash form; Windows paths compare
// case-insensitively.
func normalize(goos, p string) string {
	if goos == "windows" {
		return strings.ToLower(path.Clean(strings.ReplaceAll(p, `\`, "/")))
	}
	return path.Clean(p)
}

func defaultSystemPath(goos string, getenv func(string) string) string {
	if goos != "windows" {
		return "/"
	}
	if getenv != nil {
		if root := getenv("SystemRoot"); root != "" {
			return root
		}
		if drive := getenv("SystemDrive"); drive != "" {
			return drive + `\`
		}
	}
	return `C:\`
}

//nolint:gochecknoglobals // lookup table
var pseudoFilesystems = map[string]bool{
	"autofs": true, "binfmt_misc": true, "bpf": true, "cgroup": true, "cgroup2": true,
	"configfs": true, "debugfs": true, "devfs": true, "devpts": true, "devtmpfs": true,
	"fusectl": true, "hugetlbfs": true, "mqueue": true, "nsfs": true, "overlay": true,
	"proc": true, "pstore": true, "ramfs": true, "securityfs": true, "squashfs": true,
	"sysfs": true, "tmpfs": true, "tracefs": true, "efivarfs": true, "rpc_pipefs": true,
	"nullfs": true,
}

// isRealFilesystem drops kernel pseudo filesystems, read-only images and the macOS
// system snapshot mounts.
func isRealFilesystem(m Mount) bool {
	if m.MountPoint == "" || pseudoFilesystems[m.FSType] {
		return false
	}
	if strings.HasPrefix(m.MountPoint, "/System/Volumes/") && m.MountPoint != "/System/Volumes/Data" {
		return false
	}
	return !strings.HasPrefix(m.MountPoint, "/proc/") && !strings.HasPrefix(m.MountPoint, "/sys/")
}
