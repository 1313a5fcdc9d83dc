package classifier

import (
	"path/filepath"
	"strings"
)

// Well-known categories.
const (
	CategoryLocal    = "Local"
	CategoryLocalLow = "LocalLow"
	CategoryRoaming  = "Roaming"
	CategoryCache    = "Cache"
	CategoryConfig   = "Config"
	CategoryData     = "Data"
)

// platformRoots returns the per-user application data roots for goos.
func platformRoots(goos, home string, getenv func(string) string) []Root {
	switch goos {
	case "windows":
		return windowsRoots(home, getenv)
	case "darwin":
		if home == "" {
			return nil
		}
		return []Root{
			{Name: CategoryCache, Path: filepath.Join(home, "Library", "Caches")},
			{Name: CategoryData, Path: filepath.Join(home, "Library", "Application Support")},
			{Name: CategoryConfig, Path: filepath.Join(home, "Library", "Preferences")},
		}
	default:
		return xdgRoots(home, getenv)
	}
}

func windowsRoots(home string, getenv func(string) string) []Root {
	local := getenv("LOCALAPPDATA")
	roaming := getenv("APPDATA")

	profile := getenv("USERPROFILE")
	if profile == "" {
		profile = home
	}

	if profile != "" {
		appData := filepath.Join(profile, "AppData")
		if local == "" {
			local = filepath.Join(appData, "Local")
		}
		if roaming == "" {
			roaming = filepath.Join(appData, "Roaming")
		}
	}

	var roots []Root
	if local != "" {
		roots = append(roots,
			Root{Name: CategoryLocal, Path: local},
			Root{Name: CategoryLocalLow, Path: filepath.Join(filepath.Dir(local), "LocalLow")},
		)
	}
	if roaming != "" {
		roots = append(roots, Root{Name: CategoryRoaming, Path: roaming})
	}

	return roots
}

// xdgRoots honors XDG_*_HOME overrides and falls back to the usual dot directories.
func xdgRoots(home string, getenv func(string) string) []Root {
	pick := func(env string, fallback ...string) string {
		if dir := getenv(env); dir != "" && filepath.IsAbs(dir) {
			return dir
		}
		if home == "" {
			return ""
		}
		return filepath.Join(append([]string{home}, fallback...)...)
	}

	var roots []Root
	for _, root := range []Root{
		{Name: CategoryCache, Path: pick("XDG_CACHE_HOME", ".cache")},
		{Name: CategoryConfig, Path: pick("XDG_CONFIG_HOME", ".config")},
		{Name: CategoryData, Path: pick("XDG_DATA_HOME", ".local", "share")},
	} {
		if root.Path != "" {
			roots = append(roots, root)
		}
	}

	return roots
}

// protectedPaths returns system locations that must never be a migration source or target.
func protectedPaths(goos string, getenv func(string) string) []string {
	if goos == "windows" {
		var paths []string
		drive := getenv("SystemDrive")
		if drive == "" {
			drive = "C:"
		}
		paths = append(paths, drive+`\`)
		for _, env := range []string{"SystemRoot", "ProgramFiles", "ProgramFiles(x86)", "ProgramData"} {
			if dir := getenv(env); dir != "" {
				paths = append(paths, dir)
			}
		}
		return paths
	}

	paths := []string{
		"/bin",
		"/boot",
		"/dev",
		"/etc",
		"/lib",
		"/lib64",
		"/proc",
		"/sbin",
		"/sys",
		"/usr",
	}
	if goos == "darwin" {
		paths = append(paths, "/System", "/Applications", "/Library")
	}

	return paths
}

// pathKey normalizes a path for comparison; Windows paths compare case-insensitively.
func pathKey(goos, path string) string {
	clean := filepath.Clean(path)
	if goos == "windows" {
		return strings.ToLower(clean)
	}
	return clean
}
