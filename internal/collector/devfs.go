package collector

import (
	"os"
	"path/filepath"
	"sort"

	"golang.org/x/sys/unix"
)

// DefaultDevRoot is where device nodes live on a live system
const DefaultDevRoot = "/dev"

// ByIDLinks maps base device names to the /dev/disk/by-id link names
// pointing at them. GCE publishes google-<deviceName> links there.
func ByIDLinks(devRoot string) map[string][]string {
	if devRoot == "" {
		devRoot = DefaultDevRoot
	}

	links := make(map[string][]string)
	byIDPath := filepath.Join(devRoot, "disk", "by-id")

	entries, err := os.ReadDir(byIDPath)
	if err != nil {
		return links
	}

	for _, entry := range entries {
		if entry.Type()&os.ModeSymlink == 0 {
			continue
		}

		linkPath := filepath.Join(byIDPath, entry.Name())
		target, err := filepath.EvalSymlinks(linkPath)
		if err != nil {
			continue
		}

		name := filepath.Base(target)
		links[name] = append(links[name], entry.Name())
	}

	for name := range links {
		sort.Strings(links[name])
	}
	return links
}

// AttachDevfs fills in by-id links and device node presence for devices
func AttachDevfs(devRoot string, devices []*BlockDevice) {
	if devRoot == "" {
		devRoot = DefaultDevRoot
	}

	links := ByIDLinks(devRoot)
	for _, dev := range devices {
		dev.ByID = links[dev.Name]
		dev.Node = IsBlockDevice(filepath.Join(devRoot, dev.Name))
	}
}

// IsBlockDevice reports whether path is a block special file
func IsBlockDevice(path string) bool {
	var st unix.Stat_t
	if err := unix.Stat(path, &st); err != nil {
		return false
	}
	return st.Mode&unix.S_IFMT == unix.S_IFBLK
}
