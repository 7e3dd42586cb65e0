package collector

import (
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/pkg/errors"

	"github.com/sigreer/ephemeral/internal/metadata"
)

// DefaultSysfsRoot is where sysfs is mounted on a live system
const DefaultSysfsRoot = "/sys"

// BlockDevice represents a block device as described by sysfs. Reading
// these attributes never touches the device itself.
type BlockDevice struct {
	Name      string   `json:"name"`
	Path      string   `json:"path"`
	SizeBytes *int64   `json:"size_bytes,omitempty"`
	Model     *string  `json:"model,omitempty"`
	Vendor    *string  `json:"vendor,omitempty"`
	Removable bool     `json:"removable"`
	ReadOnly  bool     `json:"read_only"`
	ByID      []string `json:"by_id,omitempty"`
	Node      bool     `json:"node"`
}

// GuestInventory returns the base names of all block devices under
// <sysfsRoot>/block. Every call reads sysfs afresh.
func GuestInventory(sysfsRoot string) (metadata.Inventory, error) {
	names, err := blockNames(sysfsRoot)
	if err != nil {
		return nil, err
	}
	return metadata.NewInventory(names...), nil
}

// BlockDevices gathers sysfs attributes for every block device, sorted by name
func BlockDevices(sysfsRoot string) ([]*BlockDevice, error) {
	sysfsRoot = rootOrDefault(sysfsRoot)
	names, err := blockNames(sysfsRoot)
	if err != nil {
		return nil, err
	}

	devices := make([]*BlockDevice, 0, len(names))
	for _, name := range names {
		devices = append(devices, collectBlockDevice(sysfsRoot, name))
	}
	return devices, nil
}

// Hypervisor classifies the hypervisor from <sysfsRoot>/hypervisor/type,
// which Xen guests expose
func Hypervisor(sysfsRoot string) metadata.HypervisorKind {
	sysfsRoot = rootOrDefault(sysfsRoot)
	if readAttr(filepath.Join(sysfsRoot, "hypervisor", "type")) == string(metadata.HypervisorXen) {
		return metadata.HypervisorXen
	}
	return metadata.HypervisorOther
}

func blockNames(sysfsRoot string) ([]string, error) {
	sysfsRoot = rootOrDefault(sysfsRoot)
	entries, err := os.ReadDir(filepath.Join(sysfsRoot, "block"))
	if err != nil {
		return nil, errors.Wrapf(err, "failed to list block devices in '%s'", sysfsRoot)
	}

	names := make([]string, 0, len(entries))
	for _, entry := range entries {
		names = append(names, entry.Name())
	}
	sort.Strings(names)
	return names, nil
}

// collectBlockDevice gathers data for a single device from sysfs
func collectBlockDevice(sysfsRoot, name string) *BlockDevice {
	blockPath := filepath.Join(sysfsRoot, "block", name)
	devicePath := filepath.Join(blockPath, "device")

	dev := &BlockDevice{
		Name: name,
		Path: "/dev/" + name,
	}

	// Size is reported in 512-byte sectors regardless of the logical block size
	if size, err := strconv.ParseInt(readAttr(filepath.Join(blockPath, "size")), 10, 64); err == nil {
		bytes := size * 512
		dev.SizeBytes = &bytes
	}

	if model := readAttr(filepath.Join(devicePath, "model")); model != "" {
		dev.Model = &model
	}
	if vendor := readAttr(filepath.Join(devicePath, "vendor")); vendor != "" {
		dev.Vendor = &vendor
	}

	dev.Removable = readAttr(filepath.Join(blockPath, "removable")) == "1"
	dev.ReadOnly = readAttr(filepath.Join(blockPath, "ro")) == "1"

	return dev
}

func rootOrDefault(sysfsRoot string) string {
	if sysfsRoot == "" {
		return DefaultSysfsRoot
	}
	return sysfsRoot
}

func readAttr(path string) string {
	data, err := os.ReadFile(path)
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(data))
}
