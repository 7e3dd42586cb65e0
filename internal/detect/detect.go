package detect

import (
	"regexp"
	"strings"

	"github.com/rs/zerolog"

	"github.com/sigreer/ephemeral/internal/metadata"
)

// CloudGCE is the provider key for Google Compute Engine metadata
const CloudGCE = "gce"

var (
	blockDeviceMappingRe = regexp.MustCompile(`^block_device_mapping_ephemeral\d+$`)
	gceEphemeralDiskRe   = regexp.MustCompile(`^ephemeral-disk-\d+$`)
)

// gceDisk is one record of gce.attached_disks.disks
type gceDisk struct {
	Type       string `mapstructure:"type"`
	DeviceName string `mapstructure:"deviceName"`
}

// Detector extracts candidate ephemeral device paths from cloud metadata
type Detector struct {
	log zerolog.Logger
}

// New creates a detector that reports through log
func New(log zerolog.Logger) *Detector {
	return &Detector{log: log}
}

// Detect returns the ephemeral device paths the metadata for cloud
// declares. Clouds publishing block_device_mapping_ephemeralN keys use
// those; otherwise a provider specific rule applies. Unsupported clouds
// and missing metadata yield an empty list.
func (d *Detector) Detect(cloud string, tree *metadata.Tree) []string {
	section := tree.Cloud(cloud)

	if HasBlockDeviceMapping(section) {
		devices := fromBlockDeviceMapping(section)
		if tree.Hypervisor() == metadata.HypervisorXen {
			d.log.Debug().Msgf("cloud '%s' runs on xen, block device mapping %v may need remapping", cloud, devices)
		}
		return devices
	}

	switch cloud {
	case CloudGCE:
		return d.fromGCEDisks(section)
	default:
		d.log.Info().Msgf("cloud '%s' is not supported for ephemeral device detection", cloud)
		return []string{}
	}
}

// HasBlockDeviceMapping reports whether section follows the generic
// block_device_mapping_ephemeralN convention
func HasBlockDeviceMapping(section *metadata.Section) bool {
	for _, key := range section.Keys() {
		if blockDeviceMappingRe.MatchString(key) {
			return true
		}
	}
	return false
}

func fromBlockDeviceMapping(section *metadata.Section) []string {
	devices := []string{}
	for _, key := range section.Keys() {
		if !blockDeviceMappingRe.MatchString(key) {
			continue
		}
		device, ok := section.String(key)
		if !ok || device == "" {
			continue
		}
		if !strings.Contains(device, "/dev/") {
			device = "/dev/" + device
		}
		devices = append(devices, device)
	}
	return devices
}

// fromGCEDisks maps EPHEMERAL attached disks to their by-id links, see
// https://cloud.google.com/compute/docs/disks/disk-symlinks
func (d *Detector) fromGCEDisks(section *metadata.Section) []string {
	devices := []string{}

	raw, ok := section.Get("attached_disks", "disks")
	if !ok {
		return devices
	}
	records, ok := raw.([]interface{})
	if !ok {
		d.log.Debug().Msgf("gce attached_disks.disks is %T, expected a list", raw)
		return devices
	}

	for i, record := range records {
		var disk gceDisk
		if err := metadata.Decode(record, &disk); err != nil {
			d.log.Debug().Err(err).Msgf("skipping gce disk record %d", i)
			continue
		}
		if disk.Type == "" || disk.DeviceName == "" {
			d.log.Debug().Msgf("skipping gce disk record %d without type or deviceName", i)
			continue
		}
		if disk.Type != "EPHEMERAL" || !gceEphemeralDiskRe.MatchString(disk.DeviceName) {
			continue
		}
		devices = append(devices, "/dev/disk/by-id/google-"+disk.DeviceName)
	}

	return devices
}
