package ephemeral

import (
	"fmt"
	"strings"

	"github.com/rs/zerolog"

	"github.com/sigreer/ephemeral/internal/detect"
	"github.com/sigreer/ephemeral/internal/devicemap"
	"github.com/sigreer/ephemeral/internal/metadata"
)

// Options tune a Finder
type Options struct {
	// Strict turns devices that cannot be resolved on the guest into an error
	Strict bool
}

// Result is the outcome of one detection run
type Result struct {
	Cloud       string                  `json:"cloud"`
	Hypervisor  metadata.HypervisorKind `json:"hypervisor"`
	Detected    []string                `json:"detected"`
	Devices     []string                `json:"devices"`
	Resolutions []devicemap.Resolution  `json:"resolutions,omitempty"`
}

// UnresolvedError lists detected devices missing from the guest inventory
type UnresolvedError struct {
	Cloud   string
	Devices []string
}

func (e *UnresolvedError) Error() string {
	return fmt.Sprintf("ephemeral devices for cloud '%s' not found on guest: %s",
		e.Cloud, strings.Join(e.Devices, ", "))
}

// Finder detects the ephemeral devices of a node and normalizes them to
// the names the guest kernel exposes
type Finder struct {
	log      zerolog.Logger
	opts     Options
	detector *detect.Detector
	mapper   *devicemap.Mapper
}

// NewFinder creates a Finder reporting through log
func NewFinder(log zerolog.Logger, opts Options) *Finder {
	return &Finder{
		log:      log,
		opts:     opts,
		detector: detect.New(log),
		mapper:   devicemap.New(log),
	}
}

// Find runs detection for cloud and, on Xen guests, reconciles devices
// taken from a block device mapping against inv. Provider specific paths
// such as GCE by-id links are never remapped. hypervisor overrides the
// classification from tree when not empty. In strict mode a non-nil
// Result is returned together with an *UnresolvedError when devices were
// dropped.
func (f *Finder) Find(cloud string, tree *metadata.Tree, hypervisor metadata.HypervisorKind, inv metadata.Inventory) (*Result, error) {
	if hypervisor == "" {
		hypervisor = tree.Hypervisor()
	}

	detected := f.detector.Detect(cloud, tree)
	result := &Result{
		Cloud:      cloud,
		Hypervisor: hypervisor,
		Detected:   detected,
		Devices:    detected,
	}

	if detect.HasBlockDeviceMapping(tree.Cloud(cloud)) {
		if resolutions, ok := f.mapper.ResolveForHypervisor(hypervisor, detected, inv); ok {
			result.Resolutions = resolutions
			result.Devices = devicemap.Paths(resolutions)
			f.log.Info().Msgf("ephemeral devices found for cloud '%s': %v", cloud, result.Devices)
		}
	}

	result.Devices = unique(result.Devices)

	if f.opts.Strict {
		if dropped := devicemap.Dropped(result.Resolutions); len(dropped) > 0 {
			return result, &UnresolvedError{Cloud: cloud, Devices: dropped}
		}
	}

	return result, nil
}

// unique removes repeated paths keeping the first occurrence
func unique(devices []string) []string {
	seen := make(map[string]bool, len(devices))
	out := make([]string, 0, len(devices))
	for _, device := range devices {
		if seen[device] {
			continue
		}
		seen[device] = true
		out = append(out, device)
	}
	return out
}
