package devicemap

import (
	"regexp"
	"strings"

	"github.com/rs/zerolog"

	"github.com/sigreer/ephemeral/internal/metadata"
)

var baseNameRe = regexp.MustCompile(`/dev/([a-z]+)$`)

// Outcome describes what reconciliation did with a device
type Outcome string

const (
	OutcomeKept     Outcome = "kept"
	OutcomeRemapped Outcome = "remapped"
	OutcomeDropped  Outcome = "dropped"
)

// Resolution is the reconciliation result for one detected device
type Resolution struct {
	Original string  `json:"original"`
	Path     string  `json:"path,omitempty"`
	Outcome  Outcome `json:"outcome"`
}

// Mapper reconciles detected device paths with the device names the
// guest actually exposes. Xen paravirtualized guests see /dev/sdX
// devices as /dev/xvdX.
type Mapper struct {
	log zerolog.Logger
}

// New creates a mapper that reports through log
func New(log zerolog.Logger) *Mapper {
	return &Mapper{log: log}
}

// ForHypervisor reconciles devices on Xen guests and passes them through
// unchanged for any other hypervisor.
func (m *Mapper) ForHypervisor(kind metadata.HypervisorKind, devices []string, inv metadata.Inventory) []string {
	resolutions, ok := m.ResolveForHypervisor(kind, devices, inv)
	if !ok {
		return devices
	}
	return Paths(resolutions)
}

// ResolveForHypervisor resolves devices when kind is Xen. ok is false for
// any other hypervisor, in which case no reconciliation takes place.
func (m *Mapper) ResolveForHypervisor(kind metadata.HypervisorKind, devices []string, inv metadata.Inventory) (resolutions []Resolution, ok bool) {
	if kind != metadata.HypervisorXen {
		return nil, false
	}
	m.log.Debug().Msgf("mapping for ephemeral devices: %v", devices)
	return m.Resolve(devices, inv), true
}

// Reconcile keeps devices the guest exposes, rewrites /dev/sdX to
// /dev/xvdX where only the latter exists and drops the rest.
func (m *Mapper) Reconcile(devices []string, inv metadata.Inventory) []string {
	return Paths(m.Resolve(devices, inv))
}

// Resolve reports the reconciliation outcome of every device, in input order
func (m *Mapper) Resolve(devices []string, inv metadata.Inventory) []Resolution {
	resolutions := make([]Resolution, 0, len(devices))
	for _, device := range devices {
		resolutions = append(resolutions, m.resolve(device, inv))
	}
	return resolutions
}

func (m *Mapper) resolve(device string, inv metadata.Inventory) Resolution {
	if inv.Has(BaseName(device)) {
		return Resolution{Original: device, Path: device, Outcome: OutcomeKept}
	}

	fixed := strings.Replace(device, "/dev/sd", "/dev/xvd", 1)
	if inv.Has(BaseName(fixed)) {
		return Resolution{Original: device, Path: fixed, Outcome: OutcomeRemapped}
	}

	m.log.Warn().Msgf("could not find ephemeral device: %s", device)
	return Resolution{Original: device, Outcome: OutcomeDropped}
}

// Paths returns the surviving device paths of resolutions
func Paths(resolutions []Resolution) []string {
	paths := make([]string, 0, len(resolutions))
	for _, r := range resolutions {
		if r.Outcome == OutcomeDropped {
			continue
		}
		paths = append(paths, r.Path)
	}
	return paths
}

// Dropped returns the original paths of devices that could not be resolved
func Dropped(resolutions []Resolution) []string {
	var dropped []string
	for _, r := range resolutions {
		if r.Outcome == OutcomeDropped {
			dropped = append(dropped, r.Original)
		}
	}
	return dropped
}

// BaseName returns the kernel device name of a /dev/<name> path, or ""
// when the path does not end in a plain alphabetic device name.
func BaseName(device string) string {
	matches := baseNameRe.FindStringSubmatch(device)
	if len(matches) < 2 {
		return ""
	}
	return matches[1]
}
