package metadata

import "sort"

// Inventory is the set of base block device names (sda, xvdb) the guest
// kernel currently exposes. A nil Inventory is empty.
type Inventory map[string]struct{}

// NewInventory builds an inventory from base device names
func NewInventory(names ...string) Inventory {
	inv := make(Inventory, len(names))
	for _, name := range names {
		if name == "" {
			continue
		}
		inv[name] = struct{}{}
	}
	return inv
}

// Has reports whether the guest exposes name
func (inv Inventory) Has(name string) bool {
	_, ok := inv[name]
	return ok
}

// Len returns the number of devices
func (inv Inventory) Len() int {
	return len(inv)
}

// Names returns the device names sorted
func (inv Inventory) Names() []string {
	names := make([]string, 0, len(inv))
	for name := range inv {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
