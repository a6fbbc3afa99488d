// Package lvm is a thin, JSON-report-parsing wrapper around the LVM2
// command line tools (lvs, lvcreate, lvrename), used to list and
// manage the core_* logical volumes that hold the A/B OS slots.
package lvm

import "context"

// LV is a Logical Volume as reported by lvs.
type LV struct {
	Name      string
	VG        string
	SizeBytes uint64
}

// Path returns the canonical /dev/<vg>/<name> device path for lv.
func (lv LV) Path() string {
	return DevicePath(lv.VG, lv.Name)
}

// Facade is the narrow LVM operation set the planner and transaction
// depend on, kept as an interface so tests can substitute an in-memory
// double instead of shelling out to real LVM tooling.
type Facade interface {
	// List returns every logical volume in vg.
	List(ctx context.Context, vg string) ([]LV, error)
	// Create allocates a new logical volume of the given size in vg.
	Create(ctx context.Context, vg, name string, sizeBytes uint64) (LV, error)
	// Rename renames a logical volume within vg.
	Rename(ctx context.Context, vg, oldName, newName string) error
	// DevicePath returns the /dev path a logical volume would have.
	DevicePath(vg, name string) string
}

// DevicePath is pure string formatting; it never shells out and never
// fails, so callers can use it to name a device before it exists.
func DevicePath(vg, name string) string {
	return "/dev/" + vg + "/" + name
}
