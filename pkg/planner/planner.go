// Package planner decides, from the current LVM and EFI inventory plus
// the running and server-advertised versions, whether an update is
// needed and exactly which slot operations it requires. It performs no
// I/O: every decision is a pure function of its inputs, so it can be
// exercised without real LVM or EFI facades.
package planner

import (
	"fmt"
	"strings"

	cerrors "github.com/clipos/updater/pkg/errors"
	"github.com/clipos/updater/pkg/efi"
	"github.com/clipos/updater/pkg/lvm"
	"github.com/clipos/updater/pkg/version"
)

const corePrefix = "core_"

// reservedLVs are fixed-name LVs that are never core image slots.
var reservedLVs = map[string]bool{
	"core_state": true,
	"core_swap":  true,
}

// Plan is the outcome of a planning decision. A NoUpdate plan means the
// server's version is not strictly newer than the running one; callers
// must not attempt any installation in that case.
type Plan struct {
	NoUpdate bool

	ServerVersion version.Version
	DestinationLV string
	RenameFrom    string // empty when creating a fresh LV
	EfiToRemove   string // empty when there is nothing to remove
	EfiBundleName string
}

// Plan implements spec.md's decision table: at most one stale slot may
// exist besides the running one; if two or more do, the inventory is
// anomalous and must be surfaced rather than guessed at.
func Plan(running, server version.Version, lvs []lvm.LV, bundles []efi.Bundle) (Plan, error) {
	if version.Compare(server, running) <= 0 {
		return Plan{NoUpdate: true}, nil
	}

	extras := staleCoreSlots(running, lvs)
	if len(extras) >= 2 {
		names := make([]string, len(extras))
		for i, lv := range extras {
			names[i] = lv.Name
		}
		return Plan{}, cerrors.New(cerrors.PlanAnomalous,
			fmt.Sprintf("more than one stale core slot present: %s", strings.Join(names, ", ")))
	}

	p := Plan{
		ServerVersion: server,
		DestinationLV: corePrefix + server.String(),
		EfiBundleName: fmt.Sprintf("clipos-%s.efi", server.String()),
	}

	if len(extras) == 1 {
		stale := extras[0]
		// A stale slot already named for the target (a re-run after a
		// crash or before reboot) is written in place, not renamed.
		if stale.Name != p.DestinationLV {
			p.RenameFrom = stale.Name
		}
		staleVersion := strings.TrimPrefix(stale.Name, corePrefix)
		for _, b := range bundles {
			if b.Version.String() == staleVersion {
				p.EfiToRemove = b.Name
				break
			}
		}
	}

	return p, nil
}

// staleCoreSlots returns every core_<v> LV other than the one matching
// the running version and the reserved state/swap LVs. LVs whose
// suffix does not parse as a version are ignored: they are not ours to
// manage.
func staleCoreSlots(running version.Version, lvs []lvm.LV) []lvm.LV {
	var extras []lvm.LV
	for _, lv := range lvs {
		if reservedLVs[lv.Name] || !strings.HasPrefix(lv.Name, corePrefix) {
			continue
		}
		suffix := strings.TrimPrefix(lv.Name, corePrefix)
		v, err := version.Parse(suffix)
		if err != nil {
			continue
		}
		if v.Equal(running) {
			continue
		}
		extras = append(extras, lv)
	}
	return extras
}
