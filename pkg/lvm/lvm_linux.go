//go:build linux

package lvm

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os/exec"
	"strconv"
	"strings"

	cerrors "github.com/clipos/updater/pkg/errors"
)

// LinuxFacade shells out to the real LVM2 command line tools.
type LinuxFacade struct{}

// NewFacade returns the real, Linux-only LVM facade.
func NewFacade() Facade {
	return LinuxFacade{}
}

type jsonReportLvs struct {
	Report []struct {
		LV []struct {
			LVName string `json:"lv_name"`
			VGName string `json:"vg_name"`
			LVSize string `json:"lv_size"`
		} `json:"lv"`
	} `json:"report"`
}

func (LinuxFacade) List(ctx context.Context, vg string) ([]LV, error) {
	slog.Info("lvm_list_start", "vg", vg)

	cmd := exec.CommandContext(ctx, "lvs", "--reportformat", "json", "--units", "b", "--nosuffix", vg)
	out, err := cmd.Output()
	if err != nil {
		slog.Error("lvm_list_failed", "vg", vg, "error", commandError(err))
		return nil, cerrors.Wrap(cerrors.Lvm, fmt.Sprintf("lvs %s", vg), commandError(err))
	}

	lvs, err := parseLvsReport(out)
	if err != nil {
		slog.Error("lvm_list_parse_failed", "vg", vg, "error", err)
		return nil, cerrors.Wrap(cerrors.Lvm, fmt.Sprintf("parsing lvs report for %s", vg), err)
	}

	slog.Info("lvm_list_complete", "vg", vg, "count", len(lvs))
	return lvs, nil
}

func parseLvsReport(out []byte) ([]LV, error) {
	var report jsonReportLvs
	if err := json.Unmarshal(out, &report); err != nil {
		return nil, err
	}
	if len(report.Report) == 0 {
		return nil, fmt.Errorf("no report entries")
	}

	lvs := make([]LV, 0, len(report.Report[0].LV))
	for _, lv := range report.Report[0].LV {
		size, err := strconv.ParseUint(strings.TrimSpace(lv.LVSize), 10, 64)
		if err != nil {
			slog.Warn("lvm_list_size_unparseable", "lv", lv.LVName, "raw_size", lv.LVSize)
			continue
		}
		lvs = append(lvs, LV{Name: lv.LVName, VG: lv.VGName, SizeBytes: size})
	}
	return lvs, nil
}

func (LinuxFacade) Create(ctx context.Context, vg, name string, sizeBytes uint64) (LV, error) {
	slog.Info("lvm_create_start", "vg", vg, "name", name, "size_bytes", sizeBytes)

	sizeArg := fmt.Sprintf("%dB", sizeBytes)
	cmd := exec.CommandContext(ctx, "lvcreate", "-L", sizeArg, "-n", name, vg)
	if out, err := cmd.CombinedOutput(); err != nil {
		slog.Error("lvm_create_failed", "vg", vg, "name", name, "error", err, "output", string(out))
		return LV{}, cerrors.Wrap(cerrors.Lvm, fmt.Sprintf("lvcreate -n %s %s", name, vg), err)
	}

	slog.Info("lvm_create_complete", "vg", vg, "name", name)
	return LV{Name: name, VG: vg, SizeBytes: sizeBytes}, nil
}

func (LinuxFacade) Rename(ctx context.Context, vg, oldName, newName string) error {
	slog.Info("lvm_rename_start", "vg", vg, "old_name", oldName, "new_name", newName)

	cmd := exec.CommandContext(ctx, "lvrename", vg, oldName, newName)
	if out, err := cmd.CombinedOutput(); err != nil {
		slog.Error("lvm_rename_failed", "vg", vg, "old_name", oldName, "new_name", newName, "error", err, "output", string(out))
		return cerrors.Wrap(cerrors.Lvm, fmt.Sprintf("lvrename %s %s %s", vg, oldName, newName), err)
	}

	slog.Info("lvm_rename_complete", "vg", vg, "old_name", oldName, "new_name", newName)
	return nil
}

func (LinuxFacade) DevicePath(vg, name string) string {
	return DevicePath(vg, name)
}

func commandError(err error) error {
	if exitErr, ok := err.(*exec.ExitError); ok {
		return fmt.Errorf("%w: %s", err, strings.TrimSpace(string(exitErr.Stderr)))
	}
	return err
}
