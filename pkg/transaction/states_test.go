package transaction

import (
	"context"
	"errors"
	"io"
	"os"
	"testing"

	"github.com/clipos/updater/pkg/efi"
	"github.com/clipos/updater/pkg/lvm"
	"github.com/clipos/updater/pkg/planner"
	"github.com/clipos/updater/pkg/version"
)

var errBoom = errors.New("boom")

type fakeLVM struct {
	lvs       []lvm.LV
	renamed   []string
	created   []string
	listErr   error
	renameErr error
	createErr error
}

func (f *fakeLVM) List(ctx context.Context, vg string) ([]lvm.LV, error) {
	return f.lvs, f.listErr
}

func (f *fakeLVM) Create(ctx context.Context, vg, name string, sizeBytes uint64) (lvm.LV, error) {
	if f.createErr != nil {
		return lvm.LV{}, f.createErr
	}
	f.created = append(f.created, name)
	return lvm.LV{Name: name, VG: vg, SizeBytes: sizeBytes}, nil
}

func (f *fakeLVM) Rename(ctx context.Context, vg, oldName, newName string) error {
	if f.renameErr != nil {
		return f.renameErr
	}
	f.renamed = append(f.renamed, oldName+"->"+newName)
	return nil
}

func (f *fakeLVM) DevicePath(vg, name string) string {
	return lvm.DevicePath(vg, name)
}

type fakeEFI struct {
	bundles   []efi.Bundle
	removed   []string
	listErr   error
	removeErr error
}

func (f *fakeEFI) ListBundles() ([]efi.Bundle, error) {
	return f.bundles, f.listErr
}

func (f *fakeEFI) Remove(b efi.Bundle) error {
	if f.removeErr != nil {
		return f.removeErr
	}
	f.removed = append(f.removed, b.Name)
	return nil
}

func (f *fakeEFI) Write(ctx context.Context, v version.Version, r io.Reader) error {
	_, err := io.Copy(io.Discard, r)
	return err
}

func newTestMachine(lv *fakeLVM, e *fakeEFI) *Machine {
	return &Machine{lvmFacade: lv, efiFacade: e, vg: "clipos", tmpDir: "/tmp"}
}

func TestStepDecideNoUpdate(t *testing.T) {
	lv := &fakeLVM{lvs: []lvm.LV{{Name: "core_5.0.0", VG: "clipos"}}}
	e := &fakeEFI{}
	m := newTestMachine(lv, e)

	req := Request{RunningVersionStr: "5.0.0", ServerVersionStr: "5.0.0"}
	out, err := m.stepDecide(context.Background(), req, &Response{})
	if err != nil {
		t.Fatalf("stepDecide failed: %v", err)
	}
	if !out.Plan.NoUpdate {
		t.Fatal("expected a NoUpdate plan")
	}
	if out.Status != StatusNoUpdate {
		t.Errorf("got status %q", out.Status)
	}
}

func TestStepDecideInstall(t *testing.T) {
	lv := &fakeLVM{lvs: []lvm.LV{{Name: "core_5.0.0-alpha.1", VG: "clipos"}}}
	e := &fakeEFI{}
	m := newTestMachine(lv, e)

	req := Request{RunningVersionStr: "5.0.0-alpha.1", ServerVersionStr: "5.0.0-alpha.3"}
	out, err := m.stepDecide(context.Background(), req, &Response{})
	if err != nil {
		t.Fatalf("stepDecide failed: %v", err)
	}
	if out.Plan.NoUpdate {
		t.Fatal("expected an install plan")
	}
	if out.Plan.DestinationLV != "core_5.0.0-alpha.3" {
		t.Errorf("got destination %q", out.Plan.DestinationLV)
	}
}

func TestStepDecidePropagatesParseError(t *testing.T) {
	m := newTestMachine(&fakeLVM{}, &fakeEFI{})

	req := Request{RunningVersionStr: "not-a-version", ServerVersionStr: "5.0.0"}
	if _, err := m.stepDecide(context.Background(), req, &Response{}); err == nil {
		t.Fatal("expected a parse error")
	}
}

func TestStepPreparingCreatesWhenNoStaleLV(t *testing.T) {
	lv := &fakeLVM{}
	e := &fakeEFI{}
	m := newTestMachine(lv, e)

	resp := &Response{Plan: planPlan("core_5.0.0-alpha.3", "", "")}
	out, err := m.stepPreparing(context.Background(), resp)
	if err != nil {
		t.Fatalf("stepPreparing failed: %v", err)
	}
	if len(lv.created) != 1 || lv.created[0] != "core_5.0.0-alpha.3" {
		t.Errorf("expected a create call, got created=%v renamed=%v", lv.created, lv.renamed)
	}
	if out.Plan.DestinationLV != "core_5.0.0-alpha.3" {
		t.Errorf("unexpected destination in passthrough response")
	}
}

// Ordering rules 1-2: rename happens before the stale EFI bundle is removed.
func TestStepPreparingRenamesThenRemovesEFI(t *testing.T) {
	lv := &fakeLVM{}
	e := &fakeEFI{}
	m := newTestMachine(lv, e)

	resp := &Response{Plan: planPlan("core_5.0.0-alpha.3", "core_5.0.0-alpha.0", "clipos-5.0.0-alpha.0.efi")}
	if _, err := m.stepPreparing(context.Background(), resp); err != nil {
		t.Fatalf("stepPreparing failed: %v", err)
	}

	if len(lv.renamed) != 1 || lv.renamed[0] != "core_5.0.0-alpha.0->core_5.0.0-alpha.3" {
		t.Fatalf("expected a rename call, got %v", lv.renamed)
	}
	if len(e.removed) != 1 || e.removed[0] != "clipos-5.0.0-alpha.0.efi" {
		t.Fatalf("expected the stale EFI bundle to be removed, got %v", e.removed)
	}
}

func TestStepPreparingSkipsOnNoUpdate(t *testing.T) {
	lv := &fakeLVM{}
	e := &fakeEFI{}
	m := newTestMachine(lv, e)

	resp := &Response{Plan: planner.Plan{NoUpdate: true}}
	if _, err := m.stepPreparing(context.Background(), resp); err != nil {
		t.Fatalf("stepPreparing failed: %v", err)
	}
	if len(lv.created) != 0 || len(lv.renamed) != 0 || len(e.removed) != 0 {
		t.Fatal("expected no LVM/EFI operations on a NoUpdate plan")
	}
}

func TestStepPreparingPropagatesRenameError(t *testing.T) {
	wantErr := errBoom
	lv := &fakeLVM{renameErr: wantErr}
	e := &fakeEFI{}
	m := newTestMachine(lv, e)

	resp := &Response{Plan: planPlan("core_5.0.0-alpha.3", "core_5.0.0-alpha.0", "")}
	if _, err := m.stepPreparing(context.Background(), resp); err == nil {
		t.Fatal("expected the rename error to propagate")
	}
	if len(e.removed) != 0 {
		t.Fatal("EFI removal must not run when the rename failed")
	}
}

func TestStepFetchingCoreAndEFISkipOnNoUpdate(t *testing.T) {
	m := newTestMachine(&fakeLVM{}, &fakeEFI{})
	resp := &Response{Plan: planner.Plan{NoUpdate: true}}

	out, err := m.stepFetchingCore(context.Background(), resp)
	if err != nil || out.CoreTmpPath != "" {
		t.Fatalf("expected a no-op passthrough, got %+v err=%v", out, err)
	}

	out, err = m.stepFetchingEFI(context.Background(), resp)
	if err != nil || out.EfiTmpPath != "" {
		t.Fatalf("expected a no-op passthrough, got %+v err=%v", out, err)
	}
}

func TestStepDoneSetsInstalledAndCleansUpTempFiles(t *testing.T) {
	m := newTestMachine(&fakeLVM{}, &fakeEFI{})

	coreTmp := t.TempDir() + "/core.tmp"
	if err := os.WriteFile(coreTmp, []byte("image"), 0o600); err != nil {
		t.Fatalf("setup: %v", err)
	}

	resp := &Response{
		Plan:        planPlan("core_5.0.0", "", ""),
		CoreTmpPath: coreTmp,
	}
	out := m.stepDone(resp)
	if out.Status != StatusInstalled {
		t.Errorf("got status %q", out.Status)
	}
	if _, err := os.Stat(coreTmp); err == nil {
		t.Error("expected the core temp file to be removed")
	}
}

func TestStepDoneNoUpdateLeavesStatusAlone(t *testing.T) {
	m := newTestMachine(&fakeLVM{}, &fakeEFI{})

	resp := &Response{Plan: planner.Plan{NoUpdate: true}, Status: StatusNoUpdate}
	out := m.stepDone(resp)
	if out.Status != StatusNoUpdate {
		t.Errorf("got status %q", out.Status)
	}
}

func planPlan(destination, renameFrom, efiToRemove string) planner.Plan {
	return planner.Plan{DestinationLV: destination, RenameFrom: renameFrom, EfiToRemove: efiToRemove}
}
