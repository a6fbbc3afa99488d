//go:build !linux

package lvm

import (
	"context"
	"fmt"
	"runtime"

	cerrors "github.com/clipos/updater/pkg/errors"
)

// StubFacade rejects every operation; it exists so the rest of the
// codebase (planner, transaction) can be built and tested on a
// non-Linux development machine without real LVM tooling present.
type StubFacade struct{}

// NewFacade returns the stub facade on non-Linux platforms.
func NewFacade() Facade {
	return StubFacade{}
}

func (StubFacade) List(ctx context.Context, vg string) ([]LV, error) {
	return nil, unsupported()
}

func (StubFacade) Create(ctx context.Context, vg, name string, sizeBytes uint64) (LV, error) {
	return LV{}, unsupported()
}

func (StubFacade) Rename(ctx context.Context, vg, oldName, newName string) error {
	return unsupported()
}

func (StubFacade) DevicePath(vg, name string) string {
	return DevicePath(vg, name)
}

func unsupported() error {
	return cerrors.New(cerrors.Env, fmt.Sprintf("lvm is not supported on %s", runtime.GOOS))
}
