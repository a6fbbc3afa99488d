// Package efi manages the EFI System Partition bundles that hold the
// bootable kernel+initrd image for each installed core version.
package efi

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	cerrors "github.com/clipos/updater/pkg/errors"
	"github.com/clipos/updater/pkg/version"
	"golang.org/x/sys/unix"
)

// Bundle is an installed EFI boot binary, named "<prefix>-<version>.efi".
type Bundle struct {
	Version version.Version
	Name    string
}

// Facade is the narrow EFI System Partition operation set the planner
// and transaction depend on.
type Facade interface {
	ListBundles() ([]Bundle, error)
	Remove(b Bundle) error
	Write(ctx context.Context, v version.Version, r io.Reader) error
}

// DirFacade implements Facade directly against a mounted directory
// (conventionally the ESP mounted at /boot/efi, subdir EFI/Linux).
type DirFacade struct {
	dir    string
	prefix string
}

// New returns a Facade rooted at dir, naming bundles "<prefix>-<version>.efi".
func New(dir, prefix string) *DirFacade {
	return &DirFacade{dir: dir, prefix: prefix}
}

func (f *DirFacade) bundleName(v version.Version) string {
	return fmt.Sprintf("%s-%s.efi", f.prefix, v.String())
}

// ListBundles globs the directory for bundle files; entries whose name
// does not match "<prefix>-<version>.efi" are logged and skipped rather
// than treated as an error, since a foreign boot entry must never abort
// the update.
func (f *DirFacade) ListBundles() ([]Bundle, error) {
	slog.Info("efi_list_start", "dir", f.dir)

	entries, err := os.ReadDir(f.dir)
	if err != nil {
		slog.Error("efi_list_failed", "dir", f.dir, "error", err)
		return nil, cerrors.Wrap(cerrors.Efi, fmt.Sprintf("reading %s", f.dir), err)
	}

	bundles := make([]Bundle, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		if strings.HasPrefix(name, ".") {
			// Our own in-progress temp files; never a finished bundle.
			continue
		}
		v, ok := f.parseName(name)
		if !ok {
			slog.Warn("efi_list_invalid_filename", "dir", f.dir, "name", name)
			continue
		}
		bundles = append(bundles, Bundle{Version: v, Name: name})
	}

	slog.Info("efi_list_complete", "dir", f.dir, "count", len(bundles))
	return bundles, nil
}

func (f *DirFacade) parseName(name string) (version.Version, bool) {
	prefix := f.prefix + "-"
	if !strings.HasPrefix(name, prefix) || !strings.HasSuffix(name, ".efi") {
		return version.Version{}, false
	}
	raw := strings.TrimSuffix(strings.TrimPrefix(name, prefix), ".efi")
	v, err := version.Parse(raw)
	if err != nil {
		return version.Version{}, false
	}
	return v, true
}

// Remove deletes a previously installed bundle. Removing an
// already-absent bundle is not an error: callers may retry after a
// crash mid-cleanup.
func (f *DirFacade) Remove(b Bundle) error {
	path := filepath.Join(f.dir, b.Name)
	slog.Info("efi_remove_start", "path", path)

	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		slog.Error("efi_remove_failed", "path", path, "error", err)
		return cerrors.Wrap(cerrors.Efi, fmt.Sprintf("removing %s", path), err)
	}

	slog.Info("efi_remove_complete", "path", path)
	return nil
}

// Write installs a new bundle for v, streaming r into a hidden temp
// file, syncing it, then renaming it into place. vfat does not support
// atomic rename, so the directory fsync that follows is best-effort:
// its failure is logged, never fatal.
func (f *DirFacade) Write(ctx context.Context, v version.Version, r io.Reader) error {
	final := filepath.Join(f.dir, f.bundleName(v))
	tmp := filepath.Join(f.dir, "."+f.bundleName(v)+".tmp")

	slog.Info("efi_write_start", "version", v.String(), "final", final)

	out, err := os.OpenFile(tmp, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		slog.Error("efi_write_open_failed", "tmp", tmp, "error", err)
		return cerrors.Wrap(cerrors.Efi, fmt.Sprintf("opening %s", tmp), err)
	}

	if _, err := io.Copy(out, r); err != nil {
		out.Close()
		os.Remove(tmp)
		slog.Error("efi_write_copy_failed", "tmp", tmp, "error", err)
		return cerrors.Wrap(cerrors.Efi, fmt.Sprintf("writing %s", tmp), err)
	}

	if err := out.Sync(); err != nil {
		out.Close()
		os.Remove(tmp)
		slog.Error("efi_write_sync_failed", "tmp", tmp, "error", err)
		return cerrors.Wrap(cerrors.Efi, fmt.Sprintf("syncing %s", tmp), err)
	}
	if err := out.Close(); err != nil {
		os.Remove(tmp)
		slog.Error("efi_write_close_failed", "tmp", tmp, "error", err)
		return cerrors.Wrap(cerrors.Efi, fmt.Sprintf("closing %s", tmp), err)
	}

	if err := os.Rename(tmp, final); err != nil {
		os.Remove(tmp)
		slog.Error("efi_write_rename_failed", "tmp", tmp, "final", final, "error", err)
		return cerrors.Wrap(cerrors.Efi, fmt.Sprintf("renaming %s to %s", tmp, final), err)
	}

	fsyncDir(f.dir)

	slog.Info("efi_write_complete", "version", v.String(), "final", final)
	return nil
}

func fsyncDir(dir string) {
	fd, err := unix.Open(dir, unix.O_RDONLY, 0)
	if err != nil {
		slog.Warn("efi_dir_fsync_open_failed", "dir", dir, "error", err)
		return
	}
	defer unix.Close(fd)

	if err := unix.Fsync(fd); err != nil {
		slog.Warn("efi_dir_fsync_failed", "dir", dir, "error", err)
	}
}
