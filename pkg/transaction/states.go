package transaction

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/jedisct1/go-minisign"
	"github.com/superfly/fsm"
	"golang.org/x/sys/unix"

	cerrors "github.com/clipos/updater/pkg/errors"
	"github.com/clipos/updater/pkg/efi"
	"github.com/clipos/updater/pkg/fetcher"
	"github.com/clipos/updater/pkg/lvm"
	"github.com/clipos/updater/pkg/planner"
	"github.com/clipos/updater/pkg/sigverify"
	"github.com/clipos/updater/pkg/version"
)

// Machine holds the facades and configuration every state needs.
type Machine struct {
	lvmFacade lvm.Facade
	efiFacade efi.Facade
	fetcher   *fetcher.Client
	pubKey    minisign.PublicKey

	tmpDir  string
	vg      string
	product string
	distURL string
}

// NewMachine builds a Machine ready to Register on an fsm.Manager.
// distURL is the remote's "{base_url}/dist" prefix; product names the
// payload family (e.g. "clipos"), combined with the recipe ("core" or
// "efiboot") to form the "<product>-<recipe>" filename spec §6 names.
func NewMachine(lvmFacade lvm.Facade, efiFacade efi.Facade, httpClient *fetcher.Client, pubKey minisign.PublicKey, tmpDir, vg, product, distURL string) *Machine {
	return &Machine{
		lvmFacade: lvmFacade,
		efiFacade: efiFacade,
		fetcher:   httpClient,
		pubKey:    pubKey,
		tmpDir:    tmpDir,
		vg:        vg,
		product:   product,
		distURL:   distURL,
	}
}

// Each state's real work lives in an unexported stepXxx function taking
// and returning this package's own Request/Response types. The
// handleXxx methods below are thin adapters onto the fsm library's
// generic Request/Response wrappers, kept deliberately trivial so the
// step logic itself can be unit tested without constructing fsm
// internals by hand.

func (m *Machine) handleDecide(ctx context.Context, req *fsm.Request[Request, Response]) (*fsm.Response[Response], error) {
	resp := req.W.Msg
	if resp == nil {
		resp = &Response{}
	}
	resp, err := m.stepDecide(ctx, req.Msg, resp)
	if err != nil {
		return nil, fsm.Abort(err)
	}
	return fsm.NewResponse(resp), nil
}

func (m *Machine) handlePreparing(ctx context.Context, req *fsm.Request[Request, Response]) (*fsm.Response[Response], error) {
	resp, err := m.stepPreparing(ctx, req.W.Msg)
	if err != nil {
		return nil, fsm.Abort(err)
	}
	return fsm.NewResponse(resp), nil
}

func (m *Machine) handleFetchingCore(ctx context.Context, req *fsm.Request[Request, Response]) (*fsm.Response[Response], error) {
	resp, err := m.stepFetchingCore(ctx, req.W.Msg)
	if err != nil {
		return nil, fsm.Abort(err)
	}
	return fsm.NewResponse(resp), nil
}

func (m *Machine) handleFetchingEFI(ctx context.Context, req *fsm.Request[Request, Response]) (*fsm.Response[Response], error) {
	resp, err := m.stepFetchingEFI(ctx, req.W.Msg)
	if err != nil {
		return nil, fsm.Abort(err)
	}
	return fsm.NewResponse(resp), nil
}

func (m *Machine) handleWritingCore(ctx context.Context, req *fsm.Request[Request, Response]) (*fsm.Response[Response], error) {
	resp, err := m.stepWritingCore(ctx, req.W.Msg)
	if err != nil {
		return nil, fsm.Abort(err)
	}
	return fsm.NewResponse(resp), nil
}

func (m *Machine) handleWritingEFI(ctx context.Context, req *fsm.Request[Request, Response]) (*fsm.Response[Response], error) {
	resp, err := m.stepWritingEFI(ctx, req.W.Msg)
	if err != nil {
		return nil, fsm.Abort(err)
	}
	return fsm.NewResponse(resp), nil
}

func (m *Machine) handleDone(ctx context.Context, req *fsm.Request[Request, Response]) (*fsm.Response[Response], error) {
	resp := m.stepDone(req.W.Msg)
	return fsm.NewResponse(resp), nil
}

func (m *Machine) stepDecide(ctx context.Context, req Request, resp *Response) (*Response, error) {
	slog.Info("transaction_state_decide", "running", req.RunningVersionStr, "server", req.ServerVersionStr)

	running, err := version.Parse(req.RunningVersionStr)
	if err != nil {
		return nil, err
	}
	server, err := version.Parse(req.ServerVersionStr)
	if err != nil {
		return nil, err
	}

	lvs, err := m.lvmFacade.List(ctx, m.vg)
	if err != nil {
		slog.Error("transaction_decide_lvm_list_failed", "error", err)
		return nil, err
	}
	bundles, err := m.efiFacade.ListBundles()
	if err != nil {
		slog.Error("transaction_decide_efi_list_failed", "error", err)
		return nil, err
	}

	plan, err := planner.Plan(running, server, lvs, bundles)
	if err != nil {
		slog.Error("transaction_decide_plan_failed", "error", err)
		return nil, err
	}

	resp.Plan = plan
	if plan.NoUpdate {
		resp.Status = StatusNoUpdate
		slog.Info("transaction_decide_no_update")
	} else {
		slog.Info("transaction_decide_install", "destination", plan.DestinationLV, "rename_from", plan.RenameFrom)
	}

	return resp, nil
}

// stepPreparing implements ordering rules 1-2 of spec §4.7: the stale
// LV is renamed (or the destination created, unless an LV of that name
// already exists) before the old EFI bundle
// is removed, so the inactive slot is unbootable throughout.
func (m *Machine) stepPreparing(ctx context.Context, resp *Response) (*Response, error) {
	if resp.Plan.NoUpdate {
		return resp, nil
	}

	slog.Info("transaction_state_preparing", "destination", resp.Plan.DestinationLV)

	if resp.Plan.RenameFrom != "" {
		if err := m.lvmFacade.Rename(ctx, m.vg, resp.Plan.RenameFrom, resp.Plan.DestinationLV); err != nil {
			slog.Error("transaction_preparing_rename_failed", "error", err)
			return nil, err
		}
	} else {
		lvs, err := m.lvmFacade.List(ctx, m.vg)
		if err != nil {
			slog.Error("transaction_preparing_lvm_list_failed", "error", err)
			return nil, err
		}
		exists := false
		for _, lv := range lvs {
			if lv.Name == resp.Plan.DestinationLV {
				exists = true
				break
			}
		}
		if !exists {
			sizeBytes := uint64(500 << 20)
			if _, err := m.lvmFacade.Create(ctx, m.vg, resp.Plan.DestinationLV, sizeBytes); err != nil {
				slog.Error("transaction_preparing_create_failed", "error", err)
				return nil, err
			}
		}
	}

	if resp.Plan.EfiToRemove != "" {
		if err := m.efiFacade.Remove(efi.Bundle{Name: resp.Plan.EfiToRemove}); err != nil {
			slog.Error("transaction_preparing_efi_remove_failed", "error", err)
			return nil, err
		}
	}

	return resp, nil
}

func (m *Machine) stepFetchingCore(ctx context.Context, resp *Response) (*Response, error) {
	if resp.Plan.NoUpdate {
		return resp, nil
	}

	slog.Info("transaction_state_fetching_core", "version", resp.Plan.ServerVersion.String())

	tmpPath, err := m.fetchAndVerify(ctx, "core", resp.Plan.ServerVersion)
	if err != nil {
		return nil, err
	}
	resp.CoreTmpPath = tmpPath
	return resp, nil
}

func (m *Machine) stepFetchingEFI(ctx context.Context, resp *Response) (*Response, error) {
	if resp.Plan.NoUpdate {
		return resp, nil
	}

	slog.Info("transaction_state_fetching_efi", "version", resp.Plan.ServerVersion.String())

	tmpPath, err := m.fetchAndVerify(ctx, "efiboot", resp.Plan.ServerVersion)
	if err != nil {
		return nil, err
	}
	resp.EfiTmpPath = tmpPath
	return resp, nil
}

// fetchAndVerify downloads "<base_url>/dist/<version>/<product>-<recipe>"
// plus its detached .sig companion to a temp file and verifies the
// signature against the fully buffered payload before returning —
// ordering rule 3 of §4.7 forbids acting on an unverified or partially
// downloaded payload.
func (m *Machine) fetchAndVerify(ctx context.Context, recipe string, v version.Version) (string, error) {
	payloadURL := fmt.Sprintf("%s/%s/%s-%s", m.distURL, v.String(), m.product, recipe)
	sigURL := payloadURL + ".sig"

	tmp, err := os.CreateTemp(m.tmpDir, fmt.Sprintf("%s-%s-*.tmp", m.product, recipe))
	if err != nil {
		return "", cerrors.Wrap(cerrors.Io, "creating temp file", err)
	}
	tmpPath := tmp.Name()

	if _, err := m.fetcher.GetStream(ctx, payloadURL, tmp); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return "", err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return "", cerrors.Wrap(cerrors.Io, "closing temp file", err)
	}

	sigText, err := m.fetcher.GetText(ctx, sigURL)
	if err != nil {
		os.Remove(tmpPath)
		return "", err
	}

	payload, err := os.ReadFile(tmpPath)
	if err != nil {
		os.Remove(tmpPath)
		return "", cerrors.Wrap(cerrors.Io, "reading temp file for verification", err)
	}

	if err := sigverify.Verify(payload, []byte(sigText), m.pubKey, v); err != nil {
		os.Remove(tmpPath)
		return "", err
	}

	return tmpPath, nil
}

func (m *Machine) stepWritingCore(ctx context.Context, resp *Response) (*Response, error) {
	if resp.Plan.NoUpdate {
		return resp, nil
	}

	slog.Info("transaction_state_writing_core", "destination", resp.Plan.DestinationLV)

	if err := m.writeCoreImage(resp.Plan.DestinationLV, resp.CoreTmpPath); err != nil {
		return nil, err
	}
	return resp, nil
}

func (m *Machine) writeCoreImage(lvName, tmpPath string) error {
	devicePath := m.lvmFacade.DevicePath(m.vg, lvName)

	img, err := os.Open(tmpPath)
	if err != nil {
		return cerrors.Wrap(cerrors.Io, fmt.Sprintf("opening %s", tmpPath), err)
	}
	defer img.Close()

	dev, err := os.OpenFile(devicePath, os.O_WRONLY, 0)
	if err != nil {
		return cerrors.Wrap(cerrors.Lvm, fmt.Sprintf("opening device %s", devicePath), err)
	}
	defer dev.Close()

	if _, err := copyAndFsync(dev, img); err != nil {
		return cerrors.Wrap(cerrors.Lvm, fmt.Sprintf("writing %s to %s", tmpPath, devicePath), err)
	}

	return nil
}

func copyAndFsync(dev *os.File, img *os.File) (int64, error) {
	n, err := io.Copy(dev, img)
	if err != nil {
		return n, err
	}
	if err := dev.Sync(); err != nil {
		return n, err
	}
	_ = unix.Fsync(int(dev.Fd()))
	return n, nil
}

func (m *Machine) stepWritingEFI(ctx context.Context, resp *Response) (*Response, error) {
	if resp.Plan.NoUpdate {
		return resp, nil
	}

	slog.Info("transaction_state_writing_efi", "version", resp.Plan.ServerVersion.String())

	f, err := os.Open(resp.EfiTmpPath)
	if err != nil {
		return nil, cerrors.Wrap(cerrors.Io, fmt.Sprintf("opening %s", resp.EfiTmpPath), err)
	}
	defer f.Close()

	if err := m.efiFacade.Write(ctx, resp.Plan.ServerVersion, f); err != nil {
		return nil, err
	}
	return resp, nil
}

func (m *Machine) stepDone(resp *Response) *Response {
	if !resp.Plan.NoUpdate {
		resp.Status = StatusInstalled
		removeIfSet(resp.CoreTmpPath)
		removeIfSet(resp.EfiTmpPath)
	}

	slog.Info("transaction_done", "status", resp.Status)
	return resp
}

func removeIfSet(path string) {
	if path == "" {
		return
	}
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		slog.Warn("transaction_temp_cleanup_failed", "path", path, "error", err)
	}
}
