package commands

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/clipos/updater/internal/config"
	"github.com/clipos/updater/pkg/efi"
	cerrors "github.com/clipos/updater/pkg/errors"
	"github.com/clipos/updater/pkg/fetcher"
	"github.com/clipos/updater/pkg/lock"
	"github.com/clipos/updater/pkg/lvm"
	"github.com/clipos/updater/pkg/sigverify"
	"github.com/clipos/updater/pkg/transaction"
	"github.com/clipos/updater/pkg/version"
)

// deployment bundles everything a command needs to run a transaction,
// mirroring the teacher's pattern of assembling its facades once in
// runFetch before handing them to the FSM machine.
type deployment struct {
	cfg        *config.Config
	remote     config.RemoteConfig
	running    version.Version
	httpClient *fetcher.Client
	machine    *transaction.Machine
}

func setup(cmd *cobra.Command) (*deployment, error) {
	configPath := viper.GetString("config")
	remoteName := viper.GetString("remote")
	tmpDir := viper.GetString("tmp-dir")

	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, cerrors.Wrap(cerrors.Config, "loading configuration", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, cerrors.Wrap(cerrors.Config, "validating configuration", err)
	}

	remote, err := cfg.Remote(remoteName)
	if err != nil {
		return nil, cerrors.Wrap(cerrors.Config, fmt.Sprintf("selecting remote %q", remoteName), err)
	}

	if err := os.MkdirAll(tmpDir, 0o750); err != nil {
		return nil, cerrors.Wrap(cerrors.Env, fmt.Sprintf("creating temp dir %s", tmpDir), err)
	}

	running, err := version.Current("/etc/os-release")
	if err != nil {
		return nil, cerrors.Wrap(cerrors.VersionParse, "reading running version", err)
	}

	pubKey, err := sigverify.LoadPublicKey(cfg.PublicKeyPath)
	if err != nil {
		return nil, err
	}

	lvmFacade := lvm.NewFacade()
	efiFacade := efi.New(filepath.Join(cfg.EFIMount, cfg.EFISubdir), remote.Product)

	headers := map[string][]string{
		"X-Machine-Id":      {machineID()},
		"X-Current-Version": {running.String()},
	}
	httpClient := fetcher.New(nil, cfg.RequestTimeout(), headers)

	distURL := strings.TrimSuffix(remote.BaseURL, "/") + "/dist"
	machine := transaction.NewMachine(lvmFacade, efiFacade, httpClient, pubKey, tmpDir, cfg.VGName, remote.Product, distURL)

	return &deployment{cfg: cfg, remote: remote, running: running, httpClient: httpClient, machine: machine}, nil
}

// serverVersion queries {base_url}/update/v1/{product}/version, spec §6.
func (d *deployment) serverVersion(cmd *cobra.Command) (version.Version, error) {
	url := strings.TrimSuffix(d.remote.BaseURL, "/") + "/update/v1/" + d.remote.Product + "/version"
	text, err := d.httpClient.GetText(cmd.Context(), url)
	if err != nil {
		return version.Version{}, err
	}
	return version.Parse(strings.TrimSpace(text))
}

func machineID() string {
	raw, err := os.ReadFile("/etc/machine-id")
	if err != nil {
		return "unknown"
	}
	return strings.TrimSpace(string(raw))
}

func acquireLock() (*lock.Lock, error) {
	return lock.Acquire(lock.DefaultPath)
}
