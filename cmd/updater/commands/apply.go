package commands

import (
	"fmt"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"github.com/superfly/fsm"

	cerrors "github.com/clipos/updater/pkg/errors"
	"github.com/clipos/updater/pkg/transaction"
)

var applyCmd = &cobra.Command{
	Use:   "apply",
	Short: "Decide, fetch, verify, and install an update if one is available",
	RunE:  runApply,
}

func init() {
	rootCmd.AddCommand(applyCmd)
}

func runApply(cmd *cobra.Command, args []string) error {
	heldLock, err := acquireLock()
	if err != nil {
		return err
	}
	defer heldLock.Release()

	d, err := setup(cmd)
	if err != nil {
		return err
	}

	server, err := d.serverVersion(cmd)
	if err != nil {
		return err
	}

	fsmDBPath := filepath.Join(viper.GetString("tmp-dir"), "fsm.db")
	manager, err := fsm.New(fsm.Config{DBPath: fsmDBPath})
	if err != nil {
		return cerrors.Wrap(cerrors.Env, "starting fsm manager", err)
	}
	defer manager.Shutdown(10 * time.Second)

	start, _, err := d.machine.Register(cmd.Context(), manager)
	if err != nil {
		return err
	}

	req := &transaction.Request{
		RunningVersionStr: d.running.String(),
		ServerVersionStr:  server.String(),
	}
	resp := &transaction.Response{}

	runID := fmt.Sprintf("update-%d", time.Now().UnixNano())
	runVersion, err := start(cmd.Context(), runID, fsm.NewRequest(req, resp))
	if err != nil {
		return cerrors.Wrap(cerrors.Env, "starting update transaction", err)
	}

	if err := manager.Wait(cmd.Context(), runVersion); err != nil {
		if _, ok := cerrors.KindOf(err); ok {
			return err
		}
		return cerrors.Wrap(cerrors.Env, "running update transaction", err)
	}

	fmt.Printf("status: %s\n", resp.Status)
	return nil
}
