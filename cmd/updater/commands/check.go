package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/clipos/updater/pkg/transaction"
)

var checkCmd = &cobra.Command{
	Use:   "check",
	Short: "Decide whether an update is available, without installing it",
	RunE:  runCheck,
}

func init() {
	rootCmd.AddCommand(checkCmd)
}

func runCheck(cmd *cobra.Command, args []string) error {
	d, err := setup(cmd)
	if err != nil {
		return err
	}

	server, err := d.serverVersion(cmd)
	if err != nil {
		return err
	}

	resp, err := d.machine.Decide(cmd.Context(), transaction.Request{
		RunningVersionStr: d.running.String(),
		ServerVersionStr:  server.String(),
	})
	if err != nil {
		return err
	}

	if resp.Plan.NoUpdate {
		fmt.Printf("up to date: running %s, server %s\n", d.running, server)
		return nil
	}

	fmt.Printf("update available: running %s, server %s, destination %s\n", d.running, server, resp.Plan.DestinationLV)
	return nil
}
