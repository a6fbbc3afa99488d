// Package transaction implements the update transaction: the top-level
// state machine that decides whether an update is needed, and if so
// downloads, verifies, and installs the new core image and EFI bundle
// in the crash-safe order the spec requires.
package transaction

import (
	"context"

	"github.com/superfly/fsm"

	cerrors "github.com/clipos/updater/pkg/errors"
)

// Decide runs only the planning step, with no facade mutation — the
// dry-run path behind the "check" subcommand, which stops after §4.7's
// Decide state without registering on an fsm.Manager at all.
func (m *Machine) Decide(ctx context.Context, req Request) (*Response, error) {
	return m.stepDecide(ctx, req, &Response{})
}

// Register builds the update transaction's state graph on manager.
func (m *Machine) Register(ctx context.Context, manager *fsm.Manager) (fsm.Start[Request, Response], fsm.Resume, error) {
	start, resume, err := fsm.Register[Request, Response](manager, "update-transaction").
		Start(StateDecide, m.handleDecide).
		To(StatePreparing, m.handlePreparing).
		To(StateFetchingCore, m.handleFetchingCore).
		To(StateWritingCore, m.handleWritingCore).
		To(StateFetchingEFI, m.handleFetchingEFI).
		To(StateWritingEFI, m.handleWritingEFI).
		To(StateDone, m.handleDone).
		End(StateFailed).
		Build(ctx)

	if err != nil {
		return nil, nil, cerrors.Wrap(cerrors.Env, "registering update transaction", err)
	}

	return start, resume, nil
}
