package transaction

import "github.com/clipos/updater/pkg/planner"

// Request is the update transaction's input.
type Request struct {
	RunningVersionStr string
	ServerVersionStr  string
}

// Response accumulates state across transitions, mirroring the
// teacher's ImageResponse pattern: each handler reads what the
// previous one set and adds its own fields.
type Response struct {
	// From StateDecide
	Plan planner.Plan

	// From StateFetchingCore / StateFetchingEFI
	CoreTmpPath string
	EfiTmpPath  string

	// Status is set by StateDecide (no_update) or StateDone (installed).
	// ErrorMessage is not set by any state.
	Status       string
	ErrorMessage string
}

// Status values recorded in the final Response.
const (
	StatusNoUpdate  = "no_update"
	StatusInstalled = "installed"
)

// State names, one per spec.md §4.7 diagram node.
const (
	StateDecide       = "decide"
	StatePreparing    = "preparing"
	StateFetchingCore = "fetching_core"
	StateWritingCore  = "writing_core"
	StateFetchingEFI  = "fetching_efi"
	StateWritingEFI   = "writing_efi"
	StateDone         = "done"
	StateFailed       = "failed"
)
