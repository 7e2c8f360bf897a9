package bitbucket

import "github.com/argoproj-labs/commit-status-publisher/internal/scms"

// Bitbucket Server only knows INPROGRESS, SUCCESSFUL and FAILED, so canceled
// builds are reported as failed.
var states = map[scms.Phase]string{
	scms.PhasePending:  "INPROGRESS",
	scms.PhaseRunning:  "INPROGRESS",
	scms.PhaseSuccess:  "SUCCESSFUL",
	scms.PhaseFailure:  "FAILED",
	scms.PhaseCanceled: "FAILED",
}
