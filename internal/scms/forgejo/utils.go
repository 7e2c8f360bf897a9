package forgejo

import (
	forgejo "codeberg.org/mvdkleijn/forgejo-sdk/forgejo/v2"

	"github.com/argoproj-labs/commit-status-publisher/internal/scms"
)

var states = map[scms.Phase]string{
	scms.PhasePending:  string(forgejo.StatusPending),
	scms.PhaseRunning:  string(forgejo.StatusPending),
	scms.PhaseSuccess:  string(forgejo.StatusSuccess),
	scms.PhaseFailure:  string(forgejo.StatusFailure),
	scms.PhaseCanceled: string(forgejo.StatusError),
}
