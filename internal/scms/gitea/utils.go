package gitea

import (
	"code.gitea.io/sdk/gitea"

	"github.com/argoproj-labs/commit-status-publisher/internal/scms"
)

var states = map[scms.Phase]string{
	scms.PhasePending:  string(gitea.StatusPending),
	scms.PhaseRunning:  string(gitea.StatusPending),
	scms.PhaseSuccess:  string(gitea.StatusSuccess),
	scms.PhaseFailure:  string(gitea.StatusFailure),
	scms.PhaseCanceled: string(gitea.StatusError),
}
