package gitlab

import (
	gitlab "gitlab.com/gitlab-org/api/client-go"

	"github.com/argoproj-labs/commit-status-publisher/internal/scms"
)

var states = map[scms.Phase]string{
	scms.PhasePending:  string(gitlab.Pending),
	scms.PhaseRunning:  string(gitlab.Running),
	scms.PhaseSuccess:  string(gitlab.Success),
	scms.PhaseFailure:  string(gitlab.Failed),
	scms.PhaseCanceled: string(gitlab.Canceled),
}
