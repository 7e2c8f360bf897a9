package bitbucket_cloud

import "github.com/argoproj-labs/commit-status-publisher/internal/scms"

// Bitbucket Cloud states: SUCCESSFUL, FAILED, INPROGRESS, STOPPED
// https://developer.atlassian.com/cloud/bitbucket/rest/api-group-commit-statuses/#api-repositories-workspace-repo-slug-commit-commit-statuses-build-post-request-body
var states = map[scms.Phase]string{
	scms.PhasePending:  "INPROGRESS",
	scms.PhaseRunning:  "INPROGRESS",
	scms.PhaseSuccess:  "SUCCESSFUL",
	scms.PhaseFailure:  "FAILED",
	scms.PhaseCanceled: "STOPPED",
}
