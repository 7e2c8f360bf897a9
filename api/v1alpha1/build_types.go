/*
Copyright 2024.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package v1alpha1

// BuildEventRequest is the payload the CI server posts for every build lifecycle event.
type BuildEventRequest struct {
	// Event is the lifecycle event kind, e.g. "started" or "finished".
	// +required
	Event string `json:"event"`

	// Build is the snapshot of the build record when the event fired.
	// +required
	Build Build `json:"build"`

	// Revisions are the VCS revisions the build runs on, one per VCS root.
	// +required
	Revisions []Revision `json:"revisions"`

	// User is the user who triggered the event (comments, removal from queue).
	// +optional
	User string `json:"user,omitempty"`

	// Comment is the user supplied comment.
	// +optional
	Comment string `json:"comment,omitempty"`

	// InProgress is true when a comment or mark-as-successful happened while the build was running.
	// +optional
	InProgress bool `json:"inProgress,omitempty"`
}

// BuildStatus is the outcome recorded by the CI server.
type BuildStatus string

const (
	// BuildStatusUnknown is used while the build has no outcome yet.
	BuildStatusUnknown BuildStatus = ""
	// BuildStatusSuccess is a successful build.
	BuildStatusSuccess BuildStatus = "SUCCESS"
	// BuildStatusFailure is a failed build.
	BuildStatusFailure BuildStatus = "FAILURE"
	// BuildStatusError is a build that failed to run.
	BuildStatusError BuildStatus = "ERROR"
)

// Build is the CI server's build record.
type Build struct {
	// ID is the unique build identifier.
	// +required
	ID string `json:"id"`

	// Number is the human readable build number.
	// +optional
	Number string `json:"number,omitempty"`

	// TypeID is the build configuration identifier.
	// +optional
	TypeID string `json:"typeId,omitempty"`

	// TypeName is the build configuration name.
	// +optional
	TypeName string `json:"typeName,omitempty"`

	// ProjectName is the full name of the project owning the build configuration.
	// +optional
	ProjectName string `json:"projectName,omitempty"`

	// Branch is the logical branch name.
	// +optional
	Branch string `json:"branch,omitempty"`

	// WebURL links to the build results page.
	// +optional
	WebURL string `json:"webUrl,omitempty"`

	// Status is the current outcome of the build.
	// +optional
	Status BuildStatus `json:"status,omitempty"`

	// StatusText is the CI server's status line, e.g. "Tests passed: 42".
	// +optional
	StatusText string `json:"statusText,omitempty"`

	// QueuedAt is an ISO 8601 timestamp.
	// +optional
	QueuedAt string `json:"queuedAt,omitempty"`

	// StartedAt is an ISO 8601 timestamp.
	// +optional
	StartedAt string `json:"startedAt,omitempty"`

	// FinishedAt is an ISO 8601 timestamp.
	// +optional
	FinishedAt string `json:"finishedAt,omitempty"`
}

// Revision identifies the commit a build runs on for one VCS root.
type Revision struct {
	// Root is the VCS root the revision belongs to.
	// +required
	Root VcsRoot `json:"vcsRoot"`

	// Hash is the commit identifier.
	// +required
	Hash string `json:"revision"`

	// Changelist is the Perforce changelist number, when applicable.
	// +optional
	Changelist string `json:"changelist,omitempty"`
}

// VcsRoot is a configured source repository connection.
type VcsRoot struct {
	// ID is the VCS root identifier.
	// +required
	ID string `json:"id"`

	// Name is the display name of the VCS root.
	// +optional
	Name string `json:"name,omitempty"`

	// Kind is the VCS type: git, mercurial, subversion or perforce.
	// +required
	Kind string `json:"kind"`

	// URL is the fetch URL of the repository.
	// +required
	URL string `json:"url"`
}
