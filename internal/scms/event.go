package scms

import (
	"fmt"
	"strings"

	"github.com/argoproj-labs/commit-status-publisher/api/v1alpha1"
)

// EventKind is a build lifecycle event reported by the CI server.
type EventKind string

const (
	EventQueued             EventKind = "queued"
	EventRemovedFromQueue   EventKind = "removedFromQueue"
	EventStarted            EventKind = "started"
	EventFinished           EventKind = "finished"
	EventInterrupted        EventKind = "interrupted"
	EventFailureDetected    EventKind = "failureDetected"
	EventMarkedAsSuccessful EventKind = "markedAsSuccessful"
	EventCommented          EventKind = "commented"
)

// EventKinds lists every lifecycle event in the order a build usually goes through them.
var EventKinds = []EventKind{
	EventQueued,
	EventRemovedFromQueue,
	EventStarted,
	EventFailureDetected,
	EventFinished,
	EventInterrupted,
	EventMarkedAsSuccessful,
	EventCommented,
}

// ParseEventKind accepts the event names case-insensitively.
func ParseEventKind(s string) (EventKind, error) {
	for _, k := range EventKinds {
		if strings.EqualFold(s, string(k)) {
			return k, nil
		}
	}
	return "", fmt.Errorf("unknown build event %q", s)
}

// Phase is the provider neutral state of a commit status.
type Phase string

const (
	PhasePending  Phase = "pending"
	PhaseRunning  Phase = "running"
	PhaseSuccess  Phase = "success"
	PhaseFailure  Phase = "failure"
	PhaseCanceled Phase = "canceled"
)

// Event is a lifecycle event for one build and one of its revisions.
type Event struct {
	Kind     EventKind
	Build    v1alpha1.Build
	Revision v1alpha1.Revision
	// User who commented or removed the build from the queue.
	User string
	// Comment attached by User.
	Comment string
	// InProgress is set for comments and mark-as-successful while the build runs.
	InProgress bool
}

// Phase maps the event to the status the hosting service should show.
// Comments keep whatever the build currently reports.
func (e Event) Phase() Phase {
	switch e.Kind {
	case EventQueued:
		return PhasePending
	case EventRemovedFromQueue, EventInterrupted:
		return PhaseCanceled
	case EventStarted:
		return PhaseRunning
	case EventFinished:
		if e.Build.Status == v1alpha1.BuildStatusSuccess {
			return PhaseSuccess
		}
		return PhaseFailure
	case EventFailureDetected:
		return PhaseFailure
	case EventMarkedAsSuccessful:
		if e.InProgress {
			return PhaseRunning
		}
		return PhaseSuccess
	default:
		return lastKnownPhase(e.Build, e.InProgress)
	}
}

func lastKnownPhase(build v1alpha1.Build, inProgress bool) Phase {
	switch build.Status {
	case v1alpha1.BuildStatusFailure, v1alpha1.BuildStatusError:
		return PhaseFailure
	case v1alpha1.BuildStatusSuccess:
		if inProgress {
			return PhaseRunning
		}
		return PhaseSuccess
	default:
		if inProgress || build.StartedAt != "" {
			return PhaseRunning
		}
		return PhasePending
	}
}

// Label describes the build in logs and problems, e.g. "Project :: Tests #42".
func Label(build v1alpha1.Build) string {
	name := build.TypeName
	if name == "" {
		name = build.TypeID
	}
	if build.ProjectName != "" {
		name = build.ProjectName + " :: " + name
	}
	number := build.Number
	if number == "" {
		number = build.ID
	}
	return name + " #" + number
}
