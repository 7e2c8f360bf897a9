// Package fake records commit statuses in memory. It backs end-to-end tests and
// dry runs of a configuration.
package fake

import (
	"context"
	"errors"
	"slices"
	"sync"

	"github.com/argoproj-labs/commit-status-publisher/internal/dispatcher"
	"github.com/argoproj-labs/commit-status-publisher/internal/repository"
	"github.com/argoproj-labs/commit-status-publisher/internal/scms"
)

// CommitStatus is a status accepted by the fake provider.
type CommitStatus struct {
	Event       scms.EventKind
	Phase       scms.Phase
	Repository  string
	Sha         string
	Context     string
	Key         string
	Description string
	TargetURL   string
}

// Recorder stores published statuses, oldest first.
type Recorder struct {
	mu       sync.Mutex
	statuses []CommitStatus
	err      error
}

// NewRecorder creates an empty Recorder.
func NewRecorder() *Recorder {
	return &Recorder{}
}

// Statuses returns a copy of the recorded statuses.
func (r *Recorder) Statuses() []CommitStatus {
	r.mu.Lock()
	defer r.mu.Unlock()
	return slices.Clone(r.statuses)
}

// FailWith makes subsequent publishes fail with err. A nil err restores success.
func (r *Recorder) FailWith(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.err = err
}

// Reset drops the recorded statuses.
func (r *Recorder) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.statuses = nil
	r.err = nil
}

func (r *Recorder) record(status CommitStatus) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return r.err
	}
	r.statuses = append(r.statuses, status)
	return nil
}

// NewDialect returns a dialect publishing into rec. State tokens are the phase names.
func NewDialect(rec *Recorder) scms.Dialect {
	return scms.Dialect{
		Type: scms.Fake,
		States: map[scms.Phase]string{
			scms.PhasePending:  string(scms.PhasePending),
			scms.PhaseRunning:  string(scms.PhaseRunning),
			scms.PhaseSuccess:  string(scms.PhaseSuccess),
			scms.PhaseFailure:  string(scms.PhaseFailure),
			scms.PhaseCanceled: string(scms.PhaseCanceled),
		},
		Grammar: repository.Generic,
		Command: func(status *scms.Status) (*dispatcher.Command, error) {
			if status.Sha() == "" {
				return nil, errors.New("sha is required")
			}
			cs := CommitStatus{
				Event:       status.Event.Kind,
				Phase:       status.Phase,
				Sha:         status.Sha(),
				Context:     status.Context,
				Key:         status.Key,
				Description: status.Description,
				TargetURL:   status.TargetURL,
			}
			if status.Repository != nil {
				cs.Repository = status.Repository.String()
			}
			return &dispatcher.Command{
				Run: func(context.Context) error {
					return rec.record(cs)
				},
			}, nil
		},
		Verify: func(context.Context) error {
			return nil
		},
	}
}
