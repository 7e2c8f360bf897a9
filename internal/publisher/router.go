package publisher

import (
	"context"
	"fmt"

	"sigs.k8s.io/controller-runtime/pkg/log"

	"github.com/argoproj-labs/commit-status-publisher/api/v1alpha1"
	"github.com/argoproj-labs/commit-status-publisher/internal/dispatcher"
	"github.com/argoproj-labs/commit-status-publisher/internal/scms"
)

// Router fans host events out to every configured publisher.
type Router struct {
	publishers []*Publisher
	byName     map[string]*Publisher
}

// Outcome summarizes the handling of one host event.
type Outcome struct {
	// Attempted is the number of submitted publish attempts.
	Attempted int
	// Futures resolve with the result of each submitted attempt.
	Futures []*dispatcher.Future
	// Errors are the attempts aborted before submission.
	Errors []error
}

// NewRouter creates a Router. Publisher names must be unique.
func NewRouter(publishers ...*Publisher) (*Router, error) {
	r := &Router{byName: make(map[string]*Publisher, len(publishers))}
	for _, p := range publishers {
		if _, ok := r.byName[p.Name()]; ok {
			return nil, fmt.Errorf("duplicate feature %q", p.Name())
		}
		r.byName[p.Name()] = p
		r.publishers = append(r.publishers, p)
	}
	return r, nil
}

// Publisher returns the publisher of the feature called name.
func (r *Router) Publisher(name string) (*Publisher, bool) {
	p, ok := r.byName[name]
	return p, ok
}

// Publishers returns the publishers in configuration order.
func (r *Router) Publishers() []*Publisher {
	return r.publishers
}

// Route publishes a host event for every revision of the build on every
// matching publisher. Only an unknown event kind fails the whole event.
func (r *Router) Route(ctx context.Context, req v1alpha1.BuildEventRequest) (*Outcome, error) {
	kind, err := scms.ParseEventKind(req.Event)
	if err != nil {
		return nil, err
	}

	logger := log.FromContext(ctx).WithValues("build", req.Build.ID, "event", kind)
	outcome := &Outcome{}
	for _, revision := range req.Revisions {
		event := scms.Event{
			Kind:       kind,
			Build:      req.Build,
			Revision:   revision,
			User:       req.User,
			Comment:    req.Comment,
			InProgress: req.InProgress,
		}
		for _, p := range r.publishers {
			attempted, future, err := p.Publish(ctx, event)
			if err != nil {
				outcome.Errors = append(outcome.Errors, fmt.Errorf("feature %q: %w", p.Name(), err))
				continue
			}
			if attempted {
				outcome.Attempted++
				outcome.Futures = append(outcome.Futures, future)
			}
		}
	}
	logger.V(4).Info("Routed build event", "attempted", outcome.Attempted, "errors", len(outcome.Errors))
	return outcome, nil
}
