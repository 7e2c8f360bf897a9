package scms

import (
	"context"
	"fmt"
	"slices"

	"github.com/argoproj-labs/commit-status-publisher/internal/dispatcher"
	"github.com/argoproj-labs/commit-status-publisher/internal/repository"
)

// Status is a commit status ready to be encoded by a Dialect.
type Status struct {
	Event Event
	Phase Phase
	// State is the provider token for Phase, looked up in Dialect.States.
	State      string
	Repository *repository.Repository
	// Context is the status name shown next to the commit.
	Context string
	// Key identifies the status among the statuses of a commit. Statuses with the
	// same key replace each other.
	Key         string
	Description string
	TargetURL   string
}

// Sha is the revision the status is attached to.
func (s *Status) Sha() string {
	return s.Event.Revision.Hash
}

// Dialect describes how one hosting service receives commit statuses. Providers
// are plain values, so the publish pipeline stays the same for every service.
type Dialect struct {
	Type ScmProviderType
	// Events the service is notified about. Nil means every event.
	Events []EventKind
	// States maps phases to the service's state tokens. A phase without an entry
	// is not published.
	States map[Phase]string
	// MaxDescription truncates descriptions. Zero means unlimited.
	MaxDescription int
	// Grammar resolves the repository from a VCS root URL.
	Grammar repository.Grammar
	// NoRepository is set for services that identify revisions on their own
	// (Upsource projects, Gerrit projects, Swarm changelists).
	NoRepository bool
	// Envelope extracts error messages from rejected requests. Defaults to
	// dispatcher.DefaultEnvelope.
	Envelope dispatcher.Envelope

	// Request encodes a status as an HTTP request. Authentication, timeouts and
	// bookkeeping fields are filled in by the publisher.
	Request func(status *Status) (*dispatcher.Request, error)
	// Command encodes a status as non-HTTP work, for services reached over SSH.
	Command func(status *Status) (*dispatcher.Command, error)

	// Probe builds a read-only request used to validate the configuration.
	Probe func(repo *repository.Repository) (*dispatcher.Request, error)
	// Verify validates the configuration of non-HTTP dialects.
	Verify func(ctx context.Context) error
}

// Supports returns whether the dialect publishes on the given event.
func (d *Dialect) Supports(kind EventKind) bool {
	return d.Events == nil || slices.Contains(d.Events, kind)
}

// State returns the state token for phase.
func (d *Dialect) State(phase Phase) (string, bool) {
	state, ok := d.States[phase]
	return state, ok
}

// Validate reports dialects that cannot publish anything.
func (d *Dialect) Validate() error {
	if d.Type == "" {
		return fmt.Errorf("dialect has no provider type")
	}
	if (d.Request == nil) == (d.Command == nil) {
		return fmt.Errorf("%s dialect must encode statuses either as requests or as commands", d.Type)
	}
	if len(d.States) == 0 {
		return fmt.Errorf("%s dialect has no state table", d.Type)
	}
	return nil
}

// RequireRepository is a helper for dialects that cannot publish without an owner and name.
func RequireRepository(status *Status) error {
	if status.Repository == nil || status.Repository.Owner == "" || status.Repository.Name == "" {
		return fmt.Errorf("no repository resolved for VCS root %q", status.Event.Revision.Root.Name)
	}
	if status.Sha() == "" {
		return fmt.Errorf("no revision for VCS root %q", status.Event.Revision.Root.Name)
	}
	return nil
}
