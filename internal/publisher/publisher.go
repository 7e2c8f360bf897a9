// Package publisher turns build lifecycle events into commit statuses. A
// Publisher pairs one configured feature with a provider dialect and hands
// the encoded statuses to the dispatcher.
package publisher

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"slices"
	"time"

	"sigs.k8s.io/controller-runtime/pkg/log"

	"github.com/argoproj-labs/commit-status-publisher/api/v1alpha1"
	"github.com/argoproj-labs/commit-status-publisher/internal/dispatcher"
	"github.com/argoproj-labs/commit-status-publisher/internal/problems"
	"github.com/argoproj-labs/commit-status-publisher/internal/repository"
	"github.com/argoproj-labs/commit-status-publisher/internal/scms"
)

// Dispatcher delivers publish attempts. *dispatcher.Dispatcher implements it.
type Dispatcher interface {
	Submit(ctx context.Context, req *dispatcher.Request) *dispatcher.Future
	SubmitCommand(ctx context.Context, cmd *dispatcher.Command) *dispatcher.Future
	TestConnection(ctx context.Context, req *dispatcher.Request) error
}

var _ Dispatcher = &dispatcher.Dispatcher{}

// Feature is a configured publisher: where statuses go and which builds they are for.
type Feature struct {
	Name    string
	Dialect scms.Dialect
	// Auth is applied to every HTTP request of the feature.
	Auth dispatcher.Authenticator
	// Client overrides the dispatcher client, e.g. for mutual TLS.
	Client *http.Client
	// Timeout overrides the dispatcher timeout.
	Timeout time.Duration

	// Context and Description are optional templates rendered with TemplateData.
	Context     string
	Description string

	// BuildTypes and VcsRoots restrict the feature. Empty matches everything.
	BuildTypes []string
	VcsRoots   []string
	Condition  *Condition
}

// Publisher publishes the statuses of one feature.
type Publisher struct {
	feature    Feature
	dispatcher Dispatcher
	recorder   problems.Recorder
}

// New creates a Publisher for feature.
func New(feature Feature, d Dispatcher, recorder problems.Recorder) (*Publisher, error) {
	if feature.Name == "" {
		return nil, errors.New("feature name is required")
	}
	if err := feature.Dialect.Validate(); err != nil {
		return nil, fmt.Errorf("feature %q: %w", feature.Name, err)
	}
	if d == nil {
		return nil, errors.New("dispatcher is required")
	}
	return &Publisher{feature: feature, dispatcher: d, recorder: recorder}, nil
}

// Name returns the feature name.
func (p *Publisher) Name() string {
	return p.feature.Name
}

// Provider returns the hosting service type.
func (p *Publisher) Provider() scms.ScmProviderType {
	return p.feature.Dialect.Type
}

// BuildQueued publishes the pending phase.
func (p *Publisher) BuildQueued(ctx context.Context, build v1alpha1.Build, revision v1alpha1.Revision) (bool, *dispatcher.Future, error) {
	return p.Publish(ctx, scms.Event{Kind: scms.EventQueued, Build: build, Revision: revision})
}

// BuildRemovedFromQueue publishes the canceled phase, crediting user and comment.
func (p *Publisher) BuildRemovedFromQueue(ctx context.Context, build v1alpha1.Build, revision v1alpha1.Revision, user, comment string) (bool, *dispatcher.Future, error) {
	return p.Publish(ctx, scms.Event{Kind: scms.EventRemovedFromQueue, Build: build, Revision: revision, User: user, Comment: comment})
}

// BuildStarted publishes the running phase.
func (p *Publisher) BuildStarted(ctx context.Context, build v1alpha1.Build, revision v1alpha1.Revision) (bool, *dispatcher.Future, error) {
	return p.Publish(ctx, scms.Event{Kind: scms.EventStarted, Build: build, Revision: revision})
}

// BuildFinished publishes success or failure from the build status.
func (p *Publisher) BuildFinished(ctx context.Context, build v1alpha1.Build, revision v1alpha1.Revision) (bool, *dispatcher.Future, error) {
	return p.Publish(ctx, scms.Event{Kind: scms.EventFinished, Build: build, Revision: revision})
}

// BuildInterrupted publishes the canceled phase.
func (p *Publisher) BuildInterrupted(ctx context.Context, build v1alpha1.Build, revision v1alpha1.Revision) (bool, *dispatcher.Future, error) {
	return p.Publish(ctx, scms.Event{Kind: scms.EventInterrupted, Build: build, Revision: revision})
}

// BuildFailureDetected publishes the failure phase while the build still runs.
func (p *Publisher) BuildFailureDetected(ctx context.Context, build v1alpha1.Build, revision v1alpha1.Revision) (bool, *dispatcher.Future, error) {
	return p.Publish(ctx, scms.Event{Kind: scms.EventFailureDetected, Build: build, Revision: revision})
}

// BuildCommented republishes the last known phase of the build with the comment.
func (p *Publisher) BuildCommented(ctx context.Context, build v1alpha1.Build, revision v1alpha1.Revision, user, comment string, inProgress bool) (bool, *dispatcher.Future, error) {
	return p.Publish(ctx, scms.Event{Kind: scms.EventCommented, Build: build, Revision: revision, User: user, Comment: comment, InProgress: inProgress})
}

// BuildMarkedAsSuccessful publishes success, or running when inProgress is set.
func (p *Publisher) BuildMarkedAsSuccessful(ctx context.Context, build v1alpha1.Build, revision v1alpha1.Revision, inProgress bool) (bool, *dispatcher.Future, error) {
	return p.Publish(ctx, scms.Event{Kind: scms.EventMarkedAsSuccessful, Build: build, Revision: revision, InProgress: inProgress})
}

// Matches returns whether the feature publishes event. It does not consult the
// condition, see Publish.
func (p *Publisher) Matches(event scms.Event) bool {
	if !p.feature.Dialect.Supports(event.Kind) {
		return false
	}
	if len(p.feature.BuildTypes) > 0 && !slices.Contains(p.feature.BuildTypes, event.Build.TypeID) {
		return false
	}
	if len(p.feature.VcsRoots) > 0 && !slices.Contains(p.feature.VcsRoots, event.Revision.Root.ID) {
		return false
	}
	return true
}

// Publish encodes event and submits it. It reports whether an attempt was
// submitted; the outcome of the attempt is delivered on the returned future.
// Errors are returned for attempts aborted before submission, and are also
// recorded as build problems.
func (p *Publisher) Publish(ctx context.Context, event scms.Event) (bool, *dispatcher.Future, error) {
	logger := log.FromContext(ctx).WithValues("feature", p.feature.Name, "provider", p.feature.Dialect.Type, "build", event.Build.ID, "event", event.Kind)

	if !p.Matches(event) {
		logger.V(4).Info("Feature does not apply to event")
		return false, nil, nil
	}
	if p.feature.Condition != nil {
		ok, err := p.feature.Condition.Evaluate(event)
		if err != nil {
			p.record(event, problems.KindConfiguration, err.Error())
			return false, nil, err
		}
		if !ok {
			logger.V(4).Info("Condition is false, skipping", "condition", p.feature.Condition.String())
			return false, nil, nil
		}
	}

	phase := event.Phase()
	state, ok := p.feature.Dialect.State(phase)
	if !ok {
		logger.V(4).Info("Provider has no state for phase", "phase", phase)
		return false, nil, nil
	}

	var repo *repository.Repository
	if !p.feature.Dialect.NoRepository {
		var err error
		repo, err = p.resolve(ctx, event.Revision.Root)
		if err != nil {
			p.record(event, problems.KindParse, err.Error())
			return false, nil, err
		}
	}

	statusContext, key, description, err := p.describe(event)
	if err != nil {
		p.record(event, problems.KindConfiguration, err.Error())
		return false, nil, err
	}
	status := &scms.Status{
		Event:       event,
		Phase:       phase,
		State:       state,
		Repository:  repo,
		Context:     statusContext,
		Key:         key,
		Description: description,
		TargetURL:   event.Build.WebURL,
	}

	label := scms.Label(event.Build)
	if p.feature.Dialect.Request != nil {
		req, err := p.feature.Dialect.Request(status)
		if err != nil {
			err = fmt.Errorf("failed to encode status for %s: %w", label, err)
			p.record(event, problems.KindConfiguration, err.Error())
			return false, nil, err
		}
		p.prepare(req, event.Build)
		logger.V(4).Info("Submitting commit status", "state", state, "url", req.URL)
		return true, p.dispatcher.Submit(ctx, req), nil
	}

	cmd, err := p.feature.Dialect.Command(status)
	if err != nil {
		err = fmt.Errorf("failed to encode status for %s: %w", label, err)
		p.record(event, problems.KindConfiguration, err.Error())
		return false, nil, err
	}
	cmd.BuildID = event.Build.ID
	cmd.Feature = p.feature.Name
	cmd.Provider = string(p.feature.Dialect.Type)
	cmd.Label = label
	if cmd.Timeout <= 0 {
		cmd.Timeout = p.feature.Timeout
	}
	logger.V(4).Info("Submitting commit status command", "state", state)
	return true, p.dispatcher.SubmitCommand(ctx, cmd), nil
}

// resolve parses the repository of a VCS root with the dialect grammar.
func (p *Publisher) resolve(ctx context.Context, root v1alpha1.VcsRoot) (*repository.Repository, error) {
	kind := repository.VcsKind(root.Kind)
	if kind == "" {
		kind = repository.Git
	}
	repo, err := repository.Parse(ctx, kind, root.URL, p.feature.Dialect.Grammar)
	if err != nil {
		return nil, fmt.Errorf("cannot determine repository for VCS root %s: %w", RootName(root), err)
	}
	return repo, nil
}

// RootName is the name of a VCS root in diagnostics.
func RootName(root v1alpha1.VcsRoot) string {
	switch {
	case root.Name != "":
		return fmt.Sprintf("%q", root.Name)
	case root.ID != "":
		return fmt.Sprintf("%q", root.ID)
	default:
		return fmt.Sprintf("with url %q", root.URL)
	}
}

func (p *Publisher) prepare(req *dispatcher.Request, build v1alpha1.Build) {
	req.Auth = p.feature.Auth
	req.Client = p.feature.Client
	if req.Timeout <= 0 {
		req.Timeout = p.feature.Timeout
	}
	req.BuildID = build.ID
	req.Feature = p.feature.Name
	req.Provider = string(p.feature.Dialect.Type)
	req.Label = scms.Label(build)
	if req.Envelope == nil {
		req.Envelope = p.feature.Dialect.Envelope
	}
}

func (p *Publisher) record(event scms.Event, kind problems.Kind, message string) {
	if p.recorder == nil {
		return
	}
	p.recorder.RecordProblem(problems.Problem{
		BuildID:  event.Build.ID,
		Feature:  p.feature.Name,
		Provider: string(p.feature.Dialect.Type),
		Kind:     kind,
		Message:  message,
	})
}

// TestConnection validates the feature against the hosting service. HTTP
// dialects probe the repository of root; other dialects verify their channel.
func (p *Publisher) TestConnection(ctx context.Context, root v1alpha1.VcsRoot) error {
	dialect := p.feature.Dialect
	if dialect.Verify != nil {
		if p.feature.Timeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, p.feature.Timeout)
			defer cancel()
		}
		return dialect.Verify(ctx)
	}
	if dialect.Probe == nil {
		return fmt.Errorf("%s does not support connection tests", dialect.Type)
	}

	var repo *repository.Repository
	if !dialect.NoRepository {
		var err error
		if repo, err = p.resolve(ctx, root); err != nil {
			return err
		}
	}
	req, err := dialect.Probe(repo)
	if err != nil {
		return err
	}
	p.prepare(req, v1alpha1.Build{})
	return p.dispatcher.TestConnection(ctx, req)
}
