package publisher

import (
	"fmt"

	"github.com/argoproj-labs/commit-status-publisher/api/v1alpha1"
	"github.com/argoproj-labs/commit-status-publisher/internal/payload"
	"github.com/argoproj-labs/commit-status-publisher/internal/scms"
)

// TemplateData is available to context and description templates.
type TemplateData struct {
	Event    string
	Phase    string
	Build    v1alpha1.Build
	Revision v1alpha1.Revision
	User     string
	Comment  string
	// Description is the default description of the event.
	Description string
	// Context is the default status context.
	Context string
}

func newTemplateData(event scms.Event) TemplateData {
	return TemplateData{
		Event:       string(event.Kind),
		Phase:       string(event.Phase()),
		Build:       event.Build,
		Revision:    event.Revision,
		User:        event.User,
		Comment:     event.Comment,
		Description: DefaultDescription(event),
		Context:     DefaultContext(event.Build),
	}
}

// DefaultContext names the status after the build configuration, e.g. "Project / Tests".
func DefaultContext(build v1alpha1.Build) string {
	name := build.TypeName
	if name == "" {
		name = build.TypeID
	}
	switch {
	case build.ProjectName != "" && name != "":
		return build.ProjectName + " / " + name
	case name != "":
		return name
	case build.ProjectName != "":
		return build.ProjectName
	default:
		return "build"
	}
}

// DefaultDescription describes event the way it is shown next to the commit.
// Comments are layered onto the description of the build's current phase.
func DefaultDescription(event scms.Event) string {
	switch event.Kind {
	case scms.EventQueued:
		return "Build queued"
	case scms.EventRemovedFromQueue:
		if event.User != "" {
			return "Build removed from queue by " + event.User
		}
		return "Build removed from queue"
	case scms.EventStarted:
		return "Build started"
	case scms.EventFinished:
		if event.Build.StatusText != "" {
			return event.Build.StatusText
		}
		if event.Phase() == scms.PhaseSuccess {
			return "Build finished"
		}
		return "Build failed"
	case scms.EventInterrupted:
		return "Build interrupted"
	case scms.EventMarkedAsSuccessful:
		return "Build marked as successful"
	case scms.EventFailureDetected:
		if event.Build.StatusText != "" {
			return event.Build.StatusText
		}
		return "Build failed"
	case scms.EventCommented:
		return commentDescription(event)
	default:
		return string(event.Kind)
	}
}

func commentDescription(event scms.Event) string {
	var base string
	switch event.Phase() {
	case scms.PhasePending:
		base = "Build queued"
	case scms.PhaseRunning:
		base = "Build started"
	case scms.PhaseSuccess:
		base = "Build finished"
	default:
		base = "Build failed"
	}
	if event.Build.StatusText != "" && event.Phase() != scms.PhasePending {
		base = event.Build.StatusText
	}
	if event.Comment == "" {
		return base
	}
	user := event.User
	if user == "" {
		user = "unknown user"
	}
	return fmt.Sprintf(`%s with a comment by %s: "%s"`, base, user, event.Comment)
}

// describe renders the context, key and description of a status.
func (p *Publisher) describe(event scms.Event) (context, key, description string, err error) {
	data := newTemplateData(event)

	context = data.Context
	key = event.Build.TypeID
	if p.feature.Context != "" {
		context, err = payload.Render(p.feature.Context, data)
		if err != nil {
			return "", "", "", fmt.Errorf("failed to render context: %w", err)
		}
		key = context
	}
	if key == "" {
		key = context
	}

	description = data.Description
	if p.feature.Description != "" {
		description, err = payload.Render(p.feature.Description, data)
		if err != nil {
			return "", "", "", fmt.Errorf("failed to render description: %w", err)
		}
	}
	if limit := p.feature.Dialect.MaxDescription; limit > 0 {
		description = payload.Truncate(description, limit)
	}
	return context, key, description, nil
}
