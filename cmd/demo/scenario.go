package demo

import (
	"fmt"
	"os"

	"github.com/goccy/go-yaml"

	"github.com/argoproj-labs/commit-status-publisher/api/v1alpha1"
)

// Scenario is a sequence of host events replayed against a fake provider.
type Scenario struct {
	// Context and Description are feature templates used for the demo feature.
	Context     string                       `yaml:"context,omitempty"`
	Description string                       `yaml:"description,omitempty"`
	Events      []v1alpha1.BuildEventRequest `yaml:"events"`
}

// DefaultScenario walks one build of a single git root from queued to a
// comment on the finished build.
func DefaultScenario() Scenario {
	build := v1alpha1.Build{
		ID:          "1",
		Number:      "42",
		TypeID:      "Demo_Tests",
		TypeName:    "Tests",
		ProjectName: "Demo",
		Branch:      "main",
		WebURL:      "https://ci.example.com/build/1",
	}
	revisions := []v1alpha1.Revision{{
		Root: v1alpha1.VcsRoot{ID: "Demo_Main", Name: "main repo", Kind: "git", URL: "https://github.com/example/demo.git"},
		Hash: "3f786850e387550fdab836ed7e6dc881de23001b",
	}}

	finished := build
	finished.Status = v1alpha1.BuildStatusSuccess
	finished.StatusText = "Tests passed: 120"

	return Scenario{
		Events: []v1alpha1.BuildEventRequest{
			{Event: "queued", Build: build, Revisions: revisions},
			{Event: "started", Build: build, Revisions: revisions},
			{Event: "finished", Build: finished, Revisions: revisions},
			{Event: "commented", Build: finished, Revisions: revisions, User: "alice", Comment: "verified on staging"},
		},
	}
}

// LoadScenario reads a Scenario from a YAML file.
func LoadScenario(path string) (Scenario, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return Scenario{}, fmt.Errorf("failed to read scenario: %w", err)
	}

	var scenario Scenario
	if err := yaml.Unmarshal(content, &scenario); err != nil {
		return Scenario{}, fmt.Errorf("failed to parse scenario: %w", err)
	}
	if len(scenario.Events) == 0 {
		return Scenario{}, fmt.Errorf("scenario %s has no events", path)
	}
	return scenario, nil
}
