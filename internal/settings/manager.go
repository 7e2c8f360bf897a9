// Package settings loads and validates the publisher configuration file.
package settings

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/goccy/go-yaml"
	"k8s.io/apimachinery/pkg/api/resource"

	"github.com/argoproj-labs/commit-status-publisher/api/v1alpha1"
	"github.com/argoproj-labs/commit-status-publisher/internal/dispatcher"
	"github.com/argoproj-labs/commit-status-publisher/internal/problems"
	"github.com/argoproj-labs/commit-status-publisher/internal/scms"
)

const (
	// DefaultAddress is the default listen address of the event receiver.
	DefaultAddress = ":3333"
	// DefaultMetricsAddress is the default listen address of the metrics endpoint.
	DefaultMetricsAddress = ":9080"
	// DefaultMaxPayloadSize bounds inbound host events.
	DefaultMaxPayloadSize = "1Mi"
)

// Manager holds a validated configuration.
type Manager struct {
	config *v1alpha1.PublisherConfiguration

	maxPayloadSize resource.Quantity
	timeout        time.Duration
}

// Load reads and validates the configuration file at path.
func Load(path string) (*Manager, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read configuration: %w", err)
	}
	return Parse(content)
}

// Parse decodes and validates a YAML configuration.
func Parse(content []byte) (*Manager, error) {
	var config v1alpha1.PublisherConfiguration
	if err := yaml.UnmarshalWithOptions(content, &config, yaml.DisallowUnknownField()); err != nil {
		return nil, &ConfigurationError{Reason: fmt.Sprintf("invalid configuration file: %v", err)}
	}
	return NewManager(&config)
}

// NewManager applies defaults to config and validates it. Every problem found
// is returned, joined, as *ConfigurationError values.
func NewManager(config *v1alpha1.PublisherConfiguration) (*Manager, error) {
	applyDefaults(config)

	m := &Manager{config: config}
	var errs []error

	quantity, err := resource.ParseQuantity(config.Server.MaxPayloadSize)
	if err != nil || quantity.Sign() <= 0 {
		errs = append(errs, &ConfigurationError{Field: "server.maxPayloadSize", Reason: fmt.Sprintf("invalid quantity %q", config.Server.MaxPayloadSize)})
	}
	m.maxPayloadSize = quantity

	if config.Dispatcher.Timeout != "" {
		m.timeout, err = time.ParseDuration(config.Dispatcher.Timeout)
		if err != nil || m.timeout <= 0 {
			errs = append(errs, &ConfigurationError{Field: "dispatcher.timeout", Reason: fmt.Sprintf("invalid duration %q", config.Dispatcher.Timeout)})
		}
	}
	if config.Dispatcher.Workers < 0 || config.Dispatcher.QueueSize < 0 || config.Dispatcher.Burst < 0 || config.Dispatcher.RequestsPerSecond < 0 {
		errs = append(errs, &ConfigurationError{Field: "dispatcher", Reason: "sizes and rates must not be negative"})
	}
	if config.Problems.PerBuild < 0 || config.Problems.Builds < 0 {
		errs = append(errs, &ConfigurationError{Field: "problems", Reason: "sizes must not be negative"})
	}
	if config.Secrets.Directory != "" && config.Secrets.Kubernetes != nil {
		errs = append(errs, &ConfigurationError{Field: "secrets", Reason: "only one of directory or kubernetes may be set"})
	}
	if config.Secrets.Kubernetes != nil && config.Secrets.Kubernetes.Namespace == "" {
		errs = append(errs, &ConfigurationError{Field: "secrets.kubernetes.namespace", Reason: "is required"})
	}

	if len(config.Features) == 0 {
		errs = append(errs, &ConfigurationError{Field: "features", Reason: "at least one feature is required"})
	}
	names := make(map[string]bool, len(config.Features))
	for i := range config.Features {
		feature := &config.Features[i]
		if names[feature.Name] {
			errs = append(errs, FeatureError(feature.Name, "name", "is not unique"))
		}
		names[feature.Name] = true
		errs = append(errs, ValidateFeature(feature)...)
	}

	if err := errors.Join(errs...); err != nil {
		return nil, err
	}
	return m, nil
}

func applyDefaults(config *v1alpha1.PublisherConfiguration) {
	if config.Server.Address == "" {
		config.Server.Address = DefaultAddress
	}
	if config.Server.MetricsAddress == "" {
		config.Server.MetricsAddress = DefaultMetricsAddress
	}
	if config.Server.MaxPayloadSize == "" {
		config.Server.MaxPayloadSize = DefaultMaxPayloadSize
	}
}

// ProviderType returns the provider block set on feature, and how many are set.
func ProviderType(feature *v1alpha1.PublisherFeature) (scms.ScmProviderType, int) {
	var found scms.ScmProviderType
	count := 0
	for provider, set := range map[scms.ScmProviderType]bool{
		scms.GitHub:          feature.GitHub != nil,
		scms.GitLab:          feature.GitLab != nil,
		scms.BitbucketCloud:  feature.BitbucketCloud != nil,
		scms.BitbucketServer: feature.BitbucketServer != nil,
		scms.AzureDevOps:     feature.AzureDevOps != nil,
		scms.Gitea:           feature.Gitea != nil,
		scms.Forgejo:         feature.Forgejo != nil,
		scms.Upsource:        feature.Upsource != nil,
		scms.Swarm:           feature.Swarm != nil,
		scms.Deveo:           feature.Deveo != nil,
		scms.Gerrit:          feature.Gerrit != nil,
		scms.Fake:            feature.Fake != nil,
	} {
		if set {
			found = provider
			count++
		}
	}
	return found, count
}

// ValidateFeature checks the fields a provider needs before any secret is read.
func ValidateFeature(feature *v1alpha1.PublisherFeature) []error {
	name := feature.Name
	var errs []error
	fail := func(field, format string, args ...any) {
		errs = append(errs, FeatureError(name, field, format, args...))
	}

	if name == "" {
		fail("name", "is required")
	}

	provider, count := ProviderType(feature)
	switch count {
	case 0:
		fail("", "no provider is configured")
		return errs
	case 1:
	default:
		fail("", "exactly one provider must be configured, found %d", count)
		return errs
	}

	switch provider {
	case scms.BitbucketServer, scms.Gitea, scms.Forgejo, scms.Swarm:
		if feature.ServerURL == "" {
			fail("serverURL", "is required for %s", provider)
		}
	case scms.Upsource:
		if feature.ServerURL == "" {
			fail("serverURL", "is required for %s", provider)
		}
		if feature.Upsource.Project == "" {
			fail("upsource.project", "is required")
		}
	case scms.Deveo:
		if feature.Deveo.SecretRef.Name == "" {
			fail("deveo.secretRef.name", "is required")
		}
	case scms.Gerrit:
		g := feature.Gerrit
		for field, value := range map[string]string{
			"gerrit.server":         g.Server,
			"gerrit.project":        g.Project,
			"gerrit.username":       g.Username,
			"gerrit.secretRef.name": g.SecretRef.Name,
		} {
			if value == "" {
				fail(field, "is required")
			}
		}
		if feature.Auth != nil {
			fail("auth", "gerrit authenticates with its ssh key")
		}
	}

	if provider != scms.Gerrit && provider != scms.Fake && provider != scms.Deveo && feature.Auth == nil {
		fail("auth", "credentials are required for %s", provider)
	}

	if feature.Timeout != "" {
		if d, err := time.ParseDuration(feature.Timeout); err != nil || d <= 0 {
			fail("timeout", "invalid duration %q", feature.Timeout)
		}
	}
	return errs
}

// GetConfiguration returns the validated configuration.
func (m *Manager) GetConfiguration() *v1alpha1.PublisherConfiguration {
	return m.config
}

// GetFeatures returns the configured features.
func (m *Manager) GetFeatures() []v1alpha1.PublisherFeature {
	return m.config.Features
}

// GetFeature returns the feature called name.
func (m *Manager) GetFeature(name string) (*v1alpha1.PublisherFeature, bool) {
	for i := range m.config.Features {
		if m.config.Features[i].Name == name {
			return &m.config.Features[i], true
		}
	}
	return nil, false
}

// GetDispatcherOptions returns the delivery pool options.
func (m *Manager) GetDispatcherOptions() dispatcher.Options {
	d := m.config.Dispatcher
	return dispatcher.Options{
		Workers:           d.Workers,
		QueueSize:         d.QueueSize,
		Timeout:           m.timeout,
		RequestsPerSecond: d.RequestsPerSecond,
		Burst:             d.Burst,
	}
}

// GetProblemsOptions returns the bounds of the build problem store.
func (m *Manager) GetProblemsOptions() problems.Options {
	return problems.Options{
		Limit:  m.config.Problems.PerBuild,
		Builds: m.config.Problems.Builds,
	}
}

// GetWebhookMaxPayloadSize returns the maximum allowed host event size.
func (m *Manager) GetWebhookMaxPayloadSize() resource.Quantity {
	return m.maxPayloadSize
}

// GetServerAddress returns the listen address of the event receiver.
func (m *Manager) GetServerAddress() string {
	return m.config.Server.Address
}

// GetMetricsAddress returns the listen address of the metrics endpoint, "0" when disabled.
func (m *Manager) GetMetricsAddress() string {
	return m.config.Server.MetricsAddress
}

// GetSecretsConfiguration returns where credentials are read from.
func (m *Manager) GetSecretsConfiguration() v1alpha1.SecretsConfiguration {
	return m.config.Secrets
}
