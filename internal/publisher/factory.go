package publisher

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/argoproj-labs/commit-status-publisher/api/v1alpha1"
	"github.com/argoproj-labs/commit-status-publisher/internal/payload"
	"github.com/argoproj-labs/commit-status-publisher/internal/problems"
	"github.com/argoproj-labs/commit-status-publisher/internal/scms"
	"github.com/argoproj-labs/commit-status-publisher/internal/scms/azuredevops"
	"github.com/argoproj-labs/commit-status-publisher/internal/scms/bitbucket"
	"github.com/argoproj-labs/commit-status-publisher/internal/scms/bitbucket_cloud"
	"github.com/argoproj-labs/commit-status-publisher/internal/scms/deveo"
	"github.com/argoproj-labs/commit-status-publisher/internal/scms/fake"
	"github.com/argoproj-labs/commit-status-publisher/internal/scms/forgejo"
	"github.com/argoproj-labs/commit-status-publisher/internal/scms/gerrit"
	"github.com/argoproj-labs/commit-status-publisher/internal/scms/gitea"
	githubscm "github.com/argoproj-labs/commit-status-publisher/internal/scms/github"
	"github.com/argoproj-labs/commit-status-publisher/internal/scms/gitlab"
	"github.com/argoproj-labs/commit-status-publisher/internal/scms/swarm"
	"github.com/argoproj-labs/commit-status-publisher/internal/scms/upsource"
	"github.com/argoproj-labs/commit-status-publisher/internal/secrets"
	"github.com/argoproj-labs/commit-status-publisher/internal/settings"
	"github.com/argoproj-labs/commit-status-publisher/internal/utils/httpauth"
)

// Secret keys read by the providers that do not authenticate over HTTP.
const (
	DeveoPluginKey      = "pluginKey"
	DeveoCompanyKey     = "companyKey"
	DeveoAccountKey     = "accountKey"
	GerritPrivateKeyKey = "sshPrivateKey"
	GerritPassphraseKey = "passphrase"
)

// NewFeature builds a Feature from its configuration, reading credentials from
// src. rec receives the statuses of fake features and may be nil otherwise.
// Every error is a *settings.ConfigurationError.
func NewFeature(ctx context.Context, cfg v1alpha1.PublisherFeature, src secrets.Source, rec *fake.Recorder) (Feature, error) {
	fail := func(field string, err error) (Feature, error) {
		var cfgErr *settings.ConfigurationError
		if errors.As(err, &cfgErr) {
			return Feature{}, err
		}
		return Feature{}, &settings.ConfigurationError{Feature: cfg.Name, Field: field, Reason: err.Error()}
	}

	if errs := settings.ValidateFeature(&cfg); len(errs) > 0 {
		return Feature{}, errs[0]
	}

	dialect, err := newDialect(ctx, cfg, src, rec)
	if err != nil {
		return fail("", err)
	}

	feature := Feature{
		Name:        cfg.Name,
		Dialect:     dialect,
		Context:     cfg.Context,
		Description: cfg.Description,
		BuildTypes:  cfg.BuildTypes,
		VcsRoots:    cfg.VcsRoots,
	}

	if cfg.Timeout != "" {
		feature.Timeout, err = time.ParseDuration(cfg.Timeout)
		if err != nil {
			return fail("timeout", err)
		}
	}
	if cfg.Condition != "" {
		feature.Condition, err = CompileCondition(cfg.Condition)
		if err != nil {
			return fail("condition", err)
		}
	}
	for field, tmpl := range map[string]string{"context": cfg.Context, "description": cfg.Description} {
		if tmpl == "" {
			continue
		}
		if _, err := payload.Render(tmpl, TemplateData{}); err != nil {
			return fail(field, err)
		}
	}

	feature.Auth, feature.Client, err = httpauth.New(ctx, cfg.Auth, src, cfg.ServerURL)
	if err != nil {
		return fail("auth", err)
	}
	return feature, nil
}

func newDialect(ctx context.Context, cfg v1alpha1.PublisherFeature, src secrets.Source, rec *fake.Recorder) (scms.Dialect, error) {
	provider, _ := settings.ProviderType(&cfg)
	switch provider {
	case scms.GitHub:
		return githubscm.NewDialect(cfg.ServerURL), nil
	case scms.GitLab:
		return gitlab.NewDialect(cfg.ServerURL), nil
	case scms.BitbucketCloud:
		return bitbucket_cloud.NewDialect(cfg.ServerURL), nil
	case scms.BitbucketServer:
		return bitbucket.NewDialect(cfg.ServerURL), nil
	case scms.AzureDevOps:
		return azuredevops.NewDialect(cfg.ServerURL, cfg.AzureDevOps.Genre), nil
	case scms.Gitea:
		return gitea.NewDialect(cfg.ServerURL), nil
	case scms.Forgejo:
		return forgejo.NewDialect(cfg.ServerURL), nil
	case scms.Upsource:
		return upsource.NewDialect(cfg.ServerURL, cfg.Upsource.Project), nil
	case scms.Swarm:
		return swarm.NewDialect(cfg.ServerURL), nil
	case scms.Deveo:
		secret, err := src.Secret(ctx, cfg.Deveo.SecretRef.Name)
		if err != nil {
			return scms.Dialect{}, fmt.Errorf("failed to get deveo secret %q: %w", cfg.Deveo.SecretRef.Name, err)
		}
		var keys deveo.Keys
		for key, target := range map[string]*string{
			DeveoPluginKey:  &keys.PluginKey,
			DeveoCompanyKey: &keys.CompanyKey,
			DeveoAccountKey: &keys.AccountKey,
		} {
			value, err := secrets.Value(secret, key)
			if err != nil {
				return scms.Dialect{}, err
			}
			*target = string(value)
		}
		if err := keys.Validate(); err != nil {
			return scms.Dialect{}, settings.FeatureError(cfg.Name, "deveo.secretRef.name", "secret %q: %v", cfg.Deveo.SecretRef.Name, err)
		}
		return deveo.NewDialect(cfg.ServerURL, keys), nil
	case scms.Gerrit:
		g := cfg.Gerrit
		secret, err := src.Secret(ctx, g.SecretRef.Name)
		if err != nil {
			return scms.Dialect{}, fmt.Errorf("failed to get gerrit secret %q: %w", g.SecretRef.Name, err)
		}
		key, err := secrets.Value(secret, GerritPrivateKeyKey)
		if err != nil {
			return scms.Dialect{}, err
		}
		runner, err := gerrit.NewSSHRunner(g.Server, g.Username, key, secret.Data[GerritPassphraseKey], g.KnownHostsFile)
		if err != nil {
			return scms.Dialect{}, err
		}
		return gerrit.NewDialect(runner, gerrit.Options{
			Project:     g.Project,
			Label:       g.Label,
			SuccessVote: g.SuccessVote,
			FailureVote: g.FailureVote,
		}), nil
	case scms.Fake:
		if rec == nil {
			rec = fake.NewRecorder()
		}
		return fake.NewDialect(rec), nil
	default:
		return scms.Dialect{}, fmt.Errorf("unsupported provider %q", provider)
	}
}

// NewPublishers builds a Publisher for every configured feature. Features that
// cannot be built are reported together.
func NewPublishers(ctx context.Context, features []v1alpha1.PublisherFeature, src secrets.Source, d Dispatcher, recorder problems.Recorder, rec *fake.Recorder) ([]*Publisher, error) {
	var publishers []*Publisher
	var errs []error
	for _, cfg := range features {
		feature, err := NewFeature(ctx, cfg, src, rec)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		p, err := New(feature, d, recorder)
		if err != nil {
			errs = append(errs, &settings.ConfigurationError{Feature: cfg.Name, Reason: err.Error()})
			continue
		}
		publishers = append(publishers, p)
	}
	if err := errors.Join(errs...); err != nil {
		return nil, err
	}
	return publishers, nil
}
