// Package secrets reads the credentials referenced by publisher features.
package secrets

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/client-go/rest"
	"k8s.io/client-go/tools/clientcmd"
	ctrl "sigs.k8s.io/controller-runtime"
	"sigs.k8s.io/controller-runtime/pkg/client"
	"sigs.k8s.io/controller-runtime/pkg/log"

	"github.com/argoproj-labs/commit-status-publisher/api/v1alpha1"
	"github.com/argoproj-labs/commit-status-publisher/internal/utils"
)

// ErrNotFound is returned for secrets that do not exist.
var ErrNotFound = errors.New("secret not found")

// Source looks up secrets by name.
type Source interface {
	Secret(ctx context.Context, name string) (*corev1.Secret, error)
}

// DirectorySource reads secrets from a directory holding one sub-directory per
// secret and one file per key, the layout of mounted secret volumes.
type DirectorySource struct {
	dir string
}

var _ Source = &DirectorySource{}

// NewDirectorySource creates a DirectorySource rooted at dir.
func NewDirectorySource(dir string) *DirectorySource {
	return &DirectorySource{dir: dir}
}

// Secret reads every regular file of the secret directory. Hidden entries, such
// as the ..data links of projected volumes, are skipped.
func (s *DirectorySource) Secret(ctx context.Context, name string) (*corev1.Secret, error) {
	if name == "" || name == "." || name == ".." || strings.ContainsAny(name, `/\`) {
		return nil, fmt.Errorf("invalid secret name %q", name)
	}

	path := filepath.Join(s.dir, name)
	entries, err := os.ReadDir(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: %q in %s", ErrNotFound, name, s.dir)
		}
		return nil, fmt.Errorf("failed to read secret %q: %w", name, err)
	}

	secret := &corev1.Secret{
		ObjectMeta: metav1.ObjectMeta{Name: name},
		Data:       make(map[string][]byte, len(entries)),
	}
	for _, entry := range entries {
		if strings.HasPrefix(entry.Name(), ".") || entry.IsDir() {
			continue
		}
		value, err := os.ReadFile(filepath.Join(path, entry.Name()))
		if err != nil {
			return nil, fmt.Errorf("failed to read key %q of secret %q: %w", entry.Name(), name, err)
		}
		secret.Data[entry.Name()] = value
	}

	log.FromContext(ctx).V(4).Info("Read secret from directory", "secret", name, "keys", len(secret.Data))
	return secret, nil
}

// KubernetesSource reads secrets of one namespace from the API server.
type KubernetesSource struct {
	reader    client.Reader
	namespace string
}

var _ Source = &KubernetesSource{}

// NewKubernetesSource creates a KubernetesSource.
func NewKubernetesSource(reader client.Reader, namespace string) *KubernetesSource {
	return &KubernetesSource{reader: reader, namespace: namespace}
}

// Secret gets the secret from the namespace.
func (s *KubernetesSource) Secret(ctx context.Context, name string) (*corev1.Secret, error) {
	var secret corev1.Secret
	if err := s.reader.Get(ctx, client.ObjectKey{Namespace: s.namespace, Name: name}, &secret); err != nil {
		if client.IgnoreNotFound(err) == nil {
			return nil, fmt.Errorf("%w: %s/%s", ErrNotFound, s.namespace, name)
		}
		return nil, fmt.Errorf("failed to get secret %s/%s: %w", s.namespace, name, err)
	}
	return &secret, nil
}

// NewSource builds the Source selected by cfg.
func NewSource(cfg v1alpha1.SecretsConfiguration) (Source, error) {
	switch {
	case cfg.Kubernetes != nil && cfg.Directory != "":
		return nil, errors.New("secrets must be read either from a directory or from kubernetes")
	case cfg.Kubernetes != nil:
		var restConfig *rest.Config
		var err error
		if cfg.Kubernetes.Kubeconfig != "" {
			restConfig, err = clientcmd.BuildConfigFromFlags("", cfg.Kubernetes.Kubeconfig)
		} else {
			restConfig, err = ctrl.GetConfig()
		}
		if err != nil {
			return nil, fmt.Errorf("failed to load kubernetes configuration: %w", err)
		}
		c, err := client.New(restConfig, client.Options{Scheme: utils.GetScheme()})
		if err != nil {
			return nil, fmt.Errorf("failed to create kubernetes client: %w", err)
		}
		return NewKubernetesSource(c, cfg.Kubernetes.Namespace), nil
	case cfg.Directory != "":
		return NewDirectorySource(cfg.Directory), nil
	default:
		return Empty{}, nil
	}
}

// Empty is a Source without secrets, used when no features need credentials.
type Empty struct{}

// Secret always fails with ErrNotFound.
func (Empty) Secret(_ context.Context, name string) (*corev1.Secret, error) {
	return nil, fmt.Errorf("%w: %q, no secret source is configured", ErrNotFound, name)
}

// Value returns a required key of secret.
func Value(secret *corev1.Secret, key string) ([]byte, error) {
	value, ok := secret.Data[key]
	if !ok || len(value) == 0 {
		return nil, fmt.Errorf("key %q not found in secret %q", key, secret.Name)
	}
	return value, nil
}
