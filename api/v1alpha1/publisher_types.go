/*
Copyright 2024.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package v1alpha1

// PublisherConfiguration is the top level configuration file of the commit status publisher.
type PublisherConfiguration struct {
	// Server configures the host event receiver.
	// +optional
	Server ServerConfiguration `json:"server,omitempty"`

	// Dispatcher configures the background delivery pool shared by every feature.
	// +optional
	Dispatcher DispatcherConfiguration `json:"dispatcher,omitempty"`

	// Problems bounds the in-memory store of build problems.
	// +optional
	Problems ProblemsConfiguration `json:"problems,omitempty"`

	// Secrets configures where credentials referenced by features are read from.
	// +optional
	Secrets SecretsConfiguration `json:"secrets,omitempty"`

	// Features are the configured publishers. A host event is fanned out to every matching feature.
	// +required
	Features []PublisherFeature `json:"features"`
}

// ServerConfiguration configures the HTTP listeners.
type ServerConfiguration struct {
	// Address the host event receiver binds to.
	// +kubebuilder:default=":3333"
	// +optional
	Address string `json:"address,omitempty"`

	// MetricsAddress the Prometheus endpoint binds to. "0" disables it.
	// +kubebuilder:default=":9080"
	// +optional
	MetricsAddress string `json:"metricsAddress,omitempty"`

	// MaxPayloadSize limits the size of an inbound host event, as a quantity (e.g. "1Mi").
	// +kubebuilder:default="1Mi"
	// +optional
	MaxPayloadSize string `json:"maxPayloadSize,omitempty"`
}

// DispatcherConfiguration configures the asynchronous delivery pool.
type DispatcherConfiguration struct {
	// Workers is the number of concurrent deliveries.
	// +kubebuilder:default=4
	// +optional
	Workers int `json:"workers,omitempty"`

	// QueueSize bounds the number of deliveries waiting for a worker.
	// +kubebuilder:default=256
	// +optional
	QueueSize int `json:"queueSize,omitempty"`

	// Timeout is the default per-request timeout, as a Go duration.
	// +kubebuilder:default="30s"
	// +optional
	Timeout string `json:"timeout,omitempty"`

	// RequestsPerSecond throttles deliveries per remote host. Zero means unlimited.
	// +optional
	RequestsPerSecond float64 `json:"requestsPerSecond,omitempty"`

	// Burst is the token bucket size used with RequestsPerSecond.
	// +optional
	Burst int `json:"burst,omitempty"`
}

// ProblemsConfiguration bounds the build problems kept in memory.
type ProblemsConfiguration struct {
	// PerBuild is the number of problems kept for each build.
	// +kubebuilder:default=50
	// +optional
	PerBuild int `json:"perBuild,omitempty"`

	// Builds is the number of builds whose problems are kept. The least
	// recently recorded build is dropped first.
	// +kubebuilder:default=1024
	// +optional
	Builds int `json:"builds,omitempty"`
}

// SecretsConfiguration selects the credential source.
//
// Exactly one of Directory or Kubernetes should be set.
type SecretsConfiguration struct {
	// Directory holds one sub-directory per secret, one file per key
	// (the layout of a mounted Kubernetes secret volume).
	// +optional
	Directory string `json:"directory,omitempty"`

	// Kubernetes reads secrets from the API server.
	// +optional
	Kubernetes *KubernetesSecrets `json:"kubernetes,omitempty"`
}

// KubernetesSecrets configures reading secrets from a cluster.
type KubernetesSecrets struct {
	// Namespace the secrets live in.
	// +required
	Namespace string `json:"namespace"`

	// Kubeconfig is an optional path to a kubeconfig file. In-cluster configuration is used when empty.
	// +optional
	Kubeconfig string `json:"kubeconfig,omitempty"`
}

// PublisherFeature is one configured commit status publisher.
//
// Exactly one provider block must be set.
type PublisherFeature struct {
	// Name identifies the feature in logs, metrics and the test endpoint.
	// +required
	Name string `json:"name"`

	// ServerURL is the base API URL of the hosting service.
	// Defaults to the public endpoint of the provider when it has one.
	// +optional
	ServerURL string `json:"serverURL,omitempty"`

	// BuildTypes restricts the feature to these build configuration IDs. Empty matches all.
	// +optional
	BuildTypes []string `json:"buildTypes,omitempty"`

	// VcsRoots restricts the feature to these VCS root IDs. Empty matches all.
	// +optional
	VcsRoots []string `json:"vcsRoots,omitempty"`

	// Condition is an expression evaluated against the build event. The status is
	// only published when it evaluates to true.
	// +optional
	Condition string `json:"condition,omitempty"`

	// Context is a template for the status name/key shown by the hosting service.
	// +optional
	Context string `json:"context,omitempty"`

	// Description is a template for the status description.
	// +optional
	Description string `json:"description,omitempty"`

	// Timeout overrides the dispatcher timeout for this feature, as a Go duration.
	// +optional
	Timeout string `json:"timeout,omitempty"`

	// Auth configures the credentials sent with every request.
	// +optional
	Auth *HttpAuthentication `json:"auth,omitempty"`

	// +optional
	GitHub *GitHubPublisher `json:"github,omitempty"`
	// +optional
	GitLab *GitLabPublisher `json:"gitlab,omitempty"`
	// +optional
	BitbucketCloud *BitbucketCloudPublisher `json:"bitbucketCloud,omitempty"`
	// +optional
	BitbucketServer *BitbucketServerPublisher `json:"bitbucketServer,omitempty"`
	// +optional
	AzureDevOps *AzureDevOpsPublisher `json:"azureDevOps,omitempty"`
	// +optional
	Gitea *GiteaPublisher `json:"gitea,omitempty"`
	// +optional
	Forgejo *ForgejoPublisher `json:"forgejo,omitempty"`
	// +optional
	Upsource *UpsourcePublisher `json:"upsource,omitempty"`
	// +optional
	Swarm *SwarmPublisher `json:"swarm,omitempty"`
	// +optional
	Deveo *DeveoPublisher `json:"deveo,omitempty"`
	// +optional
	Gerrit *GerritPublisher `json:"gerrit,omitempty"`
	// +optional
	Fake *FakePublisher `json:"fake,omitempty"`
}

// GitHubPublisher publishes through the GitHub commit status API.
type GitHubPublisher struct{}

// GitLabPublisher publishes through the GitLab commit status API.
type GitLabPublisher struct{}

// BitbucketCloudPublisher publishes build statuses to bitbucket.org.
type BitbucketCloudPublisher struct{}

// BitbucketServerPublisher publishes through the Bitbucket Server build-status API.
type BitbucketServerPublisher struct{}

// AzureDevOpsPublisher publishes Git commit statuses to Azure DevOps Services or TFS.
type AzureDevOpsPublisher struct {
	// Genre is the status context genre. Defaults to "teamcity".
	// +optional
	Genre string `json:"genre,omitempty"`
}

// GiteaPublisher publishes through the Gitea commit status API.
type GiteaPublisher struct{}

// ForgejoPublisher publishes through the Forgejo commit status API.
type ForgejoPublisher struct{}

// UpsourcePublisher publishes build statuses to JetBrains Upsource.
type UpsourcePublisher struct {
	// Project is the Upsource project ID.
	// +required
	Project string `json:"project"`
}

// SwarmPublisher posts build comments to Perforce Helix Swarm reviews.
type SwarmPublisher struct{}

// DeveoPublisher publishes build events to Deveo.
type DeveoPublisher struct {
	// SecretRef references a secret with the keys "pluginKey", "companyKey" and "accountKey".
	// +required
	SecretRef SecretReference `json:"secretRef"`
}

// GerritPublisher votes on Gerrit changes through the SSH command interface.
type GerritPublisher struct {
	// Server is the Gerrit SSH address (host or host:port). Port defaults to 29418.
	// +required
	Server string `json:"server"`

	// Project is the Gerrit project name.
	// +required
	Project string `json:"project"`

	// Label is the review label voted on. Defaults to Verified.
	// +optional
	Label string `json:"label,omitempty"`

	// SuccessVote is the vote cast for successful builds. Defaults to +1.
	// +optional
	SuccessVote string `json:"successVote,omitempty"`

	// FailureVote is the vote cast for failed builds. Defaults to -1.
	// +optional
	FailureVote string `json:"failureVote,omitempty"`

	// Username is the SSH user.
	// +required
	Username string `json:"username"`

	// SecretRef references a secret with the key "sshPrivateKey" and optionally "passphrase".
	// +required
	SecretRef SecretReference `json:"secretRef"`

	// KnownHostsFile verifies the server host key. Host keys are not verified when empty.
	// +optional
	KnownHostsFile string `json:"knownHostsFile,omitempty"`
}

// FakePublisher records statuses in memory. Used by tests.
type FakePublisher struct{}
