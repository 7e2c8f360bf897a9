package scms

// ScmProviderType identifies a hosting service dialect.
type ScmProviderType string

const (
	Fake            ScmProviderType = "fake"
	GitHub          ScmProviderType = "github"
	GitLab          ScmProviderType = "gitlab"
	BitbucketCloud  ScmProviderType = "bitbucket-cloud"
	BitbucketServer ScmProviderType = "bitbucket-server"
	AzureDevOps     ScmProviderType = "azure-devops"
	Gitea           ScmProviderType = "gitea"
	Forgejo         ScmProviderType = "forgejo"
	Upsource        ScmProviderType = "upsource"
	Swarm           ScmProviderType = "swarm"
	Deveo           ScmProviderType = "deveo"
	Gerrit          ScmProviderType = "gerrit"
)
