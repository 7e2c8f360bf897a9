package repository

import "regexp"

// Generic splits the path after the host into owner and name. GitHub, GitLab,
// Gitea, Forgejo and most self-hosted services use it.
var Generic = Grammar{Name: "generic"}

// BitbucketCloud is the bitbucket.org convention. Workspaces and slugs are
// case-insensitive, so they are folded to lower case.
var BitbucketCloud = Grammar{Name: "bitbucket-cloud", LowerCase: true}

// BitbucketServer is the Bitbucket Server / Data Center convention, where HTTP
// clone URLs live under /scm.
var BitbucketServer = Grammar{Name: "bitbucket-server", PathPrefix: "/scm"}

// Deveo matches /projects/{project}/repositories/{vcs}/{repository}, optionally
// below a company path.
var Deveo = Grammar{
	Name: "deveo",
	Rules: []Rule{{
		Path: regexp.MustCompile(`^(?P<base>(?:/[^/]+)*?)/projects/(?P<owner>[^/]+)/repositories/(?:git|mercurial|subversion)/(?P<name>[^/]+?)/?$`),
		URL: func(server, owner, name string) string {
			return server + "/projects/" + owner + "/repositories/git/" + name
		},
	}},
}

func azureGitURL(server, owner, name string) string {
	return server + "/" + owner + "/_git/" + name
}

// AzureDevOps covers Azure DevOps Services, the legacy visualstudio.com hosts
// and on-premises Team Foundation Server collections. Owner is the project and
// Server is the organization or collection URL.
var AzureDevOps = Grammar{
	Name: "azure-devops",
	Rules: []Rule{
		{
			Host:          regexp.MustCompile(`^ssh\.dev\.azure\.com$`),
			CanonicalHost: "dev.azure.com",
			Path:          regexp.MustCompile(`^/v3/(?P<base>[^/]+)/(?P<owner>[^/]+)/(?P<name>[^/]+?)/?$`),
			URL:           azureGitURL,
		},
		{
			Host: regexp.MustCompile(`^dev\.azure\.com$`),
			Path: regexp.MustCompile(`^/(?P<base>[^/]+)/(?:(?P<owner>[^/]+)/)?_git/(?P<name>[^/]+?)/?$`),
			URL:  azureGitURL,
		},
		{
			Host: regexp.MustCompile(`(?i)\.visualstudio\.com$`),
			Path: regexp.MustCompile(`^(?P<base>/DefaultCollection)?/(?:(?P<owner>[^/]+)/)?_git/(?P<name>[^/]+?)/?$`),
			URL:  azureGitURL,
		},
		{
			Path: regexp.MustCompile(`(?i)^(?P<base>(?:/[^/]+)*?/tfs/[^/]+)/(?:(?P<owner>[^/]+)/)?_git/(?P<name>[^/]+?)/?$`),
			URL:  azureGitURL,
		},
		{
			Path: regexp.MustCompile(`^(?P<base>/[^/]+)/(?P<owner>[^/]+)/_git/(?P<name>[^/]+?)/?$`),
			URL:  azureGitURL,
		},
	},
}

// Grammars are the known grammars by name.
var Grammars = map[string]Grammar{
	Generic.Name:         Generic,
	BitbucketCloud.Name:  BitbucketCloud,
	BitbucketServer.Name: BitbucketServer,
	Deveo.Name:           Deveo,
	AzureDevOps.Name:     AzureDevOps,
}
