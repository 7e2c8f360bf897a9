package main

import (
	"fmt"
	"slices"
	"strings"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/argoproj-labs/commit-status-publisher/internal/repository"
)

type parsedRepository struct {
	Owner  string `yaml:"owner"`
	Name   string `yaml:"name"`
	URL    string `yaml:"url"`
	Server string `yaml:"server,omitempty"`
}

func newParseURLCommand() *cobra.Command {
	var grammarName string
	var kind string
	var output string

	cmd := &cobra.Command{
		Use:   "parse-url URL",
		Short: "Show the repository a VCS root fetch URL resolves to",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			grammar, ok := repository.Grammars[grammarName]
			if !ok {
				names := make([]string, 0, len(repository.Grammars))
				for name := range repository.Grammars {
					names = append(names, name)
				}
				slices.Sort(names)
				return fmt.Errorf("unknown grammar %q, expected one of %s", grammarName, strings.Join(names, ", "))
			}

			repo, err := repository.Parse(cmd.Context(), repository.VcsKind(kind), args[0], grammar)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			switch output {
			case "yaml":
				data, err := yaml.Marshal(parsedRepository{Owner: repo.Owner, Name: repo.Name, URL: repo.URL, Server: repo.Server})
				if err != nil {
					return fmt.Errorf("failed to encode repository: %w", err)
				}
				_, err = out.Write(data)
				return err
			case "text":
				_, err := fmt.Fprintf(out, "%s\t%s\n", repo, repo.URL)
				return err
			default:
				return fmt.Errorf("unknown output format %q", output)
			}
		},
	}
	cmd.Flags().StringVar(&grammarName, "grammar", repository.Generic.Name, "URL grammar of the hosting service")
	cmd.Flags().StringVar(&kind, "kind", string(repository.Git), "VCS kind of the URL")
	cmd.Flags().StringVarP(&output, "output", "o", "text", "Output format: text or yaml")
	return cmd
}
