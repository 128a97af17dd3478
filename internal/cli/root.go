package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	buildVersion = "dev"
	buildCommit  = "unknown"
	buildDate    = "unknown"
)

var rootCmd = &cobra.Command{
	Use:   "repoport",
	Short: "Import external repository metadata into a project",
	Long: `RepoPort imports a source repository's metadata into a target project:
issues, pull requests, comments, labels, milestones, branch protections,
release notes, collaborators and LFS pointers.

Runs are resumable: pagination cursors and already-imported sets persist in
the cache, so a rerun after a crash or rate-limit abort picks up where the
previous run stopped.

Examples:
	# Show available commands and global flags
	repoport --help

	# Import a repository into project 42
	repoport import --repo octocat/hello --project-id 42 --creator-id 7

	# Print build info
	repoport version

Output:
	By default, commands write human-readable progress to stdout. The import
	command can emit machine-readable NDJSON instead (see --console-format).`,
}

func init() {
	rootCmd.PersistentFlags().BoolVar(&cfg.Runtime.Verbose, "verbose", false, "Enable verbose logging (prints every source API call and full error details)")
}

func SetBuildInfo(version, commit, date string) {
	if version != "" {
		buildVersion = version
	}
	if commit != "" {
		buildCommit = commit
	}
	if date != "" {
		buildDate = date
	}

	rootCmd.Version = fmt.Sprintf("%s (%s) %s", buildVersion, buildCommit, buildDate)
	rootCmd.SetVersionTemplate("{{.Version}}\n")
}

func BuildInfo() (version, commit, date string) {
	return buildVersion, buildCommit, buildDate
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
