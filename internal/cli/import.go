package cli

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "github.com/lib/pq"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"repoport/internal/attachments"
	"repoport/internal/cache"
	"repoport/internal/config"
	"repoport/internal/flags"
	gh "repoport/internal/github"
	"repoport/internal/importer"
	"repoport/internal/lfs"
	"repoport/internal/output"
	"repoport/internal/queue"
	"repoport/internal/store"
	"repoport/internal/user"
)

var cfg = config.New()

var configPath string

const importHelpTemplate = `{{with (or .Long .Short)}}{{. | trimTrailingWhitespaces}}

{{end}}Usage:
  {{.UseLine}}

{{if .HasAvailableLocalFlags}}Flags:
{{.LocalFlags.FlagUsages | trimTrailingWhitespaces}}

{{end}}{{if .HasAvailableInheritedFlags}}Global Flags:
{{.InheritedFlags.FlagUsages | trimTrailingWhitespaces}}

{{end}}Environment:
	RepoPort authenticates to the source API using an access token.

	Sources (in order):
	1) GITHUB_TOKEN environment variable
	2) GitHub CLI (gh) authentication via gh auth token (if gh is installed and logged in)

	Every flag can also be set through a REPOPORT_* environment variable,
	for example REPOPORT_RUNTIME_WORKERS=10 or REPOPORT_TARGET_POSTGRES_DSN.
	Precedence: flags > environment > config file > defaults.

  Examples:
    # macOS/Linux
    export GITHUB_TOKEN="<your_token>"
    repoport import --repo octocat/hello --project-id 42 --creator-id 7

    # GitHub CLI auth
    gh auth login
    repoport import --repo octocat/hello --project-id 42 --creator-id 7

{{if .HasAvailableSubCommands}}Available Commands:
{{range .Commands}}{{if (or .IsAvailableCommand (eq .Name "help"))}}
  {{rpad .Name .NamePadding }} {{.Short}}{{end}}{{end}}

{{end}}{{if .HasHelpSubCommands}}Additional help topics:
{{range .Commands}}{{if .IsAdditionalHelpTopicCommand}}
  {{rpad .Name .NamePadding }} {{.Short}}{{end}}{{end}}

{{end}}{{if .HasAvailableSubCommands}}Use "{{.CommandPath}} [command] --help" for more information about a command.
{{end}}`

var importCmd = &cobra.Command{
	Use:   "import",
	Short: "Import a source repository into a target project",
	Long: `Import a source repository's metadata into a target project.

The run walks object kinds in dependency order: labels, milestones,
collaborators and branch protections first, then issues and pull requests,
then comments and review comments, then timeline events, and finally release
notes and LFS pointers. Kinds within one phase import concurrently.

State:
	Pagination cursors and already-imported sets live in the cache (--redis,
	or in process without it). An interrupted run resumes from them; they are
	cleared only after a fully successful run.

Storage:
	Imported objects are written to Postgres (--postgres). Without a DSN the
	run uses an in-memory store, which is only useful for dry runs.

Attachments:
	With --uploads-dir and --target-base set, attachment links in issue, pull
	request, comment and release bodies are downloaded and rewritten to point
	at the target instance.

Exit codes:
	0 = clean run, everything imported
	1 = run finished but some objects failed
	2 = run aborted partway (rerun resumes from the persisted cursors)
	3 = fatal error (import did not start)

Examples:
  # Minimal import into an in-memory store
  repoport import --repo octocat/hello --project-id 42 --creator-id 7

  # Production shape: Postgres, Redis, parallel workers, attachments
  repoport import --repo octocat/hello --project-id 42 --creator-id 7 \
    --postgres "postgres://importer@db/meta?sslmode=disable" \
    --redis localhost:6379 --parallel --workers 10 \
    --uploads-dir /var/opt/uploads --target-base https://code.example.com/acme/hello

	# AI Agent: stream machine-readable events to stdout
	repoport import --repo octocat/hello --project-id 42 --creator-id 7 --console-format ndjson
`,
	Run: func(cmd *cobra.Command, args []string) {
		if len(args) == 0 && cmd.Flags().NFlag() == 0 {
			_ = cmd.Help()
			return
		}
		os.Exit(runImport(cmd))
	},
}

func runImport(cmd *cobra.Command) int {
	merged, err := config.Load(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 3
	}
	applyFlagOverrides(cmd, merged)

	if err := merged.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 3
	}

	log := logrus.New()
	log.SetOutput(os.Stderr)
	if merged.Runtime.Verbose {
		log.SetLevel(logrus.DebugLevel)
	}

	ctx, cancel := context.WithTimeout(context.Background(), merged.Runtime.Timeout)
	defer cancel()

	token, err := gh.ResolveToken(ctx, merged.Source.Token)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: failed to resolve source auth token: %v\n", err)
		return 3
	}
	if strings.TrimSpace(token) == "" {
		fmt.Fprintln(os.Stderr, "Error: source auth token is required (set GITHUB_TOKEN or run 'gh auth login')")
		return 3
	}

	clientOpts := []gh.Option{gh.WithVerbose(merged.Runtime.Verbose, os.Stderr)}
	if merged.Source.BaseURL != "" {
		clientOpts = append(clientOpts, gh.WithBaseURL(merged.Source.BaseURL))
	}
	client, err := gh.NewClient(ctx, token, merged.Owner(), merged.Repo(), clientOpts...)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: failed to create source client: %v\n", err)
		return 3
	}

	ks, err := openKeyspace(merged)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 3
	}

	st, err := openStore(ctx, merged, log)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 3
	}

	rewriter, err := buildRewriter(merged, client, log)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 3
	}

	// Identity lookups by external id only make sense against github.com;
	// an enterprise instance has its own id namespace.
	finder, err := user.NewFinder(user.FinderConfig{
		ProjectID:        merged.Target.ProjectID,
		CreatorID:        merged.Target.CreatorID,
		GhostUserID:      merged.Target.GhostUserID,
		AllowIDLookup:    !merged.Enterprise(),
		AllowEmailLookup: true,
	}, st, ks, client, log)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 3
	}

	registry := prometheus.NewRegistry()
	metrics := importer.NewMetrics(registry)
	if merged.Output.MetricsAddr != "" {
		serveMetrics(merged.Output.MetricsAddr, registry, log)
	}

	project := importer.Project{
		ID:          merged.Target.ProjectID,
		NamespaceID: merged.Target.NamespaceID,
		CreatorID:   merged.Target.CreatorID,
		GhostUserID: merged.Target.GhostUserID,
		RunID:       uuid.NewString(),
	}

	exec, err := importer.NewExecutor(importer.ExecutorConfig{
		Project:  project,
		Store:    st,
		Keyspace: ks,
		Finder:   finder,
		Rewriter: rewriter,
		Log:      log,
		Metrics:  metrics,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 3
	}

	var jobQueue queue.Queue
	if merged.Runtime.Parallel {
		pool, err := queue.NewPool(merged.Runtime.Workers, merged.Runtime.Workers*4, importer.Handler(exec), log)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			return 3
		}
		pool.Start(ctx)
		defer pool.Close()
		jobQueue = pool
	}

	console := output.NewConsole(os.Stdout, merged.Output.ConsoleFormat)

	var lfsEnum importer.LfsEnumerator
	if merged.Source.CloneDir != "" {
		scanner, err := lfs.NewScanner(merged.Source.CloneDir, log)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			return 3
		}
		lfsEnum = scanner
	}

	runner, err := importer.NewRunner(importer.RunnerConfig{
		Project:     project,
		Source:      client,
		Lfs:         lfsEnum,
		Store:       st,
		Keyspace:    ks,
		Executor:    exec,
		Queue:       jobQueue,
		Stagger:     merged.Runtime.Stagger,
		WaitTimeout: merged.Runtime.WaitTimeout,
		Log:         log,
		Metrics:     metrics,
		Progress:    console,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 3
	}

	if err := console.RunStarted(merged.Source.Repository, project.ID, project.RunID); err != nil {
		log.WithError(err).Warn("progress sink rejected event")
	}

	summary, runErr := runner.Run(ctx)

	code := 0
	switch {
	case runErr != nil:
		log.WithError(runErr).Error("import aborted")
		code = 2
	default:
		for _, counts := range summary {
			if counts.Failed > 0 {
				code = 1
				break
			}
		}
	}

	if err := console.RunFinished(summary, code); err != nil {
		log.WithError(err).Warn("progress sink rejected event")
	}
	return code
}

func openKeyspace(merged *config.Config) (cache.Keyspace, error) {
	if merged.Cache.RedisAddr == "" {
		return cache.NewMemory(), nil
	}
	client := redis.NewClient(&redis.Options{Addr: merged.Cache.RedisAddr})
	return cache.NewRedis(client, merged.Cache.Prefix)
}

func openStore(ctx context.Context, merged *config.Config, log logrus.FieldLogger) (store.Store, error) {
	if merged.Target.PostgresDSN == "" {
		log.Warn("no --postgres DSN given, importing into an in-memory store")
		return store.NewMemory(), nil
	}
	db, err := sql.Open("postgres", merged.Target.PostgresDSN)
	if err != nil {
		return nil, fmt.Errorf("open datastore: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("connect datastore: %w", err)
	}
	return store.NewPostgres(db)
}

func buildRewriter(merged *config.Config, client *gh.Client, log logrus.FieldLogger) (*attachments.Rewriter, error) {
	if merged.Target.UploadsDir == "" {
		return nil, nil
	}
	uploader, err := attachments.NewDiskUploader(merged.Target.UploadsDir, merged.Target.BaseURL)
	if err != nil {
		return nil, err
	}
	// Attachment downloads ride the authenticated client so private
	// user-attachment URLs resolve.
	fetcher := attachments.NewFetcher(client.HTTP)
	return attachments.NewRewriter(merged.Owner(), merged.Repo(), merged.Target.BaseURL, fetcher, uploader, log)
}

func serveMetrics(addr string, registry *prometheus.Registry, log logrus.FieldLogger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
	server := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 10 * time.Second}
	go func() {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.WithError(err).Warn("metrics endpoint stopped")
		}
	}()
}

// applyFlagOverrides copies every flag the user set on the command line
// over the file- and environment-derived config, keeping flag precedence.
func applyFlagOverrides(cmd *cobra.Command, dst *config.Config) {
	overrides := map[string]func(){
		flags.FlagRepo:          func() { dst.Source.Repository = cfg.Source.Repository },
		flags.FlagSourceBase:    func() { dst.Source.BaseURL = cfg.Source.BaseURL },
		flags.FlagCloneDir:      func() { dst.Source.CloneDir = cfg.Source.CloneDir },
		flags.FlagProjectID:     func() { dst.Target.ProjectID = cfg.Target.ProjectID },
		flags.FlagNamespaceID:   func() { dst.Target.NamespaceID = cfg.Target.NamespaceID },
		flags.FlagCreatorID:     func() { dst.Target.CreatorID = cfg.Target.CreatorID },
		flags.FlagGhostUserID:   func() { dst.Target.GhostUserID = cfg.Target.GhostUserID },
		flags.FlagPostgres:      func() { dst.Target.PostgresDSN = cfg.Target.PostgresDSN },
		flags.FlagUploadsDir:    func() { dst.Target.UploadsDir = cfg.Target.UploadsDir },
		flags.FlagTargetBase:    func() { dst.Target.BaseURL = cfg.Target.BaseURL },
		flags.FlagRedis:         func() { dst.Cache.RedisAddr = cfg.Cache.RedisAddr },
		flags.FlagCachePrefix:   func() { dst.Cache.Prefix = cfg.Cache.Prefix },
		flags.FlagParallel:      func() { dst.Runtime.Parallel = cfg.Runtime.Parallel },
		flags.FlagWorkers:       func() { dst.Runtime.Workers = cfg.Runtime.Workers },
		flags.FlagStagger:       func() { dst.Runtime.Stagger = cfg.Runtime.Stagger },
		flags.FlagWaitTimeout:   func() { dst.Runtime.WaitTimeout = cfg.Runtime.WaitTimeout },
		flags.FlagTimeout:       func() { dst.Runtime.Timeout = cfg.Runtime.Timeout },
		flags.FlagConsoleFormat: func() { dst.Output.ConsoleFormat = cfg.Output.ConsoleFormat },
		flags.FlagMetricsAddr:   func() { dst.Output.MetricsAddr = cfg.Output.MetricsAddr },
	}
	for name, apply := range overrides {
		if cmd.Flags().Changed(name) {
			apply()
		}
	}
	// --verbose is a persistent flag bound straight to the flag config; it
	// only ever turns logging up.
	if cfg.Runtime.Verbose {
		dst.Runtime.Verbose = true
	}
}

func init() {
	rootCmd.AddCommand(importCmd)
	importCmd.SetHelpTemplate(importHelpTemplate)

	// Source
	importCmd.Flags().StringVar(&cfg.Source.Repository, flags.FlagRepo, "", "Source repository as OWNER/REPO (name or URL)")
	importCmd.Flags().StringVar(&cfg.Source.BaseURL, flags.FlagSourceBase, "", "Source API base URL for GitHub Enterprise (default: github.com)")
	importCmd.Flags().StringVar(&cfg.Source.CloneDir, flags.FlagCloneDir, "", "Local working tree of the source repository, scanned for LFS pointers")

	// Target
	importCmd.Flags().Int64Var(&cfg.Target.ProjectID, flags.FlagProjectID, 0, "Target project id receiving the import")
	importCmd.Flags().Int64Var(&cfg.Target.NamespaceID, flags.FlagNamespaceID, 0, "Target namespace id (scopes contribution reassignment)")
	importCmd.Flags().Int64Var(&cfg.Target.CreatorID, flags.FlagCreatorID, 0, "Fallback author id for unmapped source users")
	importCmd.Flags().Int64Var(&cfg.Target.GhostUserID, flags.FlagGhostUserID, cfg.Target.GhostUserID, "Author id for objects with no source actor (default: 1)")
	importCmd.Flags().StringVar(&cfg.Target.PostgresDSN, flags.FlagPostgres, "", "Postgres DSN for the target datastore (empty = in-memory dry run)")
	importCmd.Flags().StringVar(&cfg.Target.UploadsDir, flags.FlagUploadsDir, "", "Directory for rewritten attachment files (requires --target-base)")
	importCmd.Flags().StringVar(&cfg.Target.BaseURL, flags.FlagTargetBase, "", "Browse URL base of the target project, for rewritten links")

	// Cache
	importCmd.Flags().StringVar(&cfg.Cache.RedisAddr, flags.FlagRedis, "", "Redis address (host:port) for resumable run state (empty = in process)")
	importCmd.Flags().StringVar(&cfg.Cache.Prefix, flags.FlagCachePrefix, "", "Key prefix namespacing this import in a shared Redis")

	// Runtime
	importCmd.Flags().BoolVar(&cfg.Runtime.Parallel, flags.FlagParallel, false, "Fan high-volume kinds out to a worker pool")
	importCmd.Flags().IntVar(&cfg.Runtime.Workers, flags.FlagWorkers, cfg.Runtime.Workers, "Worker pool size in parallel mode (default: 5)")
	importCmd.Flags().DurationVar(&cfg.Runtime.Stagger, flags.FlagStagger, cfg.Runtime.Stagger, "Delay between fanned-out jobs of one page (default: 1s)")
	importCmd.Flags().DurationVar(&cfg.Runtime.WaitTimeout, flags.FlagWaitTimeout, cfg.Runtime.WaitTimeout, "Bound on each fan-out join (default: 30m)")
	importCmd.Flags().DurationVar(&cfg.Runtime.Timeout, flags.FlagTimeout, cfg.Runtime.Timeout, "Global timeout for the run (default: 6h)")

	// Output
	importCmd.Flags().StringVar(&cfg.Output.ConsoleFormat, flags.FlagConsoleFormat, "text", "Console output format: text|ndjson (default: text)")
	importCmd.Flags().StringVar(&cfg.Output.MetricsAddr, flags.FlagMetricsAddr, "", "Expose Prometheus metrics on this address (host:port)")

	// Misc
	importCmd.Flags().StringVar(&configPath, flags.FlagConfig, "", "Path to a YAML config file (flags and REPOPORT_* env override it)")
}
