package main

import (
	"fmt"
	"log/slog"
	"path/filepath"

	"github.com/codecrow/branchanalyzer/internal/aiclient"
	"github.com/codecrow/branchanalyzer/internal/analysislock"
	"github.com/codecrow/branchanalyzer/internal/config"
	"github.com/codecrow/branchanalyzer/internal/credentials"
	"github.com/codecrow/branchanalyzer/internal/db"
	"github.com/codecrow/branchanalyzer/internal/orchestrator"
	"github.com/codecrow/branchanalyzer/internal/rag"
	"github.com/codecrow/branchanalyzer/internal/vcs"
	"github.com/codecrow/branchanalyzer/internal/vcs/bitbucket"
	"github.com/codecrow/branchanalyzer/internal/vcs/github"
	"github.com/codecrow/branchanalyzer/internal/vcs/gitlab"
)

// compile-time interface checks, mirroring the teacher's
// cmd/autoralph/adapters.go `var _ checks.CheckRunFetcher = (*ghclient.Client)(nil)` style.
var (
	_ vcs.Operations    = (*github.Client)(nil)
	_ vcs.Operations    = (*gitlab.Client)(nil)
	_ vcs.Operations    = (*bitbucket.Client)(nil)
	_ vcs.Operations    = (*bitbucket.ServerClient)(nil)
	_ vcs.AiRequestBuilder = (*github.AiRequestBuilder)(nil)
	_ vcs.AiRequestBuilder = (*gitlab.AiRequestBuilder)(nil)
	_ vcs.AiRequestBuilder = (*bitbucket.AiRequestBuilder)(nil)
	_ vcs.Reporter      = (*github.Reporter)(nil)
	_ vcs.Reporter      = (*gitlab.Reporter)(nil)
	_ vcs.Reporter      = (*bitbucket.Reporter)(nil)
	_ aiclient.AiAnalysisClient = (*aiclient.HTTPClient)(nil)
	_ rag.Operations    = (*rag.FileBacked)(nil)
	_ analysislock.Service = (*analysislock.InProcess)(nil)
	_ analysislock.Service = (*analysislock.SQLite)(nil)
)

// App bundles everything a subcommand needs once config, credentials, and
// the database are loaded.
type App struct {
	Config   *config.Config
	DB       *db.DB
	Creds    *credentials.Store
	Registry *orchestrator.Registry
	Orch     *orchestrator.Orchestrator
	AI       aiclient.AiAnalysisClient
	Rag      rag.Operations
	Logger   *slog.Logger
}

// buildApp loads config, opens the database, resolves credentials, and
// wires every project's provider binding into a Registry — the same shape
// as the teacher's runServe project loop, generalized from "one client set
// per process" to "one binding per provider tag".
func buildApp(configPath string, logger *slog.Logger) (*App, error) {
	cfg, err := config.Resolve(configPath, "")
	if err != nil {
		return nil, fmt.Errorf("resolving config: %w", err)
	}

	database, err := db.Open(cfg.Database.Path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	if err := database.SyncProjects(toDBProjectConfigs(cfg.Projects)); err != nil {
		database.Close()
		return nil, fmt.Errorf("syncing projects: %w", err)
	}

	credStore, err := credentials.Load(cfg.Dir())
	if err != nil {
		database.Close()
		return nil, fmt.Errorf("loading credentials: %w", err)
	}

	aiKey, err := credStore.ResolveAIKey()
	if err != nil {
		logger.Warn("resolving AI API key", "error", err)
	}

	httpAI := aiclient.NewHTTPClient(cfg.AI.Endpoint, cfg.AI.Model, cfg.AI.Timeout)

	var lock analysislock.Service
	switch cfg.Lock.Backend {
	case "inprocess":
		lock = analysislock.NewInProcess()
	default:
		lock = analysislock.NewSQLite(database)
	}

	ragIndex := rag.NewFileBacked(cfg.Rag.ManifestDir, workingTreeRoot, logger)

	registry, err := buildRegistry(database, credStore, cfg, logger)
	if err != nil {
		database.Close()
		return nil, err
	}

	orch := orchestrator.New(orchestrator.Dependencies{
		DB:           database,
		Registry:     registry,
		Lock:         lock,
		AI:           &credentialInjectingAI{inner: httpAI, key: aiKey},
		Rag:          ragIndex,
		LockMaxWait:  cfg.Lock.MaxWait,
		LockPollWait: cfg.Lock.PollInterval,
	}, logger)

	return &App{
		Config:   cfg,
		DB:       database,
		Creds:    credStore,
		Registry: registry,
		Orch:     orch,
		AI:       httpAI,
		Rag:      ragIndex,
		Logger:   logger,
	}, nil
}

// buildRegistry creates one vcs.Binding per provider tag that at least one
// configured project actually uses, resolving that provider's credential
// from the first project it finds bound to it. Multiple projects on the
// same provider share a binding today; per-project connection overrides are
// a natural follow-up once a real deployment needs distinct GitHub App
// installations per project.
func buildRegistry(database *db.DB, creds *credentials.Store, cfg *config.Config, logger *slog.Logger) (*orchestrator.Registry, error) {
	bindings := make(map[vcs.ProviderTag]vcs.Binding)

	projects, err := database.ListProjects()
	if err != nil {
		return nil, fmt.Errorf("listing projects for provider wiring: %w", err)
	}

	for _, p := range projects {
		tag := vcs.ProviderTag(p.VcsProvider)
		if _, ok := bindings[tag]; ok {
			continue
		}
		cred, err := creds.Resolve(p.VcsConnectionID)
		if err != nil {
			logger.Warn("skipping provider binding (credentials)", "project", p.Name, "provider", p.VcsProvider, "error", err)
			continue
		}

		binding, err := newBinding(tag, cred, cfg)
		if err != nil {
			logger.Warn("skipping provider binding", "project", p.Name, "provider", p.VcsProvider, "error", err)
			continue
		}
		bindings[tag] = binding
	}

	return orchestrator.NewRegistry(bindings), nil
}

func newBinding(tag vcs.ProviderTag, cred credentials.Credential, cfg *config.Config) (vcs.Binding, error) {
	switch tag {
	case vcs.ProviderGitHub:
		var opts []github.Option
		if cred.HasAppAuth() {
			opts = append(opts, github.WithAppAuth(github.AppCredentials{
				ClientID:       cred.AppClientID,
				InstallationID: cred.AppInstallationID,
				PrivateKeyPEM:  cred.AppPrivateKeyPEM,
			}))
		}
		client, err := github.New(cred.Token, opts...)
		if err != nil {
			return vcs.Binding{}, fmt.Errorf("creating github client: %w", err)
		}
		return vcs.Binding{
			Operations: client,
			AiClient:   &github.AiRequestBuilder{Model: cfg.AI.Model, TemplateOverrideDir: cfg.AI.PromptOverrideDir},
			Reporter:   github.NewReporter(client),
		}, nil

	case vcs.ProviderGitLab:
		client, err := gitlab.New(cred.Token)
		if err != nil {
			return vcs.Binding{}, fmt.Errorf("creating gitlab client: %w", err)
		}
		return vcs.Binding{
			Operations: client,
			AiClient:   &gitlab.AiRequestBuilder{Model: cfg.AI.Model, TemplateOverrideDir: cfg.AI.PromptOverrideDir},
			Reporter:   gitlab.NewReporter(client),
		}, nil

	case vcs.ProviderBitbucketCloud:
		client := bitbucket.New(cred.Token)
		return vcs.Binding{
			Operations: client,
			AiClient:   &bitbucket.AiRequestBuilder{Model: cfg.AI.Model, TemplateOverrideDir: cfg.AI.PromptOverrideDir},
			Reporter:   bitbucket.NewReporter(client),
		}, nil

	case vcs.ProviderBitbucketServer:
		return vcs.Binding{}, fmt.Errorf("bitbucket server requires a base URL in the per-project config, not yet wired through registry defaults")

	default:
		return vcs.Binding{}, fmt.Errorf("%s: %w", tag, orchestrator.ErrUnsupportedProvider)
	}
}

func toDBProjectConfigs(in []config.ProjectConfig) []db.ProjectConfig {
	out := make([]db.ProjectConfig, 0, len(in))
	for _, p := range in {
		out = append(out, p.ToDB())
	}
	return out
}

// workingTreeRoot is rag.FileBacked's RootResolver — it resolves a project's
// branch to a local checkout path. A full deployment keeps a worktree per
// (project, branch) the same way the teacher's gitops package does; this
// orchestrator doesn't check code out at all (spec.md's non-goals exclude
// "full-repository initial indexing"), so the resolver deliberately returns
// a stable, empty-tree path instead of pretending to check anything out.
func workingTreeRoot(project db.Project, branchName string) (string, error) {
	return filepath.Join(project.Name, branchName), nil
}

