package main

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"path/filepath"

	"github.com/charmbracelet/huh"

	"github.com/codecrow/branchanalyzer/internal/config"
	"github.com/codecrow/branchanalyzer/internal/credentials"
)

// runInit interactively registers one project and its VCS/AI credentials,
// writing .branchanalyzer/config.yaml and credentials.yaml. It follows the
// teacher's internal/commands/switch.go pattern of one huh prompt per
// decision rather than a single multi-field form.
func runInit(args []string) error {
	fs := flag.NewFlagSet("init", flag.ExitOnError)
	dir := fs.String("dir", ".branchanalyzer", "directory to write config.yaml and credentials.yaml into")
	if err := fs.Parse(args); err != nil {
		return err
	}

	configPath := filepath.Join(*dir, "config.yaml")

	cfg, err := config.Load(configPath)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("loading existing config: %w", err)
		}
		cfg = &config.Config{}
	}

	var name, provider, workspaceSlug, repoSlug, baseBranch, connectionID string
	var ragEnabled bool

	if err := huh.NewInput().Title("Project name").Value(&name).Run(); err != nil {
		return fmt.Errorf("prompt cancelled: %w", err)
	}

	if err := huh.NewSelect[string]().
		Title("VCS provider").
		Options(
			huh.NewOption("GitHub", "github"),
			huh.NewOption("GitLab", "gitlab"),
			huh.NewOption("Bitbucket Cloud", "bitbucket_cloud"),
			huh.NewOption("Bitbucket Server", "bitbucket_server"),
		).
		Value(&provider).
		Run(); err != nil {
		return fmt.Errorf("prompt cancelled: %w", err)
	}

	if err := huh.NewInput().Title("Workspace / organization slug").Value(&workspaceSlug).Run(); err != nil {
		return fmt.Errorf("prompt cancelled: %w", err)
	}
	if err := huh.NewInput().Title("Repository slug").Value(&repoSlug).Run(); err != nil {
		return fmt.Errorf("prompt cancelled: %w", err)
	}
	if err := huh.NewInput().Title("Base branch").Value(&baseBranch).Placeholder("main").Run(); err != nil {
		return fmt.Errorf("prompt cancelled: %w", err)
	}
	if baseBranch == "" {
		baseBranch = "main"
	}

	connectionID = provider + "_" + workspaceSlug
	if err := huh.NewInput().Title("Connection ID").Description("Used to key credentials.yaml and *_TOKEN env overrides").Value(&connectionID).Run(); err != nil {
		return fmt.Errorf("prompt cancelled: %w", err)
	}

	if err := huh.NewConfirm().Title("Enable retrieval-index (RAG) updates for this project?").Value(&ragEnabled).Run(); err != nil {
		return fmt.Errorf("prompt cancelled: %w", err)
	}

	var token string
	if err := huh.NewInput().Title("Access token").EchoMode(huh.EchoModePassword).Value(&token).Run(); err != nil {
		return fmt.Errorf("prompt cancelled: %w", err)
	}

	cfg.AddProject(config.ProjectConfig{
		Name:             name,
		Namespace:        workspaceSlug,
		Workspace:        workspaceSlug,
		VcsProvider:      provider,
		VcsWorkspaceSlug: workspaceSlug,
		VcsRepoSlug:      repoSlug,
		VcsConnectionID:  connectionID,
		BaseBranch:       baseBranch,
		RagEnabled:       ragEnabled,
	})

	if cfg.AI.Endpoint == "" {
		var endpoint string
		if err := huh.NewInput().Title("AI analysis endpoint URL").Value(&endpoint).Run(); err != nil {
			return fmt.Errorf("prompt cancelled: %w", err)
		}
		cfg.AI.Endpoint = endpoint

		var aiKey string
		if err := huh.NewInput().Title("AI API key").EchoMode(huh.EchoModePassword).Value(&aiKey).Run(); err != nil {
			return fmt.Errorf("prompt cancelled: %w", err)
		}

		creds, err := credentials.Load(*dir)
		if err != nil {
			return fmt.Errorf("loading credentials: %w", err)
		}
		creds.SetAIKey(aiKey)
		creds.SetConnection(connectionID, token, "", 0, "")
		if err := creds.Save(); err != nil {
			return fmt.Errorf("saving credentials: %w", err)
		}
	} else {
		creds, err := credentials.Load(*dir)
		if err != nil {
			return fmt.Errorf("loading credentials: %w", err)
		}
		creds.SetConnection(connectionID, token, "", 0, "")
		if err := creds.Save(); err != nil {
			return fmt.Errorf("saving credentials: %w", err)
		}
	}

	if err := cfg.Save(configPath); err != nil {
		return fmt.Errorf("saving config: %w", err)
	}

	fmt.Printf("Registered project %q (%s/%s on %s). Config written to %s\n", name, workspaceSlug, repoSlug, provider, configPath)
	return nil
}
