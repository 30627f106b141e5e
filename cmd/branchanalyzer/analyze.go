package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"os"

	"github.com/codecrow/branchanalyzer/internal/orchestrator"
	"github.com/codecrow/branchanalyzer/internal/progress"
	"github.com/codecrow/branchanalyzer/internal/vcs"
)

func orchestratorRequest(projectID, branchName, commitHash string, prNumber int64) orchestrator.Request {
	return orchestrator.Request{
		ProjectID:               projectID,
		TargetBranchName:        branchName,
		CommitHash:              commitHash,
		SourcePullRequestNumber: prNumber,
	}
}

// runAnalyze drives a single synchronous Process call from the CLI,
// printing its progress to stderr and its result as JSON to stdout, then
// posting a summary comment and inline annotations back to the VCS the way
// SPEC_FULL.md §5 describes (the orchestrator itself never does this).
func runAnalyze(args []string, logger *slog.Logger) error {
	fs := flag.NewFlagSet("analyze", flag.ExitOnError)
	configPath := fs.String("config", "", "path to .branchanalyzer/config.yaml")
	projectName := fs.String("project", "", "project name, as registered in config.yaml")
	branchName := fs.String("branch", "", "target branch name")
	commitHash := fs.String("commit", "", "commit SHA to analyze")
	prNumber := fs.Int64("pr", 0, "source pull/merge request number, if known")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *projectName == "" || *branchName == "" || *commitHash == "" {
		return fmt.Errorf("--project, --branch and --commit are required")
	}

	app, err := buildApp(*configPath, logger)
	if err != nil {
		return err
	}
	defer app.DB.Close()

	project, err := app.DB.GetProjectByName(*projectName)
	if err != nil {
		return fmt.Errorf("looking up project %q: %w", *projectName, err)
	}

	sink := &stderrSink{}
	ctx := context.Background()

	result, procErr := app.Orch.Process(ctx, orchestratorRequest(project.ID, *branchName, *commitHash, *prNumber), sink)
	if procErr != nil {
		return procErr
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(result); err != nil {
		return fmt.Errorf("encoding result: %w", err)
	}

	if result.Cached {
		return nil
	}

	binding, err := app.Registry.Lookup(vcs.ProviderTag(project.VcsProvider))
	if err != nil || binding.Reporter == nil {
		return nil
	}

	summary := vcs.ReportSummary{
		Status:          result.Status,
		Cached:          result.Cached,
		BranchID:        result.BranchID,
		TotalIssueCount: result.TotalIssueCount,
		HighCount:       result.HighCount,
		MediumCount:     result.MediumCount,
		LowCount:        result.LowCount,
		InfoCount:       result.InfoCount,
		AnalyzedAt:      result.AnalyzedAt,
	}
	if err := binding.Reporter.PostSummaryComment(ctx, project, *branchName, *prNumber, summary); err != nil {
		logger.Warn("posting summary comment", "error", err)
	}

	openIssues, err := app.DB.ListUnresolvedIssuesForBranch(project.ID, *branchName)
	if err != nil {
		logger.Warn("listing unresolved issues for annotations", "error", err)
		return nil
	}
	if err := binding.Reporter.PostInlineAnnotations(ctx, project, *branchName, *prNumber, openIssues); err != nil {
		logger.Warn("posting inline annotations", "error", err)
	}

	return nil
}

// stderrSink prints each progress event as it arrives, for CLI users who
// don't want to wait on the final JSON blob with no feedback.
type stderrSink struct{}

func (stderrSink) Emit(event progress.Event) {
	data, _ := json.Marshal(event)
	fmt.Fprintf(os.Stderr, "%s\n", data)
}
