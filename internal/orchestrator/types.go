// Package orchestrator implements the Branch Analysis Orchestrator
// (spec.md §4.1): the single process() entry point that selects a diff,
// synchronizes branch-local file/issue state, reconciles open issues against
// an AI verdict, and triggers a retrieval-index update — all serialized per
// (projectId, branchName) by an AnalysisLockService.
package orchestrator

import (
	"errors"
	"fmt"
	"time"

	"github.com/codecrow/branchanalyzer/internal/aiclient"
	"github.com/codecrow/branchanalyzer/internal/analysislock"
	"github.com/codecrow/branchanalyzer/internal/db"
	"github.com/codecrow/branchanalyzer/internal/progress"
	"github.com/codecrow/branchanalyzer/internal/rag"
	"github.com/codecrow/branchanalyzer/internal/vcs"
)

// Request is the inbound process() request (spec.md §4.1, §6).
type Request struct {
	ProjectID               string
	TargetBranchName        string
	CommitHash              string
	SourcePullRequestNumber int64 // 0 means absent
}

// Result is the outcome of a Process call (spec.md §4.1).
type Result struct {
	Status          string // "accepted" | "skipped"
	Cached          bool
	Reason          string // set when Status == "skipped"
	BranchID        string
	TotalIssueCount int
	HighCount       int
	MediumCount     int
	LowCount        int
	InfoCount       int
	AnalyzedAt      time.Time
}

const (
	StatusAccepted = "accepted"
	StatusSkipped  = "skipped"

	ReasonCommitAlreadyAnalyzed = "commit_already_analyzed"
)

// Sentinel configuration errors (spec.md §7): fatal, surfaced to the caller,
// no state mutation.
var (
	ErrNoVcsConfigured     = errors.New("project has no effective vcs binding")
	ErrUnsupportedProvider = errors.New("no provider registry entry for this project's vcs provider")
)

// LockedError reports that the BRANCH_ANALYSIS lock could not be acquired
// within the configured wait (spec.md §4.1 step 2, §7 "Contention").
type LockedError struct {
	Project   string
	Branch    string
	WaitedFor time.Duration
}

func (e *LockedError) Error() string {
	return fmt.Sprintf("could not acquire analysis lock for project %s branch %s after waiting %s", e.Project, e.Branch, e.WaitedFor)
}

// Dependencies are the collaborators Process needs, assembled once at
// wiring time (cmd/branchanalyzer/adapters.go) and reused across calls.
type Dependencies struct {
	DB           *db.DB
	Registry     *Registry
	Lock         analysislock.Service
	AI           aiclient.AiAnalysisClient
	Rag          rag.Operations
	LockMaxWait  time.Duration
	LockPollWait time.Duration
	Pool         int // read by neither Process nor Pool; NewPool takes its worker bound as an argument
}

// Registry is the Provider Registry (spec.md §4.5): a lookup from
// ProviderTag to the (Operations, AiRequestBuilder, Reporter) triple a
// project's vcsProvider selects.
type Registry struct {
	bindings map[vcs.ProviderTag]vcs.Binding
}

// NewRegistry builds a Registry from a set of bindings assembled at wiring
// time.
func NewRegistry(bindings map[vcs.ProviderTag]vcs.Binding) *Registry {
	return &Registry{bindings: bindings}
}

// Lookup returns the binding for tag, or ErrUnsupportedProvider if no entry
// is registered (spec.md §4.5: "missing registry entries fail fast").
func (r *Registry) Lookup(tag vcs.ProviderTag) (vcs.Binding, error) {
	b, ok := r.bindings[tag]
	if !ok {
		return vcs.Binding{}, fmt.Errorf("provider %q: %w", tag, ErrUnsupportedProvider)
	}
	return b, nil
}

// progressOrNoop returns sink, or progress.Noop{} if sink is nil, so the
// rest of the package never has to nil-check it (spec.md §9: "possibly-null
// callback").
func progressOrNoop(sink progress.Sink) progress.Sink {
	if sink == nil {
		return progress.Noop{}
	}
	return sink
}
