package orchestrator

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/MentalVibez/fleetdex/internal/agent"
	"github.com/MentalVibez/fleetdex/internal/config"
	"github.com/MentalVibez/fleetdex/internal/extractor"
	"github.com/MentalVibez/fleetdex/internal/models"
	"github.com/MentalVibez/fleetdex/internal/store"
	"github.com/MentalVibez/fleetdex/internal/utils"
)

// Inventory is the inventory collaborator the orchestrator reads.
type Inventory interface {
	ListActiveEndpoints(ctx context.Context) ([]store.Endpoint, error)
	TouchLastScanned(ctx context.Context, hostname string, at time.Time) error
}

// AgentRunner is the agent-execution collaborator.
type AgentRunner interface {
	Submit(ctx context.Context, goal string, runContext map[string]any) (string, error)
	Poll(ctx context.Context, runID string) (*agent.Run, error)
}

// Scorer persists a score for a snapshot.
type Scorer interface {
	Score(ctx context.Context, hostname string, snapshot *store.MetricSnapshot) (*store.DexScore, error)
}

// Evaluator turns a fresh score into alert actions.
type Evaluator interface {
	Evaluate(ctx context.Context, hostname string, composite float64) error
}

// endpointOutcome classifies one endpoint's scan for the aggregate counts.
type endpointOutcome int

const (
	outcomeScanned endpointOutcome = iota
	outcomeError
	outcomeSkipped
)

// ScanOrchestrator runs one fleet scan: submit a diagnostic run per active
// endpoint, await its answer, and push the result through extraction,
// scoring, and threshold evaluation. Endpoints fail independently; one bad
// endpoint never aborts the batch.
type ScanOrchestrator struct {
	inventory Inventory
	runner    AgentRunner
	snapshots *store.SnapshotStore
	scorer    Scorer
	evaluator Evaluator
	cfg       config.AgentConfig
	workers   int
	latencies *utils.LatencyTracker
	logger    *slog.Logger
}

// NewScanOrchestrator wires the scan pipeline. workers bounds intra-batch
// concurrency; values below 1 fall back to 1.
func NewScanOrchestrator(
	inventory Inventory,
	runner AgentRunner,
	snapshots *store.SnapshotStore,
	scorer Scorer,
	evaluator Evaluator,
	cfg config.AgentConfig,
	workers int,
	logger *slog.Logger,
) *ScanOrchestrator {
	if workers < 1 {
		workers = 1
	}
	return &ScanOrchestrator{
		inventory: inventory,
		runner:    runner,
		snapshots: snapshots,
		scorer:    scorer,
		evaluator: evaluator,
		cfg:       cfg,
		workers:   workers,
		latencies: utils.NewLatencyTracker(1024),
		logger:    logger,
	}
}

// ScanAll processes every active endpoint through a bounded worker pool and
// returns the aggregate counts. A cancelled context stops dispatch; endpoints
// not reached are counted as skipped.
func (o *ScanOrchestrator) ScanAll(ctx context.Context) (models.ScanReport, error) {
	endpoints, err := o.inventory.ListActiveEndpoints(ctx)
	if err != nil {
		return models.ScanReport{}, fmt.Errorf("list endpoints: %w", err)
	}
	if len(endpoints) == 0 {
		o.logger.Info("no active endpoints to scan")
		return models.ScanReport{}, nil
	}

	started := time.Now()
	o.logger.Info("fleet scan starting", "endpoints", len(endpoints), "workers", o.workers)

	jobs := make(chan store.Endpoint)
	outcomes := make(chan endpointOutcome, len(endpoints))

	var wg sync.WaitGroup
	for i := 0; i < o.workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for endpoint := range jobs {
				endpointStart := time.Now()
				outcomes <- o.scanEndpoint(ctx, endpoint)
				o.latencies.Observe(time.Since(endpointStart))
			}
		}()
	}

	dispatched := 0
dispatch:
	for _, endpoint := range endpoints {
		select {
		case jobs <- endpoint:
			dispatched++
		case <-ctx.Done():
			break dispatch
		}
	}
	close(jobs)
	wg.Wait()
	close(outcomes)

	var report models.ScanReport
	report.Skipped = len(endpoints) - dispatched
	for outcome := range outcomes {
		switch outcome {
		case outcomeScanned:
			report.Scanned++
		case outcomeError:
			report.Errors++
		case outcomeSkipped:
			report.Skipped++
		}
	}

	o.logger.Info("fleet scan finished",
		"scanned", report.Scanned,
		"errors", report.Errors,
		"skipped", report.Skipped,
		"duration", time.Since(started),
		"endpoint_p95", o.latencies.Percentile(95))
	return report, nil
}

// EndpointLatencyP95 reports the 95th percentile per-endpoint scan duration
// over recent batches.
func (o *ScanOrchestrator) EndpointLatencyP95() time.Duration {
	return o.latencies.Percentile(95)
}

// ScanHostname submits an on-demand scan for one endpoint and processes the
// answer in the background, detached from the caller's request lifetime. The
// run id is returned immediately so the caller can track progress.
func (o *ScanOrchestrator) ScanHostname(ctx context.Context, hostname string) (string, error) {
	goal := diagnosticGoal(hostname)
	runID, err := o.runner.Submit(ctx, goal, map[string]any{"hostname": hostname})
	if err != nil {
		return "", fmt.Errorf("submit scan for %s: %w", hostname, err)
	}

	background := context.WithoutCancel(ctx)
	go func() {
		run, outcome := o.awaitRun(background, hostname, runID)
		if outcome == outcomeScanned {
			o.processAnswer(background, hostname, run)
		}
	}()
	return runID, nil
}

// scanEndpoint drives one endpoint through the full pipeline. Panics are
// contained here so a misbehaving endpoint only costs its own result.
func (o *ScanOrchestrator) scanEndpoint(ctx context.Context, endpoint store.Endpoint) (outcome endpointOutcome) {
	defer func() {
		if r := recover(); r != nil {
			o.logger.Error("endpoint scan panicked", "hostname", endpoint.Hostname, "panic", r)
			outcome = outcomeError
		}
	}()

	hostname := endpoint.Hostname
	runID, err := o.runner.Submit(ctx, diagnosticGoal(hostname), map[string]any{"hostname": hostname})
	if err != nil {
		o.logger.Error("scan submission failed", "hostname", hostname, "error", err)
		return outcomeError
	}

	run, outcome := o.awaitRun(ctx, hostname, runID)
	if outcome != outcomeScanned {
		return outcome
	}
	return o.processAnswer(ctx, hostname, run)
}

func diagnosticGoal(hostname string) string {
	return fmt.Sprintf("Collect device experience telemetry from endpoint %s: "+
		"cpu, memory and disk utilization percentages, network latency and packet loss, "+
		"services that are down, and the count of recent error log lines. "+
		"Answer with a single JSON object.", hostname)
}

// awaitRun polls until the run reaches a terminal status or the poll budget
// runs out. The interval elapses before the first poll so a just-submitted
// run has a moment to start.
func (o *ScanOrchestrator) awaitRun(ctx context.Context, hostname, runID string) (*agent.Run, endpointOutcome) {
	for attempt := 0; attempt < o.cfg.MaxPolls; attempt++ {
		select {
		case <-ctx.Done():
			o.logger.Warn("scan cancelled while polling", "hostname", hostname, "run_id", runID)
			return nil, outcomeSkipped
		case <-time.After(o.cfg.PollInterval):
		}

		run, err := o.runner.Poll(ctx, runID)
		if err != nil {
			o.logger.Error("scan poll failed", "hostname", hostname, "run_id", runID, "error", err)
			return nil, outcomeError
		}

		switch run.Status {
		case agent.StatusCompleted:
			return run, outcomeScanned
		case agent.StatusFailed, agent.StatusCancelled:
			o.logger.Warn("scan run ended without answer",
				"hostname", hostname, "run_id", runID, "status", run.Status)
			return nil, outcomeSkipped
		}
	}

	o.logger.Warn("scan run timed out", "hostname", hostname, "run_id", runID, "polls", o.cfg.MaxPolls)
	return nil, outcomeSkipped
}

// processAnswer extracts, stores, scores, and evaluates one completed run.
func (o *ScanOrchestrator) processAnswer(ctx context.Context, hostname string, run *agent.Run) endpointOutcome {
	if run.Answer == "" {
		o.logger.Warn("scan completed with empty answer", "hostname", hostname, "run_id", run.RunID)
		return outcomeSkipped
	}

	reading, err := extractor.Parse(run.Answer)
	if err != nil {
		// Unparseable answers still consume a scan slot; nothing is stored.
		o.logger.Warn("scan answer not parseable",
			"hostname", hostname, "run_id", run.RunID, "reason", "unparseable_answer")
		return outcomeScanned
	}

	snapshot, err := o.snapshots.Insert(ctx, hostname, run.RunID, reading)
	if err != nil {
		o.logger.Error("snapshot write failed", "hostname", hostname, "error", err)
		return outcomeError
	}

	score, err := o.scorer.Score(ctx, hostname, snapshot)
	if err != nil {
		o.logger.Error("scoring failed", "hostname", hostname, "error", err)
		return outcomeError
	}

	if err := o.evaluator.Evaluate(ctx, hostname, score.Score); err != nil {
		o.logger.Error("threshold evaluation failed", "hostname", hostname, "error", err)
		return outcomeError
	}

	if err := o.inventory.TouchLastScanned(ctx, hostname, time.Now().UTC()); err != nil {
		o.logger.Warn("last-scanned update failed", "hostname", hostname, "error", err)
	}

	o.logger.Info("endpoint scanned", "hostname", hostname, "score", score.Score)
	return outcomeScanned
}
