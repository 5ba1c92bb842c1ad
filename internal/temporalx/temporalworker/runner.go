package temporalworker

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/kpforge/proposal-backend/internal/platform/logger"
	"github.com/kpforge/proposal-backend/internal/temporalx"
	"github.com/kpforge/proposal-backend/internal/temporalx/proposalrun"
	"github.com/kpforge/proposal-backend/internal/utils"

	"go.temporal.io/api/serviceerror"
	"go.temporal.io/sdk/activity"
	temporalsdkclient "go.temporal.io/sdk/client"
	"go.temporal.io/sdk/worker"
	"go.temporal.io/sdk/workflow"
)

// Runner hosts the two task-queue workers: proposal-core for cheap
// deterministic work and proposal-llm for completion-backend-bound
// activities, so model concurrency can be throttled separately.
type Runner struct {
	log *logger.Logger

	tc   temporalsdkclient.Client
	acts *proposalrun.Activities
}

func NewRunner(log *logger.Logger, tc temporalsdkclient.Client, acts *proposalrun.Activities) (*Runner, error) {
	if tc == nil {
		return nil, fmt.Errorf("temporal client is not configured")
	}
	if acts == nil {
		return nil, fmt.Errorf("temporal worker missing activities")
	}
	return &Runner{log: log, tc: tc, acts: acts}, nil
}

func (r *Runner) Start(ctx context.Context) error {
	if r == nil || r.tc == nil {
		return fmt.Errorf("temporal worker not initialized")
	}

	cfg := temporalx.LoadConfig()
	if r.log != nil {
		r.log.Info("Starting Temporal workers", "address", cfg.Address, "namespace", cfg.Namespace, "core_queue", cfg.CoreTaskQueue, "llm_queue", cfg.LLMTaskQueue)
	}

	// Local/self-hosted convenience: ensure namespace exists before polling.
	// Temporal Cloud namespaces should be pre-created and TEMPORAL_AUTO_REGISTER_NAMESPACE should be false.
	if envTrue("TEMPORAL_AUTO_REGISTER_NAMESPACE", false) {
		baseCtx := ctx
		if baseCtx == nil {
			baseCtx = context.Background()
		}
		if err := temporalx.EnsureNamespace(baseCtx, cfg, r.log); err != nil && r.log != nil {
			r.log.Warn("Temporal namespace ensure failed; worker will retry on start", "namespace", cfg.Namespace, "error", err)
		}
	}

	if err := r.startWorker(ctx, cfg, cfg.CoreTaskQueue, r.newCoreWorker); err != nil {
		return err
	}
	return r.startWorker(ctx, cfg, cfg.LLMTaskQueue, r.newLLMWorker)
}

func (r *Runner) startWorker(ctx context.Context, cfg temporalx.Config, queue string, build func(cfg temporalx.Config) (worker.Worker, error)) error {
	maxWait := durationSecondsFromEnv("TEMPORAL_WORKER_START_MAX_WAIT_SECONDS", 60)
	backoff := durationMillisFromEnv("TEMPORAL_WORKER_START_BACKOFF_MS", 250)
	backoffMax := durationMillisFromEnv("TEMPORAL_WORKER_START_BACKOFF_MAX_MS", 5000)

	deadline := time.Now().Add(maxWait)

	for attempt := 1; ; attempt++ {
		if ctx != nil {
			select {
			case <-ctx.Done():
				return ctx.Err()
			default:
			}
		}

		w, err := build(cfg)
		if err != nil {
			return err
		}
		startErr := w.Start()
		if startErr == nil {
			if ctx != nil {
				go func() {
					<-ctx.Done()
					w.Stop()
				}()
			}
			if r.log != nil {
				r.log.Info("Temporal worker started", "namespace", cfg.Namespace, "task_queue", queue, "attempts", attempt)
			}
			return nil
		}

		// Defensive: ensure worker goroutines are stopped before we retry.
		w.Stop()

		// If the namespace is missing and auto-register is enabled, try to create it then retry.
		var nfe *serviceerror.NamespaceNotFound
		if errors.As(startErr, &nfe) && envTrue("TEMPORAL_AUTO_REGISTER_NAMESPACE", false) {
			baseCtx := ctx
			if baseCtx == nil {
				baseCtx = context.Background()
			}
			if err := temporalx.EnsureNamespace(baseCtx, cfg, r.log); err == nil {
				// Continue to retry worker start.
			}
		}

		if maxWait <= 0 || time.Now().After(deadline) {
			// Temporal Cloud / misconfig: missing namespace will never heal without config changes.
			var nfe2 *serviceerror.NamespaceNotFound
			if errors.As(startErr, &nfe2) {
				return fmt.Errorf("temporal namespace not found (namespace=%s): %w", cfg.Namespace, startErr)
			}
			return startErr
		}

		if r.log != nil {
			r.log.Warn("Temporal worker failed to start; retrying", "namespace", cfg.Namespace, "task_queue", queue, "attempt", attempt, "error", startErr)
		}

		sleep := clampBackoff(backoff, backoffMax, attempt)
		if sleep > 0 {
			time.Sleep(sleep)
		}
	}
}

// The core queue hosts the workflow itself plus parsing, chunking,
// merging and persistence activities.
func (r *Runner) newCoreWorker(cfg temporalx.Config) (worker.Worker, error) {
	concurrency := utils.GetEnvAsInt("WORKER_CORE_CONCURRENCY", 4, r.log)
	if concurrency < 1 {
		concurrency = 1
	}

	w := worker.New(r.tc, cfg.CoreTaskQueue, worker.Options{
		// Note: workflow and activity concurrency are separately tunable in Temporal.
		MaxConcurrentActivityExecutionSize:     concurrency,
		MaxConcurrentWorkflowTaskExecutionSize: concurrency,
	})

	w.RegisterWorkflowWithOptions(proposalrun.Workflow, workflow.RegisterOptions{Name: proposalrun.WorkflowName})
	w.RegisterActivityWithOptions(r.acts.ParseDocument, activity.RegisterOptions{Name: proposalrun.ActivityParseDocument})
	w.RegisterActivityWithOptions(r.acts.IndexDocument, activity.RegisterOptions{Name: proposalrun.ActivityIndexDocument})
	w.RegisterActivityWithOptions(r.acts.MergeExtractions, activity.RegisterOptions{Name: proposalrun.ActivityMergeExtractions})
	w.RegisterActivityWithOptions(r.acts.SaveBudget, activity.RegisterOptions{Name: proposalrun.ActivitySaveBudget})
	w.RegisterActivityWithOptions(r.acts.RecordRunStatus, activity.RegisterOptions{Name: proposalrun.ActivityRecordRunStatus})
	w.RegisterActivityWithOptions(r.acts.DropIndex, activity.RegisterOptions{Name: proposalrun.ActivityDropIndex})
	return w, nil
}

// The LLM queue hosts every activity bound to the completion backend.
// WORKER_LLM_CONCURRENCY caps the in-flight model calls.
func (r *Runner) newLLMWorker(cfg temporalx.Config) (worker.Worker, error) {
	concurrency := utils.GetEnvAsInt("WORKER_LLM_CONCURRENCY", 2, r.log)
	if concurrency < 1 {
		concurrency = 1
	}

	w := worker.New(r.tc, cfg.LLMTaskQueue, worker.Options{
		MaxConcurrentActivityExecutionSize:     concurrency,
		MaxConcurrentWorkflowTaskExecutionSize: concurrency,
	})

	w.RegisterActivityWithOptions(r.acts.OCRDocument, activity.RegisterOptions{Name: proposalrun.ActivityOCRDocument})
	w.RegisterActivityWithOptions(r.acts.ExtractChunk, activity.RegisterOptions{Name: proposalrun.ActivityExtractChunk})
	w.RegisterActivityWithOptions(r.acts.AnalyzeRequirementsChunk, activity.RegisterOptions{Name: proposalrun.ActivityAnalyzeChunk})
	w.RegisterActivityWithOptions(r.acts.RefineRequirements, activity.RegisterOptions{Name: proposalrun.ActivityRefineRequirements})
	w.RegisterActivityWithOptions(r.acts.AnalyzeProject, activity.RegisterOptions{Name: proposalrun.ActivityAnalyzeProject})
	w.RegisterActivityWithOptions(r.acts.EstimateBudget, activity.RegisterOptions{Name: proposalrun.ActivityEstimateBudget})
	w.RegisterActivityWithOptions(r.acts.GenerateProposal, activity.RegisterOptions{Name: proposalrun.ActivityGenerateProposal})
	return w, nil
}

func envTrue(key string, def bool) bool {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	return strings.EqualFold(v, "true") || v == "1" || strings.EqualFold(v, "yes")
}

func durationSecondsFromEnv(key string, defSeconds int) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return time.Duration(defSeconds) * time.Second
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return time.Duration(defSeconds) * time.Second
	}
	if n < 0 {
		n = 0
	}
	return time.Duration(n) * time.Second
}

func durationMillisFromEnv(key string, defMillis int) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return time.Duration(defMillis) * time.Millisecond
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return time.Duration(defMillis) * time.Millisecond
	}
	if n < 0 {
		n = 0
	}
	return time.Duration(n) * time.Millisecond
}

func clampBackoff(base time.Duration, max time.Duration, attempt int) time.Duration {
	if base <= 0 {
		base = 250 * time.Millisecond
	}
	sleep := base
	for i := 1; i < attempt; i++ {
		sleep *= 2
		if max > 0 && sleep >= max {
			return max
		}
	}
	if max > 0 && sleep > max {
		return max
	}
	return sleep
}
