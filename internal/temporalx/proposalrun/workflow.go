package proposalrun

import (
	"strings"
	"time"

	"go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/workflow"

	"github.com/kpforge/proposal-backend/internal/proposal"
)

var (
	fallbackStages = []string{"Discovery", "Prototype", "Development", "Testing"}
	fallbackRoles  = []string{"Manager", "Frontend", "Backend", "Designer"}
)

func (in Input) withDefaults() Input {
	if in.BatchSize < 1 {
		in.BatchSize = 1
	}
	if len(in.DefaultStages) == 0 {
		in.DefaultStages = fallbackStages
	}
	if len(in.DefaultRoles) == 0 {
		in.DefaultRoles = fallbackRoles
	}
	if strings.TrimSpace(in.CoreTaskQueue) == "" {
		in.CoreTaskQueue = TaskQueueCore
	}
	if strings.TrimSpace(in.LLMTaskQueue) == "" {
		in.LLMTaskQueue = TaskQueueLLM
	}
	return in
}

// Workflow drives one proposal run: parse, index and split, batched
// map over chunks, refine, merge, analyze, estimate, then a durable
// human-approval gate before generation. The workflow itself never
// fails on content problems; it parks in StatusError and returns.
func Workflow(ctx workflow.Context, in Input) (string, error) {
	in = in.withDefaults()
	runID := workflow.GetInfo(ctx).WorkflowExecution.ID
	log := workflow.GetLogger(ctx)

	state := &State{Status: StatusProcessing}
	if err := workflow.SetQueryHandler(ctx, QueryState, func() (State, error) {
		return *state, nil
	}); err != nil {
		return "", err
	}

	// Approval signals are applied last-write-wins until the run leaves
	// the waiting state; anything later is ignored.
	approveCh := workflow.GetSignalChannel(ctx, SignalApprove)
	workflow.Go(ctx, func(gctx workflow.Context) {
		for {
			var payload ApprovalPayload
			if !approveCh.Receive(gctx, &payload) {
				return
			}
			if state.Status != StatusProcessing && state.Status != StatusWaitingForHuman {
				log.Info("Ignoring approval signal in terminal-bound state", "status", state.Status)
				continue
			}
			if payload.UpdatedFacts != nil {
				state.ExtractedData = payload.UpdatedFacts
			}
			state.Budget = payload.Budget
			state.Rates = payload.Rates
			state.IsApproved = true
		}
	})

	coreCtx := func(timeout time.Duration) workflow.Context {
		return workflow.WithActivityOptions(ctx, workflow.ActivityOptions{
			TaskQueue:           in.CoreTaskQueue,
			StartToCloseTimeout: timeout,
		})
	}
	llmCtx := func(timeout time.Duration) workflow.Context {
		return workflow.WithActivityOptions(ctx, workflow.ActivityOptions{
			TaskQueue:           in.LLMTaskQueue,
			StartToCloseTimeout: timeout,
		})
	}

	// Persistence side effects are best-effort and must not hang the run
	// behind an unavailable database.
	bestEffortCtx := func() workflow.Context {
		return workflow.WithActivityOptions(ctx, workflow.ActivityOptions{
			TaskQueue:           in.CoreTaskQueue,
			StartToCloseTimeout: 10 * time.Second,
			RetryPolicy:         &temporal.RetryPolicy{MaximumAttempts: 3},
		})
	}

	recordStatus := func(status, runErr string) {
		input := RunStatusInput{WorkflowID: runID, SourceFile: in.FileName, Status: status, Error: runErr}
		if err := workflow.ExecuteActivity(bestEffortCtx(), ActivityRecordRunStatus, input).Get(ctx, nil); err != nil {
			log.Warn("Run status record failed", "status", status, "error", err)
		}
	}

	// The run-scoped vector namespace only exists once indexing has run;
	// it is dropped on every exit after that point.
	indexed := false
	dropIndex := func() {
		if !indexed {
			return
		}
		if err := workflow.ExecuteActivity(bestEffortCtx(), ActivityDropIndex, DropIndexInput{RunID: runID}).Get(ctx, nil); err != nil {
			log.Warn("Vector namespace cleanup failed", "run_id", runID, "error", err)
		}
	}

	fail := func(msg, result string) (string, error) {
		state.Status = StatusError
		state.Error = msg
		dropIndex()
		recordStatus(StatusError, msg)
		return result, nil
	}

	recordStatus(StatusProcessing, "")

	var parsed ParseResult
	if err := workflow.ExecuteActivity(coreCtx(10*time.Minute), ActivityParseDocument, ParseInput{FilePath: in.FilePath, FileName: in.FileName}).Get(ctx, &parsed); err != nil {
		log.Warn("Document parse activity failed", "error", err)
	}

	if parsed.MarkdownPath == "" {
		log.Info("Parsing failed or empty; trying OCR", "file", in.FilePath)
		if err := workflow.ExecuteActivity(llmCtx(10*time.Minute), ActivityOCRDocument, ParseInput{FilePath: in.FilePath, FileName: in.FileName}).Get(ctx, &parsed); err != nil {
			log.Warn("OCR activity failed", "error", err)
		}
	}

	if parsed.MarkdownPath == "" {
		return fail("failed to parse document", "Extraction Failed")
	}

	var chunks []proposal.ChunkDef
	if err := workflow.ExecuteActivity(coreCtx(5*time.Minute), ActivityIndexDocument, IndexInput{
		RunID:        runID,
		MarkdownPath: parsed.MarkdownPath,
		LayoutPath:   parsed.LayoutPath,
	}).Get(ctx, &chunks); err != nil {
		log.Warn("Index activity failed", "error", err)
	} else {
		indexed = true
	}

	if len(chunks) == 0 {
		return fail("no text content found", "No Content")
	}

	// Map phase. Batches run strictly in sequence; within a batch the
	// extraction and analysis activities for each chunk run in parallel.
	// A failed chunk contributes nothing and does not fail the run.
	var partials []proposal.ExtractedFacts
	var requirements []proposal.RequirementItem

	for i := 0; i < len(chunks); i += in.BatchSize {
		end := i + in.BatchSize
		if end > len(chunks) {
			end = len(chunks)
		}
		batch := chunks[i:end]

		extractFuts := make([]workflow.Future, len(batch))
		analyzeFuts := make([]workflow.Future, len(batch))
		for j, def := range batch {
			extractFuts[j] = workflow.ExecuteActivity(llmCtx(60*time.Minute), ActivityExtractChunk, def)
			analyzeFuts[j] = workflow.ExecuteActivity(llmCtx(60*time.Minute), ActivityAnalyzeChunk, def)
		}

		for j := range batch {
			var facts proposal.ExtractedFacts
			if err := extractFuts[j].Get(ctx, &facts); err != nil {
				log.Warn("Chunk extraction failed", "chunk", i+j, "error", err)
				continue
			}
			partials = append(partials, facts)
		}
		for j := range batch {
			var items []proposal.RequirementItem
			if err := analyzeFuts[j].Get(ctx, &items); err != nil {
				log.Warn("Chunk requirement analysis failed", "chunk", i+j, "error", err)
				continue
			}
			requirements = append(requirements, items...)
		}
	}

	state.RequirementsAnalysis = []proposal.RequirementItem{}
	if len(requirements) > 0 {
		var refined []proposal.RequirementItem
		if err := workflow.ExecuteActivity(llmCtx(10*time.Minute), ActivityRefineRequirements, RefineInput{RunID: runID, Items: requirements}).Get(ctx, &refined); err != nil {
			log.Warn("Requirement refinement failed", "error", err)
			refined = requirements
		}
		state.RequirementsAnalysis = refined
	}

	var merged proposal.ExtractedFacts
	if err := workflow.ExecuteActivity(coreCtx(2*time.Minute), ActivityMergeExtractions, partials).Get(ctx, &merged); err != nil {
		dropIndex()
		return "", err
	}

	var analyzed proposal.ExtractedFacts
	if err := workflow.ExecuteActivity(llmCtx(10*time.Minute), ActivityAnalyzeProject, AnalyzeInput{
		Facts:        merged,
		Requirements: state.RequirementsAnalysis,
	}).Get(ctx, &analyzed); err != nil {
		log.Warn("Project analysis failed; continuing with merged facts", "error", err)
		analyzed = merged
	}
	state.ExtractedData = &analyzed

	state.SuggestedStages = analyzed.SuggestedStages
	if len(state.SuggestedStages) == 0 {
		state.SuggestedStages = in.DefaultStages
	}
	state.SuggestedRoles = analyzed.SuggestedRoles
	if len(state.SuggestedRoles) == 0 {
		state.SuggestedRoles = in.DefaultRoles
	}

	var hours proposal.BudgetMatrix
	if err := workflow.ExecuteActivity(llmCtx(10*time.Minute), ActivityEstimateBudget, EstimateInput{
		Facts:  analyzed,
		Stages: state.SuggestedStages,
		Roles:  state.SuggestedRoles,
	}).Get(ctx, &hours); err != nil {
		log.Warn("Budget estimation failed; using zero matrix", "error", err)
		hours = proposal.ZeroBudgetMatrix(state.SuggestedStages, state.SuggestedRoles)
	}
	state.SuggestedHours = hours

	state.Status = StatusWaitingForHuman
	recordStatus(StatusWaitingForHuman, "")

	if err := workflow.Await(ctx, func() bool { return state.IsApproved }); err != nil {
		return "", err
	}

	state.Status = StatusGenerating

	budget := state.Budget
	if budget == nil {
		budget = state.SuggestedHours
	}
	rates := state.Rates
	if rates == nil {
		rates = map[string]float64{}
	}

	facts := analyzed
	if state.ExtractedData != nil {
		facts = *state.ExtractedData
	}

	var final string
	if err := workflow.ExecuteActivity(llmCtx(10*time.Minute), ActivityGenerateProposal, GenerateInput{
		Facts:  facts,
		Budget: budget,
		Rates:  rates,
	}).Get(ctx, &final); err != nil {
		log.Warn("Proposal generation failed; using fallback text", "error", err)
		final = proposal.FallbackProposalText
	}
	state.FinalProposal = final

	// Budget persistence is best-effort. A storage failure never changes
	// the run's outcome.
	if err := workflow.ExecuteActivity(bestEffortCtx(), ActivitySaveBudget, SaveBudgetInput{
		WorkflowID: runID,
		Budget:     budget,
		Rates:      rates,
	}).Get(ctx, nil); err != nil {
		log.Warn("Budget save failed", "error", err)
	}

	dropIndex()

	state.Status = StatusCompleted
	recordStatus(StatusCompleted, "")
	return final, nil
}
