package proposalrun

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"go.temporal.io/sdk/activity"
	"go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/testsuite"
	"go.temporal.io/sdk/workflow"

	"github.com/kpforge/proposal-backend/internal/proposal"
)

// stubs holds per-test activity implementations. Nil fields get a
// benign default so each test only spells out what it cares about.
type stubs struct {
	parse        func(context.Context, ParseInput) (ParseResult, error)
	ocr          func(context.Context, ParseInput) (ParseResult, error)
	index        func(context.Context, IndexInput) ([]proposal.ChunkDef, error)
	extract      func(context.Context, proposal.ChunkDef) (proposal.ExtractedFacts, error)
	analyzeChunk func(context.Context, proposal.ChunkDef) ([]proposal.RequirementItem, error)
	refine       func(context.Context, RefineInput) ([]proposal.RequirementItem, error)
	analyze      func(context.Context, AnalyzeInput) (proposal.ExtractedFacts, error)
	estimate     func(context.Context, EstimateInput) (proposal.BudgetMatrix, error)
	generate     func(context.Context, GenerateInput) (string, error)
	saveBudget   func(context.Context, SaveBudgetInput) error
	recordStatus func(context.Context, RunStatusInput) error
	dropIndex    func(context.Context, DropIndexInput) error
}

func (s stubs) withDefaults() stubs {
	if s.parse == nil {
		s.parse = func(context.Context, ParseInput) (ParseResult, error) {
			return ParseResult{MarkdownPath: "doc_parsed.md", LayoutPath: "doc_parsed.json", PageCount: 1}, nil
		}
	}
	if s.ocr == nil {
		s.ocr = func(context.Context, ParseInput) (ParseResult, error) {
			return ParseResult{}, nil
		}
	}
	if s.index == nil {
		s.index = func(context.Context, IndexInput) ([]proposal.ChunkDef, error) {
			return []proposal.ChunkDef{{SourceRef: "doc_parsed.md", Start: 0, End: 100}}, nil
		}
	}
	if s.extract == nil {
		s.extract = func(context.Context, proposal.ChunkDef) (proposal.ExtractedFacts, error) {
			return proposal.ExtractedFacts{}, nil
		}
	}
	if s.analyzeChunk == nil {
		s.analyzeChunk = func(context.Context, proposal.ChunkDef) ([]proposal.RequirementItem, error) {
			return []proposal.RequirementItem{}, nil
		}
	}
	if s.refine == nil {
		s.refine = func(_ context.Context, in RefineInput) ([]proposal.RequirementItem, error) {
			return in.Items, nil
		}
	}
	if s.analyze == nil {
		s.analyze = func(_ context.Context, in AnalyzeInput) (proposal.ExtractedFacts, error) {
			return in.Facts, nil
		}
	}
	if s.estimate == nil {
		s.estimate = func(_ context.Context, in EstimateInput) (proposal.BudgetMatrix, error) {
			return proposal.ZeroBudgetMatrix(in.Stages, in.Roles), nil
		}
	}
	if s.generate == nil {
		s.generate = func(context.Context, GenerateInput) (string, error) {
			return "# Proposal", nil
		}
	}
	if s.saveBudget == nil {
		s.saveBudget = func(context.Context, SaveBudgetInput) error { return nil }
	}
	if s.recordStatus == nil {
		s.recordStatus = func(context.Context, RunStatusInput) error { return nil }
	}
	if s.dropIndex == nil {
		s.dropIndex = func(context.Context, DropIndexInput) error { return nil }
	}
	return s
}

func newEnv(t *testing.T, s stubs) *testsuite.TestWorkflowEnvironment {
	t.Helper()
	var suite testsuite.WorkflowTestSuite
	env := suite.NewTestWorkflowEnvironment()
	env.RegisterWorkflowWithOptions(Workflow, workflow.RegisterOptions{Name: WorkflowName})

	s = s.withDefaults()
	env.RegisterActivityWithOptions(s.parse, activity.RegisterOptions{Name: ActivityParseDocument})
	env.RegisterActivityWithOptions(s.ocr, activity.RegisterOptions{Name: ActivityOCRDocument})
	env.RegisterActivityWithOptions(s.index, activity.RegisterOptions{Name: ActivityIndexDocument})
	env.RegisterActivityWithOptions(s.extract, activity.RegisterOptions{Name: ActivityExtractChunk})
	env.RegisterActivityWithOptions(s.analyzeChunk, activity.RegisterOptions{Name: ActivityAnalyzeChunk})
	env.RegisterActivityWithOptions(s.refine, activity.RegisterOptions{Name: ActivityRefineRequirements})
	env.RegisterActivityWithOptions(func(_ context.Context, parts []proposal.ExtractedFacts) (proposal.ExtractedFacts, error) {
		return proposal.Merge(parts), nil
	}, activity.RegisterOptions{Name: ActivityMergeExtractions})
	env.RegisterActivityWithOptions(s.analyze, activity.RegisterOptions{Name: ActivityAnalyzeProject})
	env.RegisterActivityWithOptions(s.estimate, activity.RegisterOptions{Name: ActivityEstimateBudget})
	env.RegisterActivityWithOptions(s.generate, activity.RegisterOptions{Name: ActivityGenerateProposal})
	env.RegisterActivityWithOptions(s.saveBudget, activity.RegisterOptions{Name: ActivitySaveBudget})
	env.RegisterActivityWithOptions(s.recordStatus, activity.RegisterOptions{Name: ActivityRecordRunStatus})
	env.RegisterActivityWithOptions(s.dropIndex, activity.RegisterOptions{Name: ActivityDropIndex})
	return env
}

func queryState(t *testing.T, env *testsuite.TestWorkflowEnvironment) State {
	t.Helper()
	val, err := env.QueryWorkflow(QueryState)
	if err != nil {
		t.Fatalf("query failed: %v", err)
	}
	var st State
	if err := val.Get(&st); err != nil {
		t.Fatalf("decode query result: %v", err)
	}
	return st
}

func TestWorkflowThreeChunksOneFailedExtraction(t *testing.T) {
	chunks := []proposal.ChunkDef{
		{SourceRef: "doc_parsed.md", Start: 0, End: 12000},
		{SourceRef: "doc_parsed.md", Start: 11000, End: 23000},
		{SourceRef: "doc_parsed.md", Start: 22000, End: 30000},
	}

	var generated GenerateInput
	var saved SaveBudgetInput
	var statuses []string

	s := stubs{
		index: func(context.Context, IndexInput) ([]proposal.ChunkDef, error) {
			return chunks, nil
		},
		extract: func(_ context.Context, def proposal.ChunkDef) (proposal.ExtractedFacts, error) {
			switch def.Start {
			case 0:
				return proposal.ExtractedFacts{TechStack: []proposal.SourceText{{Text: "Python"}}}, nil
			case 11000:
				return proposal.ExtractedFacts{TechStack: []proposal.SourceText{{Text: "Python"}, {Text: "React"}}}, nil
			default:
				return proposal.ExtractedFacts{}, temporal.NewNonRetryableApplicationError("llm backend down", "llm", nil)
			}
		},
		analyzeChunk: func(_ context.Context, def proposal.ChunkDef) ([]proposal.RequirementItem, error) {
			if def.Start != 0 {
				return []proposal.RequirementItem{}, nil
			}
			return []proposal.RequirementItem{{
				Category:    "functional",
				Summary:     "User login",
				SearchQuery: "the system must support login",
				Importance:  "High",
			}}, nil
		},
		refine: func(_ context.Context, in RefineInput) ([]proposal.RequirementItem, error) {
			out := make([]proposal.RequirementItem, len(in.Items))
			copy(out, in.Items)
			for i := range out {
				out[i].SourceText = "the system must support login via email"
				out[i].PageNumber = 2
				out[i].Confidence = 0.9
			}
			return out, nil
		},
		analyze: func(_ context.Context, in AnalyzeInput) (proposal.ExtractedFacts, error) {
			facts := in.Facts
			facts.SuggestedStages = []string{"Discovery", "Development"}
			facts.SuggestedRoles = []string{"Backend"}
			return facts, nil
		},
		estimate: func(context.Context, EstimateInput) (proposal.BudgetMatrix, error) {
			return proposal.BudgetMatrix{
				"Discovery":   {"Backend": 10},
				"Development": {"Backend": 30},
			}, nil
		},
		generate: func(_ context.Context, in GenerateInput) (string, error) {
			generated = in
			return "# Proposal\nFinal text.", nil
		},
		saveBudget: func(_ context.Context, in SaveBudgetInput) error {
			saved = in
			return nil
		},
		recordStatus: func(_ context.Context, in RunStatusInput) error {
			statuses = append(statuses, in.Status)
			return nil
		},
	}
	env := newEnv(t, s)

	approval := ApprovalPayload{
		Budget: proposal.BudgetMatrix{
			"Discovery":   {"Backend": 12},
			"Development": {"Backend": 28},
		},
		Rates: map[string]float64{"Backend": 50},
	}
	env.RegisterDelayedCallback(func() {
		st := queryState(t, env)
		if st.Status != StatusWaitingForHuman {
			t.Fatalf("status before approval = %q, want %q", st.Status, StatusWaitingForHuman)
		}
		if st.ExtractedData == nil {
			t.Fatalf("extracted data missing at approval gate")
		}
		stack := st.ExtractedData.TechStack
		if len(stack) != 2 || stack[0].Text != "Python" || stack[1].Text != "React" {
			t.Fatalf("merged tech stack = %+v, want [Python React]", stack)
		}
		if len(st.RequirementsAnalysis) != 1 || st.RequirementsAnalysis[0].Confidence != 0.9 {
			t.Fatalf("requirements analysis = %+v", st.RequirementsAnalysis)
		}
		if st.SuggestedHours["Development"]["Backend"] != 30 {
			t.Fatalf("suggested hours = %+v", st.SuggestedHours)
		}
		env.SignalWorkflow(SignalApprove, approval)
	}, time.Minute)

	env.ExecuteWorkflow(WorkflowName, Input{FilePath: "doc.pdf", FileName: "doc.pdf"})

	if !env.IsWorkflowCompleted() {
		t.Fatalf("workflow did not complete")
	}
	if err := env.GetWorkflowError(); err != nil {
		t.Fatalf("workflow error: %v", err)
	}
	var result string
	if err := env.GetWorkflowResult(&result); err != nil {
		t.Fatalf("result decode: %v", err)
	}
	if result != "# Proposal\nFinal text." {
		t.Fatalf("result = %q", result)
	}

	st := queryState(t, env)
	if st.Status != StatusCompleted {
		t.Fatalf("final status = %q, want %q", st.Status, StatusCompleted)
	}
	if !st.IsApproved {
		t.Fatalf("is_approved not set")
	}
	if generated.Budget["Discovery"]["Backend"] != 12 {
		t.Fatalf("generation used budget %+v, want the approved one", generated.Budget)
	}
	if generated.Rates["Backend"] != 50 {
		t.Fatalf("generation used rates %+v", generated.Rates)
	}
	if saved.Budget["Development"]["Backend"] != 28 {
		t.Fatalf("saved budget %+v, want the approved one", saved.Budget)
	}

	want := []string{StatusProcessing, StatusWaitingForHuman, StatusCompleted}
	if len(statuses) != len(want) {
		t.Fatalf("recorded statuses %v, want %v", statuses, want)
	}
	for i := range want {
		if statuses[i] != want[i] {
			t.Fatalf("recorded statuses %v, want %v", statuses, want)
		}
	}
}

func TestWorkflowParseAndOCRBothEmpty(t *testing.T) {
	var ocrCalled bool
	s := stubs{
		parse: func(context.Context, ParseInput) (ParseResult, error) {
			return ParseResult{}, nil
		},
		ocr: func(context.Context, ParseInput) (ParseResult, error) {
			ocrCalled = true
			return ParseResult{}, nil
		},
	}
	env := newEnv(t, s)
	env.ExecuteWorkflow(WorkflowName, Input{FilePath: "doc.pdf", FileName: "doc.pdf"})

	if !env.IsWorkflowCompleted() {
		t.Fatalf("workflow did not complete")
	}
	var result string
	if err := env.GetWorkflowResult(&result); err != nil {
		t.Fatalf("result decode: %v", err)
	}
	if result != "Extraction Failed" {
		t.Fatalf("result = %q", result)
	}
	if !ocrCalled {
		t.Fatalf("ocr fallback was not attempted")
	}
	st := queryState(t, env)
	if st.Status != StatusError {
		t.Fatalf("status = %q, want %q", st.Status, StatusError)
	}
	if st.Error == "" {
		t.Fatalf("error message missing")
	}
}

func TestWorkflowOCRFallbackRecovers(t *testing.T) {
	s := stubs{
		parse: func(context.Context, ParseInput) (ParseResult, error) {
			return ParseResult{}, nil
		},
		ocr: func(context.Context, ParseInput) (ParseResult, error) {
			return ParseResult{MarkdownPath: "doc_ocr.md", PageCount: 1}, nil
		},
	}
	env := newEnv(t, s)
	env.RegisterDelayedCallback(func() {
		env.SignalWorkflow(SignalApprove, ApprovalPayload{})
	}, time.Minute)
	env.ExecuteWorkflow(WorkflowName, Input{FilePath: "scan.png", FileName: "scan.png"})

	if !env.IsWorkflowCompleted() {
		t.Fatalf("workflow did not complete")
	}
	if err := env.GetWorkflowError(); err != nil {
		t.Fatalf("workflow error: %v", err)
	}
	st := queryState(t, env)
	if st.Status != StatusCompleted {
		t.Fatalf("status = %q, want %q", st.Status, StatusCompleted)
	}
}

func TestWorkflowNoChunksIsTerminal(t *testing.T) {
	extracted := false
	s := stubs{
		index: func(context.Context, IndexInput) ([]proposal.ChunkDef, error) {
			return nil, nil
		},
		extract: func(context.Context, proposal.ChunkDef) (proposal.ExtractedFacts, error) {
			extracted = true
			return proposal.ExtractedFacts{}, nil
		},
	}
	env := newEnv(t, s)
	env.ExecuteWorkflow(WorkflowName, Input{FilePath: "doc.pdf", FileName: "doc.pdf"})

	if !env.IsWorkflowCompleted() {
		t.Fatalf("workflow did not complete")
	}
	var result string
	if err := env.GetWorkflowResult(&result); err != nil {
		t.Fatalf("result decode: %v", err)
	}
	if result != "No Content" {
		t.Fatalf("result = %q", result)
	}
	if extracted {
		t.Fatalf("extraction ran despite empty chunk list")
	}
	st := queryState(t, env)
	if st.Status != StatusError {
		t.Fatalf("status = %q, want %q", st.Status, StatusError)
	}
}

func TestWorkflowApprovalLastWriteWins(t *testing.T) {
	var generated GenerateInput
	s := stubs{
		generate: func(_ context.Context, in GenerateInput) (string, error) {
			generated = in
			return "# Proposal", nil
		},
	}
	env := newEnv(t, s)

	first := ApprovalPayload{
		Budget: proposal.BudgetMatrix{"Discovery": {"Backend": 5}},
		Rates:  map[string]float64{"Backend": 40},
	}
	second := ApprovalPayload{
		Budget: proposal.BudgetMatrix{"Discovery": {"Backend": 9}},
		Rates:  map[string]float64{"Backend": 60},
	}
	// Two signals in the same waiting window; the later payload must win.
	env.RegisterDelayedCallback(func() {
		env.SignalWorkflow(SignalApprove, first)
		env.SignalWorkflow(SignalApprove, second)
	}, time.Minute)

	env.ExecuteWorkflow(WorkflowName, Input{FilePath: "doc.pdf", FileName: "doc.pdf"})

	if !env.IsWorkflowCompleted() {
		t.Fatalf("workflow did not complete")
	}
	if err := env.GetWorkflowError(); err != nil {
		t.Fatalf("workflow error: %v", err)
	}
	if generated.Budget["Discovery"]["Backend"] != 9 {
		t.Fatalf("generation used budget %+v, want the second payload", generated.Budget)
	}
	if generated.Rates["Backend"] != 60 {
		t.Fatalf("generation used rates %+v, want the second payload", generated.Rates)
	}
	st := queryState(t, env)
	if st.Budget["Discovery"]["Backend"] != 9 || st.Rates["Backend"] != 60 {
		t.Fatalf("state kept %+v / %+v, want the second payload", st.Budget, st.Rates)
	}
}

func TestWorkflowDropsIndexOnCompletion(t *testing.T) {
	var dropped []string
	s := stubs{
		dropIndex: func(_ context.Context, in DropIndexInput) error {
			dropped = append(dropped, in.RunID)
			return nil
		},
	}
	env := newEnv(t, s)
	env.RegisterDelayedCallback(func() {
		env.SignalWorkflow(SignalApprove, ApprovalPayload{})
	}, time.Minute)
	env.ExecuteWorkflow(WorkflowName, Input{FilePath: "doc.pdf", FileName: "doc.pdf"})

	if !env.IsWorkflowCompleted() {
		t.Fatalf("workflow did not complete")
	}
	if err := env.GetWorkflowError(); err != nil {
		t.Fatalf("workflow error: %v", err)
	}
	if len(dropped) != 1 {
		t.Fatalf("namespace dropped %d times, want once: %v", len(dropped), dropped)
	}
	if dropped[0] == "" {
		t.Fatalf("namespace dropped without a run id")
	}
}

func TestWorkflowDropsIndexOnNoContent(t *testing.T) {
	var dropped int
	s := stubs{
		index: func(context.Context, IndexInput) ([]proposal.ChunkDef, error) {
			return nil, nil
		},
		dropIndex: func(context.Context, DropIndexInput) error {
			dropped++
			return nil
		},
	}
	env := newEnv(t, s)
	env.ExecuteWorkflow(WorkflowName, Input{FilePath: "doc.pdf", FileName: "doc.pdf"})

	if !env.IsWorkflowCompleted() {
		t.Fatalf("workflow did not complete")
	}
	st := queryState(t, env)
	if st.Status != StatusError {
		t.Fatalf("status = %q, want %q", st.Status, StatusError)
	}
	if dropped != 1 {
		t.Fatalf("namespace dropped %d times, want once", dropped)
	}
}

func TestWorkflowSkipsIndexDropBeforeIndexing(t *testing.T) {
	var dropped int
	s := stubs{
		parse: func(context.Context, ParseInput) (ParseResult, error) {
			return ParseResult{}, nil
		},
		dropIndex: func(context.Context, DropIndexInput) error {
			dropped++
			return nil
		},
	}
	env := newEnv(t, s)
	env.ExecuteWorkflow(WorkflowName, Input{FilePath: "doc.pdf", FileName: "doc.pdf"})

	if !env.IsWorkflowCompleted() {
		t.Fatalf("workflow did not complete")
	}
	if dropped != 0 {
		t.Fatalf("namespace dropped before any indexing happened")
	}
}

func TestWorkflowBatchesRunSequentially(t *testing.T) {
	chunks := make([]proposal.ChunkDef, 4)
	for i := range chunks {
		chunks[i] = proposal.ChunkDef{SourceRef: "doc_parsed.md", Start: i * 100, End: (i + 1) * 100}
	}
	var mu sync.Mutex
	var order []int
	s := stubs{
		index: func(context.Context, IndexInput) ([]proposal.ChunkDef, error) {
			return chunks, nil
		},
		extract: func(_ context.Context, def proposal.ChunkDef) (proposal.ExtractedFacts, error) {
			mu.Lock()
			order = append(order, def.Start/100)
			mu.Unlock()
			return proposal.ExtractedFacts{
				TechStack: []proposal.SourceText{{Text: fmt.Sprintf("tool-%d", def.Start/100)}},
			}, nil
		},
	}
	env := newEnv(t, s)
	env.RegisterDelayedCallback(func() {
		env.SignalWorkflow(SignalApprove, ApprovalPayload{})
	}, time.Minute)
	env.ExecuteWorkflow(WorkflowName, Input{FilePath: "doc.pdf", FileName: "doc.pdf", BatchSize: 2})

	if !env.IsWorkflowCompleted() {
		t.Fatalf("workflow did not complete")
	}
	if err := env.GetWorkflowError(); err != nil {
		t.Fatalf("workflow error: %v", err)
	}
	if len(order) != 4 {
		t.Fatalf("extracted %d chunks, want 4", len(order))
	}
	// Batch boundary: chunks 0 and 1 both run before 2 and 3 start.
	firstBatch := map[int]bool{order[0]: true, order[1]: true}
	if !firstBatch[0] || !firstBatch[1] {
		t.Fatalf("first batch ran chunks %v, want {0,1}", order[:2])
	}

	st := queryState(t, env)
	if st.ExtractedData == nil || len(st.ExtractedData.TechStack) != 4 {
		t.Fatalf("merged stack = %+v, want all four chunk contributions", st.ExtractedData)
	}
}
