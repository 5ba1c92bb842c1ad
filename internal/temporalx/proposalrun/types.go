package proposalrun

import "github.com/kpforge/proposal-backend/internal/proposal"

const (
	WorkflowName = "proposal_run"

	SignalApprove = "user_approve"
	QueryState    = "get_state"
)

// Task queues. Core hosts cheap deterministic work; LLM hosts the
// completion-backend-bound activities so their concurrency can be
// throttled independently.
const (
	TaskQueueCore = "proposal-core"
	TaskQueueLLM  = "proposal-llm"
)

const (
	StatusProcessing      = "PROCESSING"
	StatusWaitingForHuman = "WAITING_FOR_HUMAN"
	StatusGenerating      = "GENERATING"
	StatusCompleted       = "COMPLETED"
	StatusError           = "ERROR"
)

// Activity names, shared between the workflow and worker registration.
const (
	ActivityParseDocument      = "parse_document"
	ActivityOCRDocument        = "ocr_document"
	ActivityIndexDocument      = "index_document"
	ActivityExtractChunk       = "extract_chunk"
	ActivityAnalyzeChunk       = "analyze_requirements_chunk"
	ActivityRefineRequirements = "refine_requirements"
	ActivityMergeExtractions   = "merge_extractions"
	ActivityAnalyzeProject     = "analyze_project"
	ActivityEstimateBudget     = "estimate_budget"
	ActivityGenerateProposal   = "generate_proposal"
	ActivitySaveBudget         = "save_budget"
	ActivityRecordRunStatus    = "record_run_status"
	ActivityDropIndex          = "drop_document_index"
)

// Input starts a run. The starter fills the tunables from config; zero
// values fall back to the package defaults so the workflow stays
// deterministic across config changes mid-run.
type Input struct {
	FilePath string `json:"file_path"`
	FileName string `json:"file_name"`

	BatchSize     int      `json:"batch_size,omitempty"`
	DefaultStages []string `json:"default_stages,omitempty"`
	DefaultRoles  []string `json:"default_roles,omitempty"`

	CoreTaskQueue string `json:"core_task_queue,omitempty"`
	LLMTaskQueue  string `json:"llm_task_queue,omitempty"`
}

// ApprovalPayload is delivered by the human-approval signal. Facts,
// budget and rates replace the workflow's suggestions wholesale.
type ApprovalPayload struct {
	UpdatedFacts *proposal.ExtractedFacts `json:"updated_facts"`
	Budget       proposal.BudgetMatrix    `json:"budget"`
	Rates        map[string]float64       `json:"rates"`
}

// State is the queryable snapshot of a run. It is owned by the workflow;
// the approval signal is the only external mutator.
type State struct {
	Status string `json:"status"`
	Error  string `json:"error,omitempty"`

	ExtractedData        *proposal.ExtractedFacts   `json:"extracted_data"`
	FinalProposal        string                     `json:"final_proposal"`
	Budget               proposal.BudgetMatrix      `json:"budget"`
	Rates                map[string]float64         `json:"rates"`
	SuggestedStages      []string                   `json:"suggested_stages"`
	SuggestedRoles       []string                   `json:"suggested_roles"`
	SuggestedHours       proposal.BudgetMatrix      `json:"suggested_hours"`
	RequirementsAnalysis []proposal.RequirementItem `json:"requirements_analysis"`
	IsApproved           bool                       `json:"is_approved"`
}

type ParseInput struct {
	FilePath string `json:"file_path"`
	FileName string `json:"file_name"`
}

type ParseResult struct {
	MarkdownPath string `json:"markdown_path"`
	LayoutPath   string `json:"layout_path,omitempty"`
	PageCount    int    `json:"page_count,omitempty"`
}

type IndexInput struct {
	RunID        string `json:"run_id"`
	MarkdownPath string `json:"markdown_path"`
	LayoutPath   string `json:"layout_path,omitempty"`
}

type RefineInput struct {
	RunID string                     `json:"run_id"`
	Items []proposal.RequirementItem `json:"items"`
}

type AnalyzeInput struct {
	Facts        proposal.ExtractedFacts    `json:"facts"`
	Requirements []proposal.RequirementItem `json:"requirements"`
}

type EstimateInput struct {
	Facts  proposal.ExtractedFacts `json:"facts"`
	Stages []string                `json:"stages"`
	Roles  []string                `json:"roles"`
}

type GenerateInput struct {
	Facts  proposal.ExtractedFacts `json:"facts"`
	Budget proposal.BudgetMatrix   `json:"budget"`
	Rates  map[string]float64      `json:"rates"`
}

type SaveBudgetInput struct {
	WorkflowID string                `json:"workflow_id"`
	Budget     proposal.BudgetMatrix `json:"budget"`
	Rates      map[string]float64    `json:"rates"`
}

type DropIndexInput struct {
	RunID string `json:"run_id"`
}

type RunStatusInput struct {
	WorkflowID string `json:"workflow_id"`
	SourceFile string `json:"source_file,omitempty"`
	Status     string `json:"status"`
	Error      string `json:"error,omitempty"`
}
