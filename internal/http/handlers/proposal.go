package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/gin-gonic/gin"

	enums "go.temporal.io/api/enums/v1"
	"go.temporal.io/api/serviceerror"
	temporalsdkclient "go.temporal.io/sdk/client"

	"github.com/kpforge/proposal-backend/internal/config"
	"github.com/kpforge/proposal-backend/internal/data/repos"
	types "github.com/kpforge/proposal-backend/internal/domain"
	"github.com/kpforge/proposal-backend/internal/http/response"
	"github.com/kpforge/proposal-backend/internal/platform/apierr"
	"github.com/kpforge/proposal-backend/internal/platform/logger"
	"github.com/kpforge/proposal-backend/internal/proposal"
	"github.com/kpforge/proposal-backend/internal/temporalx"
	"github.com/kpforge/proposal-backend/internal/temporalx/proposalrun"
	"github.com/kpforge/proposal-backend/internal/utils"
)

type ProposalHandler struct {
	log      *logger.Logger
	tc       temporalsdkclient.Client
	tcfg     temporalx.Config
	pipeline config.Pipeline
	runs     repos.ProposalRunRepo
	budgets  repos.ProposalBudgetRepo

	uploadDir string
}

func NewProposalHandler(
	log *logger.Logger,
	tc temporalsdkclient.Client,
	tcfg temporalx.Config,
	pipeline config.Pipeline,
	runs repos.ProposalRunRepo,
	budgets repos.ProposalBudgetRepo,
) (*ProposalHandler, error) {
	if log == nil {
		return nil, fmt.Errorf("logger required")
	}
	if tc == nil {
		return nil, fmt.Errorf("temporal client required")
	}
	return &ProposalHandler{
		log:       log.With("handler", "ProposalHandler"),
		tc:        tc,
		tcfg:      tcfg,
		pipeline:  pipeline,
		runs:      runs,
		budgets:   budgets,
		uploadDir: utils.GetEnv("UPLOAD_DIR", "./uploads", log),
	}, nil
}

type startResponse struct {
	WorkflowID string `json:"workflow_id"`
	Status     string `json:"status"`
}

// Start accepts a multipart upload and launches the proposal run. The
// workflow id is derived from the file name and size, so re-uploading
// the same file attaches to the already running instance.
func (h *ProposalHandler) Start(c *gin.Context) {
	file, err := c.FormFile("file")
	if err != nil {
		response.RespondError(c, http.StatusBadRequest, "missing_file", err)
		return
	}

	name := filepath.Base(file.Filename)
	if name == "" || name == "." || name == string(filepath.Separator) {
		response.RespondError(c, http.StatusBadRequest, "invalid_filename", apierr.ErrInvalidArgument)
		return
	}

	if err := os.MkdirAll(h.uploadDir, 0o755); err != nil {
		response.RespondError(c, http.StatusInternalServerError, "upload_dir", err)
		return
	}
	dst := filepath.Join(h.uploadDir, name)
	if err := c.SaveUploadedFile(file, dst); err != nil {
		response.RespondError(c, http.StatusInternalServerError, "upload_save", err)
		return
	}

	workflowID := fmt.Sprintf("kp-%s-%d", name, file.Size)
	input := proposalrun.Input{
		FilePath:      dst,
		FileName:      name,
		BatchSize:     h.pipeline.BatchSize,
		DefaultStages: h.pipeline.DefaultStages,
		DefaultRoles:  h.pipeline.DefaultRoles,
		CoreTaskQueue: h.tcfg.CoreTaskQueue,
		LLMTaskQueue:  h.tcfg.LLMTaskQueue,
	}

	_, err = h.tc.ExecuteWorkflow(c.Request.Context(), temporalsdkclient.StartWorkflowOptions{
		ID:        workflowID,
		TaskQueue: h.tcfg.CoreTaskQueue,
	}, proposalrun.WorkflowName, input)
	if err != nil {
		var already *serviceerror.WorkflowExecutionAlreadyStarted
		if errors.As(err, &already) {
			h.log.Info("Workflow already running for upload", "workflow_id", workflowID)
			response.RespondOK(c, startResponse{WorkflowID: workflowID, Status: proposalrun.StatusProcessing})
			return
		}
		h.log.Error("Workflow start failed", "workflow_id", workflowID, "error", err)
		response.RespondError(c, http.StatusInternalServerError, "workflow_start", err)
		return
	}

	response.RespondOK(c, startResponse{WorkflowID: workflowID, Status: proposalrun.StatusProcessing})
}

// Get returns the live workflow snapshot; when the workflow is no
// longer reachable it falls back to the persisted run row.
func (h *ProposalHandler) Get(c *gin.Context) {
	workflowID := strings.TrimSpace(c.Param("id"))
	if workflowID == "" {
		response.RespondError(c, http.StatusBadRequest, "missing_id", apierr.ErrInvalidArgument)
		return
	}

	val, err := h.tc.QueryWorkflow(c.Request.Context(), workflowID, "", proposalrun.QueryState)
	if err == nil {
		var st proposalrun.State
		if decodeErr := val.Get(&st); decodeErr != nil {
			response.RespondError(c, http.StatusInternalServerError, "query_decode", decodeErr)
			return
		}
		response.RespondOK(c, st)
		return
	}

	if h.runs != nil {
		run, repoErr := h.runs.GetByWorkflowID(c.Request.Context(), workflowID)
		if repoErr == nil {
			var budget *types.ProposalBudget
			if h.budgets != nil {
				if row, budgetErr := h.budgets.GetLatest(c.Request.Context(), workflowID); budgetErr == nil {
					budget = row
				}
			}
			response.RespondOK(c, stateFromRun(run, budget))
			return
		}
	}

	var notFound *serviceerror.NotFound
	if errors.As(err, &notFound) {
		response.RespondError(c, http.StatusNotFound, "run_not_found", apierr.ErrNotFound)
		return
	}
	h.log.Warn("Workflow query failed", "workflow_id", workflowID, "error", err)
	response.RespondError(c, http.StatusInternalServerError, "workflow_query", err)
}

// stateFromRun rebuilds a snapshot from the persisted rows for runs
// whose workflow history is no longer reachable.
func stateFromRun(run *types.ProposalRun, budget *types.ProposalBudget) proposalrun.State {
	st := proposalrun.State{Status: run.Status, Error: run.Error}
	if run.Status == proposalrun.StatusCompleted {
		st.IsApproved = true
	}
	if budget == nil {
		return st
	}

	var matrix map[string]map[string]float64
	if err := json.Unmarshal(budget.Matrix, &matrix); err == nil && len(matrix) > 0 {
		st.Budget = make(proposal.BudgetMatrix, len(matrix))
		for stage, roles := range matrix {
			row := make(map[string]int, len(roles))
			for role, hours := range roles {
				row[role] = int(hours)
			}
			st.Budget[stage] = row
		}
	}
	var rates map[string]float64
	if err := json.Unmarshal(budget.Rates, &rates); err == nil && len(rates) > 0 {
		st.Rates = rates
	}
	return st
}

// Approve delivers the human-approval signal. Terminal runs get a 409.
func (h *ProposalHandler) Approve(c *gin.Context) {
	workflowID := strings.TrimSpace(c.Param("id"))
	if workflowID == "" {
		response.RespondError(c, http.StatusBadRequest, "missing_id", apierr.ErrInvalidArgument)
		return
	}

	var payload proposalrun.ApprovalPayload
	if err := c.ShouldBindJSON(&payload); err != nil {
		response.RespondError(c, http.StatusBadRequest, "invalid_payload", err)
		return
	}

	desc, err := h.tc.DescribeWorkflowExecution(c.Request.Context(), workflowID, "")
	if err != nil {
		var notFound *serviceerror.NotFound
		if errors.As(err, &notFound) {
			response.RespondError(c, http.StatusNotFound, "run_not_found", apierr.ErrNotFound)
			return
		}
		response.RespondError(c, http.StatusInternalServerError, "workflow_describe", err)
		return
	}
	if info := desc.GetWorkflowExecutionInfo(); info != nil && info.GetStatus() != enums.WORKFLOW_EXECUTION_STATUS_RUNNING {
		response.RespondError(c, http.StatusConflict, "run_terminal", apierr.ErrAlreadyTerminal)
		return
	}

	if err := h.tc.SignalWorkflow(c.Request.Context(), workflowID, "", proposalrun.SignalApprove, payload); err != nil {
		h.log.Error("Approval signal failed", "workflow_id", workflowID, "error", err)
		response.RespondError(c, http.StatusInternalServerError, "workflow_signal", err)
		return
	}

	response.RespondOK(c, gin.H{"workflow_id": workflowID, "approved": true})
}
