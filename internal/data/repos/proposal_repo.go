package repos

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	types "github.com/kpforge/proposal-backend/internal/domain"
	"github.com/kpforge/proposal-backend/internal/platform/apierr"
	"github.com/kpforge/proposal-backend/internal/platform/logger"
)

type ProposalRunRepo interface {
	Upsert(ctx context.Context, run *types.ProposalRun) error
	GetByWorkflowID(ctx context.Context, workflowID string) (*types.ProposalRun, error)
	MarkStatus(ctx context.Context, workflowID string, status string, runErr string) error
}

type proposalRunRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewProposalRunRepo(db *gorm.DB, baseLog *logger.Logger) ProposalRunRepo {
	return &proposalRunRepo{
		db:  db,
		log: baseLog.With("repo", "ProposalRunRepo"),
	}
}

func (r *proposalRunRepo) Upsert(ctx context.Context, run *types.ProposalRun) error {
	if run == nil {
		return nil
	}
	return r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "workflow_id"}},
			DoUpdates: clause.AssignmentColumns([]string{"status", "error", "updated_at"}),
		}).
		Create(run).Error
}

func (r *proposalRunRepo) GetByWorkflowID(ctx context.Context, workflowID string) (*types.ProposalRun, error) {
	var run types.ProposalRun
	err := r.db.WithContext(ctx).
		Where("workflow_id = ?", workflowID).
		First(&run).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, apierr.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &run, nil
}

func (r *proposalRunRepo) MarkStatus(ctx context.Context, workflowID string, status string, runErr string) error {
	updates := map[string]interface{}{
		"status":     status,
		"updated_at": time.Now().UTC(),
	}
	if runErr != "" {
		updates["error"] = runErr
	}
	if status == "COMPLETED" || status == "ERROR" {
		updates["finished_at"] = time.Now().UTC()
	}
	return r.db.WithContext(ctx).
		Model(&types.ProposalRun{}).
		Where("workflow_id = ?", workflowID).
		Updates(updates).Error
}

type ProposalBudgetRepo interface {
	Save(ctx context.Context, workflowID string, matrix map[string]map[string]float64, rates map[string]float64) (*types.ProposalBudget, error)
	GetLatest(ctx context.Context, workflowID string) (*types.ProposalBudget, error)
}

type proposalBudgetRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewProposalBudgetRepo(db *gorm.DB, baseLog *logger.Logger) ProposalBudgetRepo {
	return &proposalBudgetRepo{
		db:  db,
		log: baseLog.With("repo", "ProposalBudgetRepo"),
	}
}

func (r *proposalBudgetRepo) Save(ctx context.Context, workflowID string, matrix map[string]map[string]float64, rates map[string]float64) (*types.ProposalBudget, error) {
	matrixJSON, err := json.Marshal(matrix)
	if err != nil {
		return nil, err
	}
	ratesJSON, err := json.Marshal(rates)
	if err != nil {
		return nil, err
	}

	var totalHours, totalCost float64
	for _, roles := range matrix {
		for role, hours := range roles {
			totalHours += hours
			totalCost += hours * rates[role]
		}
	}

	row := &types.ProposalBudget{
		WorkflowID: workflowID,
		Matrix:     matrixJSON,
		Rates:      ratesJSON,
		TotalHours: totalHours,
		TotalCost:  totalCost,
	}
	if err := r.db.WithContext(ctx).Create(row).Error; err != nil {
		return nil, err
	}
	return row, nil
}

func (r *proposalBudgetRepo) GetLatest(ctx context.Context, workflowID string) (*types.ProposalBudget, error) {
	var row types.ProposalBudget
	err := r.db.WithContext(ctx).
		Where("workflow_id = ?", workflowID).
		Order("created_at DESC").
		First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, apierr.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &row, nil
}
