package domain

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

// ProposalRun is the audit row for one drafting run. The workflow ID
// doubles as the public identifier.
type ProposalRun struct {
	ID         uuid.UUID  `gorm:"type:uuid;default:uuid_generate_v4();primaryKey" json:"id"`
	WorkflowID string     `gorm:"column:workflow_id;not null;uniqueIndex" json:"workflow_id"`
	SourceFile string     `gorm:"column:source_file;not null" json:"source_file"`
	Status     string     `gorm:"column:status;not null;index" json:"status"`
	Error      string     `gorm:"column:error" json:"error,omitempty"`
	CreatedAt  time.Time  `gorm:"not null;default:now();index" json:"created_at"`
	UpdatedAt  time.Time  `gorm:"not null;default:now()" json:"updated_at"`
	FinishedAt *time.Time `gorm:"column:finished_at" json:"finished_at,omitempty"`
}

func (ProposalRun) TableName() string { return "proposal_run" }

// ProposalBudget stores the approved budget for a run: the dense
// stage/role hour matrix plus the hourly rates it was approved with.
type ProposalBudget struct {
	ID         uuid.UUID      `gorm:"type:uuid;default:uuid_generate_v4();primaryKey" json:"id"`
	WorkflowID string         `gorm:"column:workflow_id;not null;index" json:"workflow_id"`
	Matrix     datatypes.JSON `gorm:"column:matrix;type:jsonb;not null" json:"matrix"`
	Rates      datatypes.JSON `gorm:"column:rates;type:jsonb" json:"rates"`
	TotalHours float64        `gorm:"column:total_hours;not null;default:0" json:"total_hours"`
	TotalCost  float64        `gorm:"column:total_cost;not null;default:0" json:"total_cost"`
	CreatedAt  time.Time      `gorm:"not null;default:now();index" json:"created_at"`
}

func (ProposalBudget) TableName() string { return "proposal_budget" }
