package proposal

import (
	"context"
	"fmt"
	"strings"

	"github.com/kpforge/proposal-backend/internal/clients/openai"
	"github.com/kpforge/proposal-backend/internal/platform/logger"
)

// Estimator produces the dense stage/role hour matrix.
type Estimator struct {
	log *logger.Logger
	llm openai.Client
}

func NewEstimator(log *logger.Logger, llm openai.Client) (*Estimator, error) {
	if log == nil {
		return nil, fmt.Errorf("logger required")
	}
	if llm == nil {
		return nil, fmt.Errorf("llm client required")
	}
	return &Estimator{log: log.With("service", "Estimator"), llm: llm}, nil
}

// Estimate asks the completion backend for hours per (stage, role) and
// densifies the result over the input lists. On any failure it returns
// the all-zero dense matrix, never a sparse one.
func (e *Estimator) Estimate(ctx context.Context, facts ExtractedFacts, stages, roles []string) BudgetMatrix {
	user := fmt.Sprintf(budgetUserPromptTemplate,
		facts.ProjectEssence.Text,
		strings.Join(textsOf(facts.TechStack), ", "),
		strings.Join(stages, ", "),
		strings.Join(roles, ", "),
	)

	raw, err := e.llm.CompleteJSON(ctx, budgetSystemPrompt, user, "submit_budget", budgetSchema())
	if err != nil {
		e.log.Error("budget estimation failed, returning zero matrix", "error", err)
		return ZeroBudgetMatrix(stages, roles)
	}

	return Densify(NormalizeBudget(raw), stages, roles)
}

// Densify guarantees every (stage, role) cell over the input lists is
// populated, defaulting missing cells to 0. Stages or roles the sparse
// result invented are dropped.
func Densify(sparse map[string]map[string]int, stages, roles []string) BudgetMatrix {
	out := make(BudgetMatrix, len(stages))
	for _, stage := range stages {
		row := make(map[string]int, len(roles))
		for _, role := range roles {
			val := 0
			if sr, ok := sparse[stage]; ok {
				if v, ok := sr[role]; ok {
					val = v
				}
			}
			row[role] = val
		}
		out[stage] = row
	}
	return out
}
