package proposal

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/kpforge/proposal-backend/internal/clients/openai"
	"github.com/kpforge/proposal-backend/internal/platform/logger"
)

// FallbackProposalText is returned when generation fails outright.
const FallbackProposalText = "Error generating proposal."

// Generator produces the final proposal markdown from the approved
// facts, budget matrix and rates.
type Generator struct {
	log *logger.Logger
	llm openai.Client
}

func NewGenerator(log *logger.Logger, llm openai.Client) (*Generator, error) {
	if log == nil {
		return nil, fmt.Errorf("logger required")
	}
	if llm == nil {
		return nil, fmt.Errorf("llm client required")
	}
	return &Generator{log: log.With("service", "Generator"), llm: llm}, nil
}

// RenderBudgetTable pre-renders the budget as a markdown table of
// stage/role/hours/rate/cost rows plus the total. Zero-hour cells are
// skipped. Rows are emitted in sorted stage then role order so the
// table is stable across runs.
func RenderBudgetTable(budget BudgetMatrix, rates map[string]float64) string {
	var b strings.Builder
	b.WriteString("### Estimated Budget\n\n| Stage | Role | Hours | Rate | Cost |\n|---|---|---|---|---|\n")

	stages := make([]string, 0, len(budget))
	for stage := range budget {
		stages = append(stages, stage)
	}
	sort.Strings(stages)

	var total float64
	for _, stage := range stages {
		row := budget[stage]
		roles := make([]string, 0, len(row))
		for role := range row {
			roles = append(roles, role)
		}
		sort.Strings(roles)

		for _, role := range roles {
			hours := row[role]
			if hours <= 0 {
				continue
			}
			rate := rates[role]
			cost := float64(hours) * rate
			total += cost
			fmt.Fprintf(&b, "| %s | %s | %d | %g | %g |\n", stage, role, hours, rate, cost)
		}
	}

	fmt.Fprintf(&b, "\n**Total Estimated Cost: %g**", total)
	return b.String()
}

// Generate produces the proposal markdown. On failure it returns the
// fallback text rather than an error, matching the pipeline's
// soft-failure policy for presentation output.
func (g *Generator) Generate(ctx context.Context, facts ExtractedFacts, budget BudgetMatrix, rates map[string]float64) string {
	features := map[string][]string{}
	for _, cat := range facts.KeyFeatures.Categories() {
		if texts := textsOf(*facts.KeyFeatures.byName(cat)); len(texts) > 0 {
			features[cat] = texts
		}
	}

	user := fmt.Sprintf(proposalUserPromptTemplate,
		facts.ProjectEssence.Text,
		strings.Join(textsOf(facts.BusinessGoals), "; "),
		fmt.Sprintf("%v", features),
		strings.Join(textsOf(facts.TechStack), ", "),
		RenderBudgetTable(budget, rates),
	)

	raw, err := g.llm.CompleteJSON(ctx, proposalSystemPrompt, user, "submit_proposal", proposalSchema())
	if err != nil {
		g.log.Error("proposal generation failed", "error", err)
		return FallbackProposalText
	}
	content := strings.TrimSpace(asString(raw["markdown_content"]))
	if content == "" {
		g.log.Error("proposal generation returned empty content")
		return FallbackProposalText
	}
	return content
}
