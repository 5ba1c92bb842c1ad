package proposal

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"unicode/utf8"

	"github.com/kpforge/proposal-backend/internal/clients/openai"
	"github.com/kpforge/proposal-backend/internal/platform/logger"
)

// Analyzer runs the document-level analysis pass over the merged facts
// and maps hour estimates back onto the key features.
type Analyzer struct {
	log             *logger.Logger
	llm             openai.Client
	ragContextItems int
	defaultHours    int
}

func NewAnalyzer(log *logger.Logger, llm openai.Client, ragContextItems, defaultHours int) (*Analyzer, error) {
	if log == nil {
		return nil, fmt.Errorf("logger required")
	}
	if llm == nil {
		return nil, fmt.Errorf("llm client required")
	}
	if ragContextItems <= 0 {
		ragContextItems = 15
	}
	if defaultHours <= 0 {
		defaultHours = 5
	}
	return &Analyzer{
		log:             log.With("service", "Analyzer"),
		llm:             llm,
		ragContextItems: ragContextItems,
		defaultHours:    defaultHours,
	}, nil
}

// condensedContext keeps the prompt bounded: only essence, type,
// goals, stack and features, never the full provenance payload.
func condensedContext(facts ExtractedFacts) string {
	condensed := map[string]any{
		"project_essence": facts.ProjectEssence.Text,
		"project_type":    facts.ProjectType.Text,
		"business_goals":  textsOf(facts.BusinessGoals),
		"tech_stack":      textsOf(facts.TechStack),
		"key_features": map[string]any{
			"modules":      textsOf(facts.KeyFeatures.Modules),
			"screens":      textsOf(facts.KeyFeatures.Screens),
			"reports":      textsOf(facts.KeyFeatures.Reports),
			"integrations": textsOf(facts.KeyFeatures.Integrations),
			"nfr":          textsOf(facts.KeyFeatures.NFR),
		},
	}
	b, err := json.MarshalIndent(condensed, "", "  ")
	if err != nil {
		return "{}"
	}
	return string(b)
}

func textsOf(items []SourceText) []string {
	out := make([]string, 0, len(items))
	for _, it := range items {
		out = append(out, it.Text)
	}
	return out
}

func (a *Analyzer) ragBlock(items []RequirementItem) string {
	if len(items) == 0 {
		return ""
	}
	capped := items
	if len(capped) > a.ragContextItems {
		capped = capped[:a.ragContextItems]
	}

	var b strings.Builder
	b.WriteString("\nRequirement findings with source locations:\n")
	for _, item := range capped {
		quote := truncateQuote(item.SourceText, 200)
		if quote == "" {
			fmt.Fprintf(&b, "- [%s] %s\n", item.Category, item.Summary)
			continue
		}
		fmt.Fprintf(&b, "- [%s] %s (p.%d): %q\n", item.Category, item.Summary, item.PageNumber, quote)
	}
	return b.String()
}

// truncateQuote caps a quote at max bytes without splitting a
// multi-byte rune.
func truncateQuote(s string, max int) string {
	if len(s) <= max {
		return s
	}
	cut := max
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut] + "..."
}

// Analyze returns the input facts annotated with issues, suggested
// stages/roles and per-feature hour estimates. On completion failure
// the input is returned unchanged.
func (a *Analyzer) Analyze(ctx context.Context, facts ExtractedFacts, requirements []RequirementItem) ExtractedFacts {
	user := fmt.Sprintf(analysisUserPromptTemplate, condensedContext(facts), a.ragBlock(requirements))

	raw, err := a.llm.CompleteJSON(ctx, analysisSystemPrompt, user, "submit_analysis", analysisSchema())
	if err != nil {
		a.log.Error("analysis failed, returning facts unchanged", "error", err)
		return facts
	}
	result := NormalizeAnalysis(raw)

	facts.RequirementIssues = result.RequirementIssues
	facts.SuggestedStages = result.SuggestedStages
	facts.SuggestedRoles = result.SuggestedRoles
	applyEstimates(&facts, result.Estimates, a.defaultHours)
	return facts
}

// applyEstimates maps estimates onto every feature: exact text match
// first, then substring containment in either direction against every
// estimate key. Keys are sorted so the first-match-wins fallback is
// deterministic. Unmatched features get defaultHours.
func applyEstimates(facts *ExtractedFacts, estimates []FeatureEstimate, defaultHours int) {
	exact := make(map[string]int, len(estimates))
	keys := make([]string, 0, len(estimates))
	for _, est := range estimates {
		if _, dup := exact[est.FeatureText]; dup {
			continue
		}
		exact[est.FeatureText] = est.Hours
		keys = append(keys, est.FeatureText)
	}
	sort.Strings(keys)

	for _, cat := range facts.KeyFeatures.Categories() {
		features := facts.KeyFeatures.byName(cat)
		for i := range *features {
			f := &(*features)[i]
			hours := defaultHours
			if h, ok := exact[f.Text]; ok {
				hours = h
			} else {
				for _, key := range keys {
					if strings.Contains(f.Text, key) || strings.Contains(key, f.Text) {
						hours = exact[key]
						break
					}
				}
			}
			f.EstimatedHours = hours
			f.Category = cat
		}
	}
}
