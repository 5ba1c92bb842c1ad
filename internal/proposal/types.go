// Package proposal implements the document-analysis pipeline behind
// proposal drafting: chunk splitting, per-chunk extraction, the
// deterministic merge, reverse-RAG requirement refinement, project
// analysis and budget estimation.
package proposal

// ChunkDef is a half-open byte range [Start, End) into a parsed
// markdown blob. Chunks never materialize text eagerly; consumers
// re-open the source file and slice bytes.
type ChunkDef struct {
	SourceRef string `json:"file_path"`
	Start     int    `json:"start"`
	End       int    `json:"end"`
}

// SourceText is the atomic unit of every extracted fact. Absence of a
// value is represented by omission, never by a placeholder string.
type SourceText struct {
	Text           string `json:"text"`
	SourceQuote    string `json:"source_quote,omitempty"`
	PageNumber     int    `json:"page_number,omitempty"`
	EstimatedHours int    `json:"estimated_hours,omitempty"`
	Category       string `json:"category,omitempty"`
}

// KeyFeatures groups extracted functionality into a fixed, closed set
// of categories.
type KeyFeatures struct {
	Modules      []SourceText `json:"modules"`
	Screens      []SourceText `json:"screens"`
	Reports      []SourceText `json:"reports"`
	Integrations []SourceText `json:"integrations"`
	NFR          []SourceText `json:"nfr"`
}

// Categories returns the category names in their canonical order.
func (KeyFeatures) Categories() []string {
	return []string{"modules", "screens", "reports", "integrations", "nfr"}
}

func (k *KeyFeatures) byName(name string) *[]SourceText {
	switch name {
	case "modules":
		return &k.Modules
	case "screens":
		return &k.Screens
	case "reports":
		return &k.Reports
	case "integrations":
		return &k.Integrations
	case "nfr":
		return &k.NFR
	}
	return nil
}

// ExtractedFacts is the structured result of one extraction pass.
// Per-chunk instances are merged into a single document-level instance
// which later stages annotate in place.
type ExtractedFacts struct {
	Reasoning          string       `json:"reasoning,omitempty"`
	ClientName         SourceText   `json:"client_name"`
	ProjectEssence     SourceText   `json:"project_essence"`
	ProjectType        SourceText   `json:"project_type"`
	BusinessGoals      []SourceText `json:"business_goals"`
	TechStack          []SourceText `json:"tech_stack"`
	ClientIntegrations []SourceText `json:"client_integrations"`
	KeyFeatures        KeyFeatures  `json:"key_features"`

	// Populated by the analysis phase.
	RequirementIssues []RequirementIssue `json:"requirement_issues,omitempty"`
	SuggestedStages   []string           `json:"suggested_stages,omitempty"`
	SuggestedRoles    []string           `json:"suggested_roles,omitempty"`
}

// RequirementItem is an analyst-level finding. SearchQuery is a
// verbatim excerpt meant for nearest-neighbor lookup; SourceText,
// PageNumber and Confidence are filled by the reverse-RAG refiner.
type RequirementItem struct {
	Category    string  `json:"category"`
	Summary     string  `json:"summary"`
	SearchQuery string  `json:"search_query"`
	Importance  string  `json:"importance"`
	SourceText  string  `json:"source_text,omitempty"`
	PageNumber  int     `json:"page_number,omitempty"`
	Confidence  float64 `json:"confidence_score,omitempty"`
}

type RequirementIssue struct {
	Type     string `json:"type"`
	Field    string `json:"field"`
	Category string `json:"category"`
	ItemText string `json:"item_text"`
	Source   string `json:"source,omitempty"`
	Reason   string `json:"reason"`
}

// FeatureEstimate pairs a feature text with an hour estimate, as
// returned by the analysis completion.
type FeatureEstimate struct {
	FeatureText string `json:"feature_text"`
	Hours       int    `json:"hours"`
}

// AnalysisResult is the typed output of the project-analysis
// completion.
type AnalysisResult struct {
	RequirementIssues []RequirementIssue `json:"requirement_issues"`
	SuggestedStages   []string           `json:"suggested_stages"`
	SuggestedRoles    []string           `json:"suggested_roles"`
	Estimates         []FeatureEstimate  `json:"estimates"`
}

// BudgetMatrix maps stage name to role name to hours. It is always
// dense over the agreed stage and role lists.
type BudgetMatrix map[string]map[string]int

// ZeroBudgetMatrix returns an all-zero dense matrix over the given
// stage and role lists.
func ZeroBudgetMatrix(stages, roles []string) BudgetMatrix {
	out := make(BudgetMatrix, len(stages))
	for _, stage := range stages {
		row := make(map[string]int, len(roles))
		for _, role := range roles {
			row[role] = 0
		}
		out[stage] = row
	}
	return out
}
