package proposal

import (
	"strings"
	"testing"
	"unicode/utf8"
)

func featureHours(t *testing.T, facts ExtractedFacts, cat, text string) int {
	t.Helper()
	for _, f := range *facts.KeyFeatures.byName(cat) {
		if f.Text == text {
			return f.EstimatedHours
		}
	}
	t.Fatalf("feature %q not found in %s", text, cat)
	return 0
}

func TestApplyEstimatesExactMatch(t *testing.T) {
	facts := ExtractedFacts{KeyFeatures: KeyFeatures{
		Modules: []SourceText{{Text: "Order tracking"}},
	}}
	applyEstimates(&facts, []FeatureEstimate{{FeatureText: "Order tracking", Hours: 24}}, 5)
	if got := featureHours(t, facts, "modules", "Order tracking"); got != 24 {
		t.Fatalf("got %d hours, want 24", got)
	}
	if facts.KeyFeatures.Modules[0].Category != "modules" {
		t.Fatalf("category not annotated: %+v", facts.KeyFeatures.Modules[0])
	}
}

func TestApplyEstimatesSubstringFallback(t *testing.T) {
	facts := ExtractedFacts{KeyFeatures: KeyFeatures{
		Screens: []SourceText{{Text: "Admin dashboard with live metrics"}},
		Reports: []SourceText{{Text: "Экспорт"}},
	}}
	applyEstimates(&facts, []FeatureEstimate{
		{FeatureText: "Admin dashboard", Hours: 30},
		{FeatureText: "Weekly report exports and Экспорт feeds", Hours: 12},
	}, 5)
	// Estimate key contained in feature text.
	if got := featureHours(t, facts, "screens", "Admin dashboard with live metrics"); got != 30 {
		t.Fatalf("containment (key in feature): got %d, want 30", got)
	}
	// Feature text contained in estimate key.
	if got := featureHours(t, facts, "reports", "Экспорт"); got != 12 {
		t.Fatalf("containment (feature in key): got %d, want 12", got)
	}
}

func TestApplyEstimatesDefaultHours(t *testing.T) {
	facts := ExtractedFacts{KeyFeatures: KeyFeatures{
		NFR: []SourceText{{Text: "Works offline"}},
	}}
	applyEstimates(&facts, []FeatureEstimate{{FeatureText: "Completely unrelated", Hours: 99}}, 5)
	if got := featureHours(t, facts, "nfr", "Works offline"); got != 5 {
		t.Fatalf("got %d hours, want default 5", got)
	}
}

func TestApplyEstimatesConfiguredDefault(t *testing.T) {
	facts := ExtractedFacts{KeyFeatures: KeyFeatures{
		Modules: []SourceText{{Text: "Audit log"}},
	}}
	applyEstimates(&facts, nil, 8)
	if got := featureHours(t, facts, "modules", "Audit log"); got != 8 {
		t.Fatalf("got %d hours, want configured default 8", got)
	}
}

func TestApplyEstimatesFirstMatchDeterministic(t *testing.T) {
	// Two overlapping keys both match; the sorted-key order pins which
	// one wins regardless of map iteration.
	facts := ExtractedFacts{KeyFeatures: KeyFeatures{
		Modules: []SourceText{{Text: "User profile and settings module"}},
	}}
	estimates := []FeatureEstimate{
		{FeatureText: "settings", Hours: 8},
		{FeatureText: "profile", Hours: 20},
	}
	first := -1
	for i := 0; i < 25; i++ {
		f := facts
		f.KeyFeatures.Modules = []SourceText{{Text: "User profile and settings module"}}
		applyEstimates(&f, estimates, 5)
		got := f.KeyFeatures.Modules[0].EstimatedHours
		if first == -1 {
			first = got
		} else if got != first {
			t.Fatalf("fuzzy match not deterministic: %d then %d", first, got)
		}
	}
	// "profile" < "settings" lexicographically, so it must win.
	if first != 20 {
		t.Fatalf("got %d hours, want 20 from sorted first match", first)
	}
}

func TestTruncateQuoteKeepsRunesWhole(t *testing.T) {
	long := strings.Repeat("функциональные требования к системе ", 10)
	got := truncateQuote(long, 200)
	if !strings.HasSuffix(got, "...") {
		t.Fatalf("long quote not truncated: %q", got)
	}
	if !utf8.ValidString(got) {
		t.Fatalf("truncation split a rune: %q", got)
	}
	if len(got) > 203 {
		t.Fatalf("truncated quote too long: %d bytes", len(got))
	}
	if short := truncateQuote("короткая цитата", 200); short != "короткая цитата" {
		t.Fatalf("short quote modified: %q", short)
	}
}

func TestCondensedContextExcludesProvenance(t *testing.T) {
	facts := ExtractedFacts{
		ProjectEssence: SourceText{Text: "Inventory platform"},
		TechStack:      []SourceText{{Text: "Go", SourceQuote: "built in Go", PageNumber: 7}},
	}
	ctx := condensedContext(facts)
	if !strings.Contains(ctx, "Inventory platform") || !strings.Contains(ctx, "Go") {
		t.Fatalf("condensed context missing facts:\n%s", ctx)
	}
	if strings.Contains(ctx, "built in Go") || strings.Contains(ctx, "source_quote") {
		t.Fatalf("condensed context leaked provenance:\n%s", ctx)
	}
}
