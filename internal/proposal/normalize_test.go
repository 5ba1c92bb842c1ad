package proposal

import (
	"encoding/json"
	"reflect"
	"testing"
)

func decodeJSON(t *testing.T, raw string) map[string]any {
	t.Helper()
	var m map[string]any
	if err := json.Unmarshal([]byte(raw), &m); err != nil {
		t.Fatalf("bad test JSON: %v", err)
	}
	return m
}

func TestNormalizeSourceTextVariants(t *testing.T) {
	cases := []struct {
		name string
		in   any
		want string
	}{
		{"nil", nil, ""},
		{"plain string", "  CRM system  ", "CRM system"},
		{"repr string", `text='Inventory module' source='p3'`, "Inventory module"},
		{"quoted string", `'Billing'`, "Billing"},
		{"object", map[string]any{"text": "Reports"}, "Reports"},
		{"object name key", map[string]any{"name": "Admin panel"}, "Admin panel"},
		{"object value key", map[string]any{"value": "SSO"}, "SSO"},
		{"object with list text", map[string]any{"text": []any{"first", "second"}}, "first"},
		{"list takes first", []any{map[string]any{"text": "one"}, "two"}, "one"},
		{"number", float64(42), "42"},
	}
	for _, tc := range cases {
		if got := NormalizeSourceText(tc.in).Text; got != tc.want {
			t.Fatalf("%s: got %q, want %q", tc.name, got, tc.want)
		}
	}
}

func TestNormalizeSourceTextKeepsProvenance(t *testing.T) {
	in := map[string]any{"text": "AES-256 encryption", "source_quote": "uses AES-256", "page_number": float64(4)}
	got := NormalizeSourceText(in)
	want := SourceText{Text: "AES-256 encryption", SourceQuote: "uses AES-256", PageNumber: 4}
	if got != want {
		t.Fatalf("got %+v, want %+v", got, want)
	}
}

func TestNormalizeFactsKeyFeaturesFlatList(t *testing.T) {
	m := decodeJSON(t, `{
		"key_features": [
			{"feature": "Order tracking"},
			{"name": "Reports", "description": "weekly exports"},
			"Plain feature"
		]
	}`)
	facts := NormalizeFacts(m)
	got := textsOf(facts.KeyFeatures.Modules)
	want := []string{"Order tracking", "Reports: weekly exports", "Plain feature"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("got %v, want %v", got, want)
	}
}

func TestNormalizeFactsCategorizedKeyFeatures(t *testing.T) {
	m := decodeJSON(t, `{
		"client_name": "Acme",
		"key_features": {
			"modules": [{"text": "Orders"}],
			"nfr": ["Offline mode"]
		}
	}`)
	facts := NormalizeFacts(m)
	if facts.ClientName.Text != "Acme" {
		t.Fatalf("client name: %q", facts.ClientName.Text)
	}
	if got := textsOf(facts.KeyFeatures.Modules); !reflect.DeepEqual(got, []string{"Orders"}) {
		t.Fatalf("modules: %v", got)
	}
	if got := textsOf(facts.KeyFeatures.NFR); !reflect.DeepEqual(got, []string{"Offline mode"}) {
		t.Fatalf("nfr: %v", got)
	}
}

func TestNormalizeAnalysisEstimateShapes(t *testing.T) {
	asDict := decodeJSON(t, `{"estimates": {"Order tracking": 12, "Reports": 8}}`)
	got := NormalizeAnalysis(asDict).Estimates
	if len(got) != 2 {
		t.Fatalf("dict estimates: got %d entries", len(got))
	}
	found := map[string]int{}
	for _, e := range got {
		found[e.FeatureText] = e.Hours
	}
	if found["Order tracking"] != 12 || found["Reports"] != 8 {
		t.Fatalf("dict estimates mismatch: %v", found)
	}

	asList := decodeJSON(t, `{"estimates": [
		{"feature_text": "Orders", "hours": 10},
		{"feature": "Billing", "hours": 6},
		{"text": "Search"}
	]}`)
	list := NormalizeAnalysis(asList).Estimates
	want := []FeatureEstimate{
		{FeatureText: "Orders", Hours: 10},
		{FeatureText: "Billing", Hours: 6},
		{FeatureText: "Search", Hours: 5},
	}
	if !reflect.DeepEqual(list, want) {
		t.Fatalf("list estimates: got %v, want %v", list, want)
	}
}

func TestNormalizeAnalysisIssueShapes(t *testing.T) {
	m := decodeJSON(t, `{"requirement_issues": [
		"System must work offline",
		{"item_text": "text='Payment limits unclear' source='p2'", "reason": "ambiguous"}
	]}`)
	issues := NormalizeAnalysis(m).RequirementIssues
	if len(issues) != 2 {
		t.Fatalf("got %d issues", len(issues))
	}
	if issues[0].ItemText != "System must work offline" {
		t.Fatalf("string issue: %+v", issues[0])
	}
	if issues[1].ItemText != "Payment limits unclear" {
		t.Fatalf("repr cleanup failed: %q", issues[1].ItemText)
	}
}

func TestNormalizeBudgetAliases(t *testing.T) {
	m := decodeJSON(t, `{"stages": [
		{"stage_name": "Development", "role_estimates": [
			{"role_name": "Backend", "hours": 40}
		]},
		{"name": "Testing", "roles": [
			{"role": "QA", "hours": 16}
		]}
	]}`)
	got := NormalizeBudget(m)
	want := map[string]map[string]int{
		"Development": {"Backend": 40},
		"Testing":     {"QA": 16},
	}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("got %v, want %v", got, want)
	}
}

func TestNormalizeRequirementItemsDropsEmpty(t *testing.T) {
	items := NormalizeRequirementItems([]any{
		map[string]any{"category": "Security", "summary": "Encryption", "search_query": "AES-256", "importance": "High"},
		map[string]any{"category": "noise"},
		"not an object",
	})
	if len(items) != 1 {
		t.Fatalf("got %d items, want 1", len(items))
	}
	if items[0].SearchQuery != "AES-256" {
		t.Fatalf("item: %+v", items[0])
	}
}
