package proposal

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// The completion backend does not reliably honor schemas: lists appear
// where objects are expected, field names drift (role vs role_name),
// and values sometimes arrive as printed object representations. All
// shape reconciliation lives here, between raw JSON and typed domain
// objects, as pure functions per known variant.

var reprTextRe = regexp.MustCompile(`(?i)(?:text|feature)\s*[:=]\s*['"](.*?)['"]`)

func cleanReprString(s string) (string, bool) {
	if m := reprTextRe.FindStringSubmatch(s); m != nil {
		return m[1], true
	}
	if len(s) > 1 {
		if (strings.HasPrefix(s, "'") && strings.HasSuffix(s, "'")) ||
			(strings.HasPrefix(s, `"`) && strings.HasSuffix(s, `"`)) {
			return s[1 : len(s)-1], true
		}
	}
	return "", false
}

func asString(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(t)
	default:
		return fmt.Sprintf("%v", t)
	}
}

func asInt(v any) (int, bool) {
	switch t := v.(type) {
	case float64:
		return int(t), true
	case int:
		return t, true
	case string:
		if i, err := strconv.Atoi(strings.TrimSpace(t)); err == nil {
			return i, true
		}
	}
	return 0, false
}

func asList(v any) ([]any, bool) {
	l, ok := v.([]any)
	return l, ok
}

func asMap(v any) (map[string]any, bool) {
	m, ok := v.(map[string]any)
	return m, ok
}

// NormalizeSourceText converts any of the observed value shapes into a
// SourceText.
func NormalizeSourceText(v any) SourceText {
	switch t := v.(type) {
	case nil:
		return SourceText{}
	case string:
		if cleaned, ok := cleanReprString(t); ok {
			return SourceText{Text: strings.TrimSpace(cleaned)}
		}
		return SourceText{Text: strings.TrimSpace(t)}
	case []any:
		if len(t) == 0 {
			return SourceText{}
		}
		return NormalizeSourceText(t[0])
	case map[string]any:
		raw := t["text"]
		if raw == nil {
			raw = t["name"]
		}
		if raw == nil {
			raw = t["value"]
		}
		text := ""
		switch rt := raw.(type) {
		case []any:
			if len(rt) > 0 {
				text = asString(rt[0])
			}
		default:
			text = asString(raw)
		}
		if cleaned, ok := cleanReprString(text); ok {
			text = cleaned
		}
		out := SourceText{Text: strings.TrimSpace(text)}
		if q := asString(t["source_quote"]); q != "" {
			out.SourceQuote = q
		}
		if p, ok := asInt(t["page_number"]); ok {
			out.PageNumber = p
		}
		return out
	default:
		return SourceText{Text: strings.TrimSpace(asString(v))}
	}
}

func normalizeSourceTextList(v any) []SourceText {
	items, ok := asList(v)
	if !ok {
		return nil
	}
	out := make([]SourceText, 0, len(items))
	for _, item := range items {
		out = append(out, NormalizeSourceText(item))
	}
	return out
}

// normalizeKeyFeatures accepts either the categorized object or a flat
// list of feature entries (a frequent completion mistake); flat lists
// land in the modules category.
func normalizeKeyFeatures(v any) KeyFeatures {
	var out KeyFeatures

	if items, ok := asList(v); ok {
		for _, item := range items {
			text := ""
			if m, ok := asMap(item); ok {
				text = asString(m["feature"])
				if text == "" {
					text = asString(m["text"])
				}
				if text == "" && m["name"] != nil && m["description"] != nil {
					text = asString(m["name"]) + ": " + asString(m["description"])
				}
				if text == "" {
					parts := []string{}
					for k, val := range m {
						if k == "category" || k == "source" || k == "estimated_hours" || k == "hours" {
							continue
						}
						parts = append(parts, asString(val))
					}
					text = strings.TrimSpace(strings.Join(parts, " "))
				}
			} else {
				text = asString(item)
			}
			if text != "" {
				out.Modules = append(out.Modules, SourceText{Text: strings.TrimSpace(text)})
			}
		}
		return out
	}

	m, ok := asMap(v)
	if !ok {
		return out
	}
	for _, cat := range out.Categories() {
		if list := normalizeSourceTextList(m[cat]); list != nil {
			*out.byName(cat) = list
		}
	}
	return out
}

// NormalizeFacts converts a raw completion object into ExtractedFacts.
func NormalizeFacts(m map[string]any) ExtractedFacts {
	if m == nil {
		return ExtractedFacts{}
	}
	out := ExtractedFacts{
		Reasoning:          asString(m["reasoning"]),
		ClientName:         NormalizeSourceText(m["client_name"]),
		ProjectEssence:     NormalizeSourceText(m["project_essence"]),
		ProjectType:        NormalizeSourceText(m["project_type"]),
		BusinessGoals:      normalizeSourceTextList(m["business_goals"]),
		TechStack:          normalizeSourceTextList(m["tech_stack"]),
		ClientIntegrations: normalizeSourceTextList(m["client_integrations"]),
		KeyFeatures:        normalizeKeyFeatures(m["key_features"]),
	}
	return out
}

// NormalizeRequirementItems converts the analysis completion's items
// list into RequirementItems, dropping entries without a summary or
// search query.
func NormalizeRequirementItems(v any) []RequirementItem {
	items, ok := asList(v)
	if !ok {
		return nil
	}
	out := make([]RequirementItem, 0, len(items))
	for _, raw := range items {
		m, ok := asMap(raw)
		if !ok {
			continue
		}
		item := RequirementItem{
			Category:    strings.TrimSpace(asString(m["category"])),
			Summary:     strings.TrimSpace(asString(m["summary"])),
			SearchQuery: strings.TrimSpace(asString(m["search_query"])),
			Importance:  strings.TrimSpace(asString(m["importance"])),
		}
		if item.Summary == "" && item.SearchQuery == "" {
			continue
		}
		out = append(out, item)
	}
	return out
}

func normalizeIssue(v any) (RequirementIssue, bool) {
	if s, ok := v.(string); ok {
		s = strings.TrimSpace(s)
		if s == "" {
			return RequirementIssue{}, false
		}
		return RequirementIssue{
			Type:     "questionable",
			Field:    "key_features",
			Category: "general",
			ItemText: s,
			Reason:   "Extracted as text",
		}, true
	}

	m, ok := asMap(v)
	if !ok {
		return RequirementIssue{}, false
	}
	issue := RequirementIssue{
		Type:     asString(m["type"]),
		Field:    asString(m["field"]),
		Category: asString(m["category"]),
		ItemText: asString(m["item_text"]),
		Source:   asString(m["source"]),
		Reason:   asString(m["reason"]),
	}
	if cleaned, ok := cleanReprString(issue.ItemText); ok {
		issue.ItemText = cleaned
	}
	if issue.Type == "" {
		issue.Type = "questionable"
	}
	if issue.Field == "" {
		issue.Field = "key_features"
	}
	if issue.Category == "" {
		issue.Category = "general"
	}
	if issue.Reason == "" {
		issue.Reason = "No reason provided"
	}
	return issue, true
}

func normalizeEstimates(v any) []FeatureEstimate {
	// Dict form {"Feature": 10} is common.
	if m, ok := asMap(v); ok {
		out := make([]FeatureEstimate, 0, len(m))
		for key, val := range m {
			hours, ok := asInt(val)
			if !ok {
				hours = 5
			}
			out = append(out, FeatureEstimate{FeatureText: key, Hours: hours})
		}
		return out
	}

	items, ok := asList(v)
	if !ok {
		return nil
	}
	out := make([]FeatureEstimate, 0, len(items))
	for _, raw := range items {
		m, ok := asMap(raw)
		if !ok {
			continue
		}
		text := asString(m["feature_text"])
		if text == "" {
			text = asString(m["feature"])
		}
		if text == "" {
			text = asString(m["text"])
		}
		if text == "" {
			continue
		}
		hours, ok := asInt(m["hours"])
		if !ok {
			hours = 5
		}
		out = append(out, FeatureEstimate{FeatureText: text, Hours: hours})
	}
	return out
}

func normalizeStringList(v any) []string {
	items, ok := asList(v)
	if !ok {
		return nil
	}
	out := make([]string, 0, len(items))
	for _, item := range items {
		if s := strings.TrimSpace(asString(item)); s != "" {
			out = append(out, s)
		}
	}
	return out
}

// NormalizeAnalysis converts the raw analysis completion into an
// AnalysisResult.
func NormalizeAnalysis(m map[string]any) AnalysisResult {
	var out AnalysisResult
	if m == nil {
		return out
	}
	if issues, ok := asList(m["requirement_issues"]); ok {
		for _, raw := range issues {
			if issue, ok := normalizeIssue(raw); ok {
				out.RequirementIssues = append(out.RequirementIssues, issue)
			}
		}
	}
	out.SuggestedStages = normalizeStringList(m["suggested_stages"])
	out.SuggestedRoles = normalizeStringList(m["suggested_roles"])
	out.Estimates = normalizeEstimates(m["estimates"])
	return out
}

// NormalizeBudget converts the budget completion's stage list into a
// sparse stage→role→hours map, tolerating the usual field-name drift.
func NormalizeBudget(m map[string]any) map[string]map[string]int {
	out := map[string]map[string]int{}
	if m == nil {
		return out
	}
	stages, ok := asList(m["stages"])
	if !ok {
		return out
	}
	for _, raw := range stages {
		sm, ok := asMap(raw)
		if !ok {
			continue
		}
		stageName := asString(sm["stage_name"])
		if stageName == "" {
			stageName = asString(sm["name"])
		}
		if stageName == "" {
			stageName = asString(sm["stage"])
		}
		if stageName == "" {
			continue
		}

		rolesRaw := sm["role_estimates"]
		if rolesRaw == nil {
			rolesRaw = sm["roles"]
		}
		roles, ok := asList(rolesRaw)
		if !ok {
			continue
		}

		row := out[stageName]
		if row == nil {
			row = map[string]int{}
			out[stageName] = row
		}
		for _, rraw := range roles {
			rm, ok := asMap(rraw)
			if !ok {
				continue
			}
			roleName := asString(rm["role_name"])
			if roleName == "" {
				roleName = asString(rm["role"])
			}
			if roleName == "" {
				continue
			}
			hours, _ := asInt(rm["hours"])
			row[roleName] = hours
		}
	}
	return out
}
