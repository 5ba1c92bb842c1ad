package proposal

import "strings"

// Placeholder values the completion backend emits despite being told
// not to. They never survive a merge.
var (
	clientNameDenyList = []string{
		"", "Unknown Client", "Unknown", "Не указан", "Нет", "N/A", "n/a", "Client Name",
	}
	projectTypeDenyList = []string{"", "Other", "Unknown"}
	essenceDenyList     = []string{"", "Unknown Essence", "N/A"}
)

func inDenyList(text string, deny []string) bool {
	trimmed := strings.TrimSpace(text)
	for _, d := range deny {
		if strings.EqualFold(trimmed, d) {
			return true
		}
	}
	return false
}

// voteBest filters out deny-listed candidates, then picks the most
// frequent trimmed value; ties break toward first occurrence. Returns
// the original candidate so provenance fields survive.
func voteBest(candidates []SourceText, deny []string) (SourceText, bool) {
	type entry struct {
		count int
		first int
	}
	counts := map[string]*entry{}
	valid := []SourceText{}

	for _, c := range candidates {
		if inDenyList(c.Text, deny) {
			continue
		}
		key := strings.TrimSpace(c.Text)
		if e, ok := counts[key]; ok {
			e.count++
		} else {
			counts[key] = &entry{count: 1, first: len(valid)}
		}
		valid = append(valid, c)
	}
	if len(valid) == 0 {
		return SourceText{}, false
	}

	bestKey := ""
	var best *entry
	for key, e := range counts {
		if best == nil || e.count > best.count || (e.count == best.count && e.first < best.first) {
			best = e
			bestKey = key
		}
	}

	for _, c := range valid {
		if strings.TrimSpace(c.Text) == bestKey {
			return c, true
		}
	}
	return valid[0], true
}

// scoreEssence favors longer text but penalizes generic document
// openings.
func scoreEssence(st SourceText) int {
	t := st.Text
	score := len(t)
	lower := strings.ToLower(strings.TrimSpace(t))
	if strings.HasPrefix(lower, "this document") || strings.HasPrefix(lower, "данный документ") {
		score -= 50
	}
	return score
}

// mergeTextLists concatenates lists preserving first-seen order and
// deduplicates by case-insensitive trimmed equality; the first
// occurrence wins and keeps its provenance.
func mergeTextLists(lists ...[]SourceText) []SourceText {
	seen := map[string]bool{}
	merged := []SourceText{}
	for _, list := range lists {
		for _, item := range list {
			clean := strings.TrimSpace(item.Text)
			if clean == "" {
				continue
			}
			key := strings.ToLower(clean)
			if seen[key] {
				continue
			}
			seen[key] = true
			merged = append(merged, item)
		}
	}
	return merged
}

// Merge deterministically combines partial extraction results into one
// document-level ExtractedFacts. It never fails: malformed partials
// simply contribute empty fields.
func Merge(parts []ExtractedFacts) ExtractedFacts {
	var out ExtractedFacts

	clientNames := make([]SourceText, 0, len(parts))
	projectTypes := make([]SourceText, 0, len(parts))
	for _, p := range parts {
		clientNames = append(clientNames, p.ClientName)
		projectTypes = append(projectTypes, p.ProjectType)
	}

	if best, ok := voteBest(clientNames, clientNameDenyList); ok {
		out.ClientName = best
	}
	if best, ok := voteBest(projectTypes, projectTypeDenyList); ok {
		out.ProjectType = best
	}

	bestEssenceScore := 0
	haveEssence := false
	for _, p := range parts {
		if inDenyList(p.ProjectEssence.Text, essenceDenyList) {
			continue
		}
		score := scoreEssence(p.ProjectEssence)
		if !haveEssence || score > bestEssenceScore {
			out.ProjectEssence = p.ProjectEssence
			bestEssenceScore = score
			haveEssence = true
		}
	}

	goals := make([][]SourceText, 0, len(parts))
	stack := make([][]SourceText, 0, len(parts))
	integrations := make([][]SourceText, 0, len(parts))
	for _, p := range parts {
		goals = append(goals, p.BusinessGoals)
		stack = append(stack, p.TechStack)
		integrations = append(integrations, p.ClientIntegrations)
	}
	out.BusinessGoals = mergeTextLists(goals...)
	out.TechStack = mergeTextLists(stack...)
	out.ClientIntegrations = mergeTextLists(integrations...)

	for _, cat := range out.KeyFeatures.Categories() {
		lists := make([][]SourceText, 0, len(parts))
		for i := range parts {
			lists = append(lists, *parts[i].KeyFeatures.byName(cat))
		}
		*out.KeyFeatures.byName(cat) = mergeTextLists(lists...)
	}

	return out
}
