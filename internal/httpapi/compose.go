package httpapi

import (
	"fmt"
	"strings"

	"github.com/trpg-tools/lorekeeper/internal/entity"
)

// buildTransientContext assembles the per-turn context block: explicit
// context text, then the selected subprompts, then the selected game
// records, then records matched through the subprompts' and items'
// reference tags. The result rides along with one send and is never
// persisted into the transcript.
func (s *Server) buildTransientContext(projectID, base string, subRefs []subpromptRef, itemRefs []itemRef) (string, error) {
	sections := []string{}
	if trimmed := strings.TrimSpace(base); trimmed != "" {
		sections = append(sections, trimmed)
	}

	referenceTags := []string{}

	if len(subRefs) > 0 {
		if projectID == "" {
			return "", fmt.Errorf("subprompt references require a bound project")
		}
		collection, err := s.subprompts.Load(projectID)
		if err != nil {
			return "", err
		}
		for _, ref := range subRefs {
			sp, ok := collection[ref.Category][ref.Name]
			if !ok {
				return "", fmt.Errorf("no such subprompt: %s/%s", ref.Category, ref.Name)
			}
			sections = append(sections, fmt.Sprintf("## %s - %s\n%s", ref.Category, ref.Name, strings.TrimSpace(sp.Prompt)))
			referenceTags = append(referenceTags, sp.ReferenceTags...)
		}
	}

	selectedIDs := map[string]bool{}
	if len(itemRefs) > 0 {
		if projectID == "" {
			return "", fmt.Errorf("item references require a bound project")
		}
		var sb strings.Builder
		sb.WriteString("## Selected data\n")
		for _, ref := range itemRefs {
			item, err := s.entities.GetItem(projectID, ref.Category, ref.ID)
			if err != nil {
				return "", fmt.Errorf("item %s/%s: %w", ref.Category, ref.ID, err)
			}
			selectedIDs[item.ID] = true
			referenceTags = append(referenceTags, item.ReferenceTags...)
			writeItemSection(&sb, ref.Category, item, nil)
		}
		sections = append(sections, strings.TrimRight(sb.String(), "\n"))
	}

	if len(referenceTags) > 0 {
		matches, err := s.entities.FindItemsByTags(projectID, dedup(referenceTags), entity.SearchAny, true)
		if err != nil {
			return "", err
		}

		var sb strings.Builder
		wrote := false
		for _, match := range matches {
			if selectedIDs[match.ID] {
				continue
			}
			if !wrote {
				sb.WriteString("## Tag-related information\n")
				wrote = true
			}
			writeItemSection(&sb, match.Category, match.Item, match.RecentHistory)
		}
		if wrote {
			sections = append(sections, strings.TrimRight(sb.String(), "\n"))
		}
	}

	return strings.Join(sections, "\n\n"), nil
}

func writeItemSection(sb *strings.Builder, category string, item entity.Item, recentHistory []string) {
	fmt.Fprintf(sb, "### %s - %s\n", category, item.Name)
	description := item.Description
	if description == "" {
		description = "(no description)"
	}
	fmt.Fprintf(sb, "  - Description: %s\n", description)
	if len(item.Tags) > 0 {
		fmt.Fprintf(sb, "  - Tags: %s\n", strings.Join(item.Tags, ", "))
	}
	if len(recentHistory) > 0 {
		sb.WriteString("  - Recent history:\n")
		for _, entry := range recentHistory {
			fmt.Fprintf(sb, "    - %s\n", entry)
		}
	}
}

func dedup(in []string) []string {
	seen := map[string]bool{}
	out := make([]string, 0, len(in))
	for _, v := range in {
		if v == "" || seen[v] {
			continue
		}
		seen[v] = true
		out = append(out, v)
	}
	return out
}
