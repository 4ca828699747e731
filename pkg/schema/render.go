package schema

import (
	"fmt"
	"strings"
)

// RenderMarkdown returns a prompt-friendly markdown summary of the tables, join rules
// and metric tags. The output is deterministic for a given catalog.
func (c *Catalog) RenderMarkdown() string {
	var sb strings.Builder

	sb.WriteString("### Core Tables\n")
	for _, t := range c.tables {
		fmt.Fprintf(&sb, "- **%s**: %s\n", t.Name, t.Description)
		pk := "n/a"
		if len(t.PrimaryKeys) > 0 {
			pk = strings.Join(t.PrimaryKeys, ", ")
		}
		fmt.Fprintf(&sb, "  Primary keys: %s\n", pk)
		sb.WriteString("  Columns:\n")
		for _, col := range t.Columns {
			fmt.Fprintf(&sb, "    - `%s` – %s\n", col.Name, col.Description)
		}
		if len(t.SampleFilters) > 0 {
			sb.WriteString("  Sample filters:\n")
			for _, f := range t.SampleFilters {
				fmt.Fprintf(&sb, "    - `%s`\n", f)
			}
		}
	}

	if len(c.joinGuidance) > 0 {
		sb.WriteString("\n### Join Guidance\n")
		for _, line := range c.joinGuidance {
			fmt.Fprintf(&sb, "- %s\n", line)
		}
	}

	if len(c.metrics) > 0 {
		sb.WriteString("\n### Common Metric Tags\n")
		for _, m := range c.metrics {
			fmt.Fprintf(&sb, "- **%s**: %s\n", m.Name, strings.Join(m.Tags, ", "))
		}
	}

	if len(c.sectorNames) > 0 {
		sb.WriteString("\n### GICS Sectors\n")
		fmt.Fprintf(&sb, "%s\n", strings.Join(c.sectorNames, ", "))
	}

	return sb.String()
}
