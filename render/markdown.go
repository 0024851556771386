package render

import (
	"fmt"
	"strings"

	"github.com/outlawai/outlaw-service/types"
)

func (r *Renderer) renderMarkdown(report *types.Report) (*types.RenderedReport, error) {
	var b strings.Builder

	fmt.Fprintf(&b, "# %s\n\n", reportTitle)
	fmt.Fprintf(&b, "**Jurisdiction:** %s\n", report.Jurisdiction)
	fmt.Fprintf(&b, "**County:** %s\n", report.County)
	if !report.GeneratedAt.IsZero() {
		fmt.Fprintf(&b, "**Generated:** %s\n", report.GeneratedAt.Format(generatedAtLayout))
	}

	b.WriteString("\n## Case Facts\n\n")
	b.WriteString(report.Facts)
	b.WriteString("\n")

	b.WriteString("\n## Applicable Statutes\n")
	for _, statute := range report.Statutes {
		fmt.Fprintf(&b, "\n### %s: %s\n\n", statute.Citation, statute.Title)
		if statute.Summary != "" {
			b.WriteString(statute.Summary)
			b.WriteString("\n")
		}
		if len(statute.Elements) > 0 {
			b.WriteString("\n**Elements:**\n\n")
			for _, element := range statute.Elements {
				fmt.Fprintf(&b, "- **%s:** %s\n", element.Name, element.Description)
			}
		}
	}

	b.WriteString("\n## Procedural Rules\n\n")
	for _, rule := range report.Procedures {
		fmt.Fprintf(&b, "- **%s:** %s\n", rule.Name, rule.Description)
	}

	b.WriteString("\n## Risk Assessment\n\n")
	for _, risk := range report.Risks {
		fmt.Fprintf(&b, "- **%s:** %s\n", strings.ToUpper(risk.Severity), risk.Description)
		if risk.Mitigation != "" {
			fmt.Fprintf(&b, "  - Mitigation: %s\n", risk.Mitigation)
		}
	}

	b.WriteString("\n## Case Strength Score\n\n")
	fmt.Fprintf(&b, "- **Elements:** %d/100\n", report.Score.ElementScore)
	fmt.Fprintf(&b, "- **Evidence:** %d/100\n", report.Score.EvidenceScore)
	fmt.Fprintf(&b, "- **Clarity:** %d/100\n", report.Score.ClarityScore)
	fmt.Fprintf(&b, "- **Risk penalty:** -%d\n", report.Score.RiskPenalty)
	fmt.Fprintf(&b, "- **Overall:** %d/100\n", report.Score.Overall)

	return &types.RenderedReport{
		Body:        []byte(b.String()),
		ContentType: "text/markdown; charset=utf-8",
		Extension:   ".md",
		Attachment:  true,
	}, nil
}
