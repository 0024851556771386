package render

import (
	"fmt"
	"strings"

	"github.com/outlawai/outlaw-service/types"
)

const (
	textRuleHeavy = "======================================================================"
	textRuleLight = "----------------------------------------------------------------------"
)

func (r *Renderer) renderText(report *types.Report) (*types.RenderedReport, error) {
	var b strings.Builder

	b.WriteString(textRuleHeavy + "\n")
	b.WriteString(strings.ToUpper(reportTitle) + "\n")
	b.WriteString(textRuleHeavy + "\n\n")

	fmt.Fprintf(&b, "Jurisdiction: %s\n", report.Jurisdiction)
	fmt.Fprintf(&b, "County: %s\n", report.County)
	if !report.GeneratedAt.IsZero() {
		fmt.Fprintf(&b, "Generated: %s\n", report.GeneratedAt.Format(generatedAtLayout))
	}

	writeTextSection(&b, "CASE FACTS")
	b.WriteString(report.Facts)
	b.WriteString("\n")

	writeTextSection(&b, "APPLICABLE STATUTES")
	for i, statute := range report.Statutes {
		if i > 0 {
			b.WriteString("\n")
		}
		fmt.Fprintf(&b, "%s: %s\n", statute.Citation, statute.Title)
		if statute.Summary != "" {
			fmt.Fprintf(&b, "  %s\n", statute.Summary)
		}
		for _, element := range statute.Elements {
			fmt.Fprintf(&b, "  * %s: %s\n", element.Name, element.Description)
		}
	}

	writeTextSection(&b, "PROCEDURAL RULES")
	for _, rule := range report.Procedures {
		fmt.Fprintf(&b, "%s: %s\n", rule.Name, rule.Description)
	}

	writeTextSection(&b, "RISK ASSESSMENT")
	for _, risk := range report.Risks {
		fmt.Fprintf(&b, "[%s] %s\n", strings.ToUpper(risk.Severity), risk.Description)
		if risk.Mitigation != "" {
			fmt.Fprintf(&b, "  Mitigation: %s\n", risk.Mitigation)
		}
	}

	writeTextSection(&b, "CASE STRENGTH SCORE")
	fmt.Fprintf(&b, "Elements:     %d/100\n", report.Score.ElementScore)
	fmt.Fprintf(&b, "Evidence:     %d/100\n", report.Score.EvidenceScore)
	fmt.Fprintf(&b, "Clarity:      %d/100\n", report.Score.ClarityScore)
	fmt.Fprintf(&b, "Risk penalty: -%d\n", report.Score.RiskPenalty)
	fmt.Fprintf(&b, "Overall:      %d/100\n", report.Score.Overall)
	b.WriteString(textRuleHeavy + "\n")

	return &types.RenderedReport{
		Body:        []byte(b.String()),
		ContentType: "text/plain; charset=utf-8",
		Extension:   ".txt",
		Attachment:  true,
	}, nil
}

func writeTextSection(b *strings.Builder, title string) {
	b.WriteString("\n" + title + "\n")
	b.WriteString(textRuleLight + "\n")
}
