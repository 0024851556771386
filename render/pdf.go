package render

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/go-pdf/fpdf"

	"github.com/outlawai/outlaw-service/types"
)

func (r *Renderer) renderPDF(report *types.Report) (*types.RenderedReport, error) {
	pdf := fpdf.New("P", "mm", "A4", "")
	pdf.SetTitle(reportTitle, true)
	pdf.SetAutoPageBreak(true, 15)

	// Core fonts are cp1252; the translator keeps characters like the
	// section sign in statute citations readable.
	tr := pdf.UnicodeTranslatorFromDescriptor("")

	pdf.AddPage()

	pdf.SetFont("Helvetica", "B", 18)
	pdf.CellFormat(0, 12, tr(reportTitle), "", 1, "C", false, 0, "")

	pdf.SetFont("Helvetica", "", 11)
	pdf.CellFormat(0, 6, tr(fmt.Sprintf("%s County, %s", report.County, report.Jurisdiction)), "", 1, "C", false, 0, "")
	if !report.GeneratedAt.IsZero() {
		pdf.SetFont("Helvetica", "I", 9)
		pdf.CellFormat(0, 5, tr("Generated "+report.GeneratedAt.Format(generatedAtLayout)), "", 1, "C", false, 0, "")
	}
	pdf.Ln(4)

	writePDFHeading(pdf, tr, "Case Facts")
	pdf.MultiCell(0, 5, tr(report.Facts), "", "L", false)

	if len(report.Statutes) > 0 {
		writePDFHeading(pdf, tr, "Applicable Statutes")
		for _, statute := range report.Statutes {
			pdf.SetFont("Helvetica", "B", 11)
			pdf.MultiCell(0, 5, tr(fmt.Sprintf("%s: %s", statute.Citation, statute.Title)), "", "L", false)
			pdf.SetFont("Helvetica", "", 11)
			if statute.Summary != "" {
				pdf.MultiCell(0, 5, tr(statute.Summary), "", "L", false)
			}
			for _, element := range statute.Elements {
				pdf.MultiCell(0, 5, tr(fmt.Sprintf("- %s: %s", element.Name, element.Description)), "", "L", false)
			}
			pdf.Ln(2)
		}
	}

	if len(report.Procedures) > 0 {
		writePDFHeading(pdf, tr, "Procedural Rules")
		for _, rule := range report.Procedures {
			pdf.MultiCell(0, 5, tr(fmt.Sprintf("%s: %s", rule.Name, rule.Description)), "", "L", false)
		}
	}

	if len(report.Risks) > 0 {
		writePDFHeading(pdf, tr, "Risk Assessment")
		for _, risk := range report.Risks {
			pdf.MultiCell(0, 5, tr(fmt.Sprintf("[%s] %s", strings.ToUpper(risk.Severity), risk.Description)), "", "L", false)
			if risk.Mitigation != "" {
				pdf.SetFont("Helvetica", "I", 10)
				pdf.MultiCell(0, 5, tr("Mitigation: "+risk.Mitigation), "", "L", false)
				pdf.SetFont("Helvetica", "", 11)
			}
		}
	}

	writePDFHeading(pdf, tr, "Case Strength Score")
	pdf.CellFormat(0, 6, tr(fmt.Sprintf("Elements: %d/100", report.Score.ElementScore)), "", 1, "L", false, 0, "")
	pdf.CellFormat(0, 6, tr(fmt.Sprintf("Evidence: %d/100", report.Score.EvidenceScore)), "", 1, "L", false, 0, "")
	pdf.CellFormat(0, 6, tr(fmt.Sprintf("Clarity: %d/100", report.Score.ClarityScore)), "", 1, "L", false, 0, "")
	pdf.CellFormat(0, 6, tr(fmt.Sprintf("Risk penalty: -%d", report.Score.RiskPenalty)), "", 1, "L", false, 0, "")
	pdf.SetFont("Helvetica", "B", 13)
	pdf.CellFormat(0, 8, tr(fmt.Sprintf("Overall: %d/100", report.Score.Overall)), "", 1, "L", false, 0, "")

	var buf bytes.Buffer
	if err := pdf.Output(&buf); err != nil {
		return nil, types.WrapError(err, "failed to build PDF report")
	}

	return &types.RenderedReport{
		Body:        buf.Bytes(),
		ContentType: "application/pdf",
		Extension:   ".pdf",
		Attachment:  true,
	}, nil
}

func writePDFHeading(pdf *fpdf.Fpdf, tr func(string) string, title string) {
	pdf.Ln(3)
	pdf.SetFont("Helvetica", "B", 13)
	pdf.CellFormat(0, 8, tr(title), "", 1, "L", false, 0, "")
	pdf.SetFont("Helvetica", "", 11)
}
