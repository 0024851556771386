package render

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/outlawai/outlaw-service/logger"
	"github.com/outlawai/outlaw-service/types"
	"github.com/outlawai/outlaw-service/utils"
)

func sampleReport() *types.Report {
	return &types.Report{
		Jurisdiction: "California",
		County:       "Riverside",
		Facts:        "Buyer failed to pay $5,000 after taking possession of the horse.",
		Statutes: []types.Statute{
			{
				Citation:     "Civil Code §1550",
				Title:        "Essential Elements of a Contract",
				Jurisdiction: "California",
				Summary:      "A valid contract requires capacity, consent, lawful object, and consideration.",
				Elements: []types.LegalElement{
					{Name: "Capacity", Description: "Parties must be legally capable of contracting."},
					{Name: "Consent", Description: "Mutual assent must exist."},
				},
			},
		},
		Procedures: []types.ProceduralRule{
			{Name: "Venue", Description: "File in Riverside County where contract was made or defendant resides."},
		},
		Risks: []types.RiskItem{
			{Severity: "medium", Description: "Possible nondisclosure claim", Mitigation: "Show refusal to inspect."},
		},
		Score: types.WinningFactor{
			ElementScore:  90,
			EvidenceScore: 80,
			ClarityScore:  75,
			RiskPenalty:   10,
			Overall:       71,
		},
		GeneratedAt: time.Date(2025, time.March, 14, 10, 30, 0, 0, time.UTC),
	}
}

func newTestRenderer() *Renderer {
	return NewRenderer(logger.NewZapWrapper(zap.NewNop()))
}

func TestRenderMarkdownContainsSections(t *testing.T) {
	rendered, err := newTestRenderer().Render("markdown", sampleReport())
	if err != nil {
		t.Fatalf("Render: %v", err)
	}

	if rendered.ContentType != "text/markdown; charset=utf-8" {
		t.Errorf("content type %q", rendered.ContentType)
	}
	if rendered.Extension != ".md" || !rendered.Attachment {
		t.Errorf("extension %q, attachment %v", rendered.Extension, rendered.Attachment)
	}

	body := string(rendered.Body)
	for _, want := range []string{
		"# Legal Support Analysis Report",
		"**Jurisdiction:** California",
		"**County:** Riverside",
		"Buyer failed to pay $5,000",
		"Civil Code §1550",
		"**Elements:**",
		"- **Capacity:",
		"## Procedural Rules",
		"## Risk Assessment",
		"## Case Strength Score",
		"**Overall:** 71/100",
	} {
		if !strings.Contains(body, want) {
			t.Errorf("markdown missing %q", want)
		}
	}
}

func TestRenderTextContainsSections(t *testing.T) {
	rendered, err := newTestRenderer().Render("text", sampleReport())
	if err != nil {
		t.Fatalf("Render: %v", err)
	}

	if rendered.ContentType != "text/plain; charset=utf-8" {
		t.Errorf("content type %q", rendered.ContentType)
	}
	if rendered.Extension != ".txt" || !rendered.Attachment {
		t.Errorf("extension %q, attachment %v", rendered.Extension, rendered.Attachment)
	}

	body := string(rendered.Body)
	for _, want := range []string{
		"LEGAL SUPPORT ANALYSIS REPORT",
		"Jurisdiction: California",
		"County: Riverside",
		"PROCEDURAL RULES",
		"RISK ASSESSMENT",
		"CASE STRENGTH SCORE",
		strings.Repeat("=", 70),
		strings.Repeat("-", 70),
		"[MEDIUM] Possible nondisclosure claim",
	} {
		if !strings.Contains(body, want) {
			t.Errorf("text missing %q", want)
		}
	}
}

func TestRenderHTMLDocument(t *testing.T) {
	rendered, err := newTestRenderer().Render("html", sampleReport())
	if err != nil {
		t.Fatalf("Render: %v", err)
	}

	if rendered.ContentType != "text/html; charset=utf-8" {
		t.Errorf("content type %q", rendered.ContentType)
	}
	if rendered.Extension != ".html" || !rendered.Attachment {
		t.Errorf("extension %q, attachment %v", rendered.Extension, rendered.Attachment)
	}

	body := string(rendered.Body)
	if !strings.HasPrefix(body, "<!DOCTYPE html>") {
		t.Errorf("missing doctype, got %q", body[:minLen(40, len(body))])
	}
	for _, want := range []string{
		"<html",
		"California",
		"Riverside",
		"Civil Code §1550",
		"Venue",
		"Possible nondisclosure claim",
		"71/100",
	} {
		if !strings.Contains(body, want) {
			t.Errorf("html missing %q", want)
		}
	}
}

func TestRenderHTMLToleratesSparseReport(t *testing.T) {
	report := &types.Report{
		Jurisdiction: "California",
		County:       "Riverside",
		Facts:        "A short set of facts without any supporting material.",
	}

	rendered, err := newTestRenderer().Render("html", report)
	if err != nil {
		t.Fatalf("Render: %v", err)
	}

	body := string(rendered.Body)
	if !strings.HasPrefix(body, "<!DOCTYPE html>") {
		t.Error("missing doctype")
	}
	if strings.Contains(body, "Applicable Statutes") {
		t.Error("empty statute section should be omitted")
	}
	if !strings.Contains(body, "Case Strength Score") {
		t.Error("score section should always be present")
	}
}

func TestRenderHTMLEscapesContent(t *testing.T) {
	report := sampleReport()
	report.Facts = `The seller wrote "<b>pay now</b>" in the notice.`

	rendered, err := newTestRenderer().Render("html", report)
	if err != nil {
		t.Fatalf("Render: %v", err)
	}

	body := string(rendered.Body)
	if strings.Contains(body, "<b>pay now</b>") {
		t.Error("facts were not escaped")
	}
	if !strings.Contains(body, "&lt;b&gt;pay now&lt;/b&gt;") {
		t.Error("escaped facts missing from document")
	}
}

func TestRenderJSONRoundTrips(t *testing.T) {
	rendered, err := newTestRenderer().Render("json", sampleReport())
	if err != nil {
		t.Fatalf("Render: %v", err)
	}

	if rendered.ContentType != "application/json" {
		t.Errorf("content type %q", rendered.ContentType)
	}
	if rendered.Attachment {
		t.Error("json should not download as attachment")
	}

	var decoded types.Report
	if err := utils.Unmarshal(rendered.Body, &decoded); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if decoded.Jurisdiction != "California" || decoded.Score.Overall != 71 {
		t.Errorf("round trip lost data: %+v", decoded)
	}
}

func TestRenderPDFProducesDocument(t *testing.T) {
	rendered, err := newTestRenderer().Render("pdf", sampleReport())
	if err != nil {
		t.Fatalf("Render: %v", err)
	}

	if rendered.ContentType != "application/pdf" {
		t.Errorf("content type %q", rendered.ContentType)
	}
	if rendered.Extension != ".pdf" || !rendered.Attachment {
		t.Errorf("extension %q, attachment %v", rendered.Extension, rendered.Attachment)
	}
	if !bytes.HasPrefix(rendered.Body, []byte("%PDF-")) {
		t.Error("body is not a PDF document")
	}
	if len(rendered.Body) < 1000 {
		t.Errorf("suspiciously small PDF: %d bytes", len(rendered.Body))
	}
}

func TestRenderAliasesMatchCanonical(t *testing.T) {
	cases := []struct {
		canonical string
		alias     string
	}{
		{"html", "htm"},
		{"html", "HTML"},
		{"markdown", "md"},
		{"text", "txt"},
		{"text", " TEXT "},
	}

	renderer := newTestRenderer()
	report := sampleReport()

	for _, tc := range cases {
		want, err := renderer.Render(tc.canonical, report)
		if err != nil {
			t.Fatalf("Render(%q): %v", tc.canonical, err)
		}
		got, err := renderer.Render(tc.alias, report)
		if err != nil {
			t.Fatalf("Render(%q): %v", tc.alias, err)
		}
		if !bytes.Equal(want.Body, got.Body) {
			t.Errorf("alias %q output differs from %q", tc.alias, tc.canonical)
		}
		if got.ContentType != want.ContentType || got.Extension != want.Extension {
			t.Errorf("alias %q metadata differs from %q", tc.alias, tc.canonical)
		}
	}
}

func TestRenderUnsupportedFormat(t *testing.T) {
	renderer := newTestRenderer()
	for _, format := range []string{"xml", "docx", "yaml", ""} {
		_, err := renderer.Render(format, sampleReport())
		if !types.IsError(err, types.ErrFormatUnsupported) {
			t.Errorf("format %q: expected unsupported format error, got %v", format, err)
		}
	}
}

func TestRenderNilReport(t *testing.T) {
	_, err := newTestRenderer().Render("json", nil)
	if !types.IsError(err, types.ErrRenderFailed) {
		t.Errorf("expected render failed error, got %v", err)
	}
}

func TestSupportedFormats(t *testing.T) {
	formats := newTestRenderer().SupportedFormats()
	if len(formats) != 5 {
		t.Fatalf("expected 5 formats, got %v", formats)
	}

	seen := make(map[string]bool, len(formats))
	for _, f := range formats {
		seen[f] = true
	}
	for _, want := range []string{"json", "pdf", "html", "markdown", "text"} {
		if !seen[want] {
			t.Errorf("missing format %q", want)
		}
	}
}

func TestAttachmentFileName(t *testing.T) {
	if got := AttachmentFileName("Riverside", ".pdf"); got != "OutlawLegalAI_Riverside_Report.pdf" {
		t.Errorf("got %q", got)
	}
	if got := AttachmentFileName(`Riv"er/side`, ".html"); got != "OutlawLegalAI_Riv_er_side_Report.html" {
		t.Errorf("sanitized name %q", got)
	}
}

func minLen(a, b int) int {
	if a < b {
		return a
	}
	return b
}
