package render

import (
	"strings"

	"go.uber.org/zap"

	"github.com/outlawai/outlaw-service/types"
	"github.com/outlawai/outlaw-service/utils"
)

// Canonical format names. Render also accepts the aliases htm, md and txt;
// matching is case-insensitive.
const (
	FormatJSON     = "json"
	FormatHTML     = "html"
	FormatMarkdown = "markdown"
	FormatText     = "text"
	FormatPDF      = "pdf"
)

const reportTitle = "Legal Support Analysis Report"

// generatedAtLayout is the human-readable timestamp printed in every
// non-JSON format.
const generatedAtLayout = "January 2, 2006 at 3:04 PM"

// Renderer turns a finished analysis report into one of the supported
// download formats.
type Renderer struct {
	logger types.Logger
}

func NewRenderer(logger types.Logger) *Renderer {
	return &Renderer{logger: logger}
}

// Render produces the report body for the requested format. Aliases are
// resolved before dispatch, so "HTM" and "html" yield identical output.
func (r *Renderer) Render(format string, report *types.Report) (*types.RenderedReport, error) {
	if report == nil {
		return nil, types.Errorf(types.ErrRenderFailed, "report is nil")
	}

	canonical, err := ResolveFormat(format)
	if err != nil {
		return nil, err
	}

	var rendered *types.RenderedReport
	switch canonical {
	case FormatJSON:
		rendered, err = r.renderJSON(report)
	case FormatHTML:
		rendered, err = r.renderHTML(report)
	case FormatMarkdown:
		rendered, err = r.renderMarkdown(report)
	case FormatText:
		rendered, err = r.renderText(report)
	case FormatPDF:
		rendered, err = r.renderPDF(report)
	}
	if err != nil {
		return nil, err
	}

	if r.logger != nil {
		r.logger.Debug("Report rendered",
			zap.String("format", canonical),
			zap.Int("bytes", len(rendered.Body)))
	}

	return rendered, nil
}

// SupportedFormats lists the canonical format names, aliases excluded.
func (r *Renderer) SupportedFormats() []string {
	return []string{FormatJSON, FormatPDF, FormatHTML, FormatMarkdown, FormatText}
}

func (r *Renderer) renderJSON(report *types.Report) (*types.RenderedReport, error) {
	body, err := utils.Marshal(report)
	if err != nil {
		return nil, types.WrapError(err, "failed to encode report as JSON")
	}

	return &types.RenderedReport{
		Body:        body,
		ContentType: "application/json",
		Extension:   ".json",
	}, nil
}

// ResolveFormat maps a requested format, alias or not, to its canonical
// name. Callers can use it to reject unknown formats before doing any
// analysis work.
func ResolveFormat(format string) (string, error) {
	switch strings.ToLower(strings.TrimSpace(format)) {
	case FormatJSON:
		return FormatJSON, nil
	case FormatHTML, "htm":
		return FormatHTML, nil
	case FormatMarkdown, "md":
		return FormatMarkdown, nil
	case FormatText, "txt":
		return FormatText, nil
	case FormatPDF:
		return FormatPDF, nil
	default:
		return "", types.Errorf(types.ErrFormatUnsupported, "%q", format)
	}
}

// AttachmentFileName builds the download name for a rendered report, for
// example "OutlawLegalAI_Riverside_Report.pdf". Characters that would break
// a quoted Content-Disposition value are replaced with underscores.
func AttachmentFileName(county, extension string) string {
	sanitized := strings.Map(func(c rune) rune {
		switch {
		case c < 0x20, c == '"', c == '\\', c == '/':
			return '_'
		default:
			return c
		}
	}, county)

	return "OutlawLegalAI_" + sanitized + "_Report" + extension
}
