package render

import (
	"html/template"
	"strings"

	"github.com/outlawai/outlaw-service/types"
)

const htmlReportTemplate = `<!DOCTYPE html>
<html lang="en">
<head>
	<meta charset="utf-8">
	<title>{{.Title}}</title>
	<style>
		body {
			font-family: 'Segoe UI', Arial, sans-serif;
			margin: 0 auto;
			max-width: 860px;
			padding: 30px 20px;
			color: #2c3e50;
			background: #f5f7fa;
		}
		.header {
			background: #2c3e50;
			color: white;
			padding: 20px;
			border-radius: 8px;
			margin-bottom: 20px;
		}
		.header h1 { margin: 0; font-size: 26px; }
		.header p { margin: 8px 0 0 0; opacity: 0.85; }
		.section {
			background: white;
			border-radius: 8px;
			padding: 16px 20px;
			margin-bottom: 16px;
			box-shadow: 0 1px 4px rgba(0,0,0,0.08);
		}
		.section h2 {
			margin-top: 0;
			font-size: 18px;
			border-bottom: 1px solid #e1e5ea;
			padding-bottom: 8px;
		}
		.statute { margin-bottom: 14px; }
		.statute h3 { margin: 0 0 4px 0; font-size: 15px; }
		.statute p { margin: 4px 0; }
		.risk { padding: 8px 12px; border-radius: 6px; margin-bottom: 8px; }
		.risk-low { background: #e8f5e9; }
		.risk-medium { background: #fff3e0; }
		.risk-high { background: #ffebee; }
		.severity { font-weight: bold; text-transform: uppercase; font-size: 12px; }
		.mitigation { font-size: 13px; color: #5a6a7a; margin: 4px 0 0 0; }
		table { border-collapse: collapse; width: 100%; }
		td, th { text-align: left; padding: 6px 10px; border-bottom: 1px solid #e1e5ea; }
		.overall { font-size: 20px; font-weight: bold; }
	</style>
</head>
<body>
	<div class="header">
		<h1>{{.Title}}</h1>
		<p>{{.Report.County}} County, {{.Report.Jurisdiction}}{{if .GeneratedAt}} &middot; Generated {{.GeneratedAt}}{{end}}</p>
	</div>

	<div class="section">
		<h2>Case Summary</h2>
		<p><strong>Jurisdiction:</strong> {{.Report.Jurisdiction}}</p>
		<p><strong>County:</strong> {{.Report.County}}</p>
		<p><strong>Facts:</strong> {{.Report.Facts}}</p>
	</div>

	{{if .Report.Statutes}}
	<div class="section">
		<h2>Applicable Statutes</h2>
		{{range .Report.Statutes}}
		<div class="statute">
			<h3>{{.Citation}}: {{.Title}}</h3>
			{{if .Summary}}<p>{{.Summary}}</p>{{end}}
			{{if .Elements}}
			<ul>
				{{range .Elements}}<li><strong>{{.Name}}:</strong> {{.Description}}</li>
				{{end}}
			</ul>
			{{end}}
		</div>
		{{end}}
	</div>
	{{end}}

	{{if .Report.Procedures}}
	<div class="section">
		<h2>Procedural Rules</h2>
		<ul>
			{{range .Report.Procedures}}<li><strong>{{.Name}}:</strong> {{.Description}}</li>
			{{end}}
		</ul>
	</div>
	{{end}}

	{{if .Report.Risks}}
	<div class="section">
		<h2>Risk Assessment</h2>
		{{range .Report.Risks}}
		<div class="risk risk-{{.Severity}}">
			<span class="severity">{{.Severity}}</span> {{.Description}}
			{{if .Mitigation}}<p class="mitigation">Mitigation: {{.Mitigation}}</p>{{end}}
		</div>
		{{end}}
	</div>
	{{end}}

	<div class="section">
		<h2>Case Strength Score</h2>
		<table>
			<tr><td>Elements</td><td>{{.Report.Score.ElementScore}}/100</td></tr>
			<tr><td>Evidence</td><td>{{.Report.Score.EvidenceScore}}/100</td></tr>
			<tr><td>Clarity</td><td>{{.Report.Score.ClarityScore}}/100</td></tr>
			<tr><td>Risk penalty</td><td>-{{.Report.Score.RiskPenalty}}</td></tr>
			<tr><td class="overall">Overall</td><td class="overall">{{.Report.Score.Overall}}/100</td></tr>
		</table>
	</div>
</body>
</html>
`

var htmlTemplate = template.Must(template.New("report").Parse(htmlReportTemplate))

type htmlReportData struct {
	Title       string
	GeneratedAt string
	Report      *types.Report
}

func (r *Renderer) renderHTML(report *types.Report) (*types.RenderedReport, error) {
	data := htmlReportData{
		Title:  reportTitle,
		Report: report,
	}
	if !report.GeneratedAt.IsZero() {
		data.GeneratedAt = report.GeneratedAt.Format(generatedAtLayout)
	}

	var buf strings.Builder
	if err := htmlTemplate.Execute(&buf, data); err != nil {
		return nil, types.WrapError(err, "failed to execute report template")
	}

	return &types.RenderedReport{
		Body:        []byte(buf.String()),
		ContentType: "text/html; charset=utf-8",
		Extension:   ".html",
		Attachment:  true,
	}, nil
}
