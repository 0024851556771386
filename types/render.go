package types

type ReportRenderer interface {
	Render(format string, report *Report) (*RenderedReport, error)
	SupportedFormats() []string
}

type RenderedReport struct {
	Body        []byte
	ContentType string
	Extension   string
	Attachment  bool
}
