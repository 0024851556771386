package types

type DatasetManager interface {
	LifecycleManager
	FallbackStatutes(jurisdiction string) ([]Statute, error)
	FallbackProcedures(jurisdiction string) ([]ProceduralRule, error)
	Jurisdictions() ([]Jurisdiction, error)
}

type Jurisdiction struct {
	Name      string   `json:"name"`
	Counties  []string `json:"counties"`
	Supported bool     `json:"supported"`
	Note      string   `json:"note,omitempty"`
}
