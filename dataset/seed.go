package dataset

import (
	"github.com/outlawai/outlaw-service/types"
)

// Seed content for the default jurisdiction. The statutes and procedures
// mirror the Riverside County small-claims guidance the service was first
// built around; they are what the engine serves when the public collection
// is unreachable.

var seedStatutes = []types.Statute{
	{
		Citation:     "Cal. Civ. Code §1550",
		Title:        "Essential Elements of a Contract",
		Jurisdiction: "California",
		Summary:      "A valid contract requires capacity, consent, lawful object, and consideration.",
		Elements: []types.LegalElement{
			{Name: "Capacity", Description: "Parties must be legally capable of contracting."},
			{Name: "Consent", Description: "Mutual assent must exist."},
			{Name: "Consideration", Description: "Each side gives something of value."},
		},
	},
	{
		Citation:     "Cal. Civ. Code §3300",
		Title:        "Damages for Breach of Contract",
		Jurisdiction: "California",
		Summary:      "Damages equal to detriment caused by breach.",
		Elements:     []types.LegalElement{},
	},
}

type seedProcedure struct {
	Name         string `json:"name"`
	Description  string `json:"description"`
	Jurisdiction string `json:"jurisdiction"`
}

var seedProcedures = []seedProcedure{
	{
		Name:         "Venue",
		Description:  "File in Riverside County where contract was made or defendant resides.",
		Jurisdiction: "California",
	},
	{
		Name:         "Service",
		Description:  "Serve defendant ≥15 days before hearing if in county; ≥20 if out of county.",
		Jurisdiction: "California",
	},
	{
		Name:         "Forms",
		Description:  "SC-100 (Claim) and SC-104 (Proof of Service).",
		Jurisdiction: "California",
	},
}

var seedJurisdictions = []types.Jurisdiction{
	{
		Name:      "California",
		Counties:  []string{"Riverside", "Los Angeles", "San Diego", "Orange", "San Francisco"},
		Supported: true,
	},
	{
		Name:      "New York",
		Counties:  []string{"New York", "Kings", "Queens", "Bronx", "Richmond"},
		Supported: false,
		Note:      "Coming soon",
	},
	{
		Name:      "Texas",
		Counties:  []string{"Harris", "Dallas", "Bexar", "Travis"},
		Supported: false,
		Note:      "Coming soon",
	},
}
