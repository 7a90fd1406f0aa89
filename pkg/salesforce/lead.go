package salesforce

import (
	"context"
	"fmt"
	"strings"

	"github.com/rotisserie/eris"
)

// LeadObject is the SObject name for leads.
const LeadObject = "Lead"

// Lead is the subset of Salesforce Lead fields mirrored from the engine.
type Lead struct {
	ID          string `json:"Id,omitempty"`
	FirstName   string `json:"FirstName,omitempty"`
	LastName    string `json:"LastName,omitempty"`
	Company     string `json:"Company,omitempty"`
	Email       string `json:"Email,omitempty"`
	Phone       string `json:"Phone,omitempty"`
	LeadSource  string `json:"LeadSource,omitempty"`
	Status      string `json:"Status,omitempty"`
	Rating      string `json:"Rating,omitempty"`
	Description string `json:"Description,omitempty"`
}

// Fields returns the writable fields of l as a map. Empty values are
// omitted so updates never blank existing CRM data.
func (l Lead) Fields() map[string]any {
	out := make(map[string]any)
	set := func(k, v string) {
		if v != "" {
			out[k] = v
		}
	}
	set("FirstName", l.FirstName)
	set("LastName", l.LastName)
	set("Company", l.Company)
	set("Email", l.Email)
	set("Phone", l.Phone)
	set("LeadSource", l.LeadSource)
	set("Status", l.Status)
	set("Rating", l.Rating)
	set("Description", l.Description)
	return out
}

// FindLeadByEmail returns the first lead with the given email, or nil.
func FindLeadByEmail(ctx context.Context, c Client, email string) (*Lead, error) {
	if email == "" {
		return nil, nil
	}
	soql := fmt.Sprintf(
		"SELECT Id, FirstName, LastName, Company, Email, Phone, Status, Rating FROM Lead WHERE Email = '%s' LIMIT 1",
		escapeSOQL(email),
	)
	var leads []Lead
	if err := c.Query(ctx, soql, &leads); err != nil {
		return nil, eris.Wrap(err, "sf: find lead by email")
	}
	if len(leads) == 0 {
		return nil, nil
	}
	return &leads[0], nil
}

// UpsertLead updates the lead matching l.ID or l.Email, or inserts a new
// one. It returns the Salesforce lead ID.
func UpsertLead(ctx context.Context, c Client, l Lead) (string, error) {
	if l.LastName == "" {
		// LastName and Company are required on insert.
		l.LastName = "Unknown"
	}
	if l.Company == "" {
		l.Company = "Unknown"
	}

	id := l.ID
	if id == "" {
		existing, err := FindLeadByEmail(ctx, c, l.Email)
		if err != nil {
			return "", err
		}
		if existing != nil {
			id = existing.ID
		}
	}

	if id != "" {
		if err := c.UpdateOne(ctx, LeadObject, id, l.Fields()); err != nil {
			return "", eris.Wrap(err, "sf: upsert lead")
		}
		return id, nil
	}

	id, err := c.InsertOne(ctx, LeadObject, l.Fields())
	if err != nil {
		return "", eris.Wrap(err, "sf: upsert lead")
	}
	return id, nil
}

func escapeSOQL(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `'`, `\'`)
	return r.Replace(s)
}
