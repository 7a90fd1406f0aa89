package crm

import (
	"context"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/sells-group/prospect-engine/internal/model"
	"github.com/sells-group/prospect-engine/pkg/salesforce"
)

// SalesforceMirror upserts leads as Salesforce Lead records keyed by email.
type SalesforceMirror struct {
	client salesforce.Client
}

// NewSalesforceMirror wraps c.
func NewSalesforceMirror(c salesforce.Client) *SalesforceMirror {
	return &SalesforceMirror{client: c}
}

// MirrorLead implements Mirror.
func (m *SalesforceMirror) MirrorLead(ctx context.Context, lead model.Lead, intent model.Intent) error {
	if _, err := salesforce.UpsertLead(ctx, m.client, ToSalesforce(lead, intent)); err != nil {
		return eris.Wrapf(err, "crm: salesforce mirror lead %s", lead.ID)
	}
	return nil
}

var sfStatus = map[model.LeadStage]string{
	model.StageNew:           "Open - Not Contacted",
	model.StageQualified:     "Working - Contacted",
	model.StageDemoRequested: "Working - Contacted",
	model.StageDemoBooked:    "Closed - Converted",
}

// ToSalesforce maps a lead onto the Salesforce Lead fields.
func ToSalesforce(lead model.Lead, intent model.Intent) salesforce.Lead {
	first, last := splitName(lead.Name)
	var rating string
	if lead.Tier != "" {
		rating = strings.ToUpper(string(lead.Tier[:1])) + string(lead.Tier[1:])
	}
	desc := "Intent: " + string(intent)
	if lead.LastMessage != "" {
		desc += "\nLast message: " + lead.LastMessage
	}
	return salesforce.Lead{
		FirstName:   first,
		LastName:    last,
		Company:     lead.Company,
		Email:       lead.Email,
		Phone:       lead.Phone,
		LeadSource:  string(lead.Channel),
		Status:      sfStatus[lead.Stage],
		Rating:      rating,
		Description: desc,
	}
}

// splitName puts the final word in last and everything before it in first.
func splitName(name string) (first, last string) {
	parts := strings.Fields(name)
	switch len(parts) {
	case 0:
		return "", ""
	case 1:
		return "", parts[0]
	default:
		return strings.Join(parts[:len(parts)-1], " "), parts[len(parts)-1]
	}
}
