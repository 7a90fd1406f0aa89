package crm

import (
	"context"

	"github.com/rotisserie/eris"

	"github.com/sells-group/prospect-engine/internal/model"
	"github.com/sells-group/prospect-engine/pkg/notion"
)

// NotionMirror upserts leads as pages of a Notion database.
type NotionMirror struct {
	client notion.Client
	dbID   string
}

// NewNotionMirror wraps c, writing into database dbID.
func NewNotionMirror(c notion.Client, dbID string) *NotionMirror {
	return &NotionMirror{client: c, dbID: dbID}
}

// MirrorLead implements Mirror.
func (m *NotionMirror) MirrorLead(ctx context.Context, lead model.Lead, intent model.Intent) error {
	page := notion.LeadPage{
		Name:      lead.Name,
		Email:     lead.Email,
		Phone:     lead.Phone,
		Company:   lead.Company,
		Stage:     string(lead.Stage),
		Tier:      string(lead.Tier),
		Intent:    string(intent),
		Score:     float64(lead.Score),
		UpdatedAt: lead.UpdatedAt,
	}
	if _, err := notion.UpsertLeadPage(ctx, m.client, m.dbID, page); err != nil {
		return eris.Wrapf(err, "crm: notion mirror lead %s", lead.ID)
	}
	return nil
}
