package notion

import (
	"context"
	"time"

	"github.com/jomei/notionapi"
	"github.com/rotisserie/eris"
)

// Property names of the leads database.
const (
	PropName      = "Name"
	PropEmail     = "Email"
	PropPhone     = "Phone"
	PropCompany   = "Company"
	PropStage     = "Stage"
	PropTier      = "Tier"
	PropScore     = "Score"
	PropIntent    = "Intent"
	PropUpdatedAt = "Last Updated"
)

// LeadPage is the projection of a lead written to Notion.
type LeadPage struct {
	Name      string
	Email     string
	Phone     string
	Company   string
	Stage     string
	Tier      string
	Intent    string
	Score     float64
	UpdatedAt time.Time
}

func richText(v string) notionapi.RichTextProperty {
	return notionapi.RichTextProperty{
		Type: notionapi.PropertyTypeRichText,
		RichText: []notionapi.RichText{
			{Type: notionapi.ObjectTypeText, Text: &notionapi.Text{Content: v}},
		},
	}
}

// Properties converts l to Notion page properties. Empty strings are left
// out so an update never clears a value set by hand in Notion.
func (l LeadPage) Properties() notionapi.Properties {
	props := notionapi.Properties{
		PropScore: notionapi.NumberProperty{
			Type:   notionapi.PropertyTypeNumber,
			Number: l.Score,
		},
	}
	if l.Name != "" {
		props[PropName] = notionapi.TitleProperty{
			Type: notionapi.PropertyTypeTitle,
			Title: []notionapi.RichText{
				{Type: notionapi.ObjectTypeText, Text: &notionapi.Text{Content: l.Name}},
			},
		}
	}
	for k, v := range map[string]string{
		PropEmail:   l.Email,
		PropPhone:   l.Phone,
		PropCompany: l.Company,
		PropIntent:  l.Intent,
	} {
		if v != "" {
			props[k] = richText(v)
		}
	}
	if l.Stage != "" {
		props[PropStage] = notionapi.StatusProperty{
			Type:   notionapi.PropertyTypeStatus,
			Status: notionapi.Status{Name: l.Stage},
		}
	}
	if l.Tier != "" {
		props[PropTier] = notionapi.SelectProperty{
			Type:   notionapi.PropertyTypeSelect,
			Select: notionapi.Option{Name: l.Tier},
		}
	}
	if !l.UpdatedAt.IsZero() {
		d := notionapi.Date(l.UpdatedAt)
		props[PropUpdatedAt] = notionapi.DateProperty{
			Date: &notionapi.DateObject{Start: &d},
		}
	}
	return props
}

// UpsertLeadPage updates the page matching l.Email or creates a new one in
// dbID. It returns the page ID.
func UpsertLeadPage(ctx context.Context, c Client, dbID string, l LeadPage) (string, error) {
	existing, err := FindPageByEmail(ctx, c, dbID, l.Email)
	if err != nil {
		return "", err
	}

	if existing != nil {
		page, err := c.UpdatePage(ctx, string(existing.ID), &notionapi.PageUpdateRequest{
			Properties: l.Properties(),
		})
		if err != nil {
			return "", eris.Wrap(err, "notion: upsert lead page")
		}
		return string(page.ID), nil
	}

	page, err := c.CreatePage(ctx, &notionapi.PageCreateRequest{
		Parent: notionapi.Parent{
			Type:       notionapi.ParentTypeDatabaseID,
			DatabaseID: notionapi.DatabaseID(dbID),
		},
		Properties: l.Properties(),
	})
	if err != nil {
		return "", eris.Wrap(err, "notion: upsert lead page")
	}
	return string(page.ID), nil
}
