package crm

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jomei/notionapi"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/prospect-engine/internal/config"
	"github.com/sells-group/prospect-engine/internal/model"
	notionmocks "github.com/sells-group/prospect-engine/pkg/notion/mocks"
	sfmocks "github.com/sells-group/prospect-engine/pkg/salesforce/mocks"
)

func sampleLead() model.Lead {
	l := model.Lead{
		ID:          "lead-1",
		Name:        "Mary Jane Okello",
		Company:     "Acme Realty",
		Email:       "mary@acme.ug",
		Phone:       "+256700000000",
		Channel:     model.ChannelEmail,
		Stage:       model.StageDemoBooked,
		LastMessage: "Tuesday works",
		UpdatedAt:   time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC),
	}
	l.SetScore(85)
	return l
}

func TestToSalesforce(t *testing.T) {
	sf := ToSalesforce(sampleLead(), model.IntentBookDemo)
	assert.Equal(t, "Mary Jane", sf.FirstName)
	assert.Equal(t, "Okello", sf.LastName)
	assert.Equal(t, "Hot", sf.Rating)
	assert.Equal(t, "Closed - Converted", sf.Status)
	assert.Equal(t, "email", sf.LeadSource)
	assert.Contains(t, sf.Description, "Intent: BOOK_DEMO")
	assert.Contains(t, sf.Description, "Tuesday works")
}

func TestSplitName(t *testing.T) {
	f, l := splitName("Cher")
	assert.Empty(t, f)
	assert.Equal(t, "Cher", l)

	f, l = splitName("  ")
	assert.Empty(t, f)
	assert.Empty(t, l)
}

func TestSalesforceMirror_Inserts(t *testing.T) {
	ctx := context.Background()
	m := sfmocks.NewMockClient(t)
	m.On("Query", ctx, mock.Anything, mock.Anything).Return(nil)
	m.On("InsertOne", ctx, "Lead", mock.MatchedBy(func(f map[string]any) bool {
		return f["Email"] == "mary@acme.ug" && f["Rating"] == "Hot"
	})).Return("00Q1", nil)

	require.NoError(t, NewSalesforceMirror(m).MirrorLead(ctx, sampleLead(), model.IntentBookDemo))
}

func TestSalesforceMirror_Error(t *testing.T) {
	ctx := context.Background()
	m := sfmocks.NewMockClient(t)
	m.On("Query", ctx, mock.Anything, mock.Anything).Return(errors.New("session expired"))

	err := NewSalesforceMirror(m).MirrorLead(ctx, sampleLead(), model.IntentGeneral)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "lead-1")
}

func TestNotionMirror_UpdatesExistingPage(t *testing.T) {
	ctx := context.Background()
	m := notionmocks.NewMockClient(t)
	m.On("QueryDatabase", ctx, "db-1", mock.Anything).
		Return(&notionapi.DatabaseQueryResponse{Results: []notionapi.Page{{ID: "page-9"}}}, nil)
	m.On("UpdatePage", ctx, "page-9", mock.MatchedBy(func(req *notionapi.PageUpdateRequest) bool {
		tier, ok := req.Properties["Tier"].(notionapi.SelectProperty)
		return ok && tier.Select.Name == "hot"
	})).Return(&notionapi.Page{ID: "page-9"}, nil)

	require.NoError(t, NewNotionMirror(m, "db-1").MirrorLead(ctx, sampleLead(), model.IntentBookDemo))
}

func TestNotionMirror_CreatesPage(t *testing.T) {
	ctx := context.Background()
	m := notionmocks.NewMockClient(t)
	m.On("QueryDatabase", ctx, "db-1", mock.Anything).Return(&notionapi.DatabaseQueryResponse{}, nil)
	m.On("CreatePage", ctx, mock.Anything).Return(&notionapi.Page{ID: "page-new"}, nil)

	require.NoError(t, NewNotionMirror(m, "db-1").MirrorLead(ctx, sampleLead(), model.IntentPricing))
}

type failingMirror struct{ calls int }

func (f *failingMirror) MirrorLead(context.Context, model.Lead, model.Intent) error {
	f.calls++
	return errors.New("crm down")
}

func TestBestEffort_SwallowsErrors(t *testing.T) {
	inner := &failingMirror{}
	err := BestEffort{Mirror: inner, Name: "test"}.MirrorLead(context.Background(), sampleLead(), model.IntentGeneral)
	assert.NoError(t, err)
	assert.Equal(t, 1, inner.calls)
}

func TestFromConfig(t *testing.T) {
	m, err := FromConfig(config.CRMConfig{})
	require.NoError(t, err)
	assert.IsType(t, Noop{}, m)

	m, err = FromConfig(config.CRMConfig{Provider: "Notion", Notion: config.NotionConfig{Token: "t", LeadDB: "db"}})
	require.NoError(t, err)
	assert.IsType(t, BestEffort{}, m)

	_, err = FromConfig(config.CRMConfig{Provider: "notion"})
	assert.Error(t, err)

	_, err = FromConfig(config.CRMConfig{Provider: "hubspot"})
	assert.Error(t, err)

	_, err = FromConfig(config.CRMConfig{Provider: "salesforce", Salesforce: config.SalesforceConfig{KeyPath: "/nonexistent.pem"}})
	assert.Error(t, err)
}
