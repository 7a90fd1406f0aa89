package notion

import (
	"context"
	"errors"
	"testing"

	"github.com/jomei/notionapi"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func TestFindPageByEmail_Match(t *testing.T) {
	mc := new(MockClient)
	ctx := context.Background()

	mc.On("QueryDatabase", ctx, "db-leads", mock.MatchedBy(func(req *notionapi.DatabaseQueryRequest) bool {
		pf, ok := req.Filter.(notionapi.PropertyFilter)
		return ok && pf.Property == PropEmail && pf.RichText != nil &&
			pf.RichText.Equals == "jane@acme.ug" && req.PageSize == 1
	})).Return(&notionapi.DatabaseQueryResponse{
		Results: []notionapi.Page{{ID: "lead-1"}},
	}, nil).Once()

	page, err := FindPageByEmail(ctx, mc, "db-leads", "jane@acme.ug")
	require.NoError(t, err)
	require.NotNil(t, page)
	assert.Equal(t, notionapi.ObjectID("lead-1"), page.ID)
	mc.AssertExpectations(t)
}

func TestFindPageByEmail_NoMatch(t *testing.T) {
	mc := new(MockClient)
	mc.On("QueryDatabase", mock.Anything, "db-leads", mock.Anything).
		Return(&notionapi.DatabaseQueryResponse{}, nil).Once()

	page, err := FindPageByEmail(context.Background(), mc, "db-leads", "nobody@acme.ug")
	require.NoError(t, err)
	assert.Nil(t, page)
}

func TestFindPageByEmail_EmptyEmailSkipsQuery(t *testing.T) {
	mc := new(MockClient)
	page, err := FindPageByEmail(context.Background(), mc, "db-leads", "")
	require.NoError(t, err)
	assert.Nil(t, page)
	mc.AssertNotCalled(t, "QueryDatabase", mock.Anything, mock.Anything, mock.Anything)
}

func TestFindPageByEmail_Error(t *testing.T) {
	mc := new(MockClient)
	mc.On("QueryDatabase", mock.Anything, "db-leads", mock.Anything).
		Return(nil, errors.New("unauthorized")).Once()

	_, err := FindPageByEmail(context.Background(), mc, "db-leads", "jane@acme.ug")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "notion: find page by email")
}
