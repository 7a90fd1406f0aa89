package scorer

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/prospect-engine/internal/model"
	"github.com/sells-group/prospect-engine/internal/resilience"
	"github.com/sells-group/prospect-engine/pkg/anthropic"
	"github.com/sells-group/prospect-engine/pkg/anthropic/mocks"
)

var target = Target{Industry: "real estate", Country: "Uganda"}

func batch(n int) []model.Prospect {
	out := make([]model.Prospect, n)
	for i := range out {
		out[i] = model.Prospect{ID: fmt.Sprintf("p%d", i), Industry: "banking"}
	}
	return out
}

func ids(ps []model.Prospect) []string {
	out := make([]string, len(ps))
	for i, p := range ps {
		out[i] = p.ID
	}
	return out
}

func TestRank_DeterministicStableOrder(t *testing.T) {
	ps := []model.Prospect{
		{ID: "a", Industry: "banking"},
		{ID: "b", Industry: "real estate"},
		{ID: "c", Industry: "banking"},
		{ID: "d", Industry: "real estate", Location: "Uganda"},
	}
	out := NewRanker(nil).Rank(context.Background(), ps, target)
	assert.Equal(t, []string{"d", "b", "a", "c"}, ids(out))
	assert.Equal(t, 90, out[0].Score)
	assert.Equal(t, 0, ps[0].Score, "input is not mutated")
}

func TestRank_RerankerAppliesBatchIDsOnly(t *testing.T) {
	ai := mocks.NewMockClient(t)
	ai.On("CreateMessage", mock.Anything, mock.Anything).
		Return(mocks.TextResponse("```json\n[{\"id\":\"p4\",\"score\":95},{\"id\":\"ghost\",\"score\":99},{\"id\":\"p0\",\"score\":10}]\n```"), nil).Once()

	out := NewRanker(NewReranker(ai, "claude-haiku-4-5-20251001", nil)).Rank(context.Background(), batch(6), target)
	require.Len(t, out, 6)
	assert.Equal(t, "p4", out[0].ID)
	assert.Equal(t, 95, out[0].Score)
	assert.Equal(t, "p0", out[5].ID)
	assert.NotContains(t, ids(out), "ghost")
}

func TestRank_RerankerFailureKeepsOrder(t *testing.T) {
	tests := []struct {
		name string
		resp string
		err  error
	}{
		{"call error", "", errors.New("overloaded")},
		{"prose", "I think p3 is best", nil},
		{"missing score", `[{"id":"p3"}]`, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ai := mocks.NewMockClient(t)
			if tt.err != nil {
				ai.On("CreateMessage", mock.Anything, mock.Anything).Return(nil, tt.err).Once()
			} else {
				ai.On("CreateMessage", mock.Anything, mock.Anything).Return(mocks.TextResponse(tt.resp), nil).Once()
			}
			out := NewRanker(NewReranker(ai, "m", nil)).Rank(context.Background(), batch(5), target)
			assert.Equal(t, []string{"p0", "p1", "p2", "p3", "p4"}, ids(out))
			for _, p := range out {
				assert.Equal(t, 40, p.Score)
			}
		})
	}
}

func TestRank_SkipsRerankBelowMinimum(t *testing.T) {
	ai := mocks.NewMockClient(t)
	out := NewRanker(NewReranker(ai, "m", nil)).Rank(context.Background(), batch(4), target)
	assert.Len(t, out, 4)
	ai.AssertNotCalled(t, "CreateMessage", mock.Anything, mock.Anything)
}

func TestRank_SendsTopTenOnly(t *testing.T) {
	ai := mocks.NewMockClient(t)
	ai.On("CreateMessage", mock.Anything, mock.MatchedBy(func(req anthropic.MessageRequest) bool {
		content := req.Messages[0].Content
		return strings.Contains(content, `"id":"p9"`) && !strings.Contains(content, `"id":"p10"`)
	})).Return(mocks.TextResponse(`[]`), nil).Once()

	out := NewRanker(NewReranker(ai, "m", nil)).Rank(context.Background(), batch(12), target)
	assert.Len(t, out, 12)
}

func TestRank_OpenBreakerFallsBack(t *testing.T) {
	ai := mocks.NewMockClient(t)
	cb := resilience.NewCircuitBreaker(resilience.CircuitBreakerConfig{FailureThreshold: 1})
	_ = cb.Execute(context.Background(), func(context.Context) error { return errors.New("boom") })
	require.Equal(t, resilience.CircuitOpen, cb.State())

	out := NewRanker(NewReranker(ai, "m", cb)).Rank(context.Background(), batch(5), target)
	assert.Len(t, out, 5)
	ai.AssertNotCalled(t, "CreateMessage", mock.Anything, mock.Anything)
}
