package classify

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/prospect-engine/internal/model"
	"github.com/sells-group/prospect-engine/internal/monitoring"
	"github.com/sells-group/prospect-engine/pkg/anthropic"
	"github.com/sells-group/prospect-engine/pkg/anthropic/mocks"
)

const testModel = "claude-haiku-4-5-20251001"

type counterMap map[string]int

func (c counterMap) IncrementCounter(_ context.Context, _ string, metric string, delta int) error {
	c[metric] += delta
	return nil
}

func TestLLMClassifier_Success(t *testing.T) {
	ai := mocks.NewMockClient(t)
	ai.On("CreateMessage", mock.Anything, mock.MatchedBy(func(r anthropic.MessageRequest) bool {
		return r.Model == testModel && r.Messages[0].Content == "Can we do a demo Tuesday?"
	})).Return(mocks.TextResponse(`{"intent":"book_demo","sentiment":1.7,"confidence":0.9,"keywords":["demo"]}`), nil).Once()

	counters := counterMap{}
	c := NewLLMClassifier(ai, testModel, WithCounters(counters), WithMetrics(monitoring.NewMetrics())).
		Classify(context.Background(), "Can we do a demo Tuesday?")
	assert.Equal(t, model.IntentBookDemo, c.Intent)
	assert.Equal(t, 1.0, c.Sentiment, "sentiment is clamped")
	assert.Equal(t, 0.9, c.Confidence)
	assert.Equal(t, []string{"demo"}, c.Keywords)
	assert.Equal(t, 1, counters["classify_total"])
	assert.Zero(t, counters["classify_fallback"])
}

func TestLLMClassifier_FallsBackToDefault(t *testing.T) {
	tests := []struct {
		name string
		resp *anthropic.MessageResponse
		err  error
	}{
		{"call error", nil, errors.New("overloaded")},
		{"prose", mocks.TextResponse("The customer seems happy."), nil},
		{"missing sentiment", mocks.TextResponse(`{"intent":"PRICING","confidence":0.8}`), nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ai := mocks.NewMockClient(t)
			ai.On("CreateMessage", mock.Anything, mock.Anything).Return(tt.resp, tt.err).Once()

			counters := counterMap{}
			c := NewLLMClassifier(ai, testModel, WithCounters(counters)).Classify(context.Background(), "hello")
			assert.Equal(t, model.DefaultClassification(), c)
			assert.Equal(t, 1, counters["classify_fallback"])
		})
	}
}

func TestLLMClassifier_Timeout(t *testing.T) {
	ai := mocks.NewMockClient(t)
	ai.On("CreateMessage", mock.Anything, mock.Anything).
		Return(func(ctx context.Context, _ anthropic.MessageRequest) (*anthropic.MessageResponse, error) {
			<-ctx.Done()
			return nil, ctx.Err()
		}).Once()

	start := time.Now()
	c := NewLLMClassifier(ai, testModel, WithTimeout(20*time.Millisecond)).Classify(context.Background(), "hi")
	assert.Equal(t, model.DefaultClassification(), c)
	assert.Less(t, time.Since(start), 2*time.Second)
}

func TestLLMClassifier_EmptyTextSkipsCall(t *testing.T) {
	ai := mocks.NewMockClient(t)
	c := NewLLMClassifier(ai, testModel).Classify(context.Background(), "   ")
	assert.Equal(t, model.DefaultClassification(), c)
}

func TestKeywordClassifier(t *testing.T) {
	tests := []struct {
		text string
		want model.Intent
	}{
		{"Not interested, please remove me", model.IntentNoInterest},
		{"Happy to book a demo next week", model.IntentBookDemo},
		{"2", model.IntentBookDemo},
		{"How much does it cost?", model.IntentPricing},
		{"Sounds good, tell me more", model.IntentInterest},
		{"What is this about?", model.IntentQuestion},
		{"ok", model.IntentGeneral},
		{"", model.IntentGeneral},
	}
	for _, tt := range tests {
		t.Run(tt.text, func(t *testing.T) {
			got := KeywordClassifier{}.Classify(context.Background(), tt.text)
			require.Equal(t, tt.want, got.Intent)
		})
	}
}
