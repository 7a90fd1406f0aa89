package scorer

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/prospect-engine/internal/model"
	"github.com/sells-group/prospect-engine/internal/resilience"
	"github.com/sells-group/prospect-engine/pkg/anthropic"
)

const (
	rerankTopN          = 10
	rerankMinCandidates = 5
)

const rerankPrompt = `You rank B2B sales prospects for fit with a target audience.
You receive a JSON array of prospects with their current score.
Return ONLY a JSON array of objects {"id": string, "score": integer 0-100},
one per prospect you were given. Do not add commentary.`

// Reranker refines the top of a ranking with a language model.
type Reranker struct {
	ai      anthropic.Client
	model   string
	breaker *resilience.CircuitBreaker
}

// NewReranker returns a Reranker. breaker may be nil.
func NewReranker(ai anthropic.Client, model string, breaker *resilience.CircuitBreaker) *Reranker {
	return &Reranker{ai: ai, model: model, breaker: breaker}
}

type rerankItem struct {
	ID       string `json:"id"`
	Name     string `json:"name,omitempty"`
	Title    string `json:"title,omitempty"`
	Company  string `json:"company,omitempty"`
	Industry string `json:"industry,omitempty"`
	Location string `json:"location,omitempty"`
	Score    int    `json:"score"`
}

type rerankScore struct {
	ID    string   `json:"id"`
	Score *float64 `json:"score"`
}

// Rescore asks the model for new scores. The result only carries IDs that
// were in batch. Any call or parse failure returns an error and no scores.
func (r *Reranker) Rescore(ctx context.Context, batch []model.Prospect, t Target) (map[string]int, error) {
	items := make([]rerankItem, len(batch))
	inBatch := make(map[string]bool, len(batch))
	for i, p := range batch {
		items[i] = rerankItem{ID: p.ID, Name: p.Name, Title: p.Title, Company: p.Company,
			Industry: p.Industry, Location: p.Location, Score: p.Score}
		inBatch[p.ID] = true
	}
	payload, err := json.Marshal(items)
	if err != nil {
		return nil, eris.Wrap(err, "rerank: marshal batch")
	}

	call := func(ctx context.Context) (*anthropic.MessageResponse, error) {
		return r.ai.CreateMessage(ctx, anthropic.MessageRequest{
			Model:     r.model,
			MaxTokens: 512,
			System:    anthropic.CachedSystem(rerankPrompt),
			Messages: []anthropic.Message{{
				Role:    "user",
				Content: fmt.Sprintf("Target industry: %s\nTarget country: %s\n\nProspects:\n%s", t.Industry, t.Country, payload),
			}},
		})
	}
	var resp *anthropic.MessageResponse
	if r.breaker != nil {
		resp, err = resilience.ExecuteVal(ctx, r.breaker, call)
	} else {
		resp, err = call(ctx)
	}
	if err != nil {
		return nil, eris.Wrap(err, "rerank: create message")
	}
	resp.Usage.LogCost(r.model, "rerank")

	var scores []rerankScore
	if err := anthropic.DecodeJSON(resp, &scores); err != nil {
		return nil, eris.Wrap(err, "rerank: parse scores")
	}
	out := make(map[string]int, len(scores))
	for _, s := range scores {
		if s.ID == "" || s.Score == nil {
			return nil, eris.New("rerank: entry missing id or score")
		}
		if inBatch[s.ID] {
			out[s.ID] = Clamp(*s.Score)
		}
	}
	return out, nil
}

// Ranker scores prospects and orders them by score, highest first. Ties keep
// their input order.
type Ranker struct {
	reranker *Reranker
}

// NewRanker returns a Ranker. A nil reranker disables model refinement.
func NewRanker(reranker *Reranker) *Ranker {
	return &Ranker{reranker: reranker}
}

// Rank scores every prospect against t and returns them sorted.
func (r *Ranker) Rank(ctx context.Context, prospects []model.Prospect, t Target) []model.Prospect {
	out := make([]model.Prospect, len(prospects))
	copy(out, prospects)
	for i := range out {
		out[i].Score = Score(out[i], t)
	}
	sortByScore(out)

	if r.reranker == nil || len(out) < rerankMinCandidates {
		return out
	}

	top := out[:min(rerankTopN, len(out))]
	scores, err := r.reranker.Rescore(ctx, top, t)
	if err != nil {
		zap.L().Warn("rerank: keeping deterministic order", zap.Error(err))
		return out
	}
	for i := range top {
		if s, ok := scores[top[i].ID]; ok {
			top[i].Score = s
		}
	}
	sortByScore(out)
	return out
}

func sortByScore(ps []model.Prospect) {
	sort.SliceStable(ps, func(i, j int) bool { return ps[i].Score > ps[j].Score })
}
