// Package discovery finds prospects through pluggable source connectors,
// normalizes them and removes duplicates before they are persisted.
package discovery

import (
	"context"

	"github.com/sells-group/prospect-engine/internal/model"
	"github.com/sells-group/prospect-engine/internal/scorer"
)

// Params describes one discovery request.
type Params struct {
	Industry string `json:"industry" validate:"required"`
	Country  string `json:"country" validate:"required"`
	Limit    int    `json:"limit" validate:"gte=0"`
}

// RawCandidate is a record as returned by a source, before normalization.
type RawCandidate struct {
	Name        string
	Company     string
	Title       string
	Industry    string
	Location    string
	Email       string
	Phone       string
	ProfileURL  string
	Website     string
	CompanySize string
	Summary     string
	Channel     model.Channel
	Source      string
}

// Source fetches raw candidates from one origin. An empty result is not an
// error.
type Source interface {
	Name() string
	Search(ctx context.Context, params Params) ([]RawCandidate, error)
}

// Store is the persistence the pipeline needs.
type Store interface {
	ExistingDedupKeys(ctx context.Context, keys []string) (map[string]bool, error)
	InsertProspects(ctx context.Context, prospects []model.Prospect) (int, error)
	IncrementCounter(ctx context.Context, day, metric string, delta int) error
}

// Ranker scores prospects against the requested audience and orders them.
type Ranker interface {
	Rank(ctx context.Context, prospects []model.Prospect, t scorer.Target) []model.Prospect
}

// Enricher fills company details on a prospect in place.
type Enricher interface {
	Enrich(ctx context.Context, p *model.Prospect) error
}
