// Package crm mirrors converted leads into an external CRM.
package crm

import (
	"context"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/prospect-engine/internal/config"
	"github.com/sells-group/prospect-engine/internal/model"
	"github.com/sells-group/prospect-engine/internal/resilience"
	"github.com/sells-group/prospect-engine/pkg/notion"
	"github.com/sells-group/prospect-engine/pkg/salesforce"
)

// Mirror pushes the current state of a lead to a CRM.
type Mirror interface {
	MirrorLead(ctx context.Context, lead model.Lead, intent model.Intent) error
}

// Noop discards every lead.
type Noop struct{}

// MirrorLead implements Mirror.
func (Noop) MirrorLead(context.Context, model.Lead, model.Intent) error { return nil }

// BestEffort logs mirror failures instead of returning them. The lead is
// already committed locally when the mirror runs.
type BestEffort struct {
	Mirror Mirror
	Name   string
}

// MirrorLead implements Mirror.
func (b BestEffort) MirrorLead(ctx context.Context, lead model.Lead, intent model.Intent) error {
	if err := b.Mirror.MirrorLead(ctx, lead, intent); err != nil {
		zap.L().Warn("crm: mirror failed",
			zap.String("provider", b.Name),
			zap.String("lead_id", lead.ID),
			zap.Error(err),
		)
	}
	return nil
}

// FromConfig builds the mirror named by cfg.Provider. An empty provider
// yields Noop.
func FromConfig(cfg config.CRMConfig) (Mirror, error) {
	switch strings.ToLower(cfg.Provider) {
	case "", "none":
		return Noop{}, nil
	case "salesforce":
		c, err := salesforce.NewFromConfig(cfg.Salesforce)
		if err != nil {
			return nil, eris.Wrap(err, "crm: salesforce")
		}
		return BestEffort{Mirror: NewSalesforceMirror(c), Name: "salesforce"}, nil
	case "notion":
		c, err := notion.NewFromConfig(cfg.Notion, notion.WithRetry(resilience.DefaultRetryConfig()))
		if err != nil {
			return nil, eris.Wrap(err, "crm: notion")
		}
		return BestEffort{Mirror: NewNotionMirror(c, cfg.Notion.LeadDB), Name: "notion"}, nil
	default:
		return nil, eris.Errorf("crm: unknown provider %q", cfg.Provider)
	}
}
