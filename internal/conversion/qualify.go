package conversion

import (
	"context"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/prospect-engine/internal/model"
)

// QualifyThreshold is the score below which a lead is asked about budget
// and timeline.
const QualifyThreshold = 60

// QualifyStore is the persistence the qualifier needs.
type QualifyStore interface {
	CreateQualificationSession(ctx context.Context, session *model.QualificationSession) error
	EnqueueNotification(ctx context.Context, n *model.Notification) error
}

// Prompts lists the questions still needed to qualify l, in the order they
// are asked. An empty result means l is qualified.
func Prompts(l model.Lead) []string {
	var out []string
	if strings.TrimSpace(l.Name) == "" {
		out = append(out, "Could you share your full name?")
	}
	if strings.TrimSpace(l.Email) == "" {
		out = append(out, "What's the best email to reach you on?")
	}
	if strings.TrimSpace(l.Company) == "" {
		out = append(out, "Which company are you with?")
	}
	if l.Score < QualifyThreshold {
		out = append(out, "What budget and timeline are you working with?")
	}
	return out
}

// Qualifier opens qualification sessions and sends their prompts.
type Qualifier struct {
	store QualifyStore
}

// NewQualifier creates a Qualifier.
func NewQualifier(st QualifyStore) *Qualifier {
	return &Qualifier{store: st}
}

// Start persists a session for lead and enqueues its prompts as one
// message. It returns nil when the lead needs nothing.
func (q *Qualifier) Start(ctx context.Context, lead model.Lead) (*model.QualificationSession, error) {
	prompts := Prompts(lead)
	if len(prompts) == 0 {
		return nil, nil
	}
	qs := &model.QualificationSession{LeadID: lead.ID, Prompts: prompts}
	if err := q.store.CreateQualificationSession(ctx, qs); err != nil {
		return nil, eris.Wrapf(err, "qualify: create session for lead %s", lead.ID)
	}

	if lead.Recipient == "" {
		zap.L().Warn("qualify: lead has no recipient, prompts not sent", zap.String("lead_id", lead.ID))
		return qs, nil
	}
	n := &model.Notification{
		Channel:   lead.Channel,
		LeadID:    lead.ID,
		Recipient: lead.Recipient,
		Payload:   "Thanks for getting back to us! A couple of quick questions:\n- " + strings.Join(prompts, "\n- "),
	}
	if err := q.store.EnqueueNotification(ctx, n); err != nil {
		return qs, eris.Wrapf(err, "qualify: enqueue prompts for lead %s", lead.ID)
	}
	return qs, nil
}
