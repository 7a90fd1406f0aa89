// Package channel delivers text messages to contacts over email, messaging
// gateways and the internal alert bus.
package channel

import (
	"context"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/prospect-engine/internal/model"
	"github.com/sells-group/prospect-engine/internal/monitoring"
)

var (
	// ErrMissingRecipient is returned when a send has no target handle.
	ErrMissingRecipient = eris.New("channel: missing recipient")
	// ErrUnsupported is returned when no sender is registered for a channel.
	ErrUnsupported = eris.New("channel: unsupported channel")
)

// Sender delivers one message. A disabled sender logs and returns nil.
type Sender interface {
	Send(ctx context.Context, recipient, text string) error
}

// SenderFunc adapts a function to Sender.
type SenderFunc func(ctx context.Context, recipient, text string) error

// Send implements Sender.
func (f SenderFunc) Send(ctx context.Context, recipient, text string) error {
	return f(ctx, recipient, text)
}

// Registry maps channels to senders.
type Registry struct {
	senders map[model.Channel]Sender
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{senders: make(map[model.Channel]Sender)}
}

// Register sets the sender for ch, replacing any previous one.
func (r *Registry) Register(ch model.Channel, s Sender) {
	r.senders[ch] = s
}

// Get returns the sender for ch.
func (r *Registry) Get(ch model.Channel) (Sender, bool) {
	s, ok := r.senders[ch]
	return s, ok
}

// Channels lists the registered channels.
func (r *Registry) Channels() []model.Channel {
	out := make([]model.Channel, 0, len(r.senders))
	for ch := range r.senders {
		out = append(out, ch)
	}
	return out
}

// Enabled reports whether ch has a sender that actually delivers.
func (r *Registry) Enabled(ch model.Channel) bool {
	s, ok := r.Get(ch)
	return ok && !IsDisabled(s)
}

// Send looks up the sender for ch and delivers text to recipient.
func (r *Registry) Send(ctx context.Context, ch model.Channel, recipient, text string) error {
	s, ok := r.Get(ch)
	if !ok {
		return eris.Wrapf(ErrUnsupported, "channel: send %s", ch)
	}
	if strings.TrimSpace(recipient) == "" {
		return eris.Wrapf(ErrMissingRecipient, "channel: send %s", ch)
	}
	return s.Send(ctx, recipient, text)
}

// Disabled is the sender used for channels that are configured off. It
// accepts every message and delivers none.
type Disabled struct {
	Channel model.Channel
	Metrics *monitoring.Metrics
}

// Send implements Sender.
func (d Disabled) Send(_ context.Context, recipient, _ string) error {
	zap.L().Warn("channel disabled, message dropped",
		zap.String("channel", string(d.Channel)),
		zap.String("recipient", recipient),
	)
	d.Metrics.ChannelDropped(string(d.Channel))
	return nil
}

// IsDisabled reports whether s drops messages instead of delivering them.
func IsDisabled(s Sender) bool {
	switch s.(type) {
	case Disabled, *Disabled:
		return true
	}
	return false
}
