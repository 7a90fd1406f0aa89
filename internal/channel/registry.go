package channel

import (
	"go.uber.org/zap"

	"github.com/sells-group/prospect-engine/internal/config"
	"github.com/sells-group/prospect-engine/internal/model"
	"github.com/sells-group/prospect-engine/internal/monitoring"
	"github.com/sells-group/prospect-engine/internal/resilience"
)

// FromConfig builds a registry with one sender per channel. Channels that are
// switched off get a Disabled sender that counts its drops on m. The returned
// func releases any open connections.
func FromConfig(cfg config.ChannelsConfig, retry resilience.RetryConfig, m *monitoring.Metrics) (*Registry, func() error, error) {
	r := NewRegistry()
	closeFn := func() error { return nil }

	if cfg.SMTP.Enabled {
		r.Register(model.ChannelEmail, NewEmailSender(cfg.SMTP))
	} else {
		r.Register(model.ChannelEmail, Disabled{Channel: model.ChannelEmail, Metrics: m})
	}

	registerGateway(r, model.ChannelWhatsApp, cfg.WhatsApp, retry, m)
	registerGateway(r, model.ChannelSMS, cfg.SMS, retry, m)
	registerGateway(r, model.ChannelLinkedIn, cfg.Social, retry, m)
	registerGateway(r, model.ChannelInstagram, cfg.Social, retry, m)

	if cfg.AMQP.Enabled {
		alerts, err := NewAlertSender(cfg.AMQP)
		if err != nil {
			return nil, closeFn, err
		}
		r.Register(model.ChannelAlert, alerts)
		closeFn = alerts.Close
	} else {
		r.Register(model.ChannelAlert, Disabled{Channel: model.ChannelAlert, Metrics: m})
	}

	zap.L().Debug("channel registry ready", zap.Int("channels", len(r.senders)))
	return r, closeFn, nil
}

func registerGateway(r *Registry, ch model.Channel, gw config.GatewayConfig, retry resilience.RetryConfig, m *monitoring.Metrics) {
	if !gw.Enabled || gw.BaseURL == "" {
		r.Register(ch, Disabled{Channel: ch, Metrics: m})
		return
	}
	r.Register(ch, NewGatewaySender(ch, gw, retry))
}
