package config

import (
	"fmt"
	"strings"

	"github.com/rotisserie/eris"
)

// Validate checks the settings a command mode depends on and reports every
// problem at once.
func (c *Config) Validate(mode string) error {
	var errs []string
	require := func(ok bool, msg string) {
		if !ok {
			errs = append(errs, msg)
		}
	}

	switch mode {
	case "migrate":
		c.validateStore(require)
	case "discover":
		c.validateStore(require)
		require(c.Discovery.MaxLimit >= 1 && c.Discovery.MaxLimit <= 100, "discovery.max_limit must be between 1 and 100")
	case "outreach":
		c.validateStore(require)
		c.validateOutreach(require)
	case "outbox":
		c.validateStore(require)
		c.validateOutbox(require)
	case "reply":
		c.validateStore(require)
		c.validateCRM(require)
	case "serve":
		c.validateStore(require)
		c.validateOutreach(require)
		c.validateOutbox(require)
		c.validateCRM(require)
		require(c.Server.Port > 0, "server.port must be > 0")
		require(c.Inbound.RetryDelaySecs >= 0, "inbound.retry_delay_secs must be >= 0")
	default:
		return eris.Errorf("config: unknown mode %q", mode)
	}

	if len(errs) > 0 {
		return eris.New(fmt.Sprintf("config: invalid for %s: %s", mode, strings.Join(errs, "; ")))
	}
	return nil
}

func (c *Config) validateStore(require func(bool, string)) {
	require(c.Store.DatabaseURL != "", "store.database_url is required")
	require(c.Store.Driver == "postgres" || c.Store.Driver == "sqlite", "store.driver must be postgres or sqlite")
}

func (c *Config) validateOutreach(require func(bool, string)) {
	require(c.Outreach.Concurrency >= 1 && c.Outreach.Concurrency <= 10, "outreach.concurrency must be between 1 and 10")
	require(c.Outreach.DefaultCap >= 0, "outreach.default_cap must be >= 0")
	for ch, n := range c.Outreach.Caps {
		require(n >= 0, fmt.Sprintf("outreach.caps.%s must be >= 0", ch))
	}
}

func (c *Config) validateOutbox(require func(bool, string)) {
	require(c.Outbox.BatchSize > 0, "outbox.batch_size must be > 0")
	require(c.Outbox.MaxAttempts > 0, "outbox.max_attempts must be > 0")
}

func (c *Config) validateCRM(require func(bool, string)) {
	switch c.CRM.Provider {
	case "", "none":
	case "salesforce":
		require(c.CRM.Salesforce.ClientID != "", "crm.salesforce.client_id is required")
		require(c.CRM.Salesforce.Username != "", "crm.salesforce.username is required")
		require(c.CRM.Salesforce.KeyPath != "", "crm.salesforce.key_path is required")
	case "notion":
		require(c.CRM.Notion.Token != "", "crm.notion.token is required")
		require(c.CRM.Notion.LeadDB != "", "crm.notion.lead_db is required")
	default:
		require(false, "crm.provider must be none, salesforce or notion")
	}
}
