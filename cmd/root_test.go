package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/prospect-engine/internal/classify"
	"github.com/sells-group/prospect-engine/internal/config"
	"github.com/sells-group/prospect-engine/internal/conversion"
	"github.com/sells-group/prospect-engine/internal/discovery"
	"github.com/sells-group/prospect-engine/internal/model"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	return &config.Config{
		Store:      config.StoreConfig{Driver: "sqlite", DatabaseURL: filepath.Join(t.TempDir(), "engine.db")},
		Server:     config.ServerConfig{Port: 8080},
		Discovery:  config.DiscoveryConfig{MaxLimit: 100},
		Outreach:   config.OutreachConfig{Concurrency: 5, DefaultCap: 10, SenderName: "Ops"},
		Outbox:     config.OutboxConfig{BatchSize: 10, MaxAttempts: 3},
		Booking:    config.BookingConfig{Timezone: "UTC"},
		Monitoring: config.MonitoringConfig{AlertRecipient: "ops"},
	}
}

func withConfig(t *testing.T, c *config.Config) {
	t.Helper()
	prev := cfg
	cfg = c
	t.Cleanup(func() { cfg = prev })
}

func TestRootCommand_HasSubcommands(t *testing.T) {
	names := make(map[string]bool)
	for _, c := range rootCmd.Commands() {
		names[c.Name()] = true
	}
	for _, name := range []string{"migrate", "discover", "outreach", "outbox", "serve", "reply"} {
		assert.True(t, names[name], "expected subcommand %q not found", name)
	}
}

func TestRootCommand_Metadata(t *testing.T) {
	assert.Equal(t, "prospect-engine", rootCmd.Use)
	assert.NotEmpty(t, rootCmd.Short)
	assert.NotEmpty(t, rootCmd.Long)
}

func TestCommandFlags(t *testing.T) {
	tests := []struct {
		cmd  string
		flag string
		def  string
	}{
		{"discover", "industry", ""},
		{"discover", "country", ""},
		{"discover", "limit", "0"},
		{"outbox", "once", "false"},
		{"serve", "port", "0"},
		{"serve", "no-outbox", "false"},
		{"reply", "prospect-id", ""},
		{"reply", "text", ""},
	}
	for _, tt := range tests {
		t.Run(tt.cmd+"/"+tt.flag, func(t *testing.T) {
			c, _, err := rootCmd.Find([]string{tt.cmd})
			require.NoError(t, err)
			f := c.Flags().Lookup(tt.flag)
			require.NotNil(t, f)
			assert.Equal(t, tt.def, f.DefValue)
		})
	}
}

func TestInitStore_UnsupportedDriver(t *testing.T) {
	c := testConfig(t)
	c.Store.Driver = "mysql"
	withConfig(t, c)

	_, err := initStore(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported store driver")
}

func TestInitEnv_InvalidConfig(t *testing.T) {
	c := testConfig(t)
	c.Outbox.BatchSize = 0
	withConfig(t, c)

	_, err := initEnv(context.Background(), "outbox")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "outbox.batch_size")
}

func TestInitEnv_BuildsComponentsWithoutKeys(t *testing.T) {
	withConfig(t, testConfig(t))
	ctx := context.Background()

	env, err := initEnv(ctx, "serve")
	require.NoError(t, err)
	defer env.Close()

	assert.Nil(t, env.AI)
	assert.IsType(t, classify.KeywordClassifier{}, env.classifier())
	require.NoError(t, env.Store.Ping(ctx))

	for _, ch := range model.OutreachChannels {
		_, ok := env.Channels.Get(ch)
		assert.True(t, ok, "channel %s registered", ch)
	}

	conv, err := env.conversion()
	require.NoError(t, err)
	assert.NotNil(t, env.gateway(conv))
	assert.NotNil(t, env.discovery())
	assert.NotNil(t, env.orchestrator())
	assert.NotNil(t, env.dispatcher())
	assert.NotNil(t, env.checker())
}

func TestInitEnv_DiscoveryWithAllConnectors(t *testing.T) {
	c := testConfig(t)
	c.Discovery.GoogleKey = "g"
	c.Discovery.JinaKey = "j"
	c.Discovery.FirecrawlKey = "f"
	c.Discovery.PerplexityKey = "p"
	c.Discovery.ImportPaths = []string{"leads.csv"}
	withConfig(t, c)

	env, err := initEnv(context.Background(), "discover")
	require.NoError(t, err)
	defer env.Close()

	assert.NotNil(t, env.discovery())
}

func TestInitEnv_BadCRMProvider(t *testing.T) {
	c := testConfig(t)
	withConfig(t, c)
	env, err := initEnv(context.Background(), "migrate")
	require.NoError(t, err)
	defer env.Close()

	c.CRM.Provider = "hubspot"
	_, err = env.conversion()
	require.Error(t, err)
}

func TestReplyFlow_ProposesSlots(t *testing.T) {
	withConfig(t, testConfig(t))
	ctx := context.Background()

	env, err := initEnv(ctx, "reply")
	require.NoError(t, err)
	defer env.Close()

	_, err = env.Store.InsertProspects(ctx, []model.Prospect{{
		ID: "p-1", Name: "Jane Doe", Company: "Acme Realty", Email: "jane@acme.ug",
		Channel: model.ChannelEmail, Status: model.ProspectContacted,
	}})
	require.NoError(t, err)

	conv, err := env.conversion()
	require.NoError(t, err)
	out, err := conv.HandleReply(ctx, conversion.Reply{ProspectID: "p-1", Text: "Can we book a demo?"})
	require.NoError(t, err)
	assert.Equal(t, conversion.ActionProposed, out.Action)
	require.NotNil(t, out.Offer)
	assert.Len(t, out.Offer.Slots, 4)

	// The offer and the new-lead alert are queued. Every channel is disabled
	// in the test config, so both are dropped as delivered.
	res, err := env.dispatcher().Tick(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, res.Claimed)
	assert.Equal(t, res.Claimed, res.Sent)
}

func TestOutreach_NoProspects(t *testing.T) {
	withConfig(t, testConfig(t))
	ctx := context.Background()

	env, err := initEnv(ctx, "outreach")
	require.NoError(t, err)
	defer env.Close()

	summary, err := env.orchestrator().Run(ctx, nil)
	require.NoError(t, err)
	assert.Zero(t, summary.Sent)

	var buf bytes.Buffer
	require.NoError(t, printJSON(&buf, summary))
	assert.Contains(t, buf.String(), `"sent": 0`)
}

func TestDiscover_ImportScoredAgainstRequest(t *testing.T) {
	c := testConfig(t)
	csvPath := filepath.Join(t.TempDir(), "leads.csv")
	require.NoError(t, os.WriteFile(csvPath, []byte(
		"name,title,industry,location,email\n"+
			"Grace Okello,Founder,real estate,Kampala Uganda,grace@okello.ug\n"), 0o600))
	c.Discovery.ImportPaths = []string{csvPath}
	withConfig(t, c)

	env, err := initEnv(context.Background(), "discover")
	require.NoError(t, err)
	defer env.Close()

	res, err := env.discovery().Discover(context.Background(), discovery.Params{Industry: "real estate", Country: "Uganda"})
	require.NoError(t, err)
	require.Len(t, res.Prospects, 1)
	assert.Equal(t, 100, res.Prospects[0].Score)
}
