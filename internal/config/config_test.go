package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

const sampleYAML = `
logging:
  level: debug
  console: true
scheduler:
  timezone: America/Los_Angeles
task_engine:
  workers: 2
  retry_max: 1
  retry_base: 1s
chain:
  receipt_timeout: 90s
  gas_multiplier: 1.3
claims:
  - name: sp-main
    schedule: "* * * * * *"
    owner: "0x4e6e6e6e6e6e6e6e6e6e6e6e6e6e6e6e6e6e6e6e"
    private_key: ${SP_MAIN_PK}
    overlap: queue
    queue_depth: 2
  - name: sp-hourly
    enabled: false
    schedule: "0 0 * * * *"
    timezone: Asia/Tokyo
    owner: "0x1111111111111111111111111111111111111111"
    private_key: "0xabc"
    network:
      provider_endpoint: https://node.example/${NODE_KEY}
alerts:
  telegram:
    enabled: true
    token: ${TG_TOKEN}
    chat_id: -100123
    thread_id: 7
`

func env(m map[string]string) func(string) (string, bool) {
	return func(k string) (string, bool) {
		v, ok := m[k]
		return v, ok
	}
}

func writeFile(t *testing.T, dir, name, body string) string {
	t.Helper()
	p := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(p, []byte(body), 0o600))
	return p
}

func TestDecodeYAMLAndExpand(t *testing.T) {
	t.Parallel()
	cfg, err := Decode("config.yaml", []byte(sampleYAML))
	require.NoError(t, err)
	require.NoError(t, ExpandEnv(cfg, env(map[string]string{"SP_MAIN_PK": "0xfeed", "TG_TOKEN": "123:abc", "NODE_KEY": "k1"})))

	require.True(t, cfg.Scheduler.IsEnabled())
	require.Equal(t, "America/Los_Angeles", cfg.Scheduler.EffectiveTimezone())
	require.Equal(t, 2, cfg.TaskEngine.Workers)
	require.Len(t, cfg.Claims, 2)
	require.Equal(t, "0xfeed", cfg.Claims[0].PrivateKey)
	require.True(t, cfg.Claims[0].IsEnabled())
	require.False(t, cfg.Claims[1].IsEnabled())
	require.Equal(t, "https://node.example/k1", cfg.Claims[1].Network.ProviderEndpoint)
	require.Equal(t, "123:abc", cfg.Alerts.Telegram.Token)
	require.Equal(t, int64(-100123), cfg.Alerts.Telegram.ChatID)
	require.True(t, cfg.Systemd.IsEnabled())
	require.NoError(t, Validate(cfg))
}

func TestDecodeRejectsUnknownAndTrailing(t *testing.T) {
	t.Parallel()
	_, err := Decode("config.yaml", []byte("claims: []\ncron: '* * * * * *'\n"))
	require.Error(t, err)
	require.Contains(t, err.Error(), "cron")

	_, err = Decode("config.json", []byte(`{"claims":[]}{"claims":[]}`))
	require.EqualError(t, err, "invalid config: trailing data")
}

func TestExpandEnvReportsMissing(t *testing.T) {
	t.Parallel()
	cfg, err := Decode("config.yaml", []byte(sampleYAML))
	require.NoError(t, err)
	err = ExpandEnv(cfg, env(map[string]string{"TG_TOKEN": "x", "NODE_KEY": "k"}))
	require.Error(t, err)
	require.Contains(t, err.Error(), "claims[0].private_key")
	require.Contains(t, err.Error(), "SP_MAIN_PK")
}

func TestValidateCollectsProblems(t *testing.T) {
	t.Parallel()
	cfg := &Config{
		Logging:   LoggingConfig{Level: "loud"},
		Scheduler: SchedulerConfig{Timezone: "Mars/Olympus"},
		Chain:     ChainConfig{ReceiptPoll: "soon", GasMultiplier: 0.5},
		Claims: []ClaimConfig{
			{Name: "a", Schedule: "* * * * * *", Owner: "nope", PrivateKey: "k"},
			{Name: "a", Schedule: "", Owner: "0x1111111111111111111111111111111111111111"},
		},
		Alerts: AlertsConfig{Telegram: TelegramAlertConfig{Enabled: true}},
	}
	err := Validate(cfg)
	require.Error(t, err)
	for _, want := range []string{
		"logging.level",
		"scheduler.timezone",
		"chain.receipt_poll",
		"chain.gas_multiplier",
		"claims[a].name: duplicate",
		"claims[a].schedule: required",
		"alerts.telegram.token",
		"alerts.telegram.chat_id",
	} {
		require.Contains(t, err.Error(), want)
	}
	// credentials fail per tick, not at load
	require.NotContains(t, err.Error(), "owner")
	require.NotContains(t, err.Error(), "private_key")
}

func TestValidateLeavesCredentialsToClaimTime(t *testing.T) {
	t.Parallel()
	off := false
	cfg := &Config{
		Network: NetworkConfig{RegistryAddress: "not-hex"},
		Claims: []ClaimConfig{
			{Name: "parked", Enabled: &off, Schedule: "@hourly"},
			{Name: "bad-owner", Schedule: "@hourly", Owner: "not-an-address"},
		},
	}
	require.NoError(t, Validate(cfg))
}

func TestValidateClaimRetryOverride(t *testing.T) {
	t.Parallel()
	zero, neg := 0, -1
	require.NoError(t, Validate(&Config{Claims: []ClaimConfig{{Name: "a", Schedule: "@hourly", RetryMax: &zero}}}))
	err := Validate(&Config{Claims: []ClaimConfig{{Name: "a", Schedule: "@hourly", RetryMax: &neg}}})
	require.Error(t, err)
	require.Contains(t, err.Error(), "claims[a].retry_max")
}

func TestRedactedHidesSecrets(t *testing.T) {
	t.Parallel()
	cfg := &Config{
		Claims: []ClaimConfig{{Name: "a", PrivateKey: "0xsecret", Network: &NetworkConfig{ProviderEndpoint: "http://x"}}},
		Alerts: AlertsConfig{Telegram: TelegramAlertConfig{Token: "123:abc"}},
	}
	r := cfg.Redacted()
	require.Equal(t, "[redacted]", r.Claims[0].PrivateKey)
	require.Equal(t, "[redacted]", r.Alerts.Telegram.Token)
	require.Equal(t, "0xsecret", cfg.Claims[0].PrivateKey)

	r.Claims[0].Network.ProviderEndpoint = "changed"
	require.Equal(t, "http://x", cfg.Claims[0].Network.ProviderEndpoint)
}

func TestDiffClaims(t *testing.T) {
	t.Parallel()
	oldCfg := &Config{Claims: []ClaimConfig{{Name: "a", Schedule: "@hourly"}, {Name: "b", Schedule: "@hourly"}, {Name: "c"}}}
	newCfg := &Config{Claims: []ClaimConfig{{Name: "a", Schedule: "@hourly"}, {Name: "b", Schedule: "@daily"}, {Name: "d"}}}

	d := DiffClaims(oldCfg, newCfg)
	require.Equal(t, []string{"d"}, d.Added)
	require.Equal(t, []string{"c"}, d.Removed)
	require.Equal(t, []string{"b"}, d.Changed)

	sections, _, cd := SummarizeConfigChange(oldCfg, newCfg)
	require.Equal(t, []string{"claims"}, sections)
	require.Equal(t, d, cd)
	require.True(t, DiffClaims(oldCfg, oldCfg).Empty())
}

func TestLoadEnvFile(t *testing.T) {
	dir := t.TempDir()
	ok, err := LoadEnvFile(filepath.Join(dir, "missing.env"))
	require.NoError(t, err)
	require.False(t, ok)

	p := writeFile(t, dir, ".env", "SPCLAIM_TEST_PK=0xfromfile\n")
	t.Cleanup(func() { _ = os.Unsetenv("SPCLAIM_TEST_PK") })
	ok, err = LoadEnvFile(p)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "0xfromfile", os.Getenv("SPCLAIM_TEST_PK"))
}

func TestManagerReloadPublishesChanges(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	body := `{"claims":[{"name":"a","schedule":"@hourly","owner":"0x1111111111111111111111111111111111111111","private_key":"${PK}"}]}`
	p := writeFile(t, dir, "config.json", body)

	m := NewConfigManager(p)
	m.SetEnvLookup(env(map[string]string{"PK": "0x01"}))
	cfg, err := m.Load()
	require.NoError(t, err)
	require.Equal(t, "0x01", cfg.Claims[0].PrivateKey)
	require.Same(t, cfg, m.Get())

	sub := m.Subscribe(1)
	defer m.Unsubscribe(sub)

	changed, err := m.Reload(context.Background())
	require.NoError(t, err)
	require.False(t, changed)

	writeFile(t, dir, "config.json", `{"claims":[]}`)
	changed, err = m.Reload(context.Background())
	require.NoError(t, err)
	require.True(t, changed)
	require.Empty(t, (<-sub).Claims)

	// a rejected reload keeps the committed config
	writeFile(t, dir, "config.json", `{"scheduler":{"timezone":"Nowhere/City"}}`)
	_, err = m.Reload(context.Background())
	require.Error(t, err)
	require.Empty(t, m.Get().Scheduler.Timezone)
}

func TestManagerWatchPicksUpWrites(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	p := writeFile(t, dir, "config.yaml", "claims: []\n")
	m := NewConfigManager(p)
	_, err := m.Load()
	require.NoError(t, err)
	sub := m.Subscribe(4)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = m.Watch(ctx) }()

	require.Eventually(t, func() bool {
		writeFile(t, dir, "config.yaml", "scheduler: { timezone: UTC }\nclaims: []\n")
		select {
		case cfg := <-sub:
			return cfg.Scheduler.Timezone == "UTC"
		case <-time.After(400 * time.Millisecond):
			return false
		}
	}, 5*time.Second, 50*time.Millisecond)
}

func TestYAMLKeepsHexLiterals(t *testing.T) {
	t.Parallel()
	body := "claims:\n  - name: raw\n    schedule: \"@hourly\"\n    owner: 0x4e6e6e6e6e6e6e6e6e6e6e6e6e6e6e6e6e6e6e6e\n    private_key: 0x0abc\nalerts:\n  telegram:\n    chat_id: -100123\n"
	cfg, err := Decode("config.yml", []byte(body))
	require.NoError(t, err)
	require.Equal(t, "0x4e6e6e6e6e6e6e6e6e6e6e6e6e6e6e6e6e6e6e6e", cfg.Claims[0].Owner)
	require.Equal(t, "0x0abc", cfg.Claims[0].PrivateKey)
	require.Equal(t, int64(-100123), cfg.Alerts.Telegram.ChatID)
}

func TestDecodeFormatDetection(t *testing.T) {
	t.Parallel()
	cfg, err := Decode("spclaim.conf", []byte(`{"scheduler":{"timezone":"Asia/Tokyo"}}`))
	require.NoError(t, err)
	require.Equal(t, "Asia/Tokyo", cfg.Scheduler.Timezone)

	cfg, err = Decode("spclaim.conf", []byte("scheduler:\n  timezone: Europe/Berlin\n"))
	require.NoError(t, err)
	require.Equal(t, "Europe/Berlin", cfg.Scheduler.Timezone)

	_, err = Decode("config.yaml", []byte("claims: []\n---\nclaims: []\n"))
	require.EqualError(t, err, "invalid config: trailing data")

	_, err = Decode("config.yaml", []byte(""))
	require.Error(t, err)
}

func TestDurationFields(t *testing.T) {
	t.Parallel()
	d, err := ParseDurationField("chain.receipt_poll", " ")
	require.NoError(t, err)
	require.Zero(t, d)

	d, err = ParseDurationOrDefault("alerts.telegram.remind", "0s", time.Hour)
	require.NoError(t, err)
	require.Equal(t, time.Hour, d)

	d, err = ParseDurationOrDefault("alerts.telegram.remind", "90m", time.Hour)
	require.NoError(t, err)
	require.Equal(t, 90*time.Minute, d)

	_, err = ParseDurationField("chain.receipt_poll", "-1s")
	require.ErrorContains(t, err, "chain.receipt_poll: negative")
	_, err = ParseDurationField("chain.receipt_poll", "soon")
	require.ErrorContains(t, err, "chain.receipt_poll")
}
