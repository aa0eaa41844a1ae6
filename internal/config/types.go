package config

import "strings"

// Config is the file-level configuration. Durations are Go duration strings
// ("500ms", "90s", "2m"). Secret fields may reference the environment as
// ${VAR}; see ExpandEnv.
type Config struct {
	Logging   LoggingConfig   `json:"logging"`
	Scheduler SchedulerConfig `json:"scheduler"`

	// TaskEngine controls how ticks execute. Omitted means defaults.
	TaskEngine *TaskEngineConfig `json:"task_engine,omitempty"`

	// Network holds defaults shared by every claim.
	Network NetworkConfig `json:"network"`
	Chain   ChainConfig   `json:"chain"`
	Claims  []ClaimConfig `json:"claims"`
	Alerts  AlertsConfig  `json:"alerts"`
	Systemd SystemdConfig `json:"systemd"`
}

type LoggingConfig struct {
	Level   string      `json:"level"`
	Console bool        `json:"console"`
	File    LoggingFile `json:"file"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// SchedulerConfig controls the trigger service.
//
// Enabled is a pointer so an omitted key means enabled.
type SchedulerConfig struct {
	Enabled  *bool  `json:"enabled,omitempty"`
	Timezone string `json:"timezone,omitempty"` // default America/Los_Angeles
}

const DefaultTimezone = "America/Los_Angeles"

func (s SchedulerConfig) IsEnabled() bool { return s.Enabled == nil || *s.Enabled }

// EffectiveTimezone returns the configured timezone or DefaultTimezone.
func (s SchedulerConfig) EffectiveTimezone() string {
	if tz := strings.TrimSpace(s.Timezone); tz != "" {
		return tz
	}
	return DefaultTimezone
}

// TaskEngineConfig controls the task execution engine.
//
// Defaults (when fields are omitted/zero):
//   - workers: 4
//   - queue_size: 64
//   - default_timeout: "0s" (disabled)
//   - max_queue_delay: "0s" (disabled)
//   - history_size: 200
//   - retry_max: 0 (a failed tick is reported; the next tick is the retry)
//   - retry_base: "2s", retry_max_delay: "30s"
type TaskEngineConfig struct {
	Enabled *bool `json:"enabled,omitempty"`
	Workers int   `json:"workers,omitempty"`

	QueueSize int `json:"queue_size,omitempty"`

	DefaultTimeout string `json:"default_timeout,omitempty"`
	MaxQueueDelay  string `json:"max_queue_delay,omitempty"`

	HistorySize   int    `json:"history_size,omitempty"`
	RetryMax      int    `json:"retry_max,omitempty"`
	RetryBase     string `json:"retry_base,omitempty"`
	RetryMaxDelay string `json:"retry_max_delay,omitempty"`
}

// NetworkConfig names the registry, token and provider. Empty fields fall
// back to the next level (claim -> network -> built-in defaults).
type NetworkConfig struct {
	RegistryAddress  string `json:"registry_address,omitempty"`
	TokenAddress     string `json:"token_address,omitempty"`
	ProviderEndpoint string `json:"provider_endpoint,omitempty"`
}

// ChainConfig controls transaction submission.
type ChainConfig struct {
	ReceiptTimeout string  `json:"receipt_timeout,omitempty"` // default 2m
	ReceiptPoll    string  `json:"receipt_poll,omitempty"`    // default 3s
	GasMultiplier  float64 `json:"gas_multiplier,omitempty"`  // default 1.2
	DialTimeout    string  `json:"dial_timeout,omitempty"`    // default 5s
}

// ClaimConfig is one independently scheduled claim.
type ClaimConfig struct {
	Name     string `json:"name"`
	Enabled  *bool  `json:"enabled,omitempty"`
	Schedule string `json:"schedule"`
	Timezone string `json:"timezone,omitempty"`

	Owner      string `json:"owner"`
	PrivateKey string `json:"private_key"`

	// Overlap is allow, skip (default) or queue.
	Overlap    string `json:"overlap,omitempty"`
	QueueDepth int    `json:"queue_depth,omitempty"`
	Timeout    string `json:"timeout,omitempty"`
	// RetryMax overrides task_engine.retry_max; 0 turns retries off.
	RetryMax *int `json:"retry_max,omitempty"`

	Network *NetworkConfig `json:"network,omitempty"`
}

func (c ClaimConfig) IsEnabled() bool { return c.Enabled == nil || *c.Enabled }

type AlertsConfig struct {
	Telegram TelegramAlertConfig `json:"telegram"`
}

type TelegramAlertConfig struct {
	Enabled  bool   `json:"enabled"`
	Token    string `json:"token,omitempty"`
	ChatID   int64  `json:"chat_id,omitempty"`
	ThreadID int    `json:"thread_id,omitempty"`

	// RatePerSec bounds alert messages; 0 means 1.
	RatePerSec float64 `json:"rate_per_sec,omitempty"`
	Burst      int     `json:"burst,omitempty"`

	// Remind repeats the failure alert while a claim keeps failing; default 1h.
	Remind string `json:"remind,omitempty"`
	// SendTimeout bounds one Bot API request; default 10s.
	SendTimeout string `json:"send_timeout,omitempty"`
}

type SystemdConfig struct {
	// Notify sends readiness/stopping/watchdog notifications when run
	// under systemd. Omitted means true.
	Notify *bool `json:"notify,omitempty"`
}

func (s SystemdConfig) IsEnabled() bool { return s.Notify == nil || *s.Notify }

const redacted = "[redacted]"

// Redacted returns a deep copy with secrets masked, safe to print.
func (c *Config) Redacted() *Config {
	if c == nil {
		return nil
	}
	out := *c
	if c.TaskEngine != nil {
		te := *c.TaskEngine
		out.TaskEngine = &te
	}
	out.Claims = make([]ClaimConfig, len(c.Claims))
	for i, cl := range c.Claims {
		if cl.PrivateKey != "" {
			cl.PrivateKey = redacted
		}
		if cl.Network != nil {
			n := *cl.Network
			cl.Network = &n
		}
		out.Claims[i] = cl
	}
	if out.Alerts.Telegram.Token != "" {
		out.Alerts.Telegram.Token = redacted
	}
	return &out
}
