package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"
)

var validLevels = map[string]bool{"": true, "trace": true, "debug": true, "info": true, "warn": true, "warning": true, "error": true}

// Validate checks the file-level shape of cfg and reports every problem it
// finds. Schedule syntax is checked where schedules are registered.
func Validate(cfg *Config) error {
	if cfg == nil {
		return errors.New("config is nil")
	}
	var errs []error
	add := func(err error) {
		if err != nil {
			errs = append(errs, err)
		}
	}
	addf := func(format string, args ...any) { errs = append(errs, fmt.Errorf(format, args...)) }

	if !validLevels[strings.ToLower(strings.TrimSpace(cfg.Logging.Level))] {
		addf("logging.level: invalid %q", cfg.Logging.Level)
	}
	if cfg.Logging.File.Enabled && strings.TrimSpace(cfg.Logging.File.Path) == "" {
		addf("logging.file.path: required when file logging is enabled")
	}

	add(validateTimezone("scheduler.timezone", cfg.Scheduler.Timezone))

	if te := cfg.TaskEngine; te != nil {
		if te.Workers < 0 {
			addf("task_engine.workers must be >= 0")
		}
		if te.QueueSize < 0 {
			addf("task_engine.queue_size must be >= 0")
		}
		if te.HistorySize < 0 {
			addf("task_engine.history_size must be >= 0")
		}
		if te.RetryMax < 0 {
			addf("task_engine.retry_max must be >= 0")
		}
		for path, raw := range map[string]string{
			"task_engine.default_timeout": te.DefaultTimeout,
			"task_engine.max_queue_delay": te.MaxQueueDelay,
			"task_engine.retry_base":      te.RetryBase,
			"task_engine.retry_max_delay": te.RetryMaxDelay,
		} {
			_, err := ParseDurationField(path, raw)
			add(err)
		}
		if cfg.Scheduler.IsEnabled() && te.Enabled != nil && !*te.Enabled {
			addf("task_engine.enabled cannot be false while scheduler.enabled is true")
		}
	}

	add(validateNetwork("network", cfg.Network))

	for path, raw := range map[string]string{
		"chain.receipt_timeout": cfg.Chain.ReceiptTimeout,
		"chain.receipt_poll":    cfg.Chain.ReceiptPoll,
		"chain.dial_timeout":    cfg.Chain.DialTimeout,
	} {
		_, err := ParseDurationField(path, raw)
		add(err)
	}
	if m := cfg.Chain.GasMultiplier; m != 0 && (m < 1 || m > 10) {
		addf("chain.gas_multiplier: must be between 1 and 10, got %v", m)
	}

	seen := map[string]bool{}
	for i, cl := range cfg.Claims {
		p := fmt.Sprintf("claims[%d]", i)
		name := strings.TrimSpace(cl.Name)
		if name == "" {
			addf("%s.name: required", p)
		} else {
			p = fmt.Sprintf("claims[%s]", name)
			if seen[name] {
				addf("%s.name: duplicate", p)
			}
			seen[name] = true
		}
		if strings.TrimSpace(cl.Schedule) == "" {
			addf("%s.schedule: required", p)
		}
		add(validateTimezone(p+".timezone", cl.Timezone))
		if !cl.IsEnabled() {
			continue
		}
		if cl.QueueDepth < 0 {
			addf("%s.queue_depth must be >= 0", p)
		}
		if cl.RetryMax != nil && *cl.RetryMax < 0 {
			addf("%s.retry_max must be >= 0", p)
		}
		_, err := ParseDurationField(p+".timeout", cl.Timeout)
		add(err)
		if cl.Network != nil {
			add(validateNetwork(p+".network", *cl.Network))
		}
	}

	if tg := cfg.Alerts.Telegram; tg.Enabled {
		if strings.TrimSpace(tg.Token) == "" {
			addf("alerts.telegram.token: required when enabled")
		}
		if tg.ChatID == 0 {
			addf("alerts.telegram.chat_id: required when enabled")
		}
		if tg.RatePerSec < 0 {
			addf("alerts.telegram.rate_per_sec must be >= 0")
		}
		_, err := ParseDurationField("alerts.telegram.remind", tg.Remind)
		add(err)
		_, err = ParseDurationField("alerts.telegram.send_timeout", tg.SendTimeout)
		add(err)
	}

	return errors.Join(errs...)
}

func validateTimezone(path, tz string) error {
	tz = strings.TrimSpace(tz)
	if tz == "" {
		return nil
	}
	if _, err := time.LoadLocation(tz); err != nil {
		return fmt.Errorf("%s: invalid %q: %w", path, tz, err)
	}
	return nil
}

func validateNetwork(path string, n NetworkConfig) error {
	var errs []error
	if e := strings.TrimSpace(n.ProviderEndpoint); e != "" && strings.Contains(e, "://") {
		u, err := url.Parse(e)
		if err != nil {
			// the raw endpoint may carry an API key
			errs = append(errs, fmt.Errorf("%s.provider_endpoint: malformed URL", path))
		} else {
			switch u.Scheme {
			case "http", "https", "ws", "wss":
			default:
				errs = append(errs, fmt.Errorf("%s.provider_endpoint: unsupported scheme %q", path, u.Scheme))
			}
		}
	}
	return errors.Join(errs...)
}
