package config

import (
	"reflect"
	"sort"
	"strings"

	logx "spclaim/pkg/logx"
)

// ClaimDiff lists claim names by how they changed between two configs.
type ClaimDiff struct {
	Added   []string
	Removed []string
	Changed []string
}

func (d ClaimDiff) Empty() bool { return len(d.Added)+len(d.Removed)+len(d.Changed) == 0 }

// DiffClaims compares claims by name. Any field change, including the
// credential, counts as changed.
func DiffClaims(oldCfg, newCfg *Config) ClaimDiff {
	index := func(cfg *Config) map[string]ClaimConfig {
		out := map[string]ClaimConfig{}
		if cfg == nil {
			return out
		}
		for _, c := range cfg.Claims {
			out[strings.TrimSpace(c.Name)] = c
		}
		return out
	}
	oldM, newM := index(oldCfg), index(newCfg)

	var d ClaimDiff
	for name, n := range newM {
		o, ok := oldM[name]
		switch {
		case !ok:
			d.Added = append(d.Added, name)
		case fingerprint(o) != fingerprint(n):
			d.Changed = append(d.Changed, name)
		}
	}
	for name := range oldM {
		if _, ok := newM[name]; !ok {
			d.Removed = append(d.Removed, name)
		}
	}
	sort.Strings(d.Added)
	sort.Strings(d.Removed)
	sort.Strings(d.Changed)
	return d
}

// SummarizeConfigChange returns the changed sections, safe structured
// attrs for logging (never secrets) and the claim diff.
func SummarizeConfigChange(oldCfg, newCfg *Config) ([]string, []logx.Field, ClaimDiff) {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}

	changed := make([]string, 0, 8)
	attrs := make([]logx.Field, 0, 16)

	if !reflect.DeepEqual(oldCfg.Logging, newCfg.Logging) {
		changed = append(changed, "logging")
		attrs = append(attrs,
			logx.String("logging.level", newCfg.Logging.Level),
			logx.Bool("logging.console", newCfg.Logging.Console),
			logx.Bool("logging.file_enabled", newCfg.Logging.File.Enabled),
		)
	}

	if oldCfg.Scheduler.IsEnabled() != newCfg.Scheduler.IsEnabled() ||
		oldCfg.Scheduler.EffectiveTimezone() != newCfg.Scheduler.EffectiveTimezone() {
		changed = append(changed, "scheduler")
		attrs = append(attrs,
			logx.Bool("scheduler.enabled", newCfg.Scheduler.IsEnabled()),
			logx.String("scheduler.timezone", newCfg.Scheduler.EffectiveTimezone()),
		)
	}

	oTE, nTE := derefTaskEngine(oldCfg.TaskEngine), derefTaskEngine(newCfg.TaskEngine)
	if (oldCfg.TaskEngine != nil) != (newCfg.TaskEngine != nil) || !reflect.DeepEqual(oTE, nTE) {
		changed = append(changed, "task_engine")
		attrs = append(attrs,
			logx.Int("task_engine.workers", nTE.Workers),
			logx.Int("task_engine.queue_size", nTE.QueueSize),
			logx.String("task_engine.default_timeout", strings.TrimSpace(nTE.DefaultTimeout)),
			logx.Int("task_engine.retry_max", nTE.RetryMax),
		)
	}

	if oldCfg.Network != newCfg.Network {
		changed = append(changed, "network")
		attrs = append(attrs,
			logx.String("network.registry_address", newCfg.Network.RegistryAddress),
			logx.String("network.token_address", newCfg.Network.TokenAddress),
		)
	}

	if oldCfg.Chain != newCfg.Chain {
		changed = append(changed, "chain")
		attrs = append(attrs,
			logx.String("chain.receipt_timeout", newCfg.Chain.ReceiptTimeout),
			logx.Any("chain.gas_multiplier", newCfg.Chain.GasMultiplier),
		)
	}

	claims := DiffClaims(oldCfg, newCfg)
	if !claims.Empty() {
		changed = append(changed, "claims")
		attrs = append(attrs,
			logx.Int("claims.added", len(claims.Added)),
			logx.Int("claims.removed", len(claims.Removed)),
			logx.Int("claims.changed", len(claims.Changed)),
		)
	}

	// never log the token
	oTG, nTG := oldCfg.Alerts.Telegram, newCfg.Alerts.Telegram
	if oTG != nTG {
		changed = append(changed, "alerts")
		attrs = append(attrs,
			logx.Bool("alerts.telegram.enabled", nTG.Enabled),
			logx.Bool("alerts.telegram.token_set", strings.TrimSpace(nTG.Token) != ""),
			logx.Int64("alerts.telegram.chat_id", nTG.ChatID),
		)
	}

	if oldCfg.Systemd.IsEnabled() != newCfg.Systemd.IsEnabled() {
		changed = append(changed, "systemd")
	}

	sort.Strings(changed)
	return changed, attrs, claims
}

func derefTaskEngine(te *TaskEngineConfig) TaskEngineConfig {
	if te == nil {
		return TaskEngineConfig{}
	}
	return *te
}
