package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"spclaim/internal/alert"
	"spclaim/internal/claim"
	"spclaim/internal/claim/evm"
	"spclaim/internal/config"
	"spclaim/internal/task/engine"
	"spclaim/internal/task/scheduler"
	logx "spclaim/pkg/logx"
)

func mapLoggingConfig(cfg *config.Config) logx.Config {
	return logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
	}
}

func mapSchedulerConfig(cfg *config.Config) scheduler.Config {
	return scheduler.Config{
		Enabled:  cfg.Scheduler.IsEnabled(),
		Timezone: cfg.Scheduler.EffectiveTimezone(),
	}
}

func mapTaskEngineConfig(cfg *config.Config) (engine.Config, error) {
	te := config.TaskEngineConfig{}
	if cfg.TaskEngine != nil {
		te = *cfg.TaskEngine
	}
	enabled := true
	if te.Enabled != nil {
		enabled = *te.Enabled
	}
	// Ticks with no engine to run them would be dropped silently.
	if cfg.Scheduler.IsEnabled() && !enabled {
		return engine.Config{}, fmt.Errorf("task_engine.enabled cannot be false while scheduler.enabled is true")
	}

	defTimeout, err := config.ParseDurationField("task_engine.default_timeout", te.DefaultTimeout)
	if err != nil {
		return engine.Config{}, err
	}
	maxQueueDelay, err := config.ParseDurationField("task_engine.max_queue_delay", te.MaxQueueDelay)
	if err != nil {
		return engine.Config{}, err
	}
	retryBase, err := config.ParseDurationField("task_engine.retry_base", te.RetryBase)
	if err != nil {
		return engine.Config{}, err
	}
	retryMaxDelay, err := config.ParseDurationField("task_engine.retry_max_delay", te.RetryMaxDelay)
	if err != nil {
		return engine.Config{}, err
	}

	return engine.Config{
		Enabled:        enabled,
		Workers:        te.Workers,
		QueueSize:      te.QueueSize,
		DefaultTimeout: defTimeout,
		MaxQueueDelay:  maxQueueDelay,
		HistorySize:    te.HistorySize,
		RetryMax:       te.RetryMax,
		RetryBase:      retryBase,
		RetryMaxDelay:  retryMaxDelay,
	}, nil
}

func mapChainConfig(cfg *config.Config) (evm.Config, error) {
	receiptTimeout, err := config.ParseDurationField("chain.receipt_timeout", cfg.Chain.ReceiptTimeout)
	if err != nil {
		return evm.Config{}, err
	}
	receiptPoll, err := config.ParseDurationField("chain.receipt_poll", cfg.Chain.ReceiptPoll)
	if err != nil {
		return evm.Config{}, err
	}
	dialTimeout, err := config.ParseDurationField("chain.dial_timeout", cfg.Chain.DialTimeout)
	if err != nil {
		return evm.Config{}, err
	}
	return evm.Config{
		ReceiptTimeout: receiptTimeout,
		ReceiptPoll:    receiptPoll,
		GasMultiplier:  cfg.Chain.GasMultiplier,
		DialTimeout:    dialTimeout,
	}, nil
}

func mapNetwork(n config.NetworkConfig) claim.Network {
	return claim.Network{
		RegistryAddress:  strings.TrimSpace(n.RegistryAddress),
		TokenAddress:     strings.TrimSpace(n.TokenAddress),
		ProviderEndpoint: strings.TrimSpace(n.ProviderEndpoint),
	}
}

// mapClaims turns the enabled claims into requests. Network fields resolve
// claim -> network -> built-in defaults; a claim without a timezone uses
// the scheduler's.
func mapClaims(cfg *config.Config) ([]claim.Request, error) {
	shared := mapNetwork(cfg.Network).WithDefaults(claim.DefaultNetwork())
	tz := cfg.Scheduler.EffectiveTimezone()

	var (
		out  []claim.Request
		errs []error
	)
	for i, c := range cfg.Claims {
		if !c.IsEnabled() {
			continue
		}
		path := fmt.Sprintf("claims[%d]", i)
		name := strings.TrimSpace(c.Name)

		net := shared
		if c.Network != nil {
			net = mapNetwork(*c.Network).WithDefaults(shared)
		}
		overlap, err := engine.ParseOverlap(c.Overlap)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s.overlap: %w", path, err))
			continue
		}
		timeout, err := config.ParseDurationField(path+".timeout", c.Timeout)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		claimTZ := strings.TrimSpace(c.Timezone)
		if claimTZ == "" {
			claimTZ = tz
		}
		schedule := strings.TrimSpace(c.Schedule)
		if _, err := scheduler.NextRuns(schedule, claimTZ, time.Now(), 1); err != nil {
			errs = append(errs, fmt.Errorf("%s.schedule: %w", path, err))
			continue
		}

		out = append(out, claim.Request{
			Name:       name,
			Owner:      strings.TrimSpace(c.Owner),
			Credential: claim.Credential(strings.TrimSpace(c.PrivateKey)),
			Network:    net,
			Schedule:   schedule,
			Timezone:   claimTZ,
			Timeout:    timeout,
			Overlap:    overlap,
			QueueDepth: c.QueueDepth,
			RetryMax:   c.RetryMax,
		})
	}
	return out, errors.Join(errs...)
}

func mapAlertConfig(cfg *config.Config) (alert.Config, error) {
	tg := cfg.Alerts.Telegram
	remind, err := config.ParseDurationOrDefault("alerts.telegram.remind", tg.Remind, time.Hour)
	if err != nil {
		return alert.Config{}, err
	}
	sendTimeout, err := config.ParseDurationOrDefault("alerts.telegram.send_timeout", tg.SendTimeout, 10*time.Second)
	if err != nil {
		return alert.Config{}, err
	}
	return alert.Config{
		Enabled:     tg.Enabled,
		RatePerSec:  tg.RatePerSec,
		Burst:       tg.Burst,
		Remind:      remind,
		SendTimeout: sendTimeout,
	}, nil
}

// newAlertSender returns nil when telegram alerts are disabled.
func newAlertSender(cfg *config.Config) (alert.Sender, error) {
	tg := cfg.Alerts.Telegram
	if !tg.Enabled {
		return nil, nil
	}
	ac, err := mapAlertConfig(cfg)
	if err != nil {
		return nil, err
	}
	return alert.NewTelegramSender(tg.Token, tg.ChatID, tg.ThreadID, ac.SendTimeout)
}

// validate is installed on the config manager so a bad reload is rejected
// before it is committed.
func validate(cfg *config.Config) error {
	var errs []error
	if _, err := mapTaskEngineConfig(cfg); err != nil {
		errs = append(errs, err)
	}
	if _, err := mapChainConfig(cfg); err != nil {
		errs = append(errs, err)
	}
	if _, err := mapClaims(cfg); err != nil {
		errs = append(errs, err)
	}
	if _, err := mapAlertConfig(cfg); err != nil {
		errs = append(errs, err)
	}
	if _, err := newAlertSender(cfg); err != nil {
		errs = append(errs, fmt.Errorf("alerts.telegram: %w", err))
	}
	return errors.Join(errs...)
}

// Check loads and validates the config at cfgPath the way NewApp does and
// returns the enabled claims without starting anything.
func Check(cfgPath string, opts ...Option) (*config.Config, []claim.Request, error) {
	var o options
	for _, fn := range opts {
		fn(&o)
	}
	cfgm := config.NewConfigManager(cfgPath)
	if o.lookup != nil {
		cfgm.SetEnvLookup(o.lookup)
	}
	cfgm.SetValidator(func(_ context.Context, cfg *config.Config) error { return validate(cfg) })
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, nil, err
	}
	reqs, err := mapClaims(cfg)
	if err != nil {
		return nil, nil, err
	}
	return cfg, reqs, nil
}
