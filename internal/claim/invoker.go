package claim

import (
	"context"
	"errors"
	"fmt"

	"spclaim/internal/task/engine"
	logx "spclaim/pkg/logx"
)

type Invoker struct {
	claimer Claimer
	reg     Registrar
	log     logx.Logger
}

func NewInvoker(c Claimer, reg Registrar, log logx.Logger) *Invoker {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Invoker{claimer: c, reg: reg, log: log}
}

// Job returns the task body for req. The tick is logged before the claim
// is attempted, whatever its outcome.
func (i *Invoker) Job(req Request) func(ctx context.Context) error {
	return func(ctx context.Context) error {
		i.log.Info("claim tick",
			logx.String("claim", req.Name),
			logx.String("owner", req.Owner),
			logx.String("registry", req.Network.RegistryAddress),
			logx.String("token", req.Network.TokenAddress),
			logx.String("provider", EndpointHost(req.Network.ProviderEndpoint)),
		)
		return i.claimer.ClaimRewards(ctx, req.Owner, req.Credential, req.Network)
	}
}

// Sync makes the registered schedules match reqs: every request is upserted
// by name and schedules whose claim is gone are removed. It returns the
// names registered. A bad request does not prevent the others from syncing.
func (i *Invoker) Sync(reqs []Request) ([]string, error) {
	want := make(map[string]struct{}, len(reqs))
	var (
		names []string
		errs  []error
	)
	for _, req := range reqs {
		if _, dup := want[req.Name]; dup {
			errs = append(errs, fmt.Errorf("claim %q: duplicate name", req.Name))
			continue
		}
		want[req.Name] = struct{}{}

		opt := engine.TaskOptions{Overlap: req.Overlap, QueueDepth: req.QueueDepth, RetryMax: retryOption(req.RetryMax)}
		name, err := i.reg.Add(req.Name, req.Schedule, req.Timezone, req.Timeout, opt, i.Job(req))
		if err != nil {
			errs = append(errs, fmt.Errorf("claim %q: %w", req.Name, err))
			continue
		}
		names = append(names, name)
		i.log.Debug("claim scheduled",
			logx.String("claim", req.Name),
			logx.String("schedule", req.Schedule),
			logx.String("tz", req.Timezone),
			logx.Stringer("overlap", req.Overlap),
		)
	}
	for _, name := range i.reg.Names() {
		if _, ok := want[name]; ok {
			continue
		}
		if i.reg.Remove(name) {
			i.log.Info("claim unscheduled", logx.String("claim", name))
		}
	}
	return names, errors.Join(errs...)
}

func retryOption(n *int) int {
	switch {
	case n == nil:
		return 0
	case *n <= 0:
		return engine.RetryNone
	default:
		return *n
	}
}
