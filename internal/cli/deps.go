package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/netbyu/ump-sub000/internal/activity"
	"github.com/netbyu/ump-sub000/internal/config"
	"github.com/netbyu/ump-sub000/internal/logging"
	"github.com/netbyu/ump-sub000/internal/metrics"
	"github.com/netbyu/ump-sub000/internal/notify"
	"github.com/netbyu/ump-sub000/internal/provider"
	"github.com/netbyu/ump-sub000/internal/store"
	"github.com/netbyu/ump-sub000/internal/workflow"
)

// eventBuffer sizes the engine event channel. The engine never blocks on
// it, so a full buffer only drops metrics events.
const eventBuffer = 256

// runtimeDeps is everything an engine needs, built from the resolved
// configuration. Close releases the Redis connection when one was opened.
type runtimeDeps struct {
	cfg      *config.Config
	provider workflow.StepConfigProvider
	lister   provider.Lister
	registry *workflow.Registry
	notifier workflow.Notifier
	store    workflow.StateStore
	recorder *metrics.Recorder
	events   chan workflow.WorkflowEvent
	redis    *redis.Client
}

// buildRuntimeDeps wires providers, activities, notifiers, checkpoint
// storage and metrics according to cfg. Redis is dialled only when some
// component is configured to use it.
func buildRuntimeDeps(ctx context.Context, cfg *config.Config) (*runtimeDeps, error) {
	d := &runtimeDeps{
		cfg:      cfg,
		recorder: metrics.NewRecorder(),
		events:   make(chan workflow.WorkflowEvent, eventBuffer),
	}

	if cfg.UsesRedis() {
		client, err := dialRedis(ctx, cfg.Redis)
		if err != nil {
			return nil, err
		}
		d.redis = client
	}

	steps, err := d.buildProvider()
	if err != nil {
		_ = d.Close()
		return nil, err
	}
	d.provider = steps

	if d.registry, err = buildRegistry(cfg.Activities); err != nil {
		_ = d.Close()
		return nil, err
	}

	d.notifier = d.buildNotifier()

	if d.store, err = d.buildStateStore(); err != nil {
		_ = d.Close()
		return nil, err
	}
	return d, nil
}

func dialRedis(ctx context.Context, rc config.RedisConfig) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     rc.Addr,
		Password: rc.Password,
		DB:       rc.DB,
	})
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("connecting to redis at %s: %w", rc.Addr, err)
	}
	return client, nil
}

func (d *runtimeDeps) buildProvider() (workflow.StepConfigProvider, error) {
	pc := d.cfg.Provider

	var base interface {
		workflow.StepConfigProvider
		provider.Lister
	}
	switch pc.Kind {
	case "redis":
		base = provider.NewRedisProvider(d.redis, d.cfg.Redis.KeyPrefix)
	case "file", "":
		fp, err := provider.NewFileProvider(pc.WorkflowsDir, pc.WorkflowsGlob,
			provider.WithLogger(logging.New("provider")))
		if err != nil {
			return nil, err
		}
		base = fp
	default:
		return nil, fmt.Errorf("provider.kind %q is not supported", pc.Kind)
	}

	ttl, err := config.ParseDuration("provider.cache_ttl", pc.CacheTTL, provider.DefaultCacheTTL)
	if err != nil {
		return nil, err
	}
	if ttl <= 0 {
		d.lister = base
		return base, nil
	}
	cached := provider.NewCachingProvider(base, ttl)
	d.lister = cached
	return cached, nil
}

// buildRegistry registers the built-in activities plus every script found
// under the scripts glob. A missing scripts directory is not an error.
func buildRegistry(ac config.ActivitiesConfig) (*workflow.Registry, error) {
	reg := workflow.NewRegistry()
	activity.RegisterBuiltins(reg)

	if ac.ScriptsGlob == "" {
		return reg, nil
	}
	dir := ac.ScriptsDir
	if dir == "" {
		dir = "."
	}
	if info, err := os.Stat(dir); err != nil || !info.IsDir() {
		return reg, nil
	}

	scripts, err := activity.LoadScripts(os.DirFS(dir), ac.ScriptsGlob, logging.New("activity"))
	if err != nil {
		return nil, err
	}
	if err := activity.RegisterScripts(reg, scripts); err != nil {
		return nil, err
	}
	return reg, nil
}

func (d *runtimeDeps) buildNotifier() workflow.Notifier {
	logNotifier := notify.NewLogNotifier(logging.New("notify"))
	switch d.cfg.Notify.Kind {
	case "none":
		return nil
	case "redis":
		return notify.NewRedisNotifier(d.redis, d.cfg.Notify.Channel)
	case "both":
		return notify.Fanout{logNotifier, notify.NewRedisNotifier(d.redis, d.cfg.Notify.Channel)}
	default:
		return logNotifier
	}
}

func (d *runtimeDeps) buildStateStore() (workflow.StateStore, error) {
	sc := d.cfg.State
	switch sc.Kind {
	case "none":
		return nil, nil
	case "redis":
		ttl, err := config.ParseDuration("state.finished_ttl", sc.FinishedTTL, 0)
		if err != nil {
			return nil, err
		}
		return store.NewRedisStateStore(d.redis,
			store.WithPrefix(d.cfg.Redis.KeyPrefix),
			store.WithFinishedTTL(ttl)), nil
	default:
		fileStore, err := workflow.NewFileStateStore(sc.Dir)
		if err != nil {
			return nil, fmt.Errorf("state store: %w", err)
		}
		return fileStore, nil
	}
}

// engineOptions translates the [engine] section into engine options.
func engineOptions(ec config.EngineConfig) ([]workflow.EngineOption, error) {
	notifyTimeout, err := config.ParseDuration("engine.notify_timeout", ec.NotifyTimeout, 0)
	if err != nil {
		return nil, err
	}
	initial, err := config.ParseDuration("engine.retry_initial_interval", ec.RetryInitialInterval, 0)
	if err != nil {
		return nil, err
	}
	maximum, err := config.ParseDuration("engine.retry_max_interval", ec.RetryMaxInterval, 0)
	if err != nil {
		return nil, err
	}

	return []workflow.EngineOption{
		workflow.WithDefaultStepTimeout(time.Duration(ec.DefaultStepTimeoutSeconds) * time.Second),
		workflow.WithDefaultApprovalTimeout(time.Duration(ec.DefaultApprovalTimeoutMinutes * float64(time.Minute))),
		workflow.WithNotifyTimeout(notifyTimeout),
		workflow.WithRetryPolicy(workflow.RetryPolicy{
			InitialInterval:    initial,
			BackoffCoefficient: ec.RetryBackoffCoefficient,
			MaximumInterval:    maximum,
		}),
	}, nil
}

// newEngine builds an engine over d with the configured options, the
// metrics recorder and the event channel.
func (d *runtimeDeps) newEngine(extra ...workflow.EngineOption) (*workflow.Engine, error) {
	opts, err := engineOptions(d.cfg.Engine)
	if err != nil {
		return nil, err
	}
	opts = append(opts,
		workflow.WithLogger(logging.New("engine")),
		workflow.WithMetricsLogger(d.recorder),
		workflow.WithEventChannel(d.events),
	)
	if d.notifier != nil {
		opts = append(opts, workflow.WithNotifier(d.notifier))
	}
	if d.store != nil {
		opts = append(opts, workflow.WithCheckpointing(d.store))
	}
	opts = append(opts, extra...)
	return workflow.NewEngine(d.provider, d.registry, opts...), nil
}

// Close releases external connections.
func (d *runtimeDeps) Close() error {
	if d.redis == nil {
		return nil
	}
	err := d.redis.Close()
	if errors.Is(err, redis.ErrClosed) {
		return nil
	}
	return err
}
