/*
app.go - Process wiring shared by the server and the admin CLI

PURPOSE:
  Turns a config.Config into a running engine: policy, store, locker,
  notifiers, dispatcher and metrics. Both binaries call Build so the CLI
  books and cancels against exactly what the server would.

SELECTION:
  STORE       memory | sqlite (default) | postgres
  REDIS_ADDR  set: distributed lock; empty: in-process keyed lock
  NOTIFIER    comma separated list of log | twilio | fast2sms | amqp | none

SEE ALSO:
  - config/config.go: Environment variables
  - cmd/server/main.go: HTTP entry point
  - cmd/tokenctl: Admin CLI
*/
package app

import (
	"context"
	"errors"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"

	"github.com/warp/token-engine/allocation"
	"github.com/warp/token-engine/allocation/store"
	"github.com/warp/token-engine/config"
	"github.com/warp/token-engine/factory"
	"github.com/warp/token-engine/lock"
	"github.com/warp/token-engine/logging"
	"github.com/warp/token-engine/metrics"
	"github.com/warp/token-engine/notify"
	"github.com/warp/token-engine/store/postgres"
	"github.com/warp/token-engine/store/sqlite"
)

// App is a wired engine plus everything that must be released on exit.
type App struct {
	Engine     *allocation.Engine
	Dispatcher *allocation.Dispatcher
	closers    []func() error
	logger     *logging.Logger
}

// Build wires an App from cfg. reg may be nil to skip metrics.
func Build(ctx context.Context, cfg config.Config, logger *logging.Logger, reg prometheus.Registerer) (_ *App, err error) {
	if logger == nil {
		logger = logging.Default()
	}
	a := &App{logger: logger}
	defer func() {
		if err != nil {
			a.Close()
		}
	}()

	policy, err := LoadPolicy(cfg)
	if err != nil {
		return nil, err
	}

	st, err := a.openStore(ctx, cfg, policy.Uniqueness)
	if err != nil {
		return nil, err
	}

	var engineMetrics allocation.Metrics
	if reg != nil {
		engineMetrics = metrics.NewEngine(reg)
	}

	notifier, err := a.buildNotifier(cfg)
	if err != nil {
		return nil, err
	}
	a.Dispatcher = allocation.NewDispatcher(notifier, cfg.NotifyTimeout, logger, engineMetrics)

	opts := []allocation.Option{
		allocation.WithLogger(logger),
		allocation.WithDispatcher(a.Dispatcher),
		allocation.WithLockTimeout(cfg.LockTimeout),
		allocation.WithLocker(a.buildLocker(cfg)),
	}
	if engineMetrics != nil {
		opts = append(opts, allocation.WithMetrics(engineMetrics))
	}

	a.Engine, err = allocation.NewEngine(st, policy, opts...)
	if err != nil {
		return nil, err
	}
	logger.Info("engine ready",
		"store", cfg.Store,
		"capacity", policy.Capacity,
		"window", policy.Window.Mode,
		"uniqueness", policy.Uniqueness,
	)
	return a, nil
}

// LoadPolicy reads POLICY_FILE (or the defaults) and overlays the
// individual policy variables.
func LoadPolicy(cfg config.Config) (allocation.Policy, error) {
	base := allocation.DefaultPolicy()
	if cfg.PolicyFile != "" {
		p, err := factory.NewPolicyFactory().LoadFile(cfg.PolicyFile)
		if err != nil {
			return allocation.Policy{}, err
		}
		base = p
	}
	return cfg.Policy(base)
}

// Close drains in-flight notifications and releases stores and brokers.
func (a *App) Close() error {
	if a.Dispatcher != nil {
		a.Dispatcher.Wait()
	}
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}

func (a *App) openStore(ctx context.Context, cfg config.Config, scope allocation.UniquenessScope) (allocation.Store, error) {
	switch cfg.Store {
	case "memory":
		return store.NewMemory(scope), nil
	case "sqlite", "":
		s, err := sqlite.New(cfg.SQLitePath, scope)
		if err != nil {
			return nil, fmt.Errorf("open sqlite %s: %w", cfg.SQLitePath, err)
		}
		a.closers = append(a.closers, s.Close)
		return s, nil
	case "postgres":
		if cfg.DatabaseURL == "" {
			return nil, errors.New("STORE=postgres requires DATABASE_URL")
		}
		s, pool, err := postgres.Connect(ctx, cfg.DatabaseURL, scope)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, func() error { pool.Close(); return nil })
		return s, nil
	default:
		return nil, fmt.Errorf("unknown store %q", cfg.Store)
	}
}

func (a *App) buildLocker(cfg config.Config) allocation.Locker {
	if cfg.RedisAddr == "" {
		return lock.NewKeyed()
	}
	client := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
	a.closers = append(a.closers, client.Close)
	a.logger.Info("using redis lock", "addr", cfg.RedisAddr)
	return lock.NewRedis(client, lock.RedisOptions{})
}

func (a *App) buildNotifier(cfg config.Config) (allocation.Notifier, error) {
	var out notify.Multi
	for _, name := range cfg.Notifiers() {
		switch name {
		case "none":
		case "log":
			out = append(out, notify.NewLogNotifier(a.logger))
		case "twilio":
			if cfg.TwilioAccountSID == "" || cfg.TwilioAuthToken == "" || cfg.TwilioFromNumber == "" {
				return nil, errors.New("twilio notifier requires TWILIO_ACCOUNT_SID, TWILIO_AUTH_TOKEN and TWILIO_FROM_NUMBER")
			}
			out = append(out, notify.NewTwilioSender(notify.TwilioConfig{
				AccountSID:    cfg.TwilioAccountSID,
				AuthToken:     cfg.TwilioAuthToken,
				From:          cfg.TwilioFromNumber,
				CountryPrefix: cfg.TwilioCountryPrefix,
				Signature:     cfg.NotifySignature,
			}, a.logger))
		case "fast2sms":
			if cfg.Fast2SMSAPIKey == "" {
				return nil, errors.New("fast2sms notifier requires FAST2SMS_API_KEY")
			}
			out = append(out, notify.NewFast2SMSSender(cfg.Fast2SMSAPIKey, cfg.Fast2SMSURL, cfg.NotifySignature, a.logger))
		case "amqp":
			if cfg.AMQPURL == "" {
				return nil, errors.New("amqp notifier requires AMQP_URL")
			}
			pub, err := notify.NewAMQPPublisher(cfg.AMQPURL, cfg.AMQPExchange)
			if err != nil {
				return nil, err
			}
			a.closers = append(a.closers, pub.Close)
			out = append(out, pub)
		default:
			return nil, fmt.Errorf("unknown notifier %q", name)
		}
	}
	switch len(out) {
	case 0:
		return nil, nil
	case 1:
		return out[0], nil
	}
	return out, nil
}
