package rediscache

import (
	"context"
	"errors"
	"net"
	"runtime"
	"time"

	"github.com/redis/go-redis/extra/redisotel/v9"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// ErrNoAddrs is returned by NewClient when no address is configured.
var ErrNoAddrs = errors.New("redis addrs required")

// ClientConfig describes how to reach Redis. A single address yields a plain
// client, several yield a cluster client, and MasterName selects sentinel.
type ClientConfig struct {
	Addrs        []string      `mapstructure:"addrs"`
	MasterName   string        `mapstructure:"master_name"`
	Username     string        `mapstructure:"username"`
	Password     string        `mapstructure:"password"`
	DB           int           `mapstructure:"db"`
	PoolSize     int           `mapstructure:"pool_size"`
	DialTimeout  time.Duration `mapstructure:"dial_timeout"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`

	// EnableMetrics and EnableTracing install the OpenTelemetry hooks.
	EnableMetrics bool `mapstructure:"enable_metrics"`
	EnableTracing bool `mapstructure:"enable_tracing"`

	// SlowCommandThreshold logs commands slower than this at warn. Zero disables.
	SlowCommandThreshold time.Duration `mapstructure:"slow_command_threshold"`
}

// NewClient builds a universal client, installs hooks and pings it.
func NewClient(ctx context.Context, cfg ClientConfig, logger zerolog.Logger) (redis.UniversalClient, error) {
	if len(cfg.Addrs) == 0 {
		return nil, ErrNoAddrs
	}

	poolSize := cfg.PoolSize
	if poolSize == 0 {
		poolSize = 10 * runtime.GOMAXPROCS(0)
	}

	client := redis.NewUniversalClient(&redis.UniversalOptions{
		Addrs:        cfg.Addrs,
		MasterName:   cfg.MasterName,
		Username:     cfg.Username,
		Password:     cfg.Password,
		DB:           cfg.DB,
		PoolSize:     poolSize,
		DialTimeout:  cfg.DialTimeout,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	})

	var ok bool
	defer func() {
		if !ok {
			_ = client.Close()
		}
	}()

	if cfg.EnableTracing {
		if err := redisotel.InstrumentTracing(client); err != nil {
			return nil, err
		}
	}
	if cfg.EnableMetrics {
		if err := redisotel.InstrumentMetrics(client); err != nil {
			return nil, err
		}
	}
	if cfg.SlowCommandThreshold > 0 {
		client.AddHook(&slowCommandHook{logger: logger, threshold: cfg.SlowCommandThreshold})
	}

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, err
	}

	ok = true
	logger.Debug().Strs("addrs", cfg.Addrs).Msg("redis client ready")
	return client, nil
}

type slowCommandHook struct {
	logger    zerolog.Logger
	threshold time.Duration
}

func (h *slowCommandHook) DialHook(next redis.DialHook) redis.DialHook {
	return func(ctx context.Context, network, addr string) (net.Conn, error) {
		conn, err := next(ctx, network, addr)
		if err != nil {
			h.logger.Error().Str("addr", addr).Err(err).Msg("redis dial failed")
		}
		return conn, err
	}
}

func (h *slowCommandHook) ProcessHook(next redis.ProcessHook) redis.ProcessHook {
	return func(ctx context.Context, cmd redis.Cmder) error {
		start := time.Now()
		err := next(ctx, cmd)
		if d := time.Since(start); d > h.threshold {
			// args are omitted: they carry session records and key digests.
			h.logger.Warn().Str("cmd", cmd.FullName()).Dur("duration", d).Dur("threshold", h.threshold).Msg("slow redis command")
		}
		return err
	}
}

func (h *slowCommandHook) ProcessPipelineHook(next redis.ProcessPipelineHook) redis.ProcessPipelineHook {
	return func(ctx context.Context, cmds []redis.Cmder) error {
		start := time.Now()
		err := next(ctx, cmds)
		if d := time.Since(start); d > h.threshold {
			h.logger.Warn().Int("commands", len(cmds)).Dur("duration", d).Msg("slow redis pipeline")
		}
		return err
	}
}
