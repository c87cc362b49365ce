package telemetry

import (
	"context"
	"fmt"
	"net"

	"github.com/redis/go-redis/extra/redisotel/v9"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"quiz-delivery-service/internal/logging"
)

// MonitorRedis attaches tracing, metrics and debug logging to a client.
func MonitorRedis(r redis.UniversalClient) error {
	if err := redisotel.InstrumentTracing(r); err != nil {
		return fmt.Errorf("instrument tracing: %w", err)
	}
	if err := redisotel.InstrumentMetrics(r); err != nil {
		return fmt.Errorf("instrument metrics: %w", err)
	}
	r.AddHook(redisLog{})
	return nil
}

type redisLog struct{}

func (redisLog) DialHook(hook redis.DialHook) redis.DialHook {
	return func(ctx context.Context, network, addr string) (net.Conn, error) {
		conn, err := hook(ctx, network, addr)
		entry := logging.WithContext(ctx).WithFields(logrus.Fields{"network": network, "addr": addr})
		if err != nil {
			entry.WithError(err).Warn("redis: dial failed")
		} else {
			entry.Debug("redis: dialed")
		}
		return conn, err
	}
}

func (redisLog) ProcessHook(hook redis.ProcessHook) redis.ProcessHook {
	return func(ctx context.Context, cmd redis.Cmder) error {
		err := hook(ctx, cmd)
		if err != nil && err != redis.Nil {
			logging.WithContext(ctx).WithError(err).WithField("cmd", cmd.Name()).Warn("redis: command failed")
		} else {
			logging.WithContext(ctx).WithField("cmd", cmd.Name()).Debug("redis: command processed")
		}
		return err
	}
}

func (redisLog) ProcessPipelineHook(hook redis.ProcessPipelineHook) redis.ProcessPipelineHook {
	return func(ctx context.Context, cmds []redis.Cmder) error {
		err := hook(ctx, cmds)
		logging.WithContext(ctx).WithField("cmds", len(cmds)).Debug("redis: pipeline processed")
		return err
	}
}
