package nats

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/kirillkom/neurascan/internal/infrastructure/resilience"
)

type Options struct {
	Name                 string
	ConnectTimeout       time.Duration
	ReconnectWait        time.Duration
	MaxReconnects        int
	RetryOnFailedConnect *bool
	ResilienceExecutor   *resilience.Executor
}

// Connect dials NATS with reconnect handling suited to long-lived services.
func Connect(url string, options Options) (*nats.Conn, error) {
	name := options.Name
	if name == "" {
		name = "neurascan"
	}
	connectTimeout := options.ConnectTimeout
	if connectTimeout <= 0 {
		connectTimeout = 2 * time.Second
	}
	reconnectWait := options.ReconnectWait
	if reconnectWait <= 0 {
		reconnectWait = 2 * time.Second
	}
	maxReconnects := options.MaxReconnects
	if maxReconnects <= 0 {
		maxReconnects = 60
	}
	retryOnFailedConnect := true
	if options.RetryOnFailedConnect != nil {
		retryOnFailedConnect = *options.RetryOnFailedConnect
	}

	dial := func(context.Context) (*nats.Conn, error) {
		return nats.Connect(
			url,
			nats.Name(name),
			nats.Timeout(connectTimeout),
			nats.ReconnectWait(reconnectWait),
			nats.MaxReconnects(maxReconnects),
			nats.RetryOnFailedConnect(retryOnFailedConnect),
			nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
				slog.Warn("nats_disconnected", "error", err)
			}),
			nats.ReconnectHandler(func(nc *nats.Conn) {
				slog.Info("nats_reconnected", "url", nc.ConnectedUrl())
			}),
		)
	}

	var (
		conn *nats.Conn
		err  error
	)
	if options.ResilienceExecutor != nil {
		conn, err = resilience.Do(context.Background(), options.ResilienceExecutor, "nats.connect", dial, classifyNATSError)
	} else {
		conn, err = dial(context.Background())
	}
	if err != nil {
		return nil, fmt.Errorf("connect nats: %w", err)
	}
	return conn, nil
}

func readySubject(subject string) string {
	return subject + ".ready"
}
