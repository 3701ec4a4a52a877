package cmd

import (
	"context"
	"time"

	"firestige.xyz/netslave/internal/command"
)

// Client is what the control commands need from the daemon.
type Client interface {
	Ping(ctx context.Context) error
	Status(ctx context.Context) (interface{}, error)
	Stats(ctx context.Context) (interface{}, error)
	Restart(ctx context.Context) error
	Shutdown(ctx context.Context) error
}

// cli overrides the UDS client, for tests.
var cli Client

// SetClient injects a client, used by tests.
func SetClient(c Client) {
	cli = c
}

// GetClient returns the injected client, or a UDS client on --socket.
func GetClient() Client {
	if cli != nil {
		return cli
	}
	return &udsClient{c: command.NewUDSClient(socketPath, 10*time.Second)}
}

type udsClient struct {
	c *command.UDSClient
}

func (u *udsClient) Ping(ctx context.Context) error {
	return u.c.Ping(ctx)
}

func (u *udsClient) Status(ctx context.Context) (interface{}, error) {
	st, err := u.c.DriverStatus(ctx)
	if err != nil {
		return nil, err
	}
	return st, nil
}

func (u *udsClient) Stats(ctx context.Context) (interface{}, error) {
	stats, err := u.c.DaemonStats(ctx)
	if err != nil {
		return nil, err
	}
	return stats, nil
}

func (u *udsClient) Restart(ctx context.Context) error {
	return u.c.DriverRestart(ctx)
}

func (u *udsClient) Shutdown(ctx context.Context) error {
	return u.c.DaemonShutdown(ctx)
}
