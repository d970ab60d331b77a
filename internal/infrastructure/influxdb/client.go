package influxdb

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"

	"github.com/nerrad567/hnode2-datasink/internal/infrastructure/config"
)

const (
	connectTimeout = 10 * time.Second
	pingTimeout    = 5 * time.Second

	// httpRequestTimeout bounds a single batch write, in seconds.
	httpRequestTimeout = 15

	defaultBatchSize     = 100
	defaultFlushInterval = 10 // seconds

	// serviceTag is added to every point this daemon writes.
	serviceTag = "hnode2-datasink"
)

// Client writes operation telemetry to InfluxDB v2.
//
// Writes go through the client library's non-blocking write API and are
// batched. All methods are safe for concurrent use, and every method may
// be called on a nil *Client.
type Client struct {
	client   influxdb2.Client
	writeAPI api.WriteAPI

	connected atomic.Bool
	onError   atomic.Pointer[func(error)]
}

// Connect creates a client, checks that the server answers a ping, and
// starts the batched write API for cfg.Org and cfg.Bucket.
//
// Returns ErrDisabled when cfg.Enabled is false and an error wrapping
// ErrConnectionFailed when the ping fails.
func Connect(cfg config.InfluxDBConfig) (*Client, error) {
	if !cfg.Enabled {
		return nil, ErrDisabled
	}

	batchSize, flushInterval := batchSettings(cfg)
	opts := influxdb2.DefaultOptions().
		SetBatchSize(batchSize).
		SetFlushInterval(flushInterval*uint(time.Second/time.Millisecond)).
		SetHTTPRequestTimeout(httpRequestTimeout).
		AddDefaultTag("service", serviceTag)

	client := influxdb2.NewClientWithOptions(cfg.URL, cfg.Token, opts)

	ctx, cancel := context.WithTimeout(context.Background(), connectTimeout)
	defer cancel()

	healthy, err := client.Ping(ctx)
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("%w: ping %s: %w", ErrConnectionFailed, cfg.URL, err)
	}
	if !healthy {
		client.Close()
		return nil, fmt.Errorf("%w: %s not healthy", ErrConnectionFailed, cfg.URL)
	}

	c := &Client{
		client:   client,
		writeAPI: client.WriteAPI(cfg.Org, cfg.Bucket),
	}
	c.connected.Store(true)
	go c.forwardWriteErrors(c.writeAPI.Errors())

	return c, nil
}

// batchSettings returns the batch size and flush interval (seconds),
// using defaults for non-positive values.
func batchSettings(cfg config.InfluxDBConfig) (batchSize, flushInterval uint) {
	batchSize, flushInterval = defaultBatchSize, defaultFlushInterval
	if cfg.BatchSize > 0 {
		batchSize = uint(cfg.BatchSize) // #nosec G115 -- checked positive
	}
	if cfg.FlushInterval > 0 {
		flushInterval = uint(cfg.FlushInterval) // #nosec G115 -- checked positive
	}
	return batchSize, flushInterval
}

// forwardWriteErrors hands asynchronous write failures to the callback set
// with SetOnError. It exits when the write API is closed.
func (c *Client) forwardWriteErrors(errs <-chan error) {
	for err := range errs {
		if fn := c.onError.Load(); fn != nil {
			(*fn)(err)
		}
	}
}

// SetOnError registers the callback for asynchronous write failures.
func (c *Client) SetOnError(callback func(err error)) {
	if c == nil {
		return
	}
	if callback == nil {
		c.onError.Store(nil)
		return
	}
	c.onError.Store(&callback)
}

// IsConnected reports whether Connect succeeded and Close has not been
// called. It does not contact the server; HealthCheck does.
func (c *Client) IsConnected() bool {
	return c != nil && c.connected.Load()
}

// HealthCheck pings the server.
func (c *Client) HealthCheck(ctx context.Context) error {
	if !c.IsConnected() {
		return ErrNotConnected
	}

	ctx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()

	healthy, err := c.client.Ping(ctx)
	if err != nil {
		return fmt.Errorf("influxdb health check failed: %w", err)
	}
	if !healthy {
		return fmt.Errorf("influxdb health check failed: server not healthy")
	}
	return nil
}

// Flush blocks until buffered points are written. It does nothing once the
// client is closed.
func (c *Client) Flush() {
	if !c.IsConnected() {
		return
	}
	c.writeAPI.Flush()
}

// Close flushes pending points and releases the client. Further writes
// are dropped.
func (c *Client) Close() error {
	if c == nil || c.client == nil {
		return nil
	}
	if !c.connected.Swap(false) {
		return nil
	}
	c.writeAPI.Flush()
	c.client.Close()
	return nil
}
