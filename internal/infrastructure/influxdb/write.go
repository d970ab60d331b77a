package influxdb

import (
	"strconv"
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

// measurementOperations is the measurement operation samples are written to.
const measurementOperations = "operations"

// OperationSample is one dispatched operation.
type OperationSample struct {
	DeviceType string
	Instance   string
	Operation  string
	Status     int
	Duration   time.Duration
}

// WriteOperation records one dispatched operation.
//
// The write is non-blocking; points are batched and sent asynchronously.
// Calls on a nil or closed client are ignored, so callers can hold a nil
// *Client when telemetry is disabled.
//
// Point layout:
//
//	operations,device_type=...,instance=...,operation=getStatus,status=200 duration_ms=0.42
func (c *Client) WriteOperation(sample OperationSample) {
	if !c.IsConnected() {
		return
	}
	c.writeAPI.WritePoint(buildOperationPoint(sample, time.Now()))
}

// buildOperationPoint converts a sample into an InfluxDB point.
func buildOperationPoint(sample OperationSample, ts time.Time) *write.Point {
	return write.NewPoint(
		measurementOperations,
		map[string]string{
			"device_type": sample.DeviceType,
			"instance":    sample.Instance,
			"operation":   sample.Operation,
			"status":      strconv.Itoa(sample.Status),
		},
		map[string]interface{}{
			"duration_ms": float64(sample.Duration) / float64(time.Millisecond),
		},
		ts,
	)
}
