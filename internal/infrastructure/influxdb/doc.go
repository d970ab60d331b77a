// Package influxdb records operation telemetry in InfluxDB.
//
// It wraps the official influxdb-client-go v2 library. Telemetry is
// optional; when influxdb.enabled is false the daemon never connects and
// holds a nil *Client, on which WriteOperation is a no-op.
//
// # Usage
//
//	client, err := influxdb.Connect(cfg.InfluxDB)
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	client.WriteOperation(influxdb.OperationSample{
//	    DeviceType: "hnode2-datasink-device",
//	    Instance:   "default",
//	    Operation:  "getStatus",
//	    Status:     200,
//	    Duration:   elapsed,
//	})
//
// # Thread Safety
//
// All methods are safe for concurrent use from multiple goroutines.
// The underlying write API uses non-blocking batched writes; write errors
// are delivered to the SetOnError callback.
package influxdb
