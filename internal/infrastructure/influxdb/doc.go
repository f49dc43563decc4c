// Package influxdb writes dispatch telemetry to InfluxDB 2.x.
//
// Client wraps influxdb-client-go's non-blocking write API. Each dispatch
// outcome becomes one point in the mqtt_dispatch measurement:
//
//	tags:   client, route (when known), outcome
//	fields: count=1, duration_us, payload_bytes
//
// Writes are batched by the library (batch_size, flush_interval) and
// asynchronous errors go to the SetOnError callback. Connect and
// HealthCheck return errors directly; a disabled configuration yields
// ErrDisabled so callers can skip telemetry export.
//
//	client, err := influxdb.Connect(cfg.InfluxDB)
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//	recorder := telemetry.NewRecorder(client)
package influxdb
