// Package influxdb records connector telemetry in InfluxDB.
//
// Two measurements are written through the influxdb-client-go v2 batching
// write API:
//   - mqtt_connection_state: one point per state transition, tagged with
//     the destination state
//   - mqtt_connector_stats: periodic samples of the connector counters
//
// Usage:
//
//	client, err := influxdb.Connect(ctx, cfg.InfluxDB)
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	client.WriteStateTransition(clientID, "connecting", "connected", time.Now())
package influxdb
