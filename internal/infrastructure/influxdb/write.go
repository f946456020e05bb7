package influxdb

import (
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

// Measurement names written by the connector.
const (
	measurementState = "mqtt_connection_state"
	measurementStats = "mqtt_connector_stats"
)

// ConnectorStats is one sample of the connector's counters.
type ConnectorStats struct {
	State           string
	Subscriptions   int
	Published       uint64
	PublishFailures uint64
	Received        uint64
	HandlerErrors   uint64
	ConnectAttempts uint64
	Connects        uint64
	Reconnects      uint64
}

// WriteStateTransition records a connection state change.
//
// Example:
//
//	client.WriteStateTransition("gateway-01", "reconnecting", "connected", time.Now())
func (c *Client) WriteStateTransition(clientID, from, to string, at time.Time) {
	c.write(stateTransitionPoint(clientID, from, to, at))
}

// WriteConnectorStats records a sample of the connector counters.
func (c *Client) WriteConnectorStats(clientID string, s ConnectorStats, at time.Time) {
	c.write(statsPoint(clientID, s, at))
}

func (c *Client) write(p *write.Point) {
	if c.writeAPI == nil || c.closed.Load() {
		return
	}
	c.writeAPI.WritePoint(p)
}

// stateTransitionPoint tags the destination state so that queries can
// group by it; the connected field gives a 0/1 availability series.
func stateTransitionPoint(clientID, from, to string, at time.Time) *write.Point {
	connected := 0
	if to == "connected" {
		connected = 1
	}
	return write.NewPoint(
		measurementState,
		map[string]string{
			"client_id": clientID,
			"state":     to,
		},
		map[string]any{
			"from":      from,
			"connected": connected,
		},
		at,
	)
}

func statsPoint(clientID string, s ConnectorStats, at time.Time) *write.Point {
	return write.NewPoint(
		measurementStats,
		map[string]string{
			"client_id": clientID,
		},
		map[string]any{
			"state":            s.State,
			"subscriptions":    s.Subscriptions,
			"published":        s.Published,
			"publish_failures": s.PublishFailures,
			"received":         s.Received,
			"handler_errors":   s.HandlerErrors,
			"connect_attempts": s.ConnectAttempts,
			"connects":         s.Connects,
			"reconnects":       s.Reconnects,
		},
		at,
	)
}
