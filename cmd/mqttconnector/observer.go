package main

import (
	"sync/atomic"

	"github.com/nerrad567/mqtt-connector/internal/api"
	"github.com/nerrad567/mqtt-connector/internal/infrastructure/influxdb"
	"github.com/nerrad567/mqtt-connector/internal/infrastructure/logging"
	"github.com/nerrad567/mqtt-connector/internal/infrastructure/mqtt"
	"github.com/nerrad567/mqtt-connector/internal/journal"
)

// stateChangedEvent is the message of the connector's transition event.
const stateChangedEvent = "connection state changed"

// observer fans connector events out to the log, the journal, InfluxDB and
// the live event hub.
//
// Its callback runs on connector goroutines, so every sink is
// non-blocking: the journal writer queues, the InfluxDB write API batches
// and the hub drops messages for slow clients.
type observer struct {
	log     mqtt.LogCallback
	journal *journal.Writer
	influx  *influxdb.Client
	hub     *api.Hub

	clientID atomic.Pointer[string]
}

func newObserver(log *logging.Logger, w *journal.Writer, influx *influxdb.Client, hub *api.Hub) *observer {
	return &observer{
		log:     mqtt.SlogCallback(log.With("component", "mqtt").Logger),
		journal: w,
		influx:  influx,
		hub:     hub,
	}
}

// attach records the connector's client ID and starts receiving its events.
func (o *observer) attach(c *mqtt.Connector) {
	id := c.ClientID()
	o.clientID.Store(&id)
	c.SetLogCallback(o.callback)
}

func (o *observer) callback(ev mqtt.Event) {
	o.log(ev)

	var clientID string
	if p := o.clientID.Load(); p != nil {
		clientID = *p
	}

	stateChanged := ev.Message == stateChangedEvent

	// Debug events fire per inbound message and stay out of the journal
	// and the live stream.
	if ev.Level >= mqtt.LevelInfo && (o.journal != nil || o.hub != nil) {
		entry := journal.NewEntry(ev.Time, ev.Level.String(), ev.Message, clientID, ev.Attrs)
		if o.journal != nil {
			o.journal.Enqueue(entry)
		}
		if o.hub != nil {
			o.hub.Broadcast(api.ChannelEvents, entry)
			if stateChanged {
				o.hub.Broadcast(api.ChannelStateChanged, entry)
			}
		}
	}

	if o.influx != nil && stateChanged {
		from, _ := ev.Attr("from").(string)
		to, _ := ev.Attr("to").(string)
		o.influx.WriteStateTransition(clientID, from, to, ev.Time)
	}
}
