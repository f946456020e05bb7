package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// buildRouter creates the HTTP router with all routes and middleware.
func (s *Server) buildRouter() http.Handler {
	r := chi.NewRouter()

	r.Use(requestID)
	r.Use(s.logRequests)
	r.Use(s.recoverPanics)
	r.Use(s.cors)
	r.Use(middleware.RequestSize(maxRequestBodySize))

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/health", s.handleHealth)
		r.Get("/metrics", s.handleMetrics)
		r.Get("/connection", s.handleConnection)
		r.Get("/events", s.handleListEvents)
		r.Get("/ws", s.handleWebSocket)
	})

	return r
}

// handleHealth reports 200 while the connector is connected and 503 otherwise.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	status, code := "ok", http.StatusOK
	if err := s.connector.HealthCheck(r.Context()); err != nil {
		status, code = "degraded", http.StatusServiceUnavailable
	}
	writeJSON(w, code, map[string]any{
		"status":  status,
		"version": s.version,
		"mqtt":    s.connector.State().String(),
	})
}

// SubscriptionInfo describes one desired subscription.
type SubscriptionInfo struct {
	Filter string `json:"filter"`
	QoS    byte   `json:"qos"`
}

// ConnectionInfo is the response of the connection endpoint.
type ConnectionInfo struct {
	ClientID      string             `json:"client_id"`
	Broker        string             `json:"broker"`
	State         string             `json:"state"`
	Subscriptions []SubscriptionInfo `json:"subscriptions"`
}

// handleConnection returns the connector identity, state and subscriptions
// in registration order.
func (s *Server) handleConnection(w http.ResponseWriter, _ *http.Request) {
	subs := s.connector.Subscriptions()
	info := ConnectionInfo{
		ClientID:      s.connector.ClientID(),
		Broker:        s.connector.BrokerURL(),
		State:         s.connector.State().String(),
		Subscriptions: make([]SubscriptionInfo, 0, len(subs)),
	}
	for _, sub := range subs {
		info.Subscriptions = append(info.Subscriptions, SubscriptionInfo{Filter: sub.Filter, QoS: sub.QoS})
	}
	writeJSON(w, http.StatusOK, info)
}
