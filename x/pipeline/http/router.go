package http

import (
	"net/http"

	"github.com/gorilla/mux"
)

// RegisterMux binds gorilla/mux routes.
func (h *Handler) RegisterMux(r *mux.Router) {
	r.HandleFunc(routeRequests, h.handleList).Methods(http.MethodGet).Name(routeNameRequests)
	r.HandleFunc(routeRequestByID, h.handleGet).Methods(http.MethodGet).Name(routeNameRequestByID)
	r.HandleFunc(routeRequestReset, h.handleReset).Methods(http.MethodPost).Name(routeNameRequestReset)
	r.HandleFunc(routeTicks, h.handleTick).Methods(http.MethodPost).Name(routeNameTicks)
	r.HandleFunc(routeStats, h.handleStats).Methods(http.MethodGet).Name(routeNameStats)
}
