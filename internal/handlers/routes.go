package handlers

import (
	"net/http"

	"github.com/gorilla/mux"
)

const healthPath = "/-/healthz"

// RegisterRoutes mounts the health and metrics endpoints ahead of the
// catch-all proxy route. A nil metrics handler leaves metrics unexposed.
// Paths are forwarded as received, so cleaning is turned off.
func RegisterRoutes(r *mux.Router, ph *ProxyHandler, metrics http.Handler, metricsPath string) {
	r.SkipClean(true)
	r.HandleFunc(healthPath, HandleHealth).Methods(http.MethodGet)
	if metrics != nil {
		r.Handle(metricsPath, metrics).Methods(http.MethodGet)
	}
	r.PathPrefix("/").Handler(ph).Methods(http.MethodGet)
}
