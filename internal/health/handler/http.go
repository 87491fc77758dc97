package handler

import (
	"encoding/json"
	"net/http"
)

type statusBody struct {
	Status string `json:"status"`
	Error  string `json:"error,omitempty"`
}

// Liveness answers 200 as long as the process can serve HTTP.
func (c *Checker) Liveness(w http.ResponseWriter, r *http.Request) {
	writeStatus(w, http.StatusOK, statusBody{Status: "ok"})
}

// Readiness answers 200 when Ready succeeds and 503 with the failure otherwise.
func (c *Checker) Readiness(w http.ResponseWriter, r *http.Request) {
	if err := c.Ready(r.Context()); err != nil {
		writeStatus(w, http.StatusServiceUnavailable, statusBody{Status: "unavailable", Error: err.Error()})
		return
	}
	writeStatus(w, http.StatusOK, statusBody{Status: "ok"})
}

func writeStatus(w http.ResponseWriter, code int, body statusBody) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(body)
}
