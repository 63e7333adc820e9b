package proxy

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/sirupsen/logrus"

	"github.com/iTrooz/offline-worker/internal/worker"
)

const maxPushPayload = 64 << 10

// adminHandler serves requests addressed to the proxy itself rather than proxied through it
func (s *Server) adminHandler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /push", s.handlePush)
	mux.HandleFunc("GET /generations", s.handleGenerations)
	mux.HandleFunc("GET /healthz", s.handleHealth)
	return mux
}

func (s *Server) handlePush(w http.ResponseWriter, r *http.Request) {
	payload, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxPushPayload))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			http.Error(w, fmt.Sprintf("push payload exceeds %d bytes", tooLarge.Limit), http.StatusRequestEntityTooLarge)
			return
		}
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	if err := s.registration.Push(r.Context(), payload); err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, worker.ErrNotActive) {
			status = http.StatusServiceUnavailable
		}
		logrus.Errorf("Push handling failed: %v", err)
		http.Error(w, err.Error(), status)
		return
	}

	w.WriteHeader(http.StatusAccepted)
}

type generationsResponse struct {
	Current     string   `json:"current"`
	State       string   `json:"state"`
	Generations []string `json:"generations"`
}

func (s *Server) handleGenerations(w http.ResponseWriter, r *http.Request) {
	generations, err := s.storage.Generations(r.Context())
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if generations == nil {
		generations = []string{}
	}

	writeJSON(w, generationsResponse{
		Current:     s.controller.Generation(),
		State:       s.registration.State().String(),
		Generations: generations,
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, map[string]any{
		"state":       s.registration.State().String(),
		"controlling": s.registration.Controlling(),
	})
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logrus.Errorf("Failed to write response body: %v", err)
	}
}
