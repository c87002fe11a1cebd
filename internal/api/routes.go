package api

import (
	"net/http"

	"github.com/gorilla/mux"
)

func RegisterRoutes(root *mux.Router, h *Handler) {
	sub := root.PathPrefix("/api/v1").Subrouter()

	sub.HandleFunc("/status", h.Status).Methods(http.MethodGet)

	sub.HandleFunc("/orchestrator/start", h.StartOrchestrator).Methods(http.MethodPost)
	sub.HandleFunc("/orchestrator/stop", h.StopOrchestrator).Methods(http.MethodPost)

	sub.HandleFunc("/devices", h.ListDevices).Methods(http.MethodGet)
	sub.HandleFunc("/devices", h.CreateDevice).Methods(http.MethodPost)
	sub.HandleFunc("/devices/{uuid:[a-fA-F0-9\\-]{36}}/start", h.StartDevice).Methods(http.MethodPost)
	sub.HandleFunc("/devices/{uuid:[a-fA-F0-9\\-]{36}}/stop", h.StopDevice).Methods(http.MethodPost)
	sub.HandleFunc("/devices/{uuid:[a-fA-F0-9\\-]{36}}/session", h.RunningSession).Methods(http.MethodGet)

	sub.HandleFunc("/identities", h.ListIdentities).Methods(http.MethodGet)

	sub.HandleFunc("/tasks", h.EnqueueTask).Methods(http.MethodPost)
	sub.HandleFunc("/tasks", h.ListTasks).Methods(http.MethodGet)
}
