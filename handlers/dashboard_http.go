package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/gorilla/mux"

	"connmonitor/core"
	"connmonitor/core/log"
	corecase "connmonitor/usecases/core"
)

type DashboardHTTPHandler struct {
	coreUseCase *corecase.CoreUseCase
}

func NewDashboardHTTPHandler(coreUseCase *corecase.CoreUseCase) *DashboardHTTPHandler {
	return &DashboardHTTPHandler{
		coreUseCase: coreUseCase,
	}
}

type errorResponse struct {
	Error string `json:"error"`
}

func (h *DashboardHTTPHandler) HandleHealth(w http.ResponseWriter, r *http.Request) {
	health := h.coreUseCase.Health()
	status := http.StatusOK
	if !health.RelayConnected {
		status = http.StatusServiceUnavailable
	}
	h.writeJSONResponse(w, status, health)
}

func (h *DashboardHTTPHandler) HandleListAgents(w http.ResponseWriter, r *http.Request) {
	log.Debug("📋 List agents request received from %s", r.RemoteAddr)
	h.writeJSONResponse(w, http.StatusOK, h.coreUseCase.ListAgents())
}

func (h *DashboardHTTPHandler) HandleListFleet(w http.ResponseWriter, r *http.Request) {
	log.Debug("📋 List fleet request received from %s", r.RemoteAddr)
	h.writeJSONResponse(w, http.StatusOK, h.coreUseCase.ListFleet())
}

func (h *DashboardHTTPHandler) HandleGetDowntime(w http.ResponseWriter, r *http.Request) {
	agentID := mux.Vars(r)["agentID"]
	log.Info("⏱️ Downtime request for agent %s from %s", agentID, r.RemoteAddr)

	stats, err := h.coreUseCase.GetDowntimeStats(r.Context(), agentID)
	if err != nil {
		if core.IsNotFoundError(err) {
			h.writeJSONResponse(w, http.StatusNotFound, errorResponse{Error: "agent not found"})
			return
		}
		log.Error("❌ Failed to get downtime stats for agent %s: %v", agentID, err)
		h.writeJSONResponse(w, http.StatusInternalServerError, errorResponse{Error: "failed to get downtime stats"})
		return
	}

	h.writeJSONResponse(w, http.StatusOK, stats)
}

func (h *DashboardHTTPHandler) SetupEndpoints(router *mux.Router) {
	log.Info("🚀 Registering dashboard API endpoints")

	router.HandleFunc("/health", h.HandleHealth).Methods("GET")
	log.Info("✅ GET /health endpoint registered")

	router.HandleFunc("/api/agents", h.HandleListAgents).Methods("GET")
	log.Info("✅ GET /api/agents endpoint registered")

	router.HandleFunc("/api/fleet", h.HandleListFleet).Methods("GET")
	log.Info("✅ GET /api/fleet endpoint registered")

	router.HandleFunc("/api/agents/{agentID}/downtime", h.HandleGetDowntime).Methods("GET")
	log.Info("✅ GET /api/agents/{agentID}/downtime endpoint registered")
}

func (h *DashboardHTTPHandler) writeJSONResponse(w http.ResponseWriter, statusCode int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		log.Error("❌ Failed to encode JSON response: %v", err)
	}
}
