// Package chat is the patient-facing HTTP surface of the intake service.
package chat

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/anamnesis-ai/platform/pkg/common/logger"
	"github.com/anamnesis-ai/platform/pkg/common/models"
	"github.com/anamnesis-ai/platform/pkg/dialogue"
	"github.com/google/uuid"
	"github.com/gorilla/mux"
)

// Store is the read/auxiliary surface the handler needs beyond the engine's
// turn path.
type Store interface {
	dialogue.SessionStore
	SetTodoChecked(ctx context.Context, userID, recordID uuid.UUID, position int, checked bool) error
}

type Handler struct {
	engine *dialogue.Engine
	store  Store
}

func NewHandler(engine *dialogue.Engine, store Store) *Handler {
	return &Handler{engine: engine, store: store}
}

func (h *Handler) RegisterRoutes(router *mux.Router) {
	api := router.PathPrefix("/api/v1").Subrouter()
	api.HandleFunc("/records", h.createRecord).Methods(http.MethodPost)
	api.HandleFunc("/records/{id}", h.getRecord).Methods(http.MethodGet)
	api.HandleFunc("/records/{id}/chat", h.chat).Methods(http.MethodPost)
	api.HandleFunc("/records/{id}/chat", h.history).Methods(http.MethodGet)
	api.HandleFunc("/records/{id}/diagnosis", h.diagnosis).Methods(http.MethodGet)
	api.HandleFunc("/records/{id}/todos", h.todos).Methods(http.MethodGet)
	api.HandleFunc("/records/{id}/todos/{position}", h.patchTodo).Methods(http.MethodPatch)
	router.HandleFunc("/health", h.health).Methods(http.MethodGet)
}

func (h *Handler) health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type createRecordRequest struct {
	UserID        uuid.UUID                `json:"user_id"`
	MedicalRecord models.MedicalRecordData `json:"medical_record"`
}

func (h *Handler) createRecord(w http.ResponseWriter, r *http.Request) {
	var req createRecordRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	resp, err := h.engine.CreateSession(r.Context(), req.UserID, req.MedicalRecord)
	if err != nil {
		h.mapError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, resp)
}

type chatRequest struct {
	UserID  uuid.UUID `json:"user_id"`
	Message string    `json:"message"`
}

func (h *Handler) chat(w http.ResponseWriter, r *http.Request) {
	recordID, ok := pathID(w, r)
	if !ok {
		return
	}
	var req chatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	resp, err := h.engine.HandleTurn(r.Context(), req.UserID, recordID, req.Message)
	if err != nil {
		h.mapError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) getRecord(w http.ResponseWriter, r *http.Request) {
	recordID, userID, ok := sessionIDs(w, r)
	if !ok {
		return
	}

	record, err := h.store.Record(r.Context(), userID, recordID)
	if err != nil {
		h.mapError(w, err)
		return
	}
	state, err := h.store.State(r.Context(), userID, recordID)
	if err != nil {
		h.mapError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"record_id":      recordID,
		"medical_record": record,
		"stage":          state.Stage,
		"missing_fields": record.MissingFields(),
	})
}

func (h *Handler) history(w http.ResponseWriter, r *http.Request) {
	recordID, userID, ok := sessionIDs(w, r)
	if !ok {
		return
	}

	// History alone cannot distinguish "new session" from "no session";
	// resolve existence through the state row.
	if _, err := h.store.State(r.Context(), userID, recordID); err != nil {
		h.mapError(w, err)
		return
	}
	messages, err := h.store.History(r.Context(), userID, recordID)
	if err != nil {
		h.mapError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"messages": messages})
}

func (h *Handler) diagnosis(w http.ResponseWriter, r *http.Request) {
	recordID, userID, ok := sessionIDs(w, r)
	if !ok {
		return
	}

	paper, err := h.store.LatestDiagnosis(r.Context(), userID, recordID)
	if err != nil {
		h.mapError(w, err)
		return
	}
	if paper == nil {
		writeError(w, http.StatusNotFound, "no diagnosis yet")
		return
	}
	writeJSON(w, http.StatusOK, paper)
}

func (h *Handler) todos(w http.ResponseWriter, r *http.Request) {
	recordID, userID, ok := sessionIDs(w, r)
	if !ok {
		return
	}

	todos, err := h.store.Todos(r.Context(), userID, recordID)
	if err != nil {
		h.mapError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"todos": todos})
}

type patchTodoRequest struct {
	UserID  uuid.UUID `json:"user_id"`
	Checked bool      `json:"checked"`
}

func (h *Handler) patchTodo(w http.ResponseWriter, r *http.Request) {
	recordID, ok := pathID(w, r)
	if !ok {
		return
	}
	position, err := strconv.Atoi(mux.Vars(r)["position"])
	if err != nil || position < 0 {
		writeError(w, http.StatusBadRequest, "invalid todo position")
		return
	}
	var req patchTodoRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.UserID == uuid.Nil {
		writeError(w, http.StatusBadRequest, "user_id is required")
		return
	}

	if err := h.store.SetTodoChecked(r.Context(), req.UserID, recordID, position, req.Checked); err != nil {
		h.mapError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"position": position, "checked": req.Checked})
}

func pathID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(mux.Vars(r)["id"])
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid record id")
		return uuid.Nil, false
	}
	return id, true
}

func sessionIDs(w http.ResponseWriter, r *http.Request) (recordID, userID uuid.UUID, ok bool) {
	recordID, ok = pathID(w, r)
	if !ok {
		return uuid.Nil, uuid.Nil, false
	}
	userID, err := uuid.Parse(r.URL.Query().Get("user_id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "user_id query parameter is required")
		return uuid.Nil, uuid.Nil, false
	}
	return recordID, userID, true
}

func (h *Handler) mapError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, dialogue.ErrInvalidInput):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, dialogue.ErrNotFound):
		writeError(w, http.StatusNotFound, "session not found")
	case errors.Is(err, dialogue.ErrTurnInProgress):
		writeError(w, http.StatusTooManyRequests, "a turn is already in progress for this session")
	case errors.Is(err, dialogue.ErrOracleContract):
		logger.Log.WithError(err).Error("Oracle contract violation")
		writeError(w, http.StatusBadGateway, "upstream generation failure")
	default:
		logger.Log.WithError(err).Error("Intake handler failure")
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		logger.Log.WithError(err).Error("Failed to encode response")
	}
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
