package referral

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/anamnesis-ai/platform/pkg/common/logger"
	"github.com/anamnesis-ai/platform/pkg/dialogue"
	"github.com/google/uuid"
	"github.com/gorilla/mux"
)

// Handler is the facility-facing HTTP surface: referral options, the contact
// inbox, message threads and the notification feed.
type Handler struct {
	repo      *Repository
	allowlist *Allowlist
	notifier  *Notifier
}

func NewHandler(repo *Repository, allowlist *Allowlist, notifier *Notifier) *Handler {
	return &Handler{repo: repo, allowlist: allowlist, notifier: notifier}
}

func (h *Handler) RegisterRoutes(router *mux.Router) {
	api := router.PathPrefix("/api/v1").Subrouter()
	api.HandleFunc("/referral-options", h.referralOptions).Methods(http.MethodGet)
	api.HandleFunc("/contacts", h.listContacts).Methods(http.MethodGet)
	api.HandleFunc("/contacts/{id}", h.getContact).Methods(http.MethodGet)
	api.HandleFunc("/contacts/{id}/messages", h.listMessages).Methods(http.MethodGet)
	api.HandleFunc("/contacts/{id}/messages", h.postMessage).Methods(http.MethodPost)
	api.HandleFunc("/notifications", h.notifications).Methods(http.MethodGet)
	router.HandleFunc("/health", h.health).Methods(http.MethodGet)
}

func (h *Handler) health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *Handler) referralOptions(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{"addresses": h.allowlist.Options()})
}

func (h *Handler) listContacts(w http.ResponseWriter, r *http.Request) {
	address := r.URL.Query().Get("address")
	facility := r.URL.Query().Get("facility")
	if address == "" || facility == "" {
		writeError(w, http.StatusBadRequest, "address and facility are required")
		return
	}

	rows, err := h.repo.ListByFacility(r.Context(), address, facility)
	if err != nil {
		h.internalError(w, err)
		return
	}

	cards := make([]PatientCard, 0, len(rows))
	for _, row := range rows {
		cards = append(cards, cardOf(row))
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"contacts": cards})
}

func (h *Handler) getContact(w http.ResponseWriter, r *http.Request) {
	contactID, ok := pathID(w, r)
	if !ok {
		return
	}

	row, err := h.repo.Get(r.Context(), contactID)
	if err != nil {
		h.mapError(w, err)
		return
	}
	snap, err := snapshotOf(*row)
	if err != nil {
		h.internalError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, ContactDetail{
		PatientCard:         cardOf(*row),
		IncludeConversation: row.IncludeConversation,
		Snapshot:            snap,
	})
}

func (h *Handler) listMessages(w http.ResponseWriter, r *http.Request) {
	contactID, ok := pathID(w, r)
	if !ok {
		return
	}

	rows, err := h.repo.Messages(r.Context(), contactID)
	if err != nil {
		h.mapError(w, err)
		return
	}
	messages := make([]ContactMessage, 0, len(rows))
	for _, row := range rows {
		messages = append(messages, ContactMessage{
			ID:         row.ID,
			SenderRole: row.SenderRole,
			SenderName: row.SenderName,
			Content:    row.Content,
			CreatedAt:  row.CreatedAt,
		})
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"messages": messages})
}

type postMessageRequest struct {
	SenderRole string `json:"sender_role"`
	SenderName string `json:"sender_name"`
	Content    string `json:"content"`
}

func (h *Handler) postMessage(w http.ResponseWriter, r *http.Request) {
	contactID, ok := pathID(w, r)
	if !ok {
		return
	}

	var req postMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.SenderRole != "doctor" && req.SenderRole != "patient" {
		writeError(w, http.StatusBadRequest, "sender_role must be doctor or patient")
		return
	}
	if req.Content == "" {
		writeError(w, http.StatusBadRequest, "content is required")
		return
	}

	row, err := h.repo.AddMessage(r.Context(), contactID, req.SenderRole, req.SenderName, req.Content)
	if err != nil {
		h.mapError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, ContactMessage{
		ID:         row.ID,
		SenderRole: row.SenderRole,
		SenderName: row.SenderName,
		Content:    row.Content,
		CreatedAt:  row.CreatedAt,
	})
}

func (h *Handler) notifications(w http.ResponseWriter, r *http.Request) {
	if h.notifier == nil {
		writeError(w, http.StatusServiceUnavailable, "notifications are not enabled")
		return
	}
	address := r.URL.Query().Get("address")
	facility := r.URL.Query().Get("facility")
	if address == "" || facility == "" {
		writeError(w, http.StatusBadRequest, "address and facility are required")
		return
	}
	limit, _ := strconv.ParseInt(r.URL.Query().Get("limit"), 10, 64)

	notes, err := h.notifier.Feed(r.Context(), address, facility, limit)
	if err != nil {
		h.internalError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"notifications": notes})
}

func cardOf(row ContactRow) PatientCard {
	var snap Snapshot
	_ = json.Unmarshal(row.Snapshot, &snap)
	return PatientCard{
		ContactID:   row.ID,
		PatientName: snap.Record.PatientInfo.FullName,
		Address:     row.Address,
		Facility:    row.Facility,
		DoctorName:  row.DoctorName,
		CreatedAt:   row.CreatedAt,
	}
}

func pathID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(mux.Vars(r)["id"])
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid contact id")
		return uuid.Nil, false
	}
	return id, true
}

func (h *Handler) mapError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, dialogue.ErrNotFound):
		writeError(w, http.StatusNotFound, "contact not found")
	case errors.Is(err, ErrAlreadyReferred):
		writeError(w, http.StatusConflict, "contact already exists")
	default:
		h.internalError(w, err)
	}
}

func (h *Handler) internalError(w http.ResponseWriter, err error) {
	logger.Log.WithError(err).Error("Contact handler failure")
	writeError(w, http.StatusInternalServerError, "internal error")
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
