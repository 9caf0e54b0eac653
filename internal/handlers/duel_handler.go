package handlers

import (
	"encoding/json"
	"io"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/duelpoint/backend/internal/models"
	"github.com/duelpoint/backend/internal/services"
)

// DuelHandler exposes the engine's entry points over HTTP. Participant
// identity arrives pre-resolved in the request body; the transport in front
// of this API is responsible for verifying it.
type DuelHandler struct {
	engine    *services.DuelEngine
	ledger    *services.LedgerService
	validator *services.ValidationHelper
}

func NewDuelHandler(engine *services.DuelEngine, ledger *services.LedgerService) *DuelHandler {
	return &DuelHandler{
		engine:    engine,
		ledger:    ledger,
		validator: services.NewValidationHelper(),
	}
}

type createDuelRequest struct {
	ParticipantID string `json:"participant_id" validate:"required"`
	DisplayName   string `json:"display_name" validate:"required"`
	BetAmount     int64  `json:"bet_amount" validate:"required,gte=1"`
	ChannelRef    string `json:"channel_ref"`
}

// CreateDuel opens a new duel in waiting status.
func (h *DuelHandler) CreateDuel(w http.ResponseWriter, r *http.Request) {
	var req createDuelRequest
	if !h.decode(w, r, &req) {
		return
	}

	duel, err := h.engine.CreateDuel(r.Context(), models.PlayerRef{
		ParticipantID: req.ParticipantID,
		DisplayName:   req.DisplayName,
	}, req.BetAmount, req.ChannelRef)
	if err != nil {
		services.SendErrorResponse(w, err.Error(), services.StatusForError(err), nil)
		return
	}

	h.sendDuel(w, http.StatusCreated, duel)
}

type joinDuelRequest struct {
	ParticipantID string `json:"participant_id" validate:"required"`
	DisplayName   string `json:"display_name" validate:"required"`
}

// JoinDuel lets a challenger claim a waiting duel.
func (h *DuelHandler) JoinDuel(w http.ResponseWriter, r *http.Request) {
	duelID := chi.URLParam(r, "duelId")

	var req joinDuelRequest
	if !h.decode(w, r, &req) {
		return
	}

	duel, err := h.engine.JoinDuel(r.Context(), duelID, models.PlayerRef{
		ParticipantID: req.ParticipantID,
		DisplayName:   req.DisplayName,
	})
	if err != nil {
		services.SendErrorResponse(w, err.Error(), services.StatusForError(err), nil)
		return
	}

	h.sendDuel(w, http.StatusOK, duel)
}

// ResolveDuel is the redundant external completion trigger. It is safe to
// call at any time: before the countdown deadline or after another trigger
// already resolved the duel it reports the current state unchanged.
func (h *DuelHandler) ResolveDuel(w http.ResponseWriter, r *http.Request) {
	duelID := chi.URLParam(r, "duelId")

	duel, err := h.engine.ResolveDuel(r.Context(), duelID)
	if err != nil {
		services.SendErrorResponse(w, err.Error(), services.StatusForError(err), nil)
		return
	}

	h.sendDuel(w, http.StatusOK, duel)
}

// CancelDuel is the administrative cancellation entry point.
func (h *DuelHandler) CancelDuel(w http.ResponseWriter, r *http.Request) {
	duelID := chi.URLParam(r, "duelId")

	duel, err := h.engine.CancelDuel(r.Context(), duelID)
	if err != nil {
		services.SendErrorResponse(w, err.Error(), services.StatusForError(err), nil)
		return
	}

	h.sendDuel(w, http.StatusOK, duel)
}

// GetDuel returns the current duel snapshot.
func (h *DuelHandler) GetDuel(w http.ResponseWriter, r *http.Request) {
	duelID := chi.URLParam(r, "duelId")

	duel, err := h.engine.GetDuel(r.Context(), duelID)
	if err != nil {
		services.SendErrorResponse(w, err.Error(), services.StatusForError(err), nil)
		return
	}

	h.sendDuel(w, http.StatusOK, duel)
}

// ListDuels returns duels still open for joining.
func (h *DuelHandler) ListDuels(w http.ResponseWriter, r *http.Request) {
	duels, err := h.engine.ActiveDuels(r.Context())
	if err != nil {
		services.SendErrorResponse(w, err.Error(), services.StatusForError(err), nil)
		return
	}

	snapshots := make([]models.DuelSnapshot, 0, len(duels))
	for _, d := range duels {
		snapshots = append(snapshots, d.Snapshot())
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"success": true,
		"duels":   snapshots,
	})
}

// GetBalance returns a participant's account.
func (h *DuelHandler) GetBalance(w http.ResponseWriter, r *http.Request) {
	participantID := chi.URLParam(r, "participantId")

	account, err := h.ledger.Account(r.Context(), participantID)
	if err != nil {
		services.SendErrorResponse(w, err.Error(), services.StatusForError(err), nil)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"success": true,
		"account": account,
	})
}

// Leaderboard returns the top accounts by balance.
func (h *DuelHandler) Leaderboard(w http.ResponseWriter, r *http.Request) {
	limit := 10
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			limit = n
		}
	}

	accounts, err := h.ledger.Leaderboard(r.Context(), limit)
	if err != nil {
		services.SendErrorResponse(w, err.Error(), services.StatusForError(err), nil)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"success":     true,
		"leaderboard": accounts,
	})
}

func (h *DuelHandler) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, 1_048_576)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()

	if err := dec.Decode(dst); err != nil {
		services.SendErrorResponse(w, "Invalid request body", http.StatusBadRequest, nil)
		return false
	}

	if err := dec.Decode(&struct{}{}); err != io.EOF {
		services.SendErrorResponse(w, "Request body must only contain a single JSON object", http.StatusBadRequest, nil)
		return false
	}

	if err := h.validator.ValidateStruct(dst); err != nil {
		services.SendErrorResponse(w, "Validation failed", http.StatusBadRequest, err)
		return false
	}
	return true
}

func (h *DuelHandler) sendDuel(w http.ResponseWriter, status int, duel *models.Duel) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]any{
		"success": true,
		"duel":    duel.Snapshot(),
	})
}
