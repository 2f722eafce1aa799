package handlers

import (
	"encoding/json"
	"net/http"

	"brandgen/internal/domain"
	"brandgen/internal/ledger"
)

type refillRequest struct {
	UserID string `json:"userID"`
	Tier   string `json:"tier"`
}

func (a *App) Credits(w http.ResponseWriter, r *http.Request) {
	balances, err := a.Ledger.Summary(r.Context(), a.currentUserID(r))
	if err != nil {
		a.fail(w, r, err)
		return
	}
	if balances == nil {
		balances = []domain.Balance{}
	}
	a.json(w, http.StatusOK, balances)
}

// Refill is called by the billing integration after a successful payment or
// at a period rollover. Replays are harmless.
func (a *App) Refill(w http.ResponseWriter, r *http.Request) {
	var req refillRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBody)).Decode(&req); err != nil {
		a.fail(w, r, domain.Invalid("body", "invalid JSON"))
		return
	}
	if req.UserID == "" {
		a.fail(w, r, domain.Invalid("userID", "required"))
		return
	}
	tier, err := ledger.ParseTier(req.Tier)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	if err := a.Ledger.Refill(r.Context(), req.UserID, tier); err != nil {
		a.fail(w, r, err)
		return
	}
	a.Logger.Info().Str("user_id", req.UserID).Str("tier", string(tier)).Msg("credits refilled")
	w.WriteHeader(http.StatusNoContent)
}
