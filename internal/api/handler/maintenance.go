package handler

import (
	"context"
	"net/http"

	"github.com/ayo6706/referral-commerce/internal/service"
)

type Sweeper interface {
	Sweep(ctx context.Context) (service.SweepResult, error)
}

type IntegrityChecker interface {
	Run(ctx context.Context) (service.IntegrityReport, error)
}

// MaintenanceHandler lets admins run background jobs on demand.
type MaintenanceHandler struct {
	sweeper   Sweeper
	integrity IntegrityChecker
}

func NewMaintenanceHandler(sweeper Sweeper, integrity IntegrityChecker) *MaintenanceHandler {
	return &MaintenanceHandler{sweeper: sweeper, integrity: integrity}
}

// Sweep handles POST /v1/admin/sweeps.
func (h *MaintenanceHandler) Sweep(w http.ResponseWriter, r *http.Request) {
	result, err := h.sweeper.Sweep(r.Context())
	if err != nil {
		respondServiceError(w, r, err, "expiry sweep")
		return
	}
	RespondJSON(w, http.StatusOK, result)
}

// VerifyLedger handles POST /v1/admin/ledger/verify.
func (h *MaintenanceHandler) VerifyLedger(w http.ResponseWriter, r *http.Request) {
	report, err := h.integrity.Run(r.Context())
	if err != nil {
		respondServiceError(w, r, err, "ledger verification")
		return
	}
	RespondJSON(w, http.StatusOK, report)
}
