package http

import (
	"context"
	"errors"
	"net/http"

	"go.uber.org/zap"

	"findash/internal/domain/duplicates"
)

// DuplicateService finds and merges duplicate accounts
type DuplicateService interface {
	Detect(ctx context.Context, userID int64, institutionID string) (*duplicates.Detection, error)
	ResolveInstitution(ctx context.Context, userID int64, institutionID string) (*duplicates.MergeResult, error)
}

type DuplicateHandler struct {
	duplicates DuplicateService
	logger     *zap.Logger
}

func NewDuplicateHandler(duplicates DuplicateService, logger *zap.Logger) *DuplicateHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &DuplicateHandler{duplicates: duplicates, logger: logger}
}

// HandleDetect lists duplicate groups under an institution, or 204 when there are none.
func (h *DuplicateHandler) HandleDetect(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	userID, ok := userID(w, r)
	if !ok {
		return
	}
	institutionID := r.PathValue("id")

	det, err := h.duplicates.Detect(r.Context(), userID, institutionID)
	if err != nil {
		h.writeError(w, userID, institutionID, err)
		return
	}
	if det == nil {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	writeJSON(w, http.StatusOK, det)
}

// HandleMerge detects and merges duplicates of an institution in one step.
func (h *DuplicateHandler) HandleMerge(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	userID, ok := userID(w, r)
	if !ok {
		return
	}
	institutionID := r.PathValue("id")

	result, err := h.duplicates.ResolveInstitution(r.Context(), userID, institutionID)
	if err != nil {
		h.writeError(w, userID, institutionID, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (h *DuplicateHandler) writeError(w http.ResponseWriter, userID int64, institutionID string, err error) {
	if errors.Is(err, duplicates.ErrInvalidInstitution) {
		http.Error(w, "Institution ID is required", http.StatusBadRequest)
		return
	}
	h.logger.Error("duplicate resolution failed",
		zap.Int64("user_id", userID),
		zap.String("institution_id", institutionID),
		zap.Error(err),
	)
	http.Error(w, "Failed to resolve duplicates", http.StatusInternalServerError)
}
