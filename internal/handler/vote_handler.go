package handler

import (
	"log"
	"net/http"
	"strings"

	"featurevotes/internal/service"
)

type ConfirmHandler struct {
	logger      *log.Logger
	voteService *service.VoteService
}

func NewConfirmHandler(logger *log.Logger, voteService *service.VoteService) *ConfirmHandler {
	return &ConfirmHandler{
		logger:      logger,
		voteService: voteService,
	}
}

type ConfirmRequestPayload struct {
	CheckoutID interface{} `json:"checkoutId"`
}

func (h *ConfirmHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	var req ConfirmRequestPayload
	if !decodeBody(w, r, &req, false) {
		writeError(w, h.logger, http.StatusBadRequest, "Invalid JSON body")
		return
	}

	checkoutID, _ := req.CheckoutID.(string)
	checkoutID = strings.TrimSpace(checkoutID)
	if checkoutID == "" {
		writeError(w, h.logger, http.StatusBadRequest, "checkoutId is required")
		return
	}

	result, err := h.voteService.ConfirmVote(r.Context(), checkoutID)
	if err != nil {
		writeServiceError(w, h.logger, "Confirm", err)
		return
	}

	writeJSON(w, h.logger, http.StatusOK, result)
}

type ReconcileHandler struct {
	logger      *log.Logger
	voteService *service.VoteService
}

func NewReconcileHandler(logger *log.Logger, voteService *service.VoteService) *ReconcileHandler {
	return &ReconcileHandler{
		logger:      logger,
		voteService: voteService,
	}
}

type ReconcileRequestPayload struct {
	CheckoutIDs []string `json:"checkoutIds"`
}

func (h *ReconcileHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	var req ReconcileRequestPayload
	if !decodeBody(w, r, &req, true) {
		writeError(w, h.logger, http.StatusBadRequest, "Invalid JSON body")
		return
	}

	report, err := h.voteService.Reconcile(r.Context(), req.CheckoutIDs)
	if err != nil {
		writeServiceError(w, h.logger, "Reconcile", err)
		return
	}

	writeJSON(w, h.logger, http.StatusOK, report)
}
