package handler

import (
	"log"
	"math"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"featurevotes/internal/service"
)

type CreateCheckoutHandler struct {
	logger      *log.Logger
	voteService *service.VoteService
}

func NewCreateCheckoutHandler(logger *log.Logger, voteService *service.VoteService) *CreateCheckoutHandler {
	return &CreateCheckoutHandler{
		logger:      logger,
		voteService: voteService,
	}
}

type CreateCheckoutRequestPayload struct {
	ProductID  interface{} `json:"productId"`
	AmountSats interface{} `json:"amountSats"`
}

func (h *CreateCheckoutHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	var req CreateCheckoutRequestPayload
	if !decodeBody(w, r, &req, false) {
		writeError(w, h.logger, http.StatusBadRequest, "Invalid JSON body")
		return
	}

	productID, _ := req.ProductID.(string)
	productID = strings.TrimSpace(productID)
	if productID == "" {
		writeError(w, h.logger, http.StatusBadRequest, "productId is required")
		return
	}

	amount, ok := req.AmountSats.(float64)
	if !ok || math.IsNaN(amount) || math.IsInf(amount, 0) || math.Round(amount) < 1 {
		writeError(w, h.logger, http.StatusBadRequest, "amountSats must be an integer greater than 0")
		return
	}

	checkout, err := h.voteService.CreateFeatureCheckout(r.Context(), productID, int64(math.Round(amount)))
	if err != nil {
		writeServiceError(w, h.logger, "CreateCheckout", err)
		return
	}

	writeJSON(w, h.logger, http.StatusOK, DataResponsePayload{Data: checkout})
}

type CheckoutStateHandler struct {
	logger      *log.Logger
	voteService *service.VoteService
}

func NewCheckoutStateHandler(logger *log.Logger, voteService *service.VoteService) *CheckoutStateHandler {
	return &CheckoutStateHandler{
		logger:      logger,
		voteService: voteService,
	}
}

func (h *CheckoutStateHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	checkoutID := chi.URLParam(r, "checkoutID")

	state, err := h.voteService.CheckoutState(r.Context(), checkoutID)
	if err != nil {
		writeServiceError(w, h.logger, "CheckoutState", err)
		return
	}

	writeJSON(w, h.logger, http.StatusOK, state)
}
