package handler

import (
	"encoding/json"
	"errors"
	"io"
	"log"
	"net/http"

	"featurevotes/internal/service"
)

const maxBodyBytes = 1 << 20

type ErrorResponsePayload struct {
	Error string `json:"error"`
}

type DataResponsePayload struct {
	Data interface{} `json:"data"`
}

func writeJSON(w http.ResponseWriter, logger *log.Logger, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Printf("Error encoding response: %v", err)
	}
}

func writeError(w http.ResponseWriter, logger *log.Logger, status int, message string) {
	writeJSON(w, logger, status, ErrorResponsePayload{Error: message})
}

// writeServiceError maps service sentinels onto HTTP statuses. 404 and 400 are
// the statuses clients treat as permanent.
func writeServiceError(w http.ResponseWriter, logger *log.Logger, op string, err error) {
	switch {
	case errors.Is(err, service.ErrNotFound):
		writeError(w, logger, http.StatusNotFound, err.Error())
	case errors.Is(err, service.ErrValidation):
		writeError(w, logger, http.StatusBadRequest, err.Error())
	case errors.Is(err, service.ErrUpstream):
		logger.Printf("%s: upstream failure: %v", op, err)
		writeError(w, logger, http.StatusBadGateway, "Payment provider request failed")
	default:
		logger.Printf("%s failed: %v", op, err)
		writeError(w, logger, http.StatusInternalServerError, "An unexpected error occurred")
	}
}

// decodeBody reads a JSON object body. An empty body is allowed when
// optional is set.
func decodeBody(w http.ResponseWriter, r *http.Request, dst interface{}, optional bool) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(dst); err != nil {
		if optional && errors.Is(err, io.EOF) {
			return true
		}
		return false
	}
	return true
}
