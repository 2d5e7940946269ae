package handler

import (
	"log"
	"net/http"

	"featurevotes/internal/service"
)

type LeaderboardHandler struct {
	logger      *log.Logger
	voteService *service.VoteService
}

func NewLeaderboardHandler(logger *log.Logger, voteService *service.VoteService) *LeaderboardHandler {
	return &LeaderboardHandler{
		logger:      logger,
		voteService: voteService,
	}
}

func (h *LeaderboardHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	board, err := h.voteService.Leaderboard(r.Context())
	if err != nil {
		writeServiceError(w, h.logger, "Leaderboard", err)
		return
	}

	w.Header().Set("Cache-Control", "no-store")
	writeJSON(w, h.logger, http.StatusOK, board)
}
