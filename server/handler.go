package server

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/prefduel/prefduel/middleware"
	"github.com/prefduel/prefduel/persist"
	"github.com/prefduel/prefduel/service/apperror"
	"github.com/prefduel/prefduel/service/game"
	"github.com/prefduel/prefduel/service/recommend"
	"github.com/prefduel/prefduel/util"
)

type handler struct {
	games *game.Service
}

func (h *handler) health(c *gin.Context) {
	c.JSON(http.StatusOK, util.SuccessResponse{Success: true})
}

type createGameInput struct {
	PlayerName string `json:"player_name" binding:"required"`
	Category   string `json:"category"`
}

func (h *handler) createGame(c *gin.Context) {
	var in createGameInput
	if err := c.ShouldBindJSON(&in); err != nil {
		middleware.WriteError(c, apperror.ValidationError{Reason: err.Error()})
		return
	}
	result, err := h.games.CreateGame(c.Request.Context(), in.PlayerName, in.Category)
	if err != nil {
		middleware.WriteError(c, err)
		return
	}
	c.JSON(http.StatusCreated, result)
}

func (h *handler) getOnboarding(c *gin.Context) {
	result, err := h.games.GetOnboarding(c.Request.Context(), persist.DBID(c.Param("id")))
	if err != nil {
		middleware.WriteError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

type submitOnboardingInput struct {
	SelectedIDs []string `json:"selected_ids" binding:"required"`
	Rating      int      `json:"rating" binding:"required"`
}

func (h *handler) submitOnboarding(c *gin.Context) {
	var in submitOnboardingInput
	if err := c.ShouldBindJSON(&in); err != nil {
		middleware.WriteError(c, apperror.ValidationError{Reason: err.Error()})
		return
	}
	ids := make([]persist.DBID, len(in.SelectedIDs))
	for i, id := range in.SelectedIDs {
		ids[i] = persist.DBID(id)
	}
	result, err := h.games.SubmitOnboarding(c.Request.Context(), persist.DBID(c.Param("id")), ids, in.Rating)
	if err != nil {
		middleware.WriteError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

func (h *handler) startRound(c *gin.Context) {
	result, err := h.games.StartRound(c.Request.Context(), persist.DBID(c.Param("id")))
	if err != nil {
		middleware.WriteError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

func (h *handler) getRound(c *gin.Context) {
	n, err := strconv.Atoi(c.Param("n"))
	if err != nil {
		middleware.WriteError(c, apperror.ValidationError{Reason: "round number must be an integer"})
		return
	}
	result, err := h.games.GetRound(c.Request.Context(), persist.DBID(c.Param("id")), n)
	if err != nil {
		middleware.WriteError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

type submitPickInput struct {
	ProductID string `json:"product_id" binding:"required"`
}

func (h *handler) submitPick(c *gin.Context) {
	n, err := strconv.Atoi(c.Param("n"))
	if err != nil {
		middleware.WriteError(c, apperror.ValidationError{Reason: "round number must be an integer"})
		return
	}
	var in submitPickInput
	if err := c.ShouldBindJSON(&in); err != nil {
		middleware.WriteError(c, apperror.ValidationError{Reason: err.Error()})
		return
	}
	result, err := h.games.SubmitPick(c.Request.Context(), persist.DBID(c.Param("id")), n, persist.DBID(in.ProductID))
	if err != nil {
		middleware.WriteError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

func (h *handler) gameStatus(c *gin.Context) {
	result, err := h.games.GetGameStatus(c.Request.Context(), persist.DBID(c.Param("id")))
	if err != nil {
		middleware.WriteError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

func (h *handler) gameSummary(c *gin.Context) {
	result, err := h.games.GetGameSummary(c.Request.Context(), persist.DBID(c.Param("id")))
	if err != nil {
		middleware.WriteError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

func (h *handler) leaderboard(c *gin.Context) {
	limit := 20
	if raw := c.Query("limit"); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil && parsed > 0 {
			limit = parsed
		}
	}
	result, err := h.games.GetLeaderboard(c.Request.Context(), limit)
	if err != nil {
		middleware.WriteError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

func (h *handler) playerHistory(c *gin.Context) {
	limit := 20
	if raw := c.Query("limit"); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil && parsed > 0 {
			limit = parsed
		}
	}
	result, err := h.games.GetPlayerHistory(c.Request.Context(), c.Param("name"), limit)
	if err != nil {
		middleware.WriteError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

func (h *handler) pbcfStats(c *gin.Context) {
	r := recommend.For(c.Request.Context())
	stats, err := r.PBCFStats(c.Request.Context())
	if err != nil {
		middleware.WriteError(c, err)
		return
	}
	c.JSON(http.StatusOK, stats)
}
