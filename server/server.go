// Package server wires the preference-duel HTTP API: one gin.Engine,
// one handler struct closing over the game/recommend services, and the
// routes SPEC_FULL §6 names.
package server

import (
	"github.com/gin-gonic/gin"

	"github.com/prefduel/prefduel/middleware"
	"github.com/prefduel/prefduel/service/game"
	"github.com/prefduel/prefduel/service/recommend"
)

// CoreInjector adds long-lived singletons (the recommender) onto every
// request's gin.Context, mirroring the teacher's inject-middleware
// pattern for per-request service lookup via AddTo/For.
func CoreInjector(recommender *recommend.Recommender) gin.HandlerFunc {
	return func(c *gin.Context) {
		recommend.AddTo(c, recommender)
		c.Next()
	}
}

// NewRouter builds the gin.Engine serving the preference-duel API.
func NewRouter(games *game.Service, recommender *recommend.Recommender) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(middleware.RequestLogger())
	r.Use(middleware.GinContextToContext())
	r.Use(CoreInjector(recommender))

	h := &handler{games: games}

	r.GET("/healthz", h.health)

	api := r.Group("/api")
	{
		api.POST("/game/start", h.createGame)
		api.GET("/game/leaderboard", h.leaderboard)
		api.GET("/game/player/:name/history", h.playerHistory)
		api.GET("/game/:id/status", h.gameStatus)
		api.GET("/game/:id/summary", h.gameSummary)
		api.GET("/game/:id/onboarding", h.getOnboarding)
		api.POST("/game/:id/onboarding/submit", h.submitOnboarding)
		api.POST("/game/:id/round/start", h.startRound)
		api.GET("/game/:id/round/:n", h.getRound)
		api.POST("/game/:id/round/:n/pick", h.submitPick)

		api.GET("/debug/pbcf", h.pbcfStats)
	}

	return r
}
