// Package http exposes the local consumer API the notebook front-end reads
// state from and posts user intents to.
package http

import (
	"fmt"
	stdhttp "net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"notetalk/internal/call"
	"notetalk/internal/config"
	"notetalk/internal/dialog"
	"notetalk/internal/presence"
)

// NewServer builds the local HTTP server.
func NewServer(
	cfg config.Config,
	store *presence.Store,
	controller *call.Controller,
	prompts *dialog.Broker,
	events *EventHub,
	logger *zerolog.Logger,
) *stdhttp.Server {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery(), LoggerMiddleware(logger))

	router.GET("/healthz", healthHandler)

	state := NewStateHandlers(store, logger)
	calls := NewCallHandlers(controller, logger)
	prompt := NewPromptHandlers(prompts, logger)

	v1 := router.Group("/v1")
	{
		v1.GET("/state", state.GetState)
		v1.POST("/users/:name/select", state.SelectUser)

		v1.GET("/prompts", prompt.ListPrompts)
		v1.POST("/prompts/:id/answer", prompt.AnswerPrompt)

		v1.POST("/call/request", calls.RequestTalk)
		v1.POST("/call/members", calls.AddMembers)
		v1.POST("/call/refuse", calls.RefuseInvitation)
		v1.POST("/call/hangup", calls.HangUp)
		v1.POST("/call/mute", calls.ToggleMute)
		v1.POST("/call/share", calls.SetShareDisplay)

		v1.GET("/events", gin.WrapH(NewEventsHandler(events, store, logger)))
	}

	return &stdhttp.Server{
		Addr:              cfg.Addr,
		Handler:           router,
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
	}
}

func healthHandler(c *gin.Context) {
	fmt.Fprint(c.Writer, "ok")
}
