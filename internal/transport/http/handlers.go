package http

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"notetalk/internal/call"
	"notetalk/internal/dialog"
	"notetalk/internal/presence"
)

// ErrorResponse represents an error response body.
type ErrorResponse struct {
	Error string `json:"error"`
}

/* state */

// StateHandlers serves the reconciled model to consumers.
type StateHandlers struct {
	store *presence.Store
	log   *zerolog.Logger
}

// NewStateHandlers creates state handlers.
func NewStateHandlers(store *presence.Store, logger *zerolog.Logger) *StateHandlers {
	return &StateHandlers{store: store, log: logger}
}

// GetState returns a snapshot of the model.
// GET /v1/state
func (h *StateHandlers) GetState(c *gin.Context) {
	c.JSON(http.StatusOK, h.store.Snapshot())
}

// SelectRequest toggles the UI selection mark on a user.
type SelectRequest struct {
	Selected bool `json:"selected"`
}

// SelectUser marks or unmarks a user as selected for the next call request.
// POST /v1/users/:name/select
func (h *StateHandlers) SelectUser(c *gin.Context) {
	var req SelectRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid request body"})
		return
	}
	if !h.store.SetSelected(c.Param("name"), req.Selected) {
		c.JSON(http.StatusNotFound, ErrorResponse{Error: "unknown user"})
		return
	}
	c.Status(http.StatusNoContent)
}

/* prompts */

// PromptHandlers expose pending dialog prompts.
type PromptHandlers struct {
	prompts *dialog.Broker
	log     *zerolog.Logger
}

// NewPromptHandlers creates prompt handlers.
func NewPromptHandlers(prompts *dialog.Broker, logger *zerolog.Logger) *PromptHandlers {
	return &PromptHandlers{prompts: prompts, log: logger}
}

// ListPrompts returns the open prompts.
// GET /v1/prompts
func (h *PromptHandlers) ListPrompts(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"prompts": h.prompts.Pending()})
}

// AnswerRequest is the body of a prompt answer.
type AnswerRequest struct {
	OK bool `json:"ok"`
}

// AnswerPrompt resolves a pending prompt.
// POST /v1/prompts/:id/answer
func (h *PromptHandlers) AnswerPrompt(c *gin.Context) {
	var req AnswerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid request body"})
		return
	}
	if err := h.prompts.Answer(c.Param("id"), req.OK); err != nil {
		c.JSON(http.StatusNotFound, ErrorResponse{Error: "unknown prompt"})
		return
	}
	c.Status(http.StatusNoContent)
}

/* call intents */

// CallHandlers map user intents onto the lifecycle controller.
type CallHandlers struct {
	controller *call.Controller
	log        *zerolog.Logger
}

// NewCallHandlers creates call handlers.
func NewCallHandlers(controller *call.Controller, logger *zerolog.Logger) *CallHandlers {
	return &CallHandlers{controller: controller, log: logger}
}

// TargetsRequest names the users an intent applies to.
type TargetsRequest struct {
	Targets []string `json:"targets"`
}

// RequestTalk starts the outbound call journey. It blocks until the
// confirmation prompt is answered, so callers should issue it from a
// background request.
// POST /v1/call/request
func (h *CallHandlers) RequestTalk(c *gin.Context) {
	var req TargetsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid request body"})
		return
	}
	if err := h.controller.RequestTalk(c.Request.Context(), req.Targets); err != nil {
		h.respondCallError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// AddMembers invites more users into the running call.
// POST /v1/call/members
func (h *CallHandlers) AddMembers(c *gin.Context) {
	var req TargetsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid request body"})
		return
	}
	if err := h.controller.AddMembers(c.Request.Context(), req.Targets); err != nil {
		h.respondCallError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// RefuseInvitation declines the pending invitation.
// POST /v1/call/refuse
func (h *CallHandlers) RefuseInvitation(c *gin.Context) {
	h.controller.RefuseInvitation(c.Request.Context())
	c.Status(http.StatusNoContent)
}

// HangUp ends the current call.
// POST /v1/call/hangup
func (h *CallHandlers) HangUp(c *gin.Context) {
	if err := h.controller.HangUp(c.Request.Context()); err != nil {
		h.respondCallError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// ToggleMute flips the local mute state.
// POST /v1/call/mute
func (h *CallHandlers) ToggleMute(c *gin.Context) {
	if err := h.controller.ToggleMute(c.Request.Context()); err != nil {
		h.respondCallError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// ShareRequest switches display sharing on or off.
type ShareRequest struct {
	Sharing bool `json:"sharing"`
}

// SetShareDisplay toggles screen sharing.
// POST /v1/call/share
func (h *CallHandlers) SetShareDisplay(c *gin.Context) {
	var req ShareRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid request body"})
		return
	}
	var err error
	if req.Sharing {
		err = h.controller.StartShareDisplay(c.Request.Context())
	} else {
		err = h.controller.StopShareDisplay(c.Request.Context())
	}
	if err != nil {
		h.respondCallError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *CallHandlers) respondCallError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, call.ErrBusy):
		c.JSON(http.StatusConflict, ErrorResponse{Error: err.Error()})
	case errors.Is(err, call.ErrNoTargets), errors.Is(err, call.ErrNotInCall):
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: err.Error()})
	default:
		h.log.Warn().Err(err).Msg("call intent failed")
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: err.Error()})
	}
}
