package controller

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"mediabot/coordinator"
	"mediabot/database"
)

const maxBodySize = 1 << 20 // 1 MB

// JoinCallRequest is the body of POST /join-call.
type JoinCallRequest struct {
	WSURL      string `json:"ws_url" binding:"required"`
	SuccessURL string `json:"success_url"`
	FailureURL string `json:"failure_url"`
}

// JoinCallResponse is the body answering an accepted join.
type JoinCallResponse struct {
	JobID  string             `json:"job_id"`
	Status database.JobStatus `json:"status"`
}

// Controller handles HTTP requests.
type Controller struct {
	coordinator Coordinator
	debug       bool
}

// New creates a new instance of Controller.
func New(c Coordinator, isDebug bool) *Controller {
	return &Controller{
		coordinator: c,
		debug:       isDebug,
	}
}

// Health answers liveness probes.
func (c *Controller) Health(ctx *gin.Context) {
	ctx.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// JoinCall submits a job joining the room at ws_url and answers before the
// session runs.
func (c *Controller) JoinCall(ctx *gin.Context) {
	ctx.Request.Body = http.MaxBytesReader(ctx.Writer, ctx.Request.Body, maxBodySize)

	var req JoinCallRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		c.Error(ctx, err, http.StatusBadRequest)
		return
	}

	info, err := c.coordinator.Submit(coordinator.JoinRequest{
		WSURL:      req.WSURL,
		SuccessURL: req.SuccessURL,
		FailureURL: req.FailureURL,
	})
	if errors.Is(err, coordinator.ErrShuttingDown) {
		c.Error(ctx, err, http.StatusServiceUnavailable)
		return
	}
	if err != nil {
		c.Error(ctx, err, http.StatusBadRequest)
		return
	}

	ctx.JSON(http.StatusAccepted, JoinCallResponse{JobID: info.ID, Status: info.Status})
}

// Job returns the stored state of a job.
func (c *Controller) Job(ctx *gin.Context) {
	info, err := c.coordinator.Job(ctx.Param("id"))
	if errors.Is(err, database.ErrJobNotFound) {
		c.Error(ctx, err, http.StatusNotFound)
		return
	}
	if err != nil {
		c.Error(ctx, err, http.StatusInternalServerError)
		return
	}
	ctx.JSON(http.StatusOK, info)
}

// Error aborts with statusCode. The error text is exposed only in debug mode.
func (c *Controller) Error(ctx *gin.Context, err error, statusCode int) {
	log.Debug().Str("module", "controller").Err(err).Int("status", statusCode).Msg("request failed")
	if !c.debug {
		ctx.AbortWithStatusJSON(statusCode, gin.H{"error": http.StatusText(statusCode)})
		return
	}
	ctx.AbortWithStatusJSON(statusCode, gin.H{"error": err.Error()})
}
