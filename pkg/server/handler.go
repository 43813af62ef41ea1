package server

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/realtime-ai/workout-audio/pkg/pipeline"
	"github.com/realtime-ai/workout-audio/pkg/workout"
)

// statusClientClosedRequest is used when the caller goes away mid-render.
const statusClientClosedRequest = 499

type workoutRequest struct {
	Instructions   []workout.Instruction `json:"instructions" binding:"required"`
	Language       string                `json:"language"`
	BackgroundURLs []string              `json:"background_urls"`
}

type errorResponse struct {
	Error  string `json:"error"`
	Detail string `json:"detail"`
	Rule   string `json:"rule,omitempty"`
	Index  *int   `json:"index,omitempty"`
}

func handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (s *Server) handleWorkout(c *gin.Context) {
	format := strings.ToLower(c.DefaultQuery("format", s.cfg.DefaultFormat))
	enc, ok := s.cfg.Encoders[format]
	if !ok {
		c.JSON(http.StatusBadRequest, errorResponse{
			Error:  "bad_request",
			Detail: fmt.Sprintf("unsupported format %q", format),
		})
		return
	}

	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, s.cfg.MaxBodyBytes)
	var req workoutRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, errorResponse{Error: "bad_request", Detail: err.Error()})
		return
	}
	spec := &workout.Spec{
		Instructions:   req.Instructions,
		Language:       req.Language,
		BackgroundURLs: req.BackgroundURLs,
	}
	if spec.Language == "" {
		spec.Language = s.cfg.DefaultLanguage
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), s.cfg.RequestTimeout)
	defer cancel()
	ctx = pipeline.WithRequestID(ctx, c.GetString(requestIDKey))

	var buf bytes.Buffer
	res, err := s.pipeline.WithExporter(enc).Run(ctx, spec, &buf)
	if err != nil {
		s.fail(c, err)
		return
	}

	c.Header("Content-Disposition", "attachment; filename=workout_guide"+enc.Extension())
	c.Header("X-Workout-Duration", strconv.FormatFloat(res.Duration().Seconds(), 'f', 3, 64))
	c.Data(http.StatusOK, enc.ContentType(), buf.Bytes())
}

// fail maps a render error onto a status code: validation problems are the
// caller's fault, a blown request deadline is a gateway timeout and
// everything else is a server error.
func (s *Server) fail(c *gin.Context, err error) {
	outcome := pipeline.Outcome(err)

	var ve *workout.ValidationError
	if errors.As(err, &ve) {
		resp := errorResponse{Error: outcome, Detail: ve.Error(), Rule: string(ve.Rule)}
		if ve.Index >= 0 {
			idx := ve.Index
			resp.Index = &idx
		}
		c.JSON(http.StatusBadRequest, resp)
		return
	}

	switch outcome {
	case "timeout":
		c.JSON(http.StatusGatewayTimeout, errorResponse{Error: outcome, Detail: "workout rendering timed out"})
	case "canceled":
		c.AbortWithStatus(statusClientClosedRequest)
	default:
		s.logger.Error("render failed", "request_id", c.GetString(requestIDKey), "outcome", outcome, "error", err)
		c.JSON(http.StatusInternalServerError, errorResponse{
			Error:  outcome,
			Detail: "error generating workout guide: " + err.Error(),
		})
	}
}
