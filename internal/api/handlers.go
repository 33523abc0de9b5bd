package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/merchantry/ordersync/internal/sync"
)

type handler struct {
	jobs   JobService
	logger *slog.Logger
}

// enqueueResponse is the body for both 202 Accepted and 409 Conflict. On
// conflict JobID names the job that is already in progress.
type enqueueResponse struct {
	JobID   string `json:"job_id"`
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
}

type errorResponse struct {
	Error string `json:"error"`
}

// jobResponse is the poll body. Result is the raw summary JSON the job
// recorded on completion; Error is set only for failed jobs.
type jobResponse struct {
	JobID       string          `json:"job_id"`
	Type        string          `json:"type"`
	Status      string          `json:"status"`
	Stage       int             `json:"stage"`
	TotalStages int             `json:"total_stages"`
	StageName   string          `json:"stage_name,omitempty"`
	Result      json.RawMessage `json:"result,omitempty"`
	Error       string          `json:"error,omitempty"`
	CreatedAt   string          `json:"created_at"`
	StartedAt   string          `json:"started_at,omitempty"`
	CompletedAt string          `json:"completed_at,omitempty"`
}

func (h *handler) enqueue(c echo.Context) error {
	jobType := sync.JobType(c.Param("type"))
	if !sync.KnownJobType(jobType) {
		return c.JSON(http.StatusBadRequest, errorResponse{
			Error: "unknown job type: " + string(jobType),
		})
	}

	res, err := h.jobs.Enqueue(c.Request().Context(), jobType)
	if err != nil {
		h.logger.Error("enqueue failed", slog.String("type", string(jobType)), slog.Any("error", err))
		return c.JSON(http.StatusInternalServerError, errorResponse{Error: "enqueue failed"})
	}

	if !res.Accepted {
		return c.JSON(http.StatusConflict, enqueueResponse{
			JobID:   res.JobID,
			Status:  string(res.Status),
			Message: "a " + string(jobType) + " job is already in progress",
		})
	}

	return c.JSON(http.StatusAccepted, enqueueResponse{
		JobID:  res.JobID,
		Status: string(res.Status),
	})
}

func (h *handler) poll(c echo.Context) error {
	job, err := h.jobs.Poll(c.Request().Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, sync.ErrJobNotFound) {
			return c.JSON(http.StatusNotFound, errorResponse{Error: "job not found"})
		}

		h.logger.Error("poll failed", slog.String("job_id", c.Param("id")), slog.Any("error", err))
		return c.JSON(http.StatusInternalServerError, errorResponse{Error: "poll failed"})
	}

	return c.JSON(http.StatusOK, toJobResponse(job))
}

func (h *handler) health(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
}

func toJobResponse(job *sync.Job) jobResponse {
	resp := jobResponse{
		JobID:       job.ID,
		Type:        string(job.Type),
		Status:      string(job.Status),
		Stage:       job.Stage,
		TotalStages: job.TotalStages,
		StageName:   job.StageName,
		Error:       job.Error,
		CreatedAt:   formatNano(job.CreatedAt),
	}

	if job.Result != "" {
		resp.Result = json.RawMessage(job.Result)
	}

	if job.StartedAt != nil {
		resp.StartedAt = formatNano(*job.StartedAt)
	}

	if job.CompletedAt != nil {
		resp.CompletedAt = formatNano(*job.CompletedAt)
	}

	return resp
}

func formatNano(ns int64) string {
	return time.Unix(0, ns).UTC().Format(time.RFC3339)
}
