package handler

import (
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/cuongbtq/jobnex-queue/internal/api/dto"
)

const maxDispatchBatch = 100

// Dispatch handles POST /internal/dispatch. An empty body runs the default batch.
func (h *DispatchHandler) Dispatch(c *gin.Context) {
	var req dto.DispatchRequest
	if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
		c.JSON(http.StatusBadRequest, dto.ErrorResponse{Error: "Invalid request body"})
		return
	}

	if req.BatchSize < 0 || req.BatchSize > maxDispatchBatch {
		c.JSON(http.StatusBadRequest, dto.ErrorResponse{Error: "batch_size must be between 1 and 100", Field: "batch_size"})
		return
	}

	// Without a worker service nothing else recovers jobs left processing by
	// a crashed API instance
	if h.staleThreshold > 0 {
		if _, err := h.dispatcher.RecoverStale(c.Request.Context(), h.staleThreshold); err != nil {
			h.logger.Warn("Stale job recovery failed", slog.Any("error", err))
		}
	}

	summary, err := h.dispatcher.RunOnce(c.Request.Context(), req.BatchSize)
	if err != nil {
		h.logger.Error("Dispatch run failed", slog.Any("error", err))
		c.JSON(http.StatusInternalServerError, dto.ErrorResponse{Error: "dispatch failed"})
		return
	}

	c.JSON(http.StatusOK, dto.DispatchResponse{
		ProcessedCount: summary.Processed,
		Succeeded:      summary.Succeeded,
		Failed:         summary.Failed,
		Retried:        summary.Retried,
	})
}
