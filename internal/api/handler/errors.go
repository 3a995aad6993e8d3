package handler

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/cuongbtq/jobnex-queue/internal/api/dto"
	"github.com/cuongbtq/jobnex-queue/internal/domain"
)

// writeError maps the domain error taxonomy onto HTTP statuses
func writeError(c *gin.Context, logger *slog.Logger, err error) {
	var (
		validationErr *domain.ValidationError
		quotaErr      *domain.QuotaError
		configErr     *domain.ConfigurationError
	)

	switch {
	case errors.As(err, &validationErr):
		c.JSON(http.StatusBadRequest, dto.ErrorResponse{
			Error: validationErr.Error(),
			Field: validationErr.Field,
		})
	case errors.As(err, &quotaErr):
		usage := toUsageResponse(quotaErr.Action, quotaErr.Decision)
		c.JSON(http.StatusPaymentRequired, dto.ErrorResponse{
			Error: domain.ErrQuotaExceeded.Error(),
			Usage: &usage,
		})
	case errors.Is(err, domain.ErrSubscriberNotFound):
		c.JSON(http.StatusNotFound, dto.ErrorResponse{Error: domain.ErrSubscriberNotFound.Error()})
	case errors.Is(err, domain.ErrJobNotFound):
		c.JSON(http.StatusNotFound, dto.ErrorResponse{Error: domain.ErrJobNotFound.Error()})
	case errors.Is(err, domain.ErrNotRequeueable):
		c.JSON(http.StatusConflict, dto.ErrorResponse{Error: domain.ErrNotRequeueable.Error()})
	case errors.As(err, &configErr):
		logger.Error("Usage limit table is misconfigured", slog.Any("error", err))
		c.JSON(http.StatusInternalServerError, dto.ErrorResponse{Error: "usage limits are not configured for this request"})
	default:
		logger.Error("Request failed", slog.Any("error", err))
		c.JSON(http.StatusInternalServerError, dto.ErrorResponse{Error: "internal server error"})
	}
}

func toUsageResponse(action domain.Action, d domain.UsageDecision) dto.UsageResponse {
	return dto.UsageResponse{
		Action:       string(action),
		Allowed:      d.Allowed,
		CurrentUsage: d.CurrentUsage,
		Limit:        d.Limit,
		Remaining:    d.Remaining,
	}
}
