package api

import (
	"errors"
	"net/http"
	"slices"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"

	"github.com/rewired-gh/pricewatch/internal/errs"
	"github.com/rewired-gh/pricewatch/internal/logger"
	"github.com/rewired-gh/pricewatch/internal/models"
)

type handler struct {
	alerts AlertStore
	prices PriceReader
}

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	Status    int               `json:"status"`
	Message   string            `json:"message"`
	Errors    map[string]string `json:"errors,omitempty"`
	Timestamp time.Time         `json:"timestamp"`
}

type createAlertRequest struct {
	Symbol      string           `json:"symbol"`
	TargetPrice *decimal.Decimal `json:"targetPrice"`
	Condition   string           `json:"condition"`
	UserEmail   string           `json:"userEmail"`
}

type priceResponse struct {
	Symbol string          `json:"symbol"`
	Price  decimal.Decimal `json:"price"`
}

func abort(c *gin.Context, status int, message string, fields map[string]string) {
	c.AbortWithStatusJSON(status, ErrorResponse{
		Status:    status,
		Message:   message,
		Errors:    fields,
		Timestamp: time.Now().UTC(),
	})
}

func (h *handler) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// listAlerts returns every alert that has not fired yet.
func (h *handler) listAlerts(c *gin.Context) {
	alerts, err := h.alerts.ListActiveAlerts(c.Request.Context())
	if err != nil {
		logger.Error("Failed to list alerts: %v", err)
		abort(c, http.StatusInternalServerError, "failed to list alerts", nil)
		return
	}
	c.JSON(http.StatusOK, alerts)
}

func (h *handler) getAlert(c *gin.Context) {
	alert, err := h.alerts.GetAlert(c.Request.Context(), c.Param("id"))
	if errs.IsNotFound(err) {
		abort(c, http.StatusNotFound, "alert not found", nil)
		return
	}
	if err != nil {
		logger.Error("Failed to get alert: %v", err)
		abort(c, http.StatusInternalServerError, "failed to get alert", nil)
		return
	}
	c.JSON(http.StatusOK, alert)
}

func (h *handler) createAlert(c *gin.Context) {
	var req createAlertRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abort(c, http.StatusBadRequest, "malformed request body", nil)
		return
	}
	if req.TargetPrice == nil {
		abort(c, http.StatusBadRequest, "validation failed",
			map[string]string{"targetPrice": "target price is required"})
		return
	}
	cond, err := models.ParseCondition(req.Condition)
	if err != nil {
		abort(c, http.StatusBadRequest, "validation failed",
			map[string]string{"condition": "condition must be ABOVE or BELOW"})
		return
	}

	alert := &models.Alert{
		Symbol:      models.NormalizeSymbol(req.Symbol),
		TargetPrice: *req.TargetPrice,
		Condition:   cond,
		UserEmail:   req.UserEmail,
	}
	if err := h.alerts.SaveAlert(c.Request.Context(), alert); err != nil {
		var fieldErr *models.FieldError
		if errors.As(err, &fieldErr) {
			abort(c, http.StatusBadRequest, "validation failed",
				map[string]string{fieldErr.Field: fieldErr.Message})
			return
		}
		logger.Error("Failed to save alert: %v", err)
		abort(c, http.StatusInternalServerError, "failed to save alert", nil)
		return
	}

	logger.WithFields(logger.Fields{
		"alert_id":  alert.ID,
		"symbol":    alert.Symbol,
		"condition": string(alert.Condition),
		"target":    alert.TargetPrice.String(),
	}).Info("alert created")
	c.JSON(http.StatusCreated, alert)
}

// listPrices returns the prices this process has ingested, sorted by symbol.
func (h *handler) listPrices(c *gin.Context) {
	snapshot := h.prices.Snapshot()
	out := make([]priceResponse, 0, len(snapshot))
	for symbol, price := range snapshot {
		out = append(out, priceResponse{Symbol: symbol, Price: price})
	}
	slices.SortFunc(out, func(a, b priceResponse) int { return strings.Compare(a.Symbol, b.Symbol) })
	c.JSON(http.StatusOK, out)
}

func (h *handler) getPrice(c *gin.Context) {
	symbol := models.NormalizeSymbol(c.Param("symbol"))
	price, err := h.prices.LatestPrice(c.Request.Context(), symbol)
	if errs.IsNotFound(err) {
		abort(c, http.StatusNotFound, "no data yet for this symbol", nil)
		return
	}
	if err != nil {
		logger.Error("Failed to read price for %s: %v", symbol, err)
		abort(c, http.StatusInternalServerError, "failed to read price", nil)
		return
	}
	c.JSON(http.StatusOK, priceResponse{Symbol: symbol, Price: price})
}
