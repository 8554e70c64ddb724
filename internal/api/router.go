// Package api exposes alerts and prices over HTTP and streams persisted
// observations over websocket.
package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/shopspring/decimal"

	"github.com/rewired-gh/pricewatch/internal/logger"
	"github.com/rewired-gh/pricewatch/internal/models"
)

// AlertStore is the alert persistence the API needs.
type AlertStore interface {
	SaveAlert(ctx context.Context, alert *models.Alert) error
	GetAlert(ctx context.Context, id string) (*models.Alert, error)
	ListActiveAlerts(ctx context.Context) ([]models.Alert, error)
}

// PriceReader answers latest-price queries.
type PriceReader interface {
	LatestPrice(ctx context.Context, symbol string) (decimal.Decimal, error)
	Snapshot() map[string]decimal.Decimal
}

// NewRouter builds the HTTP routes. hub and gatherer may be nil, which
// disables the stream and metrics endpoints.
func NewRouter(alerts AlertStore, prices PriceReader, hub *Hub, gatherer prometheus.Gatherer) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), requestLogger())

	h := &handler{alerts: alerts, prices: prices}

	r.GET("/health", h.health)
	if gatherer != nil {
		r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})))
	}

	v1 := r.Group("/api/v1")
	v1.GET("/alerts", h.listAlerts)
	v1.POST("/alerts", h.createAlert)
	v1.GET("/alerts/:id", h.getAlert)
	v1.GET("/prices", h.listPrices)
	if hub != nil {
		v1.GET("/prices/stream", hub.ServeWS)
	}
	v1.GET("/prices/:symbol", h.getPrice)

	return r
}

func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		logger.WithFields(logger.Fields{
			"method":  c.Request.Method,
			"path":    c.FullPath(),
			"status":  c.Writer.Status(),
			"latency": time.Since(start).String(),
		}).Debug("http request")
	}
}

// Serve runs an HTTP server on addr until ctx is cancelled, then shuts it
// down gracefully.
func Serve(ctx context.Context, addr string, handler http.Handler) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("HTTP API listening on %s", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	return <-errCh
}
