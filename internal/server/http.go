package server

import (
	"context"
	"errors"
	"math/big"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"StableVault/internal/ledger"
	"StableVault/internal/observability"
	"StableVault/internal/query"
	"StableVault/internal/valuation"
)

// Server exposes the read-only query API over HTTP/JSON. Liquidator bots
// poll it for health factors and positions; nothing here mutates state.
type Server struct {
	http   *http.Server
	log    zerolog.Logger
	health *observability.HealthChecker
}

func New(
	addr string,
	svc *query.Service,
	health *observability.HealthChecker,
	metrics *observability.Metrics,
	log zerolog.Logger,
) *Server {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	if metrics != nil {
		router.Use(metricsMiddleware(metrics))
	}

	router.GET("/healthz", gin.WrapF(health.LivenessHandler))
	router.GET("/readyz", gin.WrapF(health.ReadinessHandler))

	v1 := router.Group("/v1")
	{
		v1.GET("/params", func(c *gin.Context) {
			c.JSON(http.StatusOK, svc.GetParams())
		})

		v1.GET("/assets", func(c *gin.Context) {
			c.JSON(http.StatusOK, svc.GetAssets())
		})

		v1.GET("/assets/:symbol/value", func(c *gin.Context) {
			amount, ok := new(big.Int).SetString(c.Query("amount"), 10)
			if !ok || amount.Sign() < 0 {
				c.JSON(http.StatusBadRequest, gin.H{"error": "amount must be a non-negative integer"})
				return
			}
			resp, err := svc.GetValue(c.Request.Context(), c.Param("symbol"), amount)
			if err != nil {
				writeError(c, err)
				return
			}
			c.JSON(http.StatusOK, resp)
		})

		v1.GET("/accounts/:id/position", func(c *gin.Context) {
			account, ok := parseAccount(c)
			if !ok {
				return
			}
			resp, err := svc.GetPosition(c.Request.Context(), account)
			if err != nil {
				writeError(c, err)
				return
			}
			c.JSON(http.StatusOK, resp)
		})

		v1.GET("/accounts/:id/health", func(c *gin.Context) {
			account, ok := parseAccount(c)
			if !ok {
				return
			}
			resp, err := svc.GetHealth(c.Request.Context(), account)
			if err != nil {
				writeError(c, err)
				return
			}
			c.JSON(http.StatusOK, resp)
		})

		v1.GET("/accounts/:id/operations", func(c *gin.Context) {
			account, ok := parseAccount(c)
			if !ok {
				return
			}
			limit := 100
			if raw := c.Query("limit"); raw != "" {
				n, err := strconv.Atoi(raw)
				if err != nil {
					c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be an integer"})
					return
				}
				limit = n
			}
			var before *time.Time
			if raw := c.Query("before"); raw != "" {
				t, err := time.Parse(time.RFC3339, raw)
				if err != nil {
					c.JSON(http.StatusBadRequest, gin.H{"error": "before must be RFC3339"})
					return
				}
				before = &t
			}
			ops, err := svc.GetOperationHistory(c.Request.Context(), account, limit, before)
			if err != nil {
				writeError(c, err)
				return
			}
			c.JSON(http.StatusOK, ops)
		})
	}

	return &Server{
		http: &http.Server{
			Addr:              addr,
			Handler:           router,
			ReadHeaderTimeout: 5 * time.Second,
		},
		log:    log,
		health: health,
	}
}

// Serve runs the HTTP server until ctx is cancelled, then shuts down
// gracefully.
func (s *Server) Serve(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.log.Info().Str("addr", s.http.Addr).Msg("query API listening")
		if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return s.http.Shutdown(shutdownCtx)
	}
}

// Handler exposes the router for tests.
func (s *Server) Handler() http.Handler {
	return s.http.Handler
}

func parseAccount(c *gin.Context) (uuid.UUID, bool) {
	account, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "account id must be a UUID"})
		return uuid.Nil, false
	}
	return account, true
}

// writeError maps service errors to status codes: unknown assets are 404,
// oracle problems are 503 (the data exists but cannot be priced right now),
// everything else is 500.
func writeError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, ledger.ErrUnsupportedAsset):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case errors.Is(err, valuation.ErrStalePrice),
		errors.Is(err, valuation.ErrOracleUnavailable),
		errors.Is(err, valuation.ErrInvalidPrice):
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
	}
}

func metricsMiddleware(m *observability.Metrics) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		m.QueryRequests.WithLabelValues(route, strconv.Itoa(c.Writer.Status())).Inc()
		m.QueryDuration.WithLabelValues(route).Observe(time.Since(start).Seconds())
	}
}
