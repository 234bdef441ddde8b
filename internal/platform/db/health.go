package db

import (
	"context"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/labstack/echo/v4"
)

// PoolStats represents database connection pool statistics.
type PoolStats struct {
	TotalConns      int32  `json:"total_conns"`
	IdleConns       int32  `json:"idle_conns"`
	AcquiredConns   int32  `json:"acquired_conns"`
	MaxConns        int32  `json:"max_conns"`
	AcquireDuration string `json:"acquire_duration"`
}

// Health is the result of a database check.
type Health struct {
	Healthy bool      `json:"healthy"`
	Error   string    `json:"error,omitempty"`
	Pool    PoolStats `json:"pool"`
}

// Checker pings the pool on demand.
type Checker struct {
	pool    *pgxpool.Pool
	timeout time.Duration
}

func NewChecker(pool *pgxpool.Pool) *Checker {
	return &Checker{pool: pool, timeout: 3 * time.Second}
}

// Ping reports whether the database answers within the check timeout.
func (c *Checker) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	return c.pool.Ping(ctx)
}

// Check pings the database and reports pool statistics.
func (c *Checker) Check(ctx context.Context) Health {
	stat := c.pool.Stat()
	h := Health{
		Healthy: true,
		Pool: PoolStats{
			TotalConns:      stat.TotalConns(),
			IdleConns:       stat.IdleConns(),
			AcquiredConns:   stat.AcquiredConns(),
			MaxConns:        stat.MaxConns(),
			AcquireDuration: stat.AcquireDuration().String(),
		},
	}
	if err := c.Ping(ctx); err != nil {
		h.Healthy = false
		h.Error = err.Error()
	}
	return h
}

// Handler serves the detailed database check at /health/db.
func (c *Checker) Handler() echo.HandlerFunc {
	return func(ec echo.Context) error {
		h := c.Check(ec.Request().Context())
		if !h.Healthy {
			return ec.JSON(http.StatusServiceUnavailable, h)
		}
		return ec.JSON(http.StatusOK, h)
	}
}
