/* Copyright (c) 2025 Hamed Shams <https://hamedshams.com>
 * SPDX-License-Identifier: BSD-3-Clause */
package http

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/HamedShams/tracker-pulse/internal/config"
	"github.com/HamedShams/tracker-pulse/internal/etl"
)

type service interface {
	RunCycle(ctx context.Context) (*etl.CycleReport, error)
	LastReport() *etl.CycleReport
	Busy() bool
}

type Handlers struct {
	cfg config.Config
	log zerolog.Logger
	svc service
}

func NewHandlers(cfg config.Config, log zerolog.Logger, svc service) *Handlers {
	return &Handlers{cfg: cfg, log: log, svc: svc}
}

func (h *Handlers) Healthz(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"ok": true})
}

func (h *Handlers) LastRun(c *gin.Context) {
	rep := h.svc.LastReport()
	if rep == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "no cycle has run yet"})
		return
	}
	c.JSON(http.StatusOK, rep)
}

// RunNow triggers a cycle detached from the request so client disconnects
// cannot cancel a half-finished load.
func (h *Handlers) RunNow(c *gin.Context) {
	if h.svc.Busy() {
		c.JSON(http.StatusConflict, gin.H{"error": "cycle already in flight"})
		return
	}
	go func() {
		if _, err := h.svc.RunCycle(context.Background()); err != nil && !errors.Is(err, etl.ErrCycleInFlight) {
			h.log.Error().Err(err).Msg("manual cycle failed")
		}
	}()
	c.JSON(http.StatusAccepted, gin.H{"status": "queued"})
}
