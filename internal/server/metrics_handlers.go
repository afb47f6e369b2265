package server

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	metricsdomain "github.com/waybook/pulse/internal/metrics/domain"
	"github.com/waybook/pulse/pkg/tenantctx"
	"go.uber.org/zap"
)

// getTenantMetrics serves the latest persisted snapshot for each window.
func (s *Server) getTenantMetrics(c *gin.Context) {
	tenantID := strings.TrimSpace(c.Param("tenant_id"))
	if tenantID == "" {
		AbortWithError(c, ErrInvalidRequest)
		return
	}

	ctx := tenantctx.WithTenantID(c.Request.Context(), tenantID)
	rows, err := s.snapshots.LatestTenantMetrics(ctx, tenantID)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	if len(rows) == 0 {
		AbortWithError(c, ErrNotFound)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"tenant_id": tenantID,
		"metrics":   rows,
	})
}

// getTenantMetricsLive computes the metric from source events on the
// spot, bypassing snapshots. Meant for debugging a tenant's numbers.
func (s *Server) getTenantMetricsLive(c *gin.Context) {
	tenantID := strings.TrimSpace(c.Param("tenant_id"))
	periodDays, err := periodDaysParam(c)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	ctx := tenantctx.WithTenantID(c.Request.Context(), tenantID)
	metric, err := s.metricsSvc.ComputeTenantMetrics(ctx, tenantID, periodDays, s.clock.Now())
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, metric)
}

func (s *Server) getPlatformMetrics(c *gin.Context) {
	periodDays, err := periodDaysParam(c)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	row, err := s.snapshots.LatestPlatformMetric(c.Request.Context(), periodDays)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	var breakdown []metricsdomain.TenantParticipation
	if len(row.TenantBreakdown) > 0 {
		if err := json.Unmarshal(row.TenantBreakdown, &breakdown); err != nil {
			AbortWithError(c, err)
			return
		}
	}

	c.JSON(http.StatusOK, gin.H{
		"metric":    row,
		"breakdown": breakdown,
	})
}

// triggerAggregation kicks off a full run in the background. The run is
// serialized by the scheduler so double-posting is harmless.
func (s *Server) triggerAggregation(c *gin.Context) {
	if s.scheduler == nil {
		AbortWithError(c, ErrNotFound)
		return
	}

	go func() {
		if err := s.scheduler.RunOnce(context.Background()); err != nil {
			s.log.Error("manual aggregation failed", zap.Error(err))
		}
	}()

	c.JSON(http.StatusAccepted, gin.H{"status": "accepted"})
}

func periodDaysParam(c *gin.Context) (int, error) {
	raw := strings.TrimSpace(c.DefaultQuery("period_days", "7"))
	periodDays, err := strconv.Atoi(raw)
	if err != nil {
		return 0, metricsdomain.ErrInvalidPeriod
	}
	if !metricsdomain.ValidPeriod(periodDays) {
		return 0, metricsdomain.ErrInvalidPeriod
	}
	return periodDays, nil
}
