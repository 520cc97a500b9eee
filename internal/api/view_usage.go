package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/goodtune/unplug/internal/enforcement"
	"github.com/goodtune/unplug/internal/limits"
	"github.com/goodtune/unplug/internal/storage"
	"github.com/goodtune/unplug/internal/usage"
	"github.com/rs/zerolog"
)

type reportUsageRequest struct {
	AppIdentifier    string `json:"app_identifier" binding:"required"`
	UsedSecondsToday *int64 `json:"used_seconds_today" binding:"required"`
}

// UsageViews handles usage reports and history.
type UsageViews struct {
	ledger  *limits.Ledger
	coord   *enforcement.Coordinator
	history storage.HistoryStore
	logger  zerolog.Logger
}

// NewUsageViews creates a new usage views instance.
func NewUsageViews(ledger *limits.Ledger, coord *enforcement.Coordinator, history storage.HistoryStore, logger zerolog.Logger) *UsageViews {
	return &UsageViews{
		ledger:  ledger,
		coord:   coord,
		history: history,
		logger:  logger.With().Str("handler", "usage").Logger(),
	}
}

// Report applies one cumulative usage sample.
func (v *UsageViews) Report(ctx *gin.Context) {
	var req reportUsageRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		badRequest(ctx, "Invalid request body")
		return
	}

	rec, err := v.ledger.ReportUsage(req.AppIdentifier, *req.UsedSecondsToday)
	if err != nil {
		respondError(ctx, v.logger, err)
		return
	}
	ctx.JSON(http.StatusOK, newLimitResponse(rec, v.coord.State(rec.AppIdentifier)))
}

// ReportBatch applies several samples. Samples for apps without a limit are
// reported back as ignored.
func (v *UsageViews) ReportBatch(ctx *gin.Context) {
	var samples []usage.Sample
	if err := ctx.ShouldBindJSON(&samples); err != nil {
		badRequest(ctx, "Invalid request body")
		return
	}

	applied := 0
	rejected := make(map[string]string)
	for _, s := range samples {
		if _, err := v.ledger.ReportUsage(s.AppIdentifier, s.UsedSecondsToday); err != nil {
			rejected[s.AppIdentifier] = err.Error()
			continue
		}
		applied++
	}
	ctx.JSON(http.StatusOK, gin.H{"applied": applied, "rejected": rejected})
}

// Total returns the sum of today's usage across all apps.
func (v *UsageViews) Total(ctx *gin.Context) {
	total := v.ledger.TotalUsedSecondsToday()
	ctx.JSON(http.StatusOK, gin.H{
		"total_used_seconds_today": total,
		"formatted":                limits.FormatDuration(total),
	})
}

// History returns archived per-app totals for a date (default yesterday).
func (v *UsageViews) History(ctx *gin.Context) {
	date := ctx.Query("date")
	if date == "" {
		date = v.ledger.Today().AddDays(-1).String()
	} else if _, err := limits.ParseDate(date); err != nil {
		badRequest(ctx, "date must be YYYY-MM-DD")
		return
	}

	if v.history == nil {
		ctx.JSON(http.StatusOK, gin.H{"date": date, "usage": []storage.DailyUsage{}})
		return
	}

	entries, err := v.history.List(ctx.Request.Context(), date)
	if err != nil {
		v.logger.Error().Err(err).Str("date", date).Msg("Failed to list history")
		ctx.JSON(http.StatusInternalServerError, gin.H{
			"error":   "server_error",
			"message": "Failed to retrieve history",
		})
		return
	}
	ctx.JSON(http.StatusOK, gin.H{"date": date, "usage": entries})
}
