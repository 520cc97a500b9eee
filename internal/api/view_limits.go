package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/goodtune/unplug/internal/authz"
	"github.com/goodtune/unplug/internal/enforcement"
	"github.com/goodtune/unplug/internal/limits"
	"github.com/rs/zerolog"
)

// LimitResponse is a limit record with its derived fields.
type LimitResponse struct {
	AppIdentifier     string  `json:"app_identifier"`
	DisplayName       string  `json:"display_name"`
	DailyLimitSeconds int64   `json:"daily_limit_seconds"`
	UsedSecondsToday  int64   `json:"used_seconds_today"`
	LastResetDate     string  `json:"last_reset_date"`
	RemainingSeconds  int64   `json:"remaining_seconds"`
	ProgressFraction  float64 `json:"progress_fraction"`
	IsExceeded        bool    `json:"is_exceeded"`
	State             string  `json:"state"`
}

func newLimitResponse(rec limits.LimitRecord, state enforcement.State) LimitResponse {
	return LimitResponse{
		AppIdentifier:     rec.AppIdentifier,
		DisplayName:       rec.DisplayName,
		DailyLimitSeconds: rec.DailyLimitSeconds,
		UsedSecondsToday:  rec.UsedSecondsToday,
		LastResetDate:     rec.LastResetDate.String(),
		RemainingSeconds:  rec.RemainingSeconds(),
		ProgressFraction:  rec.ProgressFraction(),
		IsExceeded:        rec.IsExceeded(),
		State:             state.String(),
	}
}

type createLimitRequest struct {
	AppIdentifier     string `json:"app_identifier" binding:"required"`
	DisplayName       string `json:"display_name"`
	DailyLimitSeconds *int64 `json:"daily_limit_seconds" binding:"required"`
}

type selectionRequest struct {
	Candidates        []limits.SelectionCandidate `json:"candidates" binding:"required"`
	DailyLimitSeconds *int64                      `json:"daily_limit_seconds" binding:"required"`
}

type updateLimitRequest struct {
	DailyLimitSeconds *int64 `json:"daily_limit_seconds" binding:"required"`
}

// LimitViews handles limit-related API requests.
type LimitViews struct {
	ledger *limits.Ledger
	coord  *enforcement.Coordinator
	gate   *authz.Static
	logger zerolog.Logger
}

// NewLimitViews creates a new limit views instance.
func NewLimitViews(ledger *limits.Ledger, coord *enforcement.Coordinator, gate *authz.Static, logger zerolog.Logger) *LimitViews {
	return &LimitViews{
		ledger: ledger,
		coord:  coord,
		gate:   gate,
		logger: logger.With().Str("handler", "limits").Logger(),
	}
}

func (v *LimitViews) response(rec limits.LimitRecord) LimitResponse {
	return newLimitResponse(rec, v.coord.State(rec.AppIdentifier))
}

// List returns all limits in insertion order.
func (v *LimitViews) List(ctx *gin.Context) {
	records := v.ledger.ListLimits()
	out := make([]LimitResponse, 0, len(records))
	for _, rec := range records {
		out = append(out, v.response(rec))
	}

	ctx.JSON(http.StatusOK, gin.H{
		"limits":                   out,
		"count":                    len(out),
		"total_used_seconds_today": v.ledger.TotalUsedSecondsToday(),
	})
}

// Get returns a single limit.
func (v *LimitViews) Get(ctx *gin.Context) {
	rec, ok := v.ledger.Get(ctx.Param("app"))
	if !ok {
		ctx.JSON(http.StatusNotFound, gin.H{"error": "not_found", "message": "Limit not found"})
		return
	}
	ctx.JSON(http.StatusOK, v.response(rec))
}

// Create adds a limit for one app.
func (v *LimitViews) Create(ctx *gin.Context) {
	var req createLimitRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		badRequest(ctx, "Invalid request body")
		return
	}

	rec, err := v.ledger.AddLimit(req.AppIdentifier, req.DisplayName, *req.DailyLimitSeconds)
	if err != nil {
		respondError(ctx, v.logger, err)
		return
	}

	body := gin.H{"limit": v.response(rec)}
	if !v.gate.IsAuthorized(ctx.Request.Context()) {
		body["warning"] = enforcement.ErrAuthorizationRequired.Error()
	}
	ctx.JSON(http.StatusCreated, body)
}

// CreateFromSelection adds the same limit for every app picked in one
// selection. Repeated identifiers in the selection are added once.
func (v *LimitViews) CreateFromSelection(ctx *gin.Context) {
	var req selectionRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		badRequest(ctx, "Invalid request body")
		return
	}

	created := make([]LimitResponse, 0, len(req.Candidates))
	failed := make(map[string]string)
	for _, c := range limits.UniqueCandidates(req.Candidates) {
		rec, err := v.ledger.AddSelection(c, *req.DailyLimitSeconds)
		if err != nil {
			failed[c.AppIdentifier] = err.Error()
			continue
		}
		created = append(created, v.response(rec))
	}

	status := http.StatusCreated
	if len(created) == 0 {
		status = http.StatusConflict
	}
	ctx.JSON(status, gin.H{"created": created, "failed": failed})
}

// Update changes an app's daily limit.
func (v *LimitViews) Update(ctx *gin.Context) {
	var req updateLimitRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		badRequest(ctx, "Invalid request body")
		return
	}

	rec, err := v.ledger.SetDailyLimit(ctx.Param("app"), *req.DailyLimitSeconds)
	if err != nil {
		respondError(ctx, v.logger, err)
		return
	}
	ctx.JSON(http.StatusOK, v.response(rec))
}

// Delete removes an app's limit.
func (v *LimitViews) Delete(ctx *gin.Context) {
	if err := v.ledger.RemoveLimit(ctx.Param("app")); err != nil {
		respondError(ctx, v.logger, err)
		return
	}
	ctx.Status(http.StatusNoContent)
}
