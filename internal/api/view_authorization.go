package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/goodtune/unplug/internal/authz"
	"github.com/goodtune/unplug/internal/enforcement"
	"github.com/rs/zerolog"
)

type setAuthorizationRequest struct {
	Granted *bool `json:"granted" binding:"required"`
}

// AuthorizationViews exposes the authorization gate.
type AuthorizationViews struct {
	coord   *enforcement.Coordinator
	gate    *authz.Static
	applied AppliedReader
	logger  zerolog.Logger
}

// NewAuthorizationViews creates a new authorization views instance. applied
// may be nil when the actuator cannot report what it holds.
func NewAuthorizationViews(coord *enforcement.Coordinator, gate *authz.Static, applied AppliedReader, logger zerolog.Logger) *AuthorizationViews {
	return &AuthorizationViews{
		coord:   coord,
		gate:    gate,
		applied: applied,
		logger:  logger.With().Str("handler", "authorization").Logger(),
	}
}

// Status reports whether enforcement is authorized, the blocked set the
// coordinator computed and, when the actuator can report it, the set it
// actually holds. The two differ while a push is pending or has failed.
func (v *AuthorizationViews) Status(ctx *gin.Context) {
	body := gin.H{
		"authorized": v.gate.IsAuthorized(ctx.Request.Context()),
		"blocked":    v.coord.Blocked(),
	}
	if v.applied != nil {
		applied, err := v.applied.Blocked(ctx.Request.Context())
		if err != nil {
			v.logger.Warn().Err(err).Msg("Failed to read applied blocked set")
			body["applied_error"] = "actuator unavailable"
		} else {
			body["applied"] = applied
		}
	}
	ctx.JSON(http.StatusOK, body)
}

// Set grants or revokes authorization. Granting re-applies the blocked set.
func (v *AuthorizationViews) Set(ctx *gin.Context) {
	var req setAuthorizationRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		badRequest(ctx, "Invalid request body")
		return
	}

	if !*req.Granted {
		v.gate.Revoke()
		ctx.JSON(http.StatusOK, gin.H{"authorized": false})
		return
	}

	v.gate.Grant()
	if err := v.coord.CheckAuthorization(ctx.Request.Context()); err != nil {
		respondError(ctx, v.logger, err)
		return
	}
	ctx.JSON(http.StatusOK, gin.H{"authorized": true, "blocked": v.coord.Blocked()})
}

// Check verifies authorization and re-applies the blocked set. It answers
// 403 with a user-facing message while authorization is missing.
func (v *AuthorizationViews) Check(ctx *gin.Context) {
	if err := v.coord.CheckAuthorization(ctx.Request.Context()); err != nil {
		respondError(ctx, v.logger, err)
		return
	}
	ctx.JSON(http.StatusOK, gin.H{"authorized": true, "blocked": v.coord.Blocked()})
}
