// Package access gates playback behind the backend's track and album
// access-check endpoints.
package access

import (
	"context"
	"errors"

	"github.com/talefeed/talefeed/internal/backend"
	"github.com/talefeed/talefeed/internal/logger"
)

// Reason classifies why access was denied
type Reason string

// Denial reasons
const (
	ReasonTrackAccess  Reason = "track_access"
	ReasonAlbumAccess  Reason = "album_access"
	ReasonNetworkError Reason = "network_error"
)

// Decision is the outcome of an access check. A granted decision may carry an
// opaque grant token to attach to streaming URLs.
type Decision struct {
	Granted    bool   `json:"granted"`
	Reason     Reason `json:"reason,omitempty"`
	Message    string `json:"message,omitempty"`
	GrantToken string `json:"-"`
}

// checker is the subset of the backend client the gate needs
type checker interface {
	CheckTrackAccess(ctx context.Context, trackID string) (string, error)
	CheckAlbumAccess(ctx context.Context, albumID string) error
}

// Gate performs access checks against the backend. It fails closed:
// a network failure denies access with ReasonNetworkError.
type Gate struct {
	client checker
}

// NewGate creates an access gate backed by the given client
func NewGate(client checker) *Gate {
	return &Gate{client: client}
}

// CheckAccess checks track-level access and, when albumID is supplied and the
// track check passes, album-level access.
func (g *Gate) CheckAccess(ctx context.Context, trackID, albumID string) Decision {
	grantToken, err := g.client.CheckTrackAccess(ctx, trackID)
	if err != nil {
		return g.deny(trackID, ReasonTrackAccess, err)
	}

	if albumID != "" {
		if err := g.client.CheckAlbumAccess(ctx, albumID); err != nil {
			return g.deny(trackID, ReasonAlbumAccess, err)
		}
	}

	return Decision{Granted: true, GrantToken: grantToken}
}

// deny maps a check failure to a structured denial. 403 responses carry the
// server's message; other HTTP failures become a generic denial; transport
// failures fail closed as network errors.
func (g *Gate) deny(trackID string, scope Reason, err error) Decision {
	var statusErr *backend.StatusError
	if errors.As(err, &statusErr) {
		// Only 403 bodies carry a user-facing message worth surfacing
		message := statusErr.Message
		if !backend.IsForbidden(err) || message == "" {
			message = "Access denied"
		}
		logger.Log.Info().
			Str("track_id", trackID).
			Int("status", statusErr.StatusCode).
			Str("reason", string(scope)).
			Msg("Access denied")
		return Decision{Granted: false, Reason: scope, Message: message}
	}

	logger.Log.Warn().
		Err(err).
		Str("track_id", trackID).
		Msg("Access check unreachable, failing closed")
	return Decision{Granted: false, Reason: ReasonNetworkError, Message: "Unable to verify access"}
}
