package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/desertthunder/deemusic/internal/models"
	"github.com/desertthunder/deemusic/internal/shared"
)

// MinRefreshDelay is the shortest delay between arming and firing a refresh.
const MinRefreshDelay = 5 * time.Second

// RefreshDelay returns how long to wait before refreshing a credential that expires at
// expiresAt: max(5s, expiresAt - now - 30s).
func RefreshDelay(expiresAt, now time.Time) time.Duration {
	return max(MinRefreshDelay, expiresAt.Sub(now)-models.ExpirySkew)
}

// arm schedules the next timer for the current credential. Callers hold c.mu.
//
// Refreshable credentials get a refresh timer. A user credential without a refresh token gets
// an expiry timer instead, which ends the session once the token is no longer usable.
func (c *Controller) arm(epoch uint64, cred models.Credential) {
	c.disarm()

	now := c.clock.Now()
	if !cred.Refreshable() {
		delay := max(cred.ExpiresAt.Sub(now), 0)
		c.logger.Debug("session expiry armed", "in", delay)
		c.timer = c.clock.AfterFunc(delay, func() { c.expire(epoch) })
		return
	}

	delay := RefreshDelay(cred.ExpiresAt, now)
	c.logger.Debug("refresh armed", "in", delay, "expires_at", cred.ExpiresAt)
	c.metrics.Scheduled()
	c.timer = c.clock.AfterFunc(delay, func() { c.refresh(epoch) })
}

// disarm stops a pending timer. Callers hold c.mu.
func (c *Controller) disarm() {
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
}

// refresh runs when the refresh timer fires for epoch.
func (c *Controller) refresh(epoch uint64) {
	c.mu.Lock()
	if c.state.Epoch != epoch || c.state.Kind != models.SessionAuthenticated || c.state.Credential == nil {
		c.mu.Unlock()
		c.logger.Debug("stale refresh timer dropped", "epoch", epoch)
		return
	}
	c.timer = nil
	previous := *c.state.Credential
	emit := c.transition(models.SessionState{Kind: models.SessionRefreshing, Credential: &previous, Epoch: epoch})
	c.mu.Unlock()
	emit()

	cred, err := c.gateway.Refresh(c.ctx, previous.RefreshToken)

	c.mu.Lock()
	if c.state.Epoch != epoch || c.state.Kind != models.SessionRefreshing {
		c.mu.Unlock()
		c.logger.Debug("refresh response dropped, session changed", "epoch", epoch)
		return
	}

	if err != nil {
		emit = c.transition(models.SessionState{Kind: models.SessionExpired, Epoch: epoch})
		c.mu.Unlock()
		emit()

		if !errors.Is(err, shared.ErrRefreshFailed) {
			err = fmt.Errorf("%w: %w", shared.ErrRefreshFailed, err)
		}
		c.logger.Warn("refresh failed, logging out", "error", err)
		c.post("Could not renew your session (%v). Please log in again.", err)
		if err := c.Logout(); err != nil {
			c.logger.Error("failed to clear session after refresh failure", "error", err)
		}
		return
	}

	if err := c.store.SaveCredential(cred); err != nil {
		c.logger.Warn("failed to persist refreshed credential", "error", err)
	}
	emit = c.transition(models.SessionState{Kind: models.SessionAuthenticated, Credential: &cred, Epoch: epoch})
	c.arm(epoch, cred)
	c.mu.Unlock()
	emit()

	c.logger.Info("access token refreshed", "expires_at", cred.ExpiresAt)
}

// expire ends a non-refreshable user session once its token is past expiry.
func (c *Controller) expire(epoch uint64) {
	c.mu.Lock()
	if c.state.Epoch != epoch || c.state.Kind != models.SessionAuthenticated {
		c.mu.Unlock()
		return
	}
	c.timer = nil
	emit := c.transition(models.SessionState{Kind: models.SessionExpired, Epoch: epoch})
	c.mu.Unlock()
	emit()

	c.post("Your session expired. Please log in again.")
	if err := c.Logout(); err != nil {
		c.logger.Error("failed to clear expired session", "error", err)
	}
}
