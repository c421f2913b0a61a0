// Package session owns the console's authentication lifecycle: login,
// logout, startup restore and scheduled silent refresh of the access token.
//
// A Manager is created once by the application root and passed to whatever
// needs a token; it implements oauth2.TokenSource.
package session

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/jrsteele09/hms-console/authapi"
	apperrors "github.com/jrsteele09/hms-console/internal/errors"
	"github.com/jrsteele09/hms-console/tokenstore"
	"github.com/jrsteele09/hms-console/users"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/oauth2"
	"golang.org/x/sync/singleflight"
)

const defaultRefreshTimeout = 30 * time.Second

// Backend is the auth contract the manager consumes; *authapi.Client implements it.
type Backend interface {
	Login(ctx context.Context, req authapi.LoginRequest) (*oauth2.Token, error)
	Refresh(ctx context.Context, refreshToken string) (*oauth2.Token, error)
	Me(ctx context.Context, ts oauth2.TokenSource) (*users.Profile, error)
	Logout(ctx context.Context, ts oauth2.TokenSource) error
}

var (
	_ Backend            = (*authapi.Client)(nil)
	_ oauth2.TokenSource = (*Manager)(nil)
)

// Manager is the session state machine.
//
// Every token change and every clear bumps generation. Work that started
// under an older generation (a refresh that raced a logout, a timer that
// fired after a new login) is discarded instead of written back.
type Manager struct {
	backend        Backend
	tokens         *tokenstore.Tokens
	logger         zerolog.Logger
	nowFunc        func() time.Time
	scheduler      Scheduler
	refreshTimeout time.Duration
	onExpired      func(error)
	metrics        *Metrics

	refreshGroup singleflight.Group

	mu         sync.Mutex
	state      State
	token      *oauth2.Token
	user       *users.Profile
	generation uint64
	timer      Timer
	closed     bool
}

// ManagerOption defines a function type to modify the Manager instance.
type ManagerOption func(*Manager)

// WithNowFunc sets the clock (primarily for testing)
func WithNowFunc(now func() time.Time) ManagerOption {
	return func(m *Manager) {
		m.nowFunc = now
	}
}

// WithScheduler replaces time.AfterFunc (primarily for testing)
func WithScheduler(s Scheduler) ManagerOption {
	return func(m *Manager) {
		m.scheduler = s
	}
}

func WithLogger(logger zerolog.Logger) ManagerOption {
	return func(m *Manager) {
		m.logger = logger
	}
}

// WithRefreshTimeout bounds the scheduled refresh request
func WithRefreshTimeout(d time.Duration) ManagerOption {
	return func(m *Manager) {
		m.refreshTimeout = d
	}
}

// WithOnSessionExpired registers the redirect-to-login signal. It is called
// once each time a live session is lost to a failed refresh.
func WithOnSessionExpired(f func(error)) ManagerOption {
	return func(m *Manager) {
		m.onExpired = f
	}
}

func WithMetrics(metrics *Metrics) ManagerOption {
	return func(m *Manager) {
		m.metrics = metrics
	}
}

func NewManager(backend Backend, tokens *tokenstore.Tokens, options ...ManagerOption) (*Manager, error) {
	if backend == nil {
		return nil, apperrors.New("[NewManager] backend is required")
	}
	if tokens == nil {
		return nil, apperrors.New("[NewManager] token store is required")
	}

	m := &Manager{
		backend:        backend,
		tokens:         tokens,
		logger:         log.Logger,
		nowFunc:        time.Now,
		scheduler:      clockScheduler{},
		refreshTimeout: defaultRefreshTimeout,
		state:          Anonymous,
	}
	for _, opt := range options {
		opt(m)
	}
	m.metrics.state(Anonymous)
	return m, nil
}

// State returns the current lifecycle state.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// User returns the signed in user's profile, or nil.
func (m *Manager) User() *users.Profile {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.user
}

// Expiry returns the access token expiry, or the zero time when anonymous.
func (m *Manager) Expiry() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.token == nil {
		return time.Time{}
	}
	return m.token.Expiry
}

// Token implements oauth2.TokenSource. It returns a copy of the current
// token, or errors.ErrNoSession.
func (m *Manager) Token() (*oauth2.Token, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.token == nil {
		return nil, apperrors.ErrNoSession
	}
	tok := *m.token
	return &tok, nil
}

// Login authenticates against the backend and loads the user's profile.
// On any failure stored state is left untouched.
func (m *Manager) Login(ctx context.Context, email, password, otpCode string) (*users.Profile, error) {
	tok, err := m.backend.Login(ctx, authapi.LoginRequest{
		Email:    email,
		Password: password,
		OTPCode:  otpCode,
	})
	if err != nil {
		m.metrics.login(resultFailure)
		m.logger.Info().Err(err).Str("email", email).Msg("login rejected")
		return nil, err
	}

	profile, err := m.backend.Me(ctx, oauth2.StaticTokenSource(tok))
	if err != nil {
		m.metrics.login(resultFailure)
		return nil, apperrors.Wrapf(err, "[Login] fetch profile")
	}

	m.mu.Lock()
	err = m.applyLocked(ctx, tok, profile)
	m.mu.Unlock()
	if err != nil {
		m.metrics.login(resultFailure)
		return nil, err
	}

	m.metrics.login(resultSuccess)
	m.logger.Info().Str("user", profile.Email).Time("expiry", tok.Expiry).Msg("logged in")
	return profile, nil
}

// Logout clears local state, the stored session and the pending refresh,
// then revokes the session on the backend (best effort). Nothing stored
// survives the clear, so a refresh racing the backend call has no refresh
// token to use. It is safe to call repeatedly.
func (m *Manager) Logout(ctx context.Context) error {
	m.mu.Lock()
	tok := m.token
	if tok == nil {
		if access, err := m.tokens.AccessToken(ctx); err == nil && access != "" {
			tok = &oauth2.Token{AccessToken: access, TokenType: "Bearer"}
		}
	}
	m.resetLocked()
	clearErr := m.tokens.Clear(context.WithoutCancel(ctx))
	m.mu.Unlock()

	if tok != nil {
		if err := m.backend.Logout(ctx, oauth2.StaticTokenSource(tok)); err != nil {
			m.logger.Warn().Err(err).Msg("server-side logout failed")
		}
	}

	if clearErr != nil {
		return apperrors.Wrapf(clearErr, "[Logout] clear session")
	}
	m.logger.Info().Msg("logged out")
	return nil
}

// Restore resumes a persisted session at startup.
//
//   - valid access token: schedule refresh for its remaining lifetime and load
//     the profile; a 401 on the profile gets one refresh-then-retry.
//   - expired or missing access token with a refresh token: one refresh.
//   - otherwise, or when the above fail: clear and stay anonymous.
//
// Storage failures and cancellation of ctx are returned; a cancelled
// restore keeps the stored session. An unrecoverable session ends silently
// in Anonymous.
func (m *Manager) Restore(ctx context.Context) (State, error) {
	rec, err := m.tokens.Load(ctx)
	if err != nil {
		return m.State(), apperrors.Wrapf(err, "[Restore] load session")
	}
	now := m.nowFunc()

	switch {
	case rec.HasValidAccessToken(now):
		return m.restoreAccessToken(ctx, rec)
	case rec.RefreshToken != "":
		m.logger.Debug().Msg("stored access token unusable, refreshing")
		return m.restoreByRefresh(ctx)
	default:
		if !rec.IsEmpty() {
			m.clearStale(ctx, "stored session has no usable credentials")
		}
		return m.State(), nil
	}
}

func (m *Manager) restoreAccessToken(ctx context.Context, rec tokenstore.Record) (State, error) {
	tok := &oauth2.Token{
		AccessToken:  rec.AccessToken,
		RefreshToken: rec.RefreshToken,
		Expiry:       rec.AccessTokenExpiry,
		TokenType:    "Bearer",
	}

	m.mu.Lock()
	m.generation++
	gen := m.generation
	m.token = tok
	m.scheduleLocked(tok.Expiry)
	m.mu.Unlock()

	profile, err := m.backend.Me(ctx, oauth2.StaticTokenSource(tok))
	if err == nil {
		m.mu.Lock()
		if gen == m.generation {
			m.user = profile
			m.setStateLocked(Authenticated)
		}
		m.mu.Unlock()
		m.logger.Info().Str("user", profile.Email).Msg("session restored")
		return m.State(), nil
	}

	if ctx.Err() != nil {
		m.forget(gen)
		return m.State(), apperrors.Wrapf(ctx.Err(), "[Restore] interrupted")
	}
	if apperrors.IsUnauthorized(err) && rec.RefreshToken != "" {
		m.logger.Debug().Err(err).Msg("stored access token rejected, refreshing")
		return m.restoreByRefresh(ctx)
	}

	m.mu.Lock()
	stale := gen != m.generation
	m.mu.Unlock()
	if !stale {
		m.clearStale(ctx, "profile fetch failed during restore")
	}
	return m.State(), nil
}

// restoreByRefresh performs the single restore-time refresh. The refresh
// also re-fetches the profile; without a profile the session is dropped.
func (m *Manager) restoreByRefresh(ctx context.Context) (State, error) {
	if err := m.refresh(ctx, false); err != nil {
		if ctx.Err() != nil {
			return m.State(), apperrors.Wrapf(ctx.Err(), "[Restore] interrupted")
		}
		return m.State(), nil
	}
	if m.User() == nil {
		if ctx.Err() != nil {
			// the refreshed tokens are stored; the next Restore picks them up
			m.forget(m.currentGeneration())
			return m.State(), apperrors.Wrapf(ctx.Err(), "[Restore] interrupted")
		}
		m.clearStale(ctx, "profile unavailable after refresh")
	}
	return m.State(), nil
}

// Refresh renews the access token now. Concurrent calls share one request.
// A rejected refresh ends the session.
func (m *Manager) Refresh(ctx context.Context) error {
	return m.refresh(ctx, true)
}

// RecoverUnauthorized is the path callers take after the backend answered
// 401: exactly one refresh attempt, coalesced with any refresh in flight.
func (m *Manager) RecoverUnauthorized(ctx context.Context) error {
	return m.refresh(ctx, true)
}

// Close cancels the pending refresh and discards in-flight results. The
// stored session is kept for the next Restore.
func (m *Manager) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	m.generation++
	m.stopTimerLocked()
}

// refreshResult is shared by every caller coalesced into one refresh.
type refreshResult struct {
	err     error
	expired bool
	notify  sync.Once
}

// refresh runs or joins the in-flight refresh. When it ends the session,
// OnSessionExpired is called once if any coalesced caller asked for it.
func (m *Manager) refresh(ctx context.Context, notify bool) error {
	v, _, _ := m.refreshGroup.Do("refresh", func() (any, error) {
		res := &refreshResult{}
		res.expired, res.err = m.doRefresh(ctx)
		return res, nil
	})
	res := v.(*refreshResult)
	if notify && res.expired {
		res.notify.Do(func() {
			if m.onExpired != nil {
				m.onExpired(res.err)
			}
		})
	}
	return res.err
}

// doRefresh performs one refresh. expired reports that it ended the session.
// The request is bounded by the refresh timeout; running out of it is a
// failed refresh, while cancellation of ctx by the caller leaves the session
// as it was.
func (m *Manager) doRefresh(ctx context.Context) (expired bool, err error) {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return false, apperrors.ErrNoSession
	}
	gen := m.generation
	var refreshToken string
	if m.token != nil {
		refreshToken = m.token.RefreshToken
	}
	prev := m.state
	m.setStateLocked(Refreshing)
	m.mu.Unlock()

	if refreshToken == "" {
		stored, err := m.tokens.RefreshToken(ctx)
		if err != nil {
			m.restoreState(gen, prev)
			return false, apperrors.Wrapf(err, "[Refresh] read refresh token")
		}
		refreshToken = stored
	}
	if refreshToken == "" {
		if prev == Anonymous {
			m.restoreState(gen, prev)
			return false, apperrors.ErrNoSession
		}
		return m.expire(ctx, gen, apperrors.ErrNoSession)
	}

	reqCtx, cancel := context.WithTimeout(ctx, m.refreshTimeout)
	defer cancel()

	tok, err := m.backend.Refresh(reqCtx, refreshToken)
	if err != nil {
		if ctx.Err() != nil {
			m.restoreState(gen, prev)
			m.logger.Debug().Err(err).Msg("refresh abandoned by caller")
			return false, apperrors.Wrapf(err, "[Refresh] interrupted")
		}
		return m.expire(ctx, gen, err)
	}
	if tok.RefreshToken == "" {
		tok.RefreshToken = refreshToken // backend did not rotate
	}

	m.mu.Lock()
	if gen != m.generation {
		m.mu.Unlock()
		m.metrics.refresh(resultStale)
		m.logger.Debug().Msg("discarding refresh result for a session that no longer exists")
		return false, apperrors.ErrStaleSession
	}
	err = m.applyLocked(ctx, tok, nil)
	applied := m.generation
	m.mu.Unlock()
	if err != nil {
		return m.expire(ctx, applied, err)
	}
	m.metrics.refresh(resultSuccess)
	m.logger.Debug().Time("expiry", tok.Expiry).Msg("access token refreshed")

	// best effort: a profile failure does not invalidate the new token
	profile, err := m.backend.Me(reqCtx, oauth2.StaticTokenSource(tok))
	if err != nil {
		m.logger.Warn().Err(err).Msg("profile refresh failed")
		return false, nil
	}
	m.mu.Lock()
	if applied == m.generation {
		m.user = profile
	}
	m.mu.Unlock()
	return false, nil
}

// expire ends the session of generation gen after a failed refresh.
func (m *Manager) expire(ctx context.Context, gen uint64, cause error) (bool, error) {
	m.mu.Lock()
	if gen != m.generation {
		m.mu.Unlock()
		m.metrics.refresh(resultStale)
		return false, apperrors.ErrStaleSession
	}
	m.resetLocked()
	clearErr := m.tokens.Clear(context.WithoutCancel(ctx))
	m.mu.Unlock()

	m.metrics.refresh(resultFailure)
	m.logger.Warn().Err(cause).Msg("session expired")
	if clearErr != nil {
		m.logger.Error().Err(clearErr).Msg("failed to clear expired session")
	}
	return true, fmt.Errorf("%w: %w", apperrors.ErrSessionExpired, cause)
}

// clearStale drops the session without notifying: used on the silent
// restore paths.
func (m *Manager) clearStale(ctx context.Context, reason string) {
	m.mu.Lock()
	m.resetLocked()
	err := m.tokens.Clear(context.WithoutCancel(ctx))
	m.mu.Unlock()

	m.logger.Info().Str("reason", reason).Msg("stored session discarded")
	if err != nil {
		m.logger.Error().Err(err).Msg("failed to clear stored session")
	}
}

// forget drops the in-memory session of generation gen and its timer but
// keeps the stored session.
func (m *Manager) forget(gen uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if gen == m.generation {
		m.resetLocked()
	}
}

func (m *Manager) currentGeneration() uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.generation
}

func (m *Manager) restoreState(gen uint64, s State) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if gen == m.generation {
		m.setStateLocked(s)
	}
}

// applyLocked installs a new token (and profile, when non-nil), persists it
// and reschedules the refresh.
func (m *Manager) applyLocked(ctx context.Context, tok *oauth2.Token, profile *users.Profile) error {
	m.generation++
	now := m.nowFunc()

	rec := tokenstore.Record{
		AccessToken:       tok.AccessToken,
		AccessTokenExpiry: tok.Expiry,
		RefreshToken:      tok.RefreshToken,
	}
	if err := m.tokens.Save(ctx, rec, tok.Expiry.Sub(now)); err != nil {
		m.resetLocked()
		if clearErr := m.tokens.Clear(context.WithoutCancel(ctx)); clearErr != nil {
			m.logger.Error().Err(clearErr).Msg("failed to clear partially saved session")
		}
		return apperrors.Wrapf(err, "[session] persist token")
	}

	m.token = tok
	if profile != nil {
		m.user = profile
	}
	m.setStateLocked(Authenticated)
	m.scheduleLocked(tok.Expiry)
	return nil
}

// resetLocked forgets the in-memory session and invalidates in-flight work.
func (m *Manager) resetLocked() {
	m.generation++
	m.stopTimerLocked()
	m.token = nil
	m.user = nil
	m.setStateLocked(Anonymous)
}

// scheduleLocked replaces the pending refresh timer; at most one is live.
func (m *Manager) scheduleLocked(expiry time.Time) {
	m.stopTimerLocked()
	if m.closed {
		return
	}
	delay := RefreshDelay(expiry.Sub(m.nowFunc()))
	gen := m.generation
	m.timer = m.scheduler.AfterFunc(delay, func() { m.onTimer(gen) })
	m.logger.Debug().Dur("delay", delay).Time("expiry", expiry).Msg("refresh scheduled")
}

func (m *Manager) stopTimerLocked() {
	if m.timer != nil {
		m.timer.Stop()
		m.timer = nil
	}
}

func (m *Manager) onTimer(gen uint64) {
	m.mu.Lock()
	if gen != m.generation || m.closed {
		m.mu.Unlock()
		return
	}
	m.timer = nil
	m.mu.Unlock()

	if err := m.refresh(context.Background(), true); err != nil {
		m.logger.Debug().Err(err).Msg("scheduled refresh did not complete")
	}
}

func (m *Manager) setStateLocked(s State) {
	if m.state == s {
		return
	}
	m.logger.Debug().Stringer("from", m.state).Stringer("to", s).Msg("session state")
	m.state = s
	m.metrics.state(s)
}
