package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"github.com/desertthunder/deemusic/internal/metrics"
	"github.com/desertthunder/deemusic/internal/models"
	"github.com/desertthunder/deemusic/internal/notify"
	"github.com/desertthunder/deemusic/internal/shared"
	"github.com/desertthunder/deemusic/internal/web"
)

// Auth is the session surface the app routes use.
type Auth interface {
	CallbackExchanger
	Login(ctx context.Context) error
	Logout() error
	State() models.SessionState
	Profile() (models.Profile, bool)
	BearerToken(ctx context.Context) (string, error)
}

// Searcher returns a page of track results.
type Searcher interface {
	Search(ctx context.Context, token, query string, offset int) (models.SearchPage, error)
}

// Player is the playback surface the app routes use.
type Player interface {
	Toggle(ctx context.Context, uri string) error
	SetVolume(ctx context.Context, level float64) error
	Binding() (models.PlaybackBinding, bool)
}

// Messages exposes the banner.
type Messages interface {
	notify.Poster
	Current() (notify.Message, bool)
}

// AppOptions wires the app. Auth, Navigator and Messages are required; a nil Search or Player
// disables those routes.
type AppOptions struct {
	Auth         Auth
	Navigator    *Navigator
	Search       Searcher
	Player       Player
	Messages     Messages
	Metrics      *metrics.Metrics
	Logger       *log.Logger
	CallbackPath string
}

// App serves the app routes.
type App struct {
	auth     Auth
	nav      *Navigator
	search   Searcher
	player   Player
	messages Messages
	logger   *log.Logger
	router   *BasicRouter
}

// NewApp builds the router with every app route registered.
func NewApp(opts AppOptions) *App {
	logger := shared.WithLogger(opts.Logger, "component", "app")
	a := &App{
		auth:     opts.Auth,
		nav:      opts.Navigator,
		search:   opts.Search,
		player:   opts.Player,
		messages: opts.Messages,
		logger:   logger,
		router:   NewBasicRouter(),
	}

	path := opts.CallbackPath
	if path == "" {
		path = "/callback"
	}

	r := a.router
	r.Use(RequestID, Recover(logger), Logging(logger))
	r.Handler(NewCallbackHandler(opts.Auth, path, "/", logger))
	r.HandleFunc(http.MethodGet, "/{$}", a.index)
	r.HandleFunc(http.MethodGet, "/api/session", a.session)
	r.HandleFunc(http.MethodPost, "/api/login", a.login)
	r.HandleFunc(http.MethodPost, "/api/logout", a.logout)
	r.HandleFunc(http.MethodGet, "/api/messages", a.currentMessage)
	if a.search != nil {
		r.HandleFunc(http.MethodGet, "/api/search", a.searchTracks)
	}
	if a.player != nil {
		r.HandleFunc(http.MethodGet, "/api/player", a.binding)
		r.HandleFunc(http.MethodPost, "/api/player/toggle", a.toggle)
		r.HandleFunc(http.MethodPost, "/api/player/volume", a.volume)
	}
	if opts.Metrics != nil {
		r.Handle(http.MethodGet, "/metrics", opts.Metrics.Handler())
	}
	return a
}

func (a *App) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	a.router.ServeHTTP(w, r)
}

// SessionView is the JSON shape of the session.
type SessionView struct {
	State     string          `json:"state"`
	LoggedIn  bool            `json:"logged_in"`
	ExpiresAt *time.Time      `json:"expires_at,omitempty"`
	Profile   *models.Profile `json:"profile,omitempty"`
}

func (a *App) sessionView() SessionView {
	s := a.auth.State()
	v := SessionView{State: s.Kind.String(), LoggedIn: s.LoggedIn()}
	if s.Credential != nil {
		exp := s.Credential.ExpiresAt
		v.ExpiresAt = &exp
	}
	if p, ok := a.auth.Profile(); ok {
		v.Profile = &p
	}
	return v
}

// PlayerView is the JSON shape of the playback binding.
type PlayerView struct {
	Bound bool `json:"bound"`
	models.PlaybackBinding
}

func (a *App) playerView() PlayerView {
	b, ok := a.player.Binding()
	return PlayerView{Bound: ok, PlaybackBinding: b}
}

type errorBody struct {
	Error string `json:"error"`
}

func (a *App) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		a.logger.Warn("failed to write response", "error", err)
	}
}

func (a *App) writeError(w http.ResponseWriter, status int, err error) {
	a.writeJSON(w, status, errorBody{Error: err.Error()})
}

func (a *App) index(w http.ResponseWriter, r *http.Request) {
	v := a.sessionView()
	page := web.Page{State: v.State, LoggedIn: v.LoggedIn, ExpiresAt: v.ExpiresAt}
	if v.Profile != nil {
		page.DisplayName = v.Profile.DisplayName
	}
	if msg, ok := a.messages.Current(); ok {
		page.Message = msg.Text
	}
	if a.player != nil {
		page.Playback, page.Bound = a.player.Binding()
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := web.Render(w, page); err != nil {
		a.logger.Error("failed to render page", "error", err)
	}
}

func (a *App) session(w http.ResponseWriter, r *http.Request) {
	a.writeJSON(w, http.StatusOK, a.sessionView())
}

func (a *App) login(w http.ResponseWriter, r *http.Request) {
	if err := a.auth.Login(r.Context()); err != nil {
		a.logger.Error("login failed to start", "error", err)
		a.messages.Post("Could not start login: %v", err)
		a.writeError(w, http.StatusInternalServerError, err)
		return
	}

	target, ok := a.nav.Take()
	if !ok {
		a.writeJSON(w, http.StatusAccepted, a.sessionView())
		return
	}
	http.Redirect(w, r, target, http.StatusSeeOther)
}

func (a *App) logout(w http.ResponseWriter, r *http.Request) {
	if err := a.auth.Logout(); err != nil {
		a.logger.Error("logout failed", "error", err)
		a.writeError(w, http.StatusInternalServerError, err)
		return
	}
	a.writeJSON(w, http.StatusOK, a.sessionView())
}

func (a *App) currentMessage(w http.ResponseWriter, r *http.Request) {
	msg, ok := a.messages.Current()
	if !ok {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	a.writeJSON(w, http.StatusOK, msg)
}

func (a *App) searchTracks(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	query := strings.TrimSpace(q.Get("q"))
	if query == "" {
		a.writeError(w, http.StatusBadRequest, shared.ErrMissingArgument)
		return
	}
	offset := 0
	if raw := q.Get("offset"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			a.writeError(w, http.StatusBadRequest, shared.ErrInvalidArgument)
			return
		}
		offset = n
	}

	token, err := a.auth.BearerToken(r.Context())
	if err != nil {
		a.messages.Post("Search is unavailable right now.")
		a.writeError(w, http.StatusBadGateway, err)
		return
	}

	page, err := a.search.Search(r.Context(), token, query, offset)
	if err != nil {
		a.messages.Post("Search failed: %v", err)
		a.writeError(w, http.StatusBadGateway, err)
		return
	}
	a.writeJSON(w, http.StatusOK, page)
}

func (a *App) binding(w http.ResponseWriter, r *http.Request) {
	a.writeJSON(w, http.StatusOK, a.playerView())
}

type toggleRequest struct {
	URI string `json:"uri"`
}

func (a *App) toggle(w http.ResponseWriter, r *http.Request) {
	var req toggleRequest
	if err := decode(r, &req, func(form url.Values) { req.URI = form.Get("uri") }); err != nil {
		a.writeError(w, http.StatusBadRequest, err)
		return
	}

	if err := a.player.Toggle(r.Context(), req.URI); err != nil {
		a.writeError(w, statusFor(err), err)
		return
	}
	a.writeJSON(w, http.StatusOK, a.playerView())
}

type volumeRequest struct {
	Level float64 `json:"level"`
}

func (a *App) volume(w http.ResponseWriter, r *http.Request) {
	var req volumeRequest
	var formErr error
	err := decode(r, &req, func(form url.Values) {
		req.Level, formErr = strconv.ParseFloat(form.Get("level"), 64)
	})
	if err == nil {
		err = formErr
	}
	if err != nil {
		a.writeError(w, http.StatusBadRequest, shared.ErrInvalidArgument)
		return
	}
	if req.Level < 0 || req.Level > 1 {
		a.writeError(w, http.StatusBadRequest, shared.ErrInvalidArgument)
		return
	}

	if err := a.player.SetVolume(r.Context(), req.Level); err != nil {
		a.writeError(w, statusFor(err), err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// decode reads a JSON body, or a form body through fromForm.
func decode(r *http.Request, v any, fromForm func(url.Values)) error {
	if strings.HasPrefix(r.Header.Get("Content-Type"), "application/json") {
		if err := json.NewDecoder(r.Body).Decode(v); err != nil {
			return errors.Join(shared.ErrInvalidInput, err)
		}
		return nil
	}
	if err := r.ParseForm(); err != nil {
		return errors.Join(shared.ErrInvalidInput, err)
	}
	fromForm(r.PostForm)
	return nil
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, shared.ErrInvalidInput):
		return http.StatusBadRequest
	case errors.Is(err, shared.ErrNotAuthenticated):
		return http.StatusUnauthorized
	case errors.Is(err, shared.ErrDeviceUnavailable):
		return http.StatusConflict
	default:
		return http.StatusBadGateway
	}
}
