package web

import (
	"context"
	"crypto/subtle"
	"embed"
	"encoding/json"
	"errors"
	"html/template"
	"io/fs"
	"math"
	"net/http"
	"os"

	"github.com/rs/cors"

	"signage/internal/config"
	"signage/internal/device"
	"signage/internal/display"
	appLog "signage/internal/log"
	"signage/internal/model"
)

// Controller is the display state the handlers read and drive.
type Controller interface {
	View() display.View
	Locations() ([]model.Location, int)
	SelectLocation(ctx context.Context, id int) error
	LoadLocations(ctx context.Context) error
	ReportVideoDuration(id int, seconds float64) bool
	Advance()
}

//go:embed templates static
var assets embed.FS

// Server serves the signage page, its assets, the push stream and the API.
type Server struct {
	cfg    *config.Config
	ctrl   Controller
	events *Broadcaster
	power  device.Reader
	debug  bool

	mux  *http.ServeMux
	page *template.Template
}

// NewServer wires the routes. power may be nil, meaning no UPS.
func NewServer(cfg *config.Config, ctrl Controller, events *Broadcaster, power device.Reader, debug bool) (*Server, error) {
	page, err := template.ParseFS(assets, "templates/index.html")
	if err != nil {
		return nil, err
	}
	if power == nil {
		power = device.Unavailable
	}

	s := &Server{
		cfg:    cfg,
		ctrl:   ctrl,
		events: events,
		power:  power,
		debug:  debug,
		mux:    http.NewServeMux(),
		page:   page,
	}
	if err := s.registerRoutes(); err != nil {
		return nil, err
	}
	return s, nil
}

// Handler returns the root handler, behind Basic Auth when configured.
func (s *Server) Handler() http.Handler {
	h := http.Handler(s.mux)
	if s.basicAuthEnabled() {
		appLog.Info("web: basic auth enabled")
		return s.basicAuthMiddleware(h)
	}
	return h
}

func (s *Server) basicAuthEnabled() bool {
	if s.cfg == nil || s.cfg.BasicAuth == nil {
		return false
	}
	return s.cfg.BasicAuth.Username != "" && s.cfg.BasicAuth.Password != ""
}

// basicAuthMiddleware guards everything except /health.
func (s *Server) basicAuthMiddleware(next http.Handler) http.Handler {
	username := s.cfg.BasicAuth.Username
	password := s.cfg.BasicAuth.Password

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/health" {
			next.ServeHTTP(w, r)
			return
		}
		u, p, ok := r.BasicAuth()
		if !ok || !secureCompare(u, username) || !secureCompare(p, password) {
			w.Header().Set("WWW-Authenticate", `Basic realm="Signage", charset="UTF-8"`)
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func secureCompare(a, b string) bool {
	if len(a) != len(b) {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}

func (s *Server) registerRoutes() error {
	static, err := fs.Sub(assets, "static")
	if err != nil {
		return err
	}

	s.mux.HandleFunc("GET /health", s.handleHealth)
	s.mux.HandleFunc("GET /{$}", s.handlePage)
	s.mux.Handle("GET /static/", http.StripPrefix("/static/", http.FileServer(http.FS(static))))
	s.mux.Handle("GET /events", s.events)
	s.mux.HandleFunc("GET /preview.png", s.handlePreview)

	api := http.NewServeMux()
	api.HandleFunc("GET /api/state", s.handleState)
	api.HandleFunc("GET /api/locations", s.handleLocations)
	api.HandleFunc("POST /api/location", s.handleSelectLocation)
	api.HandleFunc("POST /api/locations/reload", s.handleReloadLocations)
	api.HandleFunc("POST /api/rotation/duration", s.handleDuration)
	api.HandleFunc("POST /api/rotation/advance", s.handleAdvance)
	api.HandleFunc("GET /api/device", s.handleDevice)

	c := cors.New(cors.Options{
		AllowedOrigins: s.cfg.CORSOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Content-Type", "Authorization", "If-None-Match"},
		ExposedHeaders: []string{"ETag"},
	})
	s.mux.Handle("/api/", c.Handler(api))
	return nil
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

type pageData struct {
	Labels   config.Labels
	Locale   string
	Timezone string
	Debug    bool
}

func (s *Server) handlePage(w http.ResponseWriter, _ *http.Request) {
	data := pageData{
		Labels:   s.cfg.Labels,
		Locale:   s.cfg.Locale,
		Timezone: s.cfg.Timezone,
		Debug:    s.debug,
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := s.page.Execute(w, data); err != nil {
		appLog.Error("web: rendering page failed", err)
	}
}

// handlePreview serves the last captured page screenshot.
func (s *Server) handlePreview(w http.ResponseWriter, r *http.Request) {
	path := s.cfg.Capture.Output
	if _, err := os.Stat(path); err != nil {
		writeError(w, http.StatusNotFound, "no preview captured yet")
		return
	}
	w.Header().Set("Cache-Control", "no-cache")
	http.ServeFile(w, r, path)
}

func (s *Server) handleState(w http.ResponseWriter, r *http.Request) {
	v := s.ctrl.View()
	etag := `"` + v.Version + `"`
	w.Header().Set("ETag", etag)
	w.Header().Set("Cache-Control", "no-cache")
	if r.Header.Get("If-None-Match") == etag {
		w.WriteHeader(http.StatusNotModified)
		return
	}
	writeJSON(w, http.StatusOK, v)
}

type locationsResponse struct {
	Locations []model.Location `json:"locations"`
	Selected  int              `json:"selected"`
}

func (s *Server) locationsResponse() locationsResponse {
	locs, selected := s.ctrl.Locations()
	if locs == nil {
		locs = []model.Location{}
	}
	return locationsResponse{Locations: locs, Selected: selected}
}

func (s *Server) handleLocations(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.locationsResponse())
}

type selectLocationRequest struct {
	ID *int `json:"id"`
}

func (s *Server) handleSelectLocation(w http.ResponseWriter, r *http.Request) {
	var req selectLocationRequest
	if err := decodeJSON(w, r, &req); err != nil || req.ID == nil {
		writeError(w, http.StatusBadRequest, "body must be {\"id\": <location id>}")
		return
	}

	err := s.ctrl.SelectLocation(r.Context(), *req.ID)
	if errors.Is(err, display.ErrUnknownLocation) {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	if err != nil {
		appLog.Error("web: select location failed", err, "id", *req.ID)
		writeError(w, http.StatusInternalServerError, "failed to select location")
		return
	}
	writeJSON(w, http.StatusOK, s.ctrl.View())
}

func (s *Server) handleReloadLocations(w http.ResponseWriter, r *http.Request) {
	if err := s.ctrl.LoadLocations(r.Context()); err != nil {
		appLog.Error("web: reloading locations failed", err)
		writeError(w, http.StatusBadGateway, "failed to load locations from backend")
		return
	}
	writeJSON(w, http.StatusOK, s.locationsResponse())
}

// durationRequest carries a video's duration in seconds. The page sends
// null for NaN or Infinity.
type durationRequest struct {
	ID       int      `json:"id"`
	Duration *float64 `json:"duration"`
}

func (s *Server) handleDuration(w http.ResponseWriter, r *http.Request) {
	var req durationRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid duration report")
		return
	}
	seconds := math.NaN()
	if req.Duration != nil {
		seconds = *req.Duration
	}
	applied := s.ctrl.ReportVideoDuration(req.ID, seconds)
	writeJSON(w, http.StatusOK, map[string]bool{"applied": applied})
}

func (s *Server) handleAdvance(w http.ResponseWriter, _ *http.Request) {
	s.ctrl.Advance()
	writeJSON(w, http.StatusOK, s.ctrl.View())
}

func (s *Server) handleDevice(w http.ResponseWriter, r *http.Request) {
	st, err := s.power.Read(r.Context())
	if errors.Is(err, device.ErrUnavailable) {
		writeError(w, http.StatusServiceUnavailable, "power status unavailable")
		return
	}
	if err != nil {
		appLog.Error("web: reading power status failed", err)
		writeError(w, http.StatusInternalServerError, "failed to read power status")
		return
	}
	writeJSON(w, http.StatusOK, st)
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<16))
	return dec.Decode(v)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		appLog.Error("web: writing JSON response failed", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	type errResp struct {
		Error string `json:"error"`
	}
	writeJSON(w, status, errResp{Error: msg})
}
