package server

import (
	"embed"
	"encoding/json"
	"errors"
	"html/template"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/csrf"

	"github.com/hitushen/netsweep/internal/auth"
	"github.com/hitushen/netsweep/internal/config"
	"github.com/hitushen/netsweep/internal/realtime"
	"github.com/hitushen/netsweep/internal/scanner"
	"github.com/hitushen/netsweep/internal/store"
)

//go:embed templates/*.tmpl
var templateFS embed.FS

// Server 负责协调 HTTP 路由、模板渲染与业务逻辑。
type Server struct {
	cfg       *config.Config
	store     *store.Store
	auth      *auth.Manager
	scanner   *scanner.Manager
	broker    *realtime.Broker
	templates *template.Template
}

// New 创建并初始化带路由的 Server，扫描器按配置选择探测实现。
func New(cfg *config.Config, st *store.Store) (*Server, error) {
	broker := realtime.NewBroker()
	scanManager, err := scanner.NewManager(st, broker, scanner.Options{
		Scan:            cfg.Scan,
		Workers:         cfg.JobWorkers,
		FullScanTimeout: cfg.FullScanTimeout,
	})
	if err != nil {
		return nil, err
	}
	scanManager.StartTicker(cfg.RescanInterval)
	return newServer(cfg, st, broker, scanManager)
}

func newServer(cfg *config.Config, st *store.Store, broker *realtime.Broker, mgr *scanner.Manager) (*Server, error) {
	tmpl, err := template.ParseFS(templateFS, "templates/*.tmpl")
	if err != nil {
		return nil, err
	}
	return &Server{
		cfg:       cfg,
		store:     st,
		auth:      auth.NewManager(st, cfg.SessionKey),
		scanner:   mgr,
		broker:    broker,
		templates: tmpl,
	}, nil
}

// Close 关闭后台组件。
func (s *Server) Close() {
	s.scanner.Close()
	s.broker.Close()
}

// Handler 返回根 HTTP 处理器。
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Heartbeat("/healthz"))

	csrfMiddleware := csrf.Protect(
		s.cfg.CSRFKey,
		csrf.Secure(false),
		csrf.Path("/"),
		csrf.FieldName("csrf_token"),
	)

	r.Get("/login", s.showLogin)
	r.Post("/login", s.handleLogin)

	authRoutes := r.With(s.auth.Middleware)
	authRoutes.Get("/", s.dashboard)
	authRoutes.Post("/logout", s.handleLogout)

	authRoutes.Route("/api", func(api chi.Router) {
		api.Get("/events", s.streamEvents)
		api.Get("/services", s.apiListServices)

		api.Get("/sweeps", s.apiListSweeps)
		api.Post("/sweeps", s.apiCreateSweep)
		api.Get("/sweeps/{sweepID}", s.apiGetSweep)
		api.Get("/sweeps/{sweepID}/export", s.apiExportSweep)
		api.Post("/sweeps/{sweepID}/import", s.apiImportSweep)

		api.Get("/hosts", s.apiListHosts)
		api.Post("/hosts", s.apiCreateHost)
		api.Delete("/hosts/{hostID}", s.apiDeleteHost)
		api.Post("/hosts/{hostID}/probe", s.apiProbeHost)
		api.Post("/hosts/{hostID}/scan", s.apiScanHost)
		api.Get("/hosts/{hostID}/ports", s.apiListPorts)
	})

	return csrfMiddleware(r)
}

func (s *Server) showLogin(w http.ResponseWriter, r *http.Request) {
	data := map[string]interface{}{
		"CSRFField": csrf.TemplateField(r),
		"Error":     r.URL.Query().Get("error"),
	}
	if err := s.templates.ExecuteTemplate(w, "login", data); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		http.Error(w, "invalid form", http.StatusBadRequest)
		return
	}
	if err := s.auth.Login(w, r, r.FormValue("username"), r.FormValue("password")); err != nil {
		http.Redirect(w, r, "/login?error=1", http.StatusFound)
		return
	}
	http.Redirect(w, r, "/", http.StatusFound)
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	_ = s.auth.Logout(w, r)
	http.Redirect(w, r, "/login", http.StatusFound)
}

func (s *Server) dashboard(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	hosts, err := s.store.ListHosts(ctx)
	if err != nil {
		http.Error(w, "failed to load hosts", http.StatusInternalServerError)
		return
	}
	sweeps, err := s.store.ListSweeps(ctx, 10)
	if err != nil {
		http.Error(w, "failed to load sweeps", http.StatusInternalServerError)
		return
	}

	data := map[string]interface{}{
		"Hosts":     hosts,
		"Sweeps":    sweeps,
		"Username":  auth.UsernameFromContext(ctx),
		"CSRFField": csrf.TemplateField(r),
		"CSRFToken": csrf.Token(r),
	}
	if err := s.templates.ExecuteTemplate(w, "dashboard", data); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

func (s *Server) streamEvents(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "stream unsupported", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	ch, cleanup := s.broker.Subscribe()
	defer cleanup()

	notify := r.Context().Done()
	for {
		select {
		case msg, ok := <-ch:
			if !ok {
				return
			}
			_, _ = w.Write([]byte("data: "))
			_, _ = w.Write(msg)
			_, _ = w.Write([]byte("\n\n"))
			flusher.Flush()
		case <-notify:
			return
		}
	}
}

func parseIDParam(raw string) (int64, error) {
	return strconv.ParseInt(raw, 10, 64)
}

func intParam(raw string, fallback int) int {
	if strings.TrimSpace(raw) == "" {
		return fallback
	}
	if n, err := strconv.Atoi(raw); err == nil {
		return n
	}
	return fallback
}

// statusFor 将领域错误映射为 HTTP 状态码。
func statusFor(err error) int {
	switch {
	case errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, payload interface{}) {
	writeJSONStatus(w, http.StatusOK, payload)
}

func writeJSONStatus(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeErr(w http.ResponseWriter, err error, status int) {
	writeMessage(w, err.Error(), status)
}

func writeMessage(w http.ResponseWriter, message string, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": message})
}
