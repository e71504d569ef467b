package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/digkill/PostMiniApp/internal/capture"
	"github.com/digkill/PostMiniApp/internal/models"
	"github.com/digkill/PostMiniApp/internal/orchestrator"
	"github.com/digkill/PostMiniApp/internal/repository"
	"github.com/digkill/PostMiniApp/internal/service"
)

const relaunchMessage = "Open the app again from the bot."

type Identity interface {
	FindByToken(ctx context.Context, token string) (*models.User, error)
}

// Debits is the admin view of the local debit outbox.
type Debits interface {
	ListPending(ctx context.Context, limit int) ([]models.Debit, error)
	CountPending(ctx context.Context) (int, error)
	ListFailed(ctx context.Context, limit int) ([]models.Debit, error)
	CountFailed(ctx context.Context) (int, error)
}

type Flusher interface {
	Flush(ctx context.Context) (int, error)
}

type Options struct {
	Addr          string
	AdminUsername string
	AdminPassword string
	// MetricsHandler defaults to the default prometheus registry.
	MetricsHandler http.Handler
}

type Server struct {
	opts     Options
	log      *slog.Logger
	identity Identity
	launches *orchestrator.Registry
	debits   Debits
	outbox   Flusher
	router   *chi.Mux
}

func NewServer(opts Options, log *slog.Logger, identity Identity, launches *orchestrator.Registry, debits Debits, outbox Flusher) *Server {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	if opts.MetricsHandler == nil {
		opts.MetricsHandler = promhttp.Handler()
	}

	s := &Server{
		opts:     opts,
		log:      log.With("component", "api"),
		identity: identity,
		launches: launches,
		debits:   debits,
		outbox:   outbox,
		router:   r,
	}

	r.Get("/healthz", s.handleHealth)
	r.Handle("/metrics", opts.MetricsHandler)

	r.Route("/api", func(r chi.Router) {
		r.Get("/launch", s.handleLaunch)
		r.Route("/launches/{id}", func(r chi.Router) {
			r.Use(s.launchMiddleware)
			r.Get("/", s.handleSnapshot)
			r.Get("/balance", s.handleBalance)
			r.Post("/improve", s.handleImprove)
			r.Post("/cta", s.handleCTA)
			r.Post("/image/prepare", s.handlePrepareImage)
			r.Post("/image/confirm", s.handleConfirmImage)
			r.Post("/text", s.handleText)
			r.Post("/analyze/quote", s.handleQuote)
			r.Post("/analyze/url", s.handleAnalyzeURL)
			r.Post("/analyze/file", s.handleAnalyzeFile)
			r.Post("/context", s.handleSetContext)
			r.Delete("/context", s.handleClearContext)
			r.Post("/reset", s.handleReset)
			r.Post("/voice/start", s.handleVoiceStart)
			r.Post("/voice/chunk", s.handleVoiceChunk)
			r.Post("/voice/stop", s.handleVoiceStop)
			r.Route("/camera", func(r chi.Router) {
				r.Get("/", s.handleCamera)
				r.Delete("/", s.handleCameraClose)
				r.Post("/open", s.handleCameraOpen)
				r.Post("/frame", s.handleCameraFrame)
				r.Post("/clip", s.handleCameraClip)
				r.Post("/zoom", s.handleCameraZoom)
				r.Post("/switch", s.cameraAction((*orchestrator.Orchestrator).SwitchCamera))
				r.Post("/photo", s.cameraAction(ignoreCtx((*orchestrator.Orchestrator).CameraPhoto)))
				r.Post("/record", s.cameraAction(ignoreCtx((*orchestrator.Orchestrator).CameraRecord)))
				r.Post("/stop", s.cameraAction(ignoreCtx((*orchestrator.Orchestrator).CameraStop)))
				r.Post("/retake", s.cameraAction(ignoreCtx((*orchestrator.Orchestrator).CameraRetake)))
				r.Post("/confirm", s.handleCameraConfirm)
			})
		})
	})

	r.Group(func(protected chi.Router) {
		protected.Use(s.basicAuthMiddleware())
		protected.Get("/admin/debits", s.handleListDebits)
		protected.Post("/admin/debits/flush", s.handleFlushDebits)
	})
	return s
}

func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:        s.opts.Addr,
		Handler:     s.router,
		ReadTimeout: 30 * time.Second,
		// Image generation with retries outlives the usual write timeout. The
		// generation deadline (IMAGE_DEADLINE) stays below this.
		WriteTimeout: 5 * time.Minute,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			s.log.Error("api shutdown error", "err", err)
		}
	}()

	s.log.Info("api listening", "addr", s.opts.Addr)
	if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("api listen: %w", err)
	}
	return nil
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type launchResponse struct {
	LaunchID string                `json:"launch_id"`
	User     launchUser            `json:"user"`
	State    orchestrator.Snapshot `json:"state"`
}

type launchUser struct {
	ID     int64         `json:"id"`
	Name   string        `json:"name"`
	Locale models.Locale `json:"language"`
}

func (s *Server) handleLaunch(w http.ResponseWriter, r *http.Request) {
	token := strings.TrimSpace(r.URL.Query().Get("token"))
	if token == "" {
		s.writeError(w, http.StatusBadRequest, "", relaunchMessage)
		return
	}
	user, err := s.identity.FindByToken(r.Context(), token)
	if err != nil {
		if errors.Is(err, repository.ErrUserNotFound) {
			s.writeError(w, http.StatusNotFound, "", relaunchMessage)
			return
		}
		s.log.Error("resolve launch token", "err", err)
		s.writeError(w, http.StatusServiceUnavailable, service.CodeLedgerUnavailable, "identity store unavailable")
		return
	}
	if user.Locale == "" {
		user.Locale = models.LocaleEN
	}

	id, o := s.launches.Launch(r.Context(), *user)
	s.writeJSON(w, http.StatusCreated, launchResponse{
		LaunchID: id,
		User:     launchUser{ID: user.ID, Name: user.Name, Locale: user.Locale},
		State:    o.Snapshot(),
	})
}

type launchKey struct{}

func (s *Server) launchMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		o, ok := s.launches.Get(chi.URLParam(r, "id"))
		if !ok {
			s.writeError(w, http.StatusNotFound, "", relaunchMessage)
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), launchKey{}, o)))
	})
}

func launchFrom(r *http.Request) *orchestrator.Orchestrator {
	return r.Context().Value(launchKey{}).(*orchestrator.Orchestrator)
}

func (s *Server) handleSnapshot(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, launchFrom(r).Snapshot())
}

func (s *Server) handleBalance(w http.ResponseWriter, r *http.Request) {
	balance, err := launchFrom(r).Balance(r.Context())
	if err != nil {
		s.fail(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"balance_cents": int64(balance),
		"balance":       balance.Dollars(),
	})
}

type promptRequest struct {
	Prompt string `json:"prompt"`
}

func (s *Server) handleImprove(w http.ResponseWriter, r *http.Request) {
	var req promptRequest
	if !s.decode(w, r, &req) {
		return
	}
	improved, err := launchFrom(r).ImprovePrompt(r.Context(), req.Prompt)
	if err != nil {
		s.fail(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"prompt": improved})
}

func (s *Server) handleCTA(w http.ResponseWriter, r *http.Request) {
	var req promptRequest
	if !s.decode(w, r, &req) {
		return
	}
	suggestions, err := launchFrom(r).CTASuggestions(r.Context(), req.Prompt)
	if err != nil {
		s.fail(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string][]string{"suggestions": suggestions})
}

func (s *Server) handlePrepareImage(w http.ResponseWriter, r *http.Request) {
	var req promptRequest
	if !s.decode(w, r, &req) {
		return
	}
	plan, err := launchFrom(r).PrepareImage(r.Context(), req.Prompt)
	if err != nil {
		s.fail(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, plan)
}

type confirmImageRequest struct {
	Scene    *string            `json:"scene"`
	Captions *string            `json:"captions"`
	Params   models.ImageParams `json:"params"`
}

func (s *Server) handleConfirmImage(w http.ResponseWriter, r *http.Request) {
	var req confirmImageRequest
	if !s.decode(w, r, &req) {
		return
	}
	url, err := launchFrom(r).ConfirmImage(r.Context(), orchestrator.ImageEdit{
		Scene:    req.Scene,
		Captions: req.Captions,
		Params:   req.Params,
	})
	if err != nil {
		s.fail(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"image_url": url})
}

type textRequest struct {
	Prompt string            `json:"prompt"`
	Params models.TextParams `json:"params"`
}

func (s *Server) handleText(w http.ResponseWriter, r *http.Request) {
	var req textRequest
	if !s.decode(w, r, &req) {
		return
	}
	text, err := launchFrom(r).GenerateText(r.Context(), req.Prompt, req.Params)
	if err != nil {
		s.fail(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"text": text})
}

type urlRequest struct {
	URL string `json:"url"`
}

func (s *Server) handleQuote(w http.ResponseWriter, r *http.Request) {
	var req urlRequest
	if !s.decode(w, r, &req) {
		return
	}
	quote, err := launchFrom(r).QuoteURL(req.URL)
	if err != nil {
		s.fail(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, quote)
}

func (s *Server) handleAnalyzeURL(w http.ResponseWriter, r *http.Request) {
	var req urlRequest
	if !s.decode(w, r, &req) {
		return
	}
	res, err := launchFrom(r).AnalyzeURL(r.Context(), req.URL)
	if err != nil {
		s.fail(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleAnalyzeFile(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, service.MaxFileSize+1<<20)
	if err := r.ParseMultipartForm(8 << 20); err != nil {
		s.fail(w, service.NewError(service.CodeInvalidInput, "file too large or malformed upload", err))
		return
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		s.fail(w, service.NewError(service.CodeInvalidInput, "file field required", err))
		return
	}
	defer file.Close()

	data, err := io.ReadAll(io.LimitReader(file, service.MaxFileSize+1))
	if err != nil {
		s.fail(w, service.NewError(service.CodeInvalidInput, "read upload", err))
		return
	}
	contentType := header.Header.Get("Content-Type")
	if contentType == "" {
		contentType = http.DetectContentType(data)
	}

	res, err := launchFrom(r).AnalyzeCapture(r.Context(), header.Filename, capture.Capture{Data: data, ContentType: contentType})
	if err != nil {
		s.fail(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, res)
}

type contextRequest struct {
	Facets []models.Facet `json:"facets"`
}

func (s *Server) handleSetContext(w http.ResponseWriter, r *http.Request) {
	var req contextRequest
	if !s.decode(w, r, &req) {
		return
	}
	ac, err := launchFrom(r).SetContext(req.Facets)
	if err != nil {
		s.fail(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, ac)
}

func (s *Server) handleClearContext(w http.ResponseWriter, r *http.Request) {
	launchFrom(r).ClearContext()
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleReset(w http.ResponseWriter, r *http.Request) {
	o := launchFrom(r)
	o.Reset()
	s.writeJSON(w, http.StatusOK, o.Snapshot())
}

func (s *Server) handleVoiceStart(w http.ResponseWriter, r *http.Request) {
	if err := launchFrom(r).StartVoice(r.Context()); err != nil {
		s.fail(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleVoiceChunk accepts raw mono PCM16 little-endian audio.
func (s *Server) handleVoiceChunk(w http.ResponseWriter, r *http.Request) {
	pcm, err := io.ReadAll(http.MaxBytesReader(w, r.Body, 1<<20))
	if err != nil {
		s.fail(w, service.NewError(service.CodeInvalidInput, "chunk too large", err))
		return
	}
	o := launchFrom(r)
	if err := o.VoiceChunk(pcm); err != nil {
		if errors.Is(err, capture.ErrStreamClosed) {
			s.writeError(w, http.StatusConflict, "", "voice capture is not running")
			return
		}
		if errors.Is(err, capture.ErrAudioLimit) {
			s.writeError(w, http.StatusConflict, "", "voice capture reached its length limit")
			return
		}
		s.fail(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string][]float64{"levels": o.VoiceLevels()})
}

func (s *Server) handleVoiceStop(w http.ResponseWriter, r *http.Request) {
	text, err := launchFrom(r).StopVoice(r.Context())
	if err != nil {
		s.fail(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"transcript": text})
}

type cameraOpenRequest struct {
	Devices []capture.UploadedDevice `json:"devices"`
}

func (s *Server) handleCamera(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, launchFrom(r).Camera())
}

func (s *Server) handleCameraOpen(w http.ResponseWriter, r *http.Request) {
	var req cameraOpenRequest
	if !s.decode(w, r, &req) {
		return
	}
	view, err := launchFrom(r).OpenCamera(r.Context(), req.Devices)
	if err != nil {
		s.cameraFail(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, view)
}

// handleCameraFrame takes the current preview frame as an encoded image.
func (s *Server) handleCameraFrame(w http.ResponseWriter, r *http.Request) {
	data, err := io.ReadAll(http.MaxBytesReader(w, r.Body, 10<<20))
	if err != nil {
		s.fail(w, service.NewError(service.CodeInvalidInput, "frame too large", err))
		return
	}
	if err := launchFrom(r).CameraFrame(data); err != nil {
		s.cameraFail(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleCameraClip appends one recorder chunk to the clip in progress.
func (s *Server) handleCameraClip(w http.ResponseWriter, r *http.Request) {
	data, err := io.ReadAll(http.MaxBytesReader(w, r.Body, 8<<20))
	if err != nil {
		s.fail(w, service.NewError(service.CodeInvalidInput, "clip chunk too large", err))
		return
	}
	contentType := r.Header.Get("Content-Type")
	if mt, _, err := mime.ParseMediaType(contentType); err == nil {
		contentType = mt
	}
	if err := launchFrom(r).CameraClip(data, contentType); err != nil {
		s.cameraFail(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type zoomRequest struct {
	Value float64 `json:"value"`
}

func (s *Server) handleCameraZoom(w http.ResponseWriter, r *http.Request) {
	var req zoomRequest
	if !s.decode(w, r, &req) {
		return
	}
	o := launchFrom(r)
	if err := o.CameraZoom(req.Value); err != nil {
		s.cameraFail(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, o.Camera())
}

func ignoreCtx(fn func(*orchestrator.Orchestrator) error) func(*orchestrator.Orchestrator, context.Context) error {
	return func(o *orchestrator.Orchestrator, _ context.Context) error { return fn(o) }
}

// cameraAction runs a state transition and returns the resulting view.
func (s *Server) cameraAction(fn func(*orchestrator.Orchestrator, context.Context) error) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		o := launchFrom(r)
		if err := fn(o, r.Context()); err != nil {
			s.cameraFail(w, err)
			return
		}
		s.writeJSON(w, http.StatusOK, o.Camera())
	}
}

func (s *Server) handleCameraConfirm(w http.ResponseWriter, r *http.Request) {
	res, err := launchFrom(r).ConfirmCamera(r.Context())
	if err != nil {
		s.cameraFail(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleCameraClose(w http.ResponseWriter, r *http.Request) {
	if err := launchFrom(r).CloseCamera(); err != nil {
		s.log.Warn("camera close", "err", err)
	}
	w.WriteHeader(http.StatusNoContent)
}

// cameraFail reports out-of-order camera calls as conflicts.
func (s *Server) cameraFail(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, capture.ErrWrongState), errors.Is(err, capture.ErrCameraClosed),
		errors.Is(err, capture.ErrNotRecording), errors.Is(err, capture.ErrNoFrame):
		s.writeError(w, http.StatusConflict, "", err.Error())
	case errors.Is(err, capture.ErrClipTooLarge):
		s.fail(w, service.NewError(service.CodeInvalidInput, "clip too large", err))
	default:
		s.fail(w, err)
	}
}

func (s *Server) handleListDebits(w http.ResponseWriter, r *http.Request) {
	limit := 100
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			http.Error(w, "invalid limit", http.StatusBadRequest)
			return
		}
		limit = n
	}
	debits, err := s.debits.ListPending(r.Context(), limit)
	if err != nil {
		s.internalError(w, err)
		return
	}
	total, err := s.debits.CountPending(r.Context())
	if err != nil {
		s.internalError(w, err)
		return
	}
	dead, err := s.debits.ListFailed(r.Context(), limit)
	if err != nil {
		s.internalError(w, err)
		return
	}
	deadTotal, err := s.debits.CountFailed(r.Context())
	if err != nil {
		s.internalError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"pending":       total,
		"debits":        debits,
		"failed":        deadTotal,
		"failed_debits": dead,
	})
}

func (s *Server) handleFlushDebits(w http.ResponseWriter, r *http.Request) {
	n, err := s.outbox.Flush(r.Context())
	if err != nil {
		s.internalError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]int{"delivered": n})
}

func (s *Server) basicAuthMiddleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			user, pass, ok := r.BasicAuth()
			if !ok || user != s.opts.AdminUsername || pass != s.opts.AdminPassword {
				w.Header().Set("WWW-Authenticate", `Basic realm="postapp"`)
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func (s *Server) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		s.writeError(w, http.StatusBadRequest, service.CodeInvalidInput, "invalid json")
		return false
	}
	return true
}

type errorResponse struct {
	Code    service.ErrorCode `json:"code,omitempty"`
	Message string            `json:"message"`
}

func (s *Server) fail(w http.ResponseWriter, err error) {
	code := service.CodeOf(err)
	status := StatusFor(code)
	if status >= http.StatusInternalServerError {
		s.log.Error("request failed", "code", code, "err", err)
	}
	s.writeError(w, status, code, err.Error())
}

// StatusFor maps an error code to the HTTP status returned to the Mini App.
func StatusFor(code service.ErrorCode) int {
	switch code {
	case service.CodeInvalidInput:
		return http.StatusBadRequest
	case service.CodeInsufficientFunds:
		return http.StatusPaymentRequired
	case service.CodeBusy, service.CodeNotPrepared, service.CodeNoActiveSession:
		return http.StatusConflict
	case service.CodeLedgerUnavailable, service.CodeHardwareUnavailable, service.CodeSessionCreateFailed:
		return http.StatusServiceUnavailable
	case service.CodeBadProviderResponse, service.CodeGenerationFailed:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, code service.ErrorCode, message string) {
	s.writeJSON(w, status, errorResponse{Code: code, Message: message})
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func (s *Server) internalError(w http.ResponseWriter, err error) {
	s.log.Error("admin handler error", "err", err)
	http.Error(w, "internal error", http.StatusInternalServerError)
}
