package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/digkill/PostMiniApp/internal/capture"
	"github.com/digkill/PostMiniApp/internal/llm"
	"github.com/digkill/PostMiniApp/internal/metrics"
	"github.com/digkill/PostMiniApp/internal/models"
	"github.com/digkill/PostMiniApp/internal/service"
)

type Kind string

const (
	KindImprovePrompt Kind = "improve_prompt"
	KindCTA           Kind = "cta"
	KindPrepareImage  Kind = "prepare_image"
	KindGenerateImage Kind = "generate_image"
	KindGenerateText  Kind = "generate_text"
	KindAnalyzeURL    Kind = "analyze_url"
	KindAnalyzeFile   Kind = "analyze_file"
	KindTranscribe    Kind = "transcribe"
)

var Kinds = []Kind{
	KindImprovePrompt, KindCTA, KindPrepareImage, KindGenerateImage,
	KindGenerateText, KindAnalyzeURL, KindAnalyzeFile, KindTranscribe,
}

type State string

const (
	StateIdle      State = "idle"
	StateInFlight  State = "in_flight"
	StateSucceeded State = "succeeded"
	StateFailed    State = "failed"
)

type Generator interface {
	ImprovePrompt(ctx context.Context, user *models.User, prompt string) (string, error)
	CTASuggestions(ctx context.Context, user *models.User, prompt string) ([]string, error)
	PrepareImage(ctx context.Context, user *models.User, prompt, priorText string) (llm.ImagePlan, error)
	GenerateText(ctx context.Context, user *models.User, prompt string, params models.TextParams, ac models.AnalysisContext) (string, error)
	GenerateImage(ctx context.Context, user *models.User, in service.ImageInput) (string, error)
}

type Analyzer interface {
	QuoteURL(rawURL string) (service.Quote, error)
	AnalyzeURL(ctx context.Context, user *models.User, rawURL string) (models.AnalysisResult, error)
	AnalyzeFile(ctx context.Context, user *models.User, in service.FileInput) (models.AnalysisResult, error)
}

type SpeechToText interface {
	Transcribe(ctx context.Context, user *models.User, audio []byte, filename string) (string, error)
}

type Balances interface {
	CheckBalance(ctx context.Context, user *models.User) (models.Cents, error)
}

// Notifier delivers results to the user's chat. Errors are logged only.
type Notifier interface {
	SendText(ctx context.Context, chatID int64, text string) error
	SendPhoto(ctx context.Context, chatID int64, url, caption string) error
}

type Deps struct {
	Generation Generator
	Analysis   Analyzer
	Speech     SpeechToText
	Ledger     Balances
	Sessions   service.SessionStore
	Notifier   Notifier
	Metrics    *metrics.Metrics
	Logger     *slog.Logger

	VoiceMaxDuration time.Duration
	VoiceSampleRate  int
}

// OpError is the single user-visible error slot.
type OpError struct {
	Kind    Kind              `json:"kind"`
	Code    service.ErrorCode `json:"code,omitempty"`
	Message string            `json:"message"`
}

// Orchestrator drives the workflow of one Mini App launch. Different kinds
// may run concurrently; the same kind may not.
type Orchestrator struct {
	user     models.User
	deps     Deps
	sessions *service.SessionService
	mic      *capture.ChunkMicrophone
	voice    *capture.VoiceRecorder
	camera   *capture.UploadCamera
	cam      *capture.CameraSession
	log      *slog.Logger

	mu         sync.Mutex
	epoch      int
	states     map[Kind]State
	lastErr    *OpError
	prompt     string
	text       string
	cta        []string
	plan       *llm.ImagePlan
	imageURL   string
	transcript string
	analysis   *models.AnalysisResult
	selected   models.AnalysisContext
	touchedAt  time.Time
}

func New(user models.User, deps Deps) *Orchestrator {
	log := deps.Logger.With("component", "orchestrator", "user_id", user.ID)
	mic := capture.NewChunkMicrophone(deps.VoiceSampleRate, deps.VoiceMaxDuration)
	camera := capture.NewUploadCamera()
	o := &Orchestrator{
		user:      user,
		deps:      deps,
		sessions:  service.NewSessionService(deps.Sessions, deps.Logger),
		mic:       mic,
		voice:     capture.NewVoiceRecorder(mic, capture.VoiceOptions{MaxDuration: deps.VoiceMaxDuration}),
		camera:    camera,
		cam:       capture.NewCameraSession(camera),
		log:       log,
		states:    make(map[Kind]State, len(Kinds)),
		touchedAt: time.Now(),
	}
	for _, k := range Kinds {
		o.states[k] = StateIdle
	}
	return o
}

// Start creates the launch's session. A failure is not fatal; the next
// persisting operation retries the same create.
func (o *Orchestrator) Start(ctx context.Context) error {
	_, err := o.sessions.Create(ctx, &o.user)
	return err
}

func (o *Orchestrator) User() models.User {
	return o.user
}

// begin gates kind and clears the error slot if it belongs to kind.
func (o *Orchestrator) begin(kind Kind) (int, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.touchedAt = time.Now()
	if o.states[kind] == StateInFlight {
		return 0, service.NewError(service.CodeBusy, string(kind)+" already in flight", nil)
	}
	o.states[kind] = StateInFlight
	if o.lastErr != nil && o.lastErr.Kind == kind {
		o.lastErr = nil
	}
	return o.epoch, nil
}

// finish records the outcome. apply runs under the lock only on success and
// only when no Reset happened since begin. It reports whether the result was
// applied; callers persist and notify only then.
func (o *Orchestrator) finish(kind Kind, epoch int, err error, apply func()) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.touchedAt = time.Now()

	status := StateSucceeded
	if err != nil {
		status = StateFailed
	}
	if o.deps.Metrics != nil {
		o.deps.Metrics.Operations.WithLabelValues(string(kind), string(status)).Inc()
	}

	if epoch != o.epoch {
		o.states[kind] = StateIdle
		o.log.Info("result discarded after reset", "kind", kind)
		return false
	}
	o.states[kind] = status
	if err != nil {
		o.lastErr = &OpError{Kind: kind, Code: service.CodeOf(err), Message: userMessage(err, o.user.Locale)}
		o.log.Warn("operation failed", "kind", kind, "error", err)
		return false
	}
	if apply != nil {
		apply()
	}
	return true
}

func (o *Orchestrator) fail(kind Kind, err error) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.lastErr = &OpError{Kind: kind, Code: service.CodeOf(err), Message: userMessage(err, o.user.Locale)}
	return err
}

func (o *Orchestrator) ImprovePrompt(ctx context.Context, prompt string) (string, error) {
	epoch, err := o.begin(KindImprovePrompt)
	if err != nil {
		return prompt, err
	}
	improved, err := o.deps.Generation.ImprovePrompt(ctx, &o.user, prompt)
	applied := o.finish(KindImprovePrompt, epoch, err, func() { o.prompt = improved })
	if err != nil {
		return prompt, err
	}
	if applied {
		o.persist(ctx, models.SessionPatch{Prompt: &improved})
	}
	return improved, nil
}

func (o *Orchestrator) CTASuggestions(ctx context.Context, prompt string) ([]string, error) {
	epoch, err := o.begin(KindCTA)
	if err != nil {
		return nil, err
	}
	suggestions, err := o.deps.Generation.CTASuggestions(ctx, &o.user, prompt)
	o.finish(KindCTA, epoch, err, func() { o.cta = suggestions })
	return suggestions, err
}

// PrepareImage is the first phase of image generation. The plan stays
// editable until ConfirmImage.
func (o *Orchestrator) PrepareImage(ctx context.Context, prompt string) (llm.ImagePlan, error) {
	epoch, err := o.begin(KindPrepareImage)
	if err != nil {
		return llm.ImagePlan{}, err
	}
	o.mu.Lock()
	prior := o.text
	o.mu.Unlock()

	plan, err := o.deps.Generation.PrepareImage(ctx, &o.user, prompt, prior)
	o.finish(KindPrepareImage, epoch, err, func() {
		o.plan = &plan
		o.prompt = prompt
	})
	return plan, err
}

// ImageEdit carries the user's edits between the two phases. Nil fields keep
// the prepared value.
type ImageEdit struct {
	Scene    *string
	Captions *string
	Params   models.ImageParams
}

// ConfirmImage runs the second phase. It fails with NOT_PREPARED when no plan
// was prepared in this launch.
func (o *Orchestrator) ConfirmImage(ctx context.Context, edit ImageEdit) (string, error) {
	o.mu.Lock()
	plan := o.plan
	ac := o.selected
	o.mu.Unlock()
	if plan == nil {
		return "", o.fail(KindGenerateImage, service.NewError(service.CodeNotPrepared, "confirm before prepare", nil))
	}

	in := service.ImageInput{Scene: plan.Scene, Captions: plan.Captions, Params: edit.Params, Context: ac}
	if edit.Scene != nil {
		in.Scene = strings.TrimSpace(*edit.Scene)
	}
	if edit.Captions != nil {
		in.Captions = strings.TrimSpace(*edit.Captions)
	}

	epoch, err := o.begin(KindGenerateImage)
	if err != nil {
		return "", err
	}
	url, err := o.deps.Generation.GenerateImage(ctx, &o.user, in)
	applied := o.finish(KindGenerateImage, epoch, err, func() {
		o.imageURL = url
		o.plan = &llm.ImagePlan{Scene: in.Scene, Captions: in.Captions}
	})
	if err != nil {
		return "", err
	}
	if !applied {
		return url, nil
	}

	o.persist(ctx, models.SessionPatch{ImageURL: &url, Artifacts: []string{url}})
	o.notify(func(n Notifier) error { return n.SendPhoto(ctx, o.user.ChatID, url, in.Captions) })
	return url, nil
}

func (o *Orchestrator) GenerateText(ctx context.Context, prompt string, params models.TextParams) (string, error) {
	epoch, err := o.begin(KindGenerateText)
	if err != nil {
		return "", err
	}
	o.mu.Lock()
	ac := o.selected
	o.mu.Unlock()

	text, err := o.deps.Generation.GenerateText(ctx, &o.user, prompt, params, ac)
	applied := o.finish(KindGenerateText, epoch, err, func() {
		o.text = text
		o.prompt = prompt
	})
	if err != nil {
		return "", err
	}
	if !applied {
		return text, nil
	}

	completed := models.SessionCompleted
	o.persist(ctx, models.SessionPatch{Status: &completed, Prompt: &prompt, GeneratedText: &text})
	o.notify(func(n Notifier) error { return n.SendText(ctx, o.user.ChatID, text) })
	return text, nil
}

func (o *Orchestrator) QuoteURL(rawURL string) (service.Quote, error) {
	return o.deps.Analysis.QuoteURL(rawURL)
}

func (o *Orchestrator) AnalyzeURL(ctx context.Context, rawURL string) (models.AnalysisResult, error) {
	epoch, err := o.begin(KindAnalyzeURL)
	if err != nil {
		return models.AnalysisResult{}, err
	}
	res, err := o.deps.Analysis.AnalyzeURL(ctx, &o.user, rawURL)
	applied := o.finish(KindAnalyzeURL, epoch, err, func() { o.analysis = &res })
	if err != nil {
		return models.AnalysisResult{}, err
	}
	if applied {
		o.persist(ctx, models.SessionPatch{SourceURL: &res.SourceURL, ScrapedData: res.Map()})
	}
	return res, nil
}

// AnalyzeCapture analyses a confirmed photo, clip or uploaded file.
func (o *Orchestrator) AnalyzeCapture(ctx context.Context, name string, c capture.Capture) (models.AnalysisResult, error) {
	epoch, err := o.begin(KindAnalyzeFile)
	if err != nil {
		return models.AnalysisResult{}, err
	}
	res, err := o.deps.Analysis.AnalyzeFile(ctx, &o.user, service.FileInput{Name: name, ContentType: c.ContentType, Data: c.Data})
	applied := o.finish(KindAnalyzeFile, epoch, err, func() { o.analysis = &res })
	if err != nil {
		return models.AnalysisResult{}, err
	}
	if applied {
		o.persist(ctx, models.SessionPatch{ScrapedData: res.Map()})
	}
	return res, nil
}

// SetContext attaches the chosen facets of the latest analysis to later
// generations.
func (o *Orchestrator) SetContext(facets []models.Facet) (models.AnalysisContext, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.analysis == nil {
		return models.AnalysisContext{}, service.NewError(service.CodeInvalidInput, "no analysis to select from", nil)
	}
	o.selected = models.ContextFrom(*o.analysis, facets)
	return o.selected, nil
}

func (o *Orchestrator) ClearContext() {
	o.mu.Lock()
	o.selected = models.AnalysisContext{}
	o.mu.Unlock()
}

func (o *Orchestrator) StartVoice(ctx context.Context) error {
	if err := o.voice.Start(ctx); err != nil {
		if errors.Is(err, service.ErrHardwareUnavailable) {
			return o.fail(KindTranscribe, err)
		}
		return err
	}
	return nil
}

func (o *Orchestrator) VoiceChunk(pcm []byte) error {
	return o.mic.Write(pcm)
}

func (o *Orchestrator) VoiceLevels() []float64 {
	return o.voice.Levels()
}

// StopVoice ends the capture, including one that already stopped at the
// duration cap, and transcribes it.
func (o *Orchestrator) StopVoice(ctx context.Context) (string, error) {
	rec, err := o.voice.Stop()
	if err != nil {
		return "", o.fail(KindTranscribe, service.NewError(service.CodeInvalidInput, "no voice recording", err))
	}

	epoch, err := o.begin(KindTranscribe)
	if err != nil {
		return "", err
	}
	text, err := o.deps.Speech.Transcribe(ctx, &o.user, rec.Audio, rec.Filename)
	o.finish(KindTranscribe, epoch, err, func() { o.transcript = text })
	return text, err
}

func (o *Orchestrator) Balance(ctx context.Context) (models.Cents, error) {
	return o.deps.Ledger.CheckBalance(ctx, &o.user)
}

// Reset clears results, the error slot and the analysis context. The session
// is kept. Operations in flight at the time finish without touching state.
func (o *Orchestrator) Reset() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.epoch++
	o.lastErr = nil
	o.prompt = ""
	o.text = ""
	o.cta = nil
	o.plan = nil
	o.imageURL = ""
	o.transcript = ""
	o.analysis = nil
	o.selected = models.AnalysisContext{}
	for k, st := range o.states {
		if st != StateInFlight {
			o.states[k] = StateIdle
		}
	}
	o.touchedAt = time.Now()
}

// Close releases capture hardware.
func (o *Orchestrator) Close() error {
	return errors.Join(o.voice.Close(), o.cam.Close())
}

func (o *Orchestrator) idleSince() time.Time {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.touchedAt
}

// persist writes patch to the session, creating the session first if the
// initial create failed. Failures never fail the operation.
func (o *Orchestrator) persist(ctx context.Context, patch models.SessionPatch) {
	if _, ok := o.sessions.Current(); !ok {
		if _, err := o.sessions.Create(ctx, &o.user); err != nil {
			o.log.Warn("session unavailable, result not persisted", "error", err)
			return
		}
	}
	if _, err := o.sessions.Update(ctx, patch); err != nil {
		o.log.Warn("persist session failed", "error", err)
		o.deps.Metrics.Error("session")
	}
}

func (o *Orchestrator) notify(send func(Notifier) error) {
	if o.deps.Notifier == nil || o.user.ChatID == 0 {
		return
	}
	if err := send(o.deps.Notifier); err != nil {
		o.log.Warn("chat notification failed", "chat_id", o.user.ChatID, "error", err)
	}
}

type Snapshot struct {
	SessionID   int64                  `json:"session_id,omitempty"`
	States      map[Kind]State         `json:"states"`
	Error       *OpError               `json:"error,omitempty"`
	Prompt      string                 `json:"prompt,omitempty"`
	Text        string                 `json:"text,omitempty"`
	CTA         []string               `json:"cta,omitempty"`
	Plan        *llm.ImagePlan         `json:"image_plan,omitempty"`
	ImageURL    string                 `json:"image_url,omitempty"`
	Transcript  string                 `json:"transcript,omitempty"`
	Analysis    *models.AnalysisResult `json:"analysis,omitempty"`
	Context     models.AnalysisContext `json:"context"`
	Recording   bool                   `json:"recording"`
	VoiceLevels []float64              `json:"voice_levels,omitempty"`
}

func (o *Orchestrator) Snapshot() Snapshot {
	var sessionID int64
	if s, ok := o.sessions.Current(); ok {
		sessionID = s.ID
	}
	recording := o.voice.Recording()
	levels := o.voice.Levels()

	o.mu.Lock()
	defer o.mu.Unlock()
	states := make(map[Kind]State, len(o.states))
	for k, v := range o.states {
		states[k] = v
	}
	snap := Snapshot{
		SessionID:   sessionID,
		States:      states,
		Prompt:      o.prompt,
		Text:        o.text,
		CTA:         append([]string(nil), o.cta...),
		ImageURL:    o.imageURL,
		Transcript:  o.transcript,
		Context:     o.selected,
		Recording:   recording,
		VoiceLevels: levels,
	}
	if o.lastErr != nil {
		e := *o.lastErr
		snap.Error = &e
	}
	if o.plan != nil {
		p := *o.plan
		snap.Plan = &p
	}
	if o.analysis != nil {
		a := *o.analysis
		snap.Analysis = &a
	}
	return snap
}

var messages = map[models.Locale]map[service.ErrorCode]string{
	models.LocaleEN: {
		service.CodeInvalidInput:        "Please check your input and try again.",
		service.CodeInsufficientFunds:   "Not enough balance. Top up in the bot and try again.",
		service.CodeLedgerUnavailable:   "Could not check your balance. Try again later.",
		service.CodeBadProviderResponse: "The service returned an unexpected response. Try again.",
		service.CodeGenerationFailed:    "Generation failed. Try again.",
		service.CodeSessionCreateFailed: "Could not start a session. Results will not be saved.",
		service.CodeNoActiveSession:     "No active session.",
		service.CodeHardwareUnavailable: "Camera or microphone is not available.",
		service.CodeBusy:                "This action is already running.",
		service.CodeNotPrepared:         "Prepare the image first.",
	},
	models.LocaleRU: {
		service.CodeInvalidInput:        "Проверьте введённые данные и попробуйте снова.",
		service.CodeInsufficientFunds:   "Недостаточно средств. Пополните баланс в боте.",
		service.CodeLedgerUnavailable:   "Не удалось проверить баланс. Попробуйте позже.",
		service.CodeBadProviderResponse: "Сервис вернул неожиданный ответ. Попробуйте снова.",
		service.CodeGenerationFailed:    "Не удалось сгенерировать. Попробуйте снова.",
		service.CodeSessionCreateFailed: "Не удалось создать сессию. Результаты не сохранятся.",
		service.CodeNoActiveSession:     "Нет активной сессии.",
		service.CodeHardwareUnavailable: "Камера или микрофон недоступны.",
		service.CodeBusy:                "Это действие уже выполняется.",
		service.CodeNotPrepared:         "Сначала подготовьте изображение.",
	},
}

func userMessage(err error, locale models.Locale) string {
	byCode, ok := messages[locale]
	if !ok {
		byCode = messages[models.LocaleEN]
	}
	if msg, ok := byCode[service.CodeOf(err)]; ok {
		return msg
	}
	return fmt.Sprintf("%s: %v", byCode[service.CodeGenerationFailed], err)
}
