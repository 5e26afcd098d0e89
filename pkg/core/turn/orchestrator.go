// Package turn runs one request/response chat turn: classify the prompt, pick
// tools, stream the reply into a growing bot message, then persist it once.
//
// Callers must not run two turns on the same conversation concurrently.
package turn

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/vango-go/vai-jarvis/pkg/core"
	"github.com/vango-go/vai-jarvis/pkg/core/device"
	"github.com/vango-go/vai-jarvis/pkg/core/retry"
	"github.com/vango-go/vai-jarvis/pkg/core/stream"
	"github.com/vango-go/vai-jarvis/pkg/core/types"
	"github.com/vango-go/vai-jarvis/pkg/core/voice"
)

const (
	DefaultLocateTimeout = 5 * time.Second
	DefaultMapOpenDelay  = time.Second
)

// Outcomes reported to a Recorder.
const (
	OutcomeOK        = "ok"
	OutcomeFailed    = "failed"
	OutcomeCancelled = "cancelled"
)

// Deps are the collaborators of an Orchestrator. Model and Conversations are
// required; the rest may be nil.
type Deps struct {
	Model         Model
	Conversations ConversationStore
	Preferences   PreferenceStore
	Speaker       Speaker
	Geolocator    Geolocator
	Links         LinkOpener
	Devices       device.Executor
	Recorder      Recorder
}

// Orchestrator runs chat turns.
type Orchestrator struct {
	deps          Deps
	persona       Persona
	retry         retry.Policy
	logger        *slog.Logger
	locateTimeout time.Duration
	mapOpenDelay  time.Duration
	afterFunc     func(time.Duration, func())
	now           func() time.Time
}

type Option func(*Orchestrator)

func WithLogger(l *slog.Logger) Option {
	return func(o *Orchestrator) {
		if l != nil {
			o.logger = l
		}
	}
}

func WithPersona(p Persona) Option {
	return func(o *Orchestrator) { o.persona = p }
}

func WithRetryPolicy(p retry.Policy) Option {
	return func(o *Orchestrator) { o.retry = p }
}

func WithLocateTimeout(d time.Duration) Option {
	return func(o *Orchestrator) {
		if d > 0 {
			o.locateTimeout = d
		}
	}
}

// WithAfterFunc replaces time.AfterFunc for the delayed map open.
func WithAfterFunc(f func(time.Duration, func())) Option {
	return func(o *Orchestrator) {
		if f != nil {
			o.afterFunc = f
		}
	}
}

// WithClock replaces time.Now for conversation timestamps.
func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) {
		if now != nil {
			o.now = now
		}
	}
}

func New(deps Deps, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		deps:          deps,
		persona:       DefaultPersona(),
		retry:         retry.DefaultPolicy(),
		logger:        slog.Default(),
		locateTimeout: DefaultLocateTimeout,
		mapOpenDelay:  DefaultMapOpenDelay,
		afterFunc:     func(d time.Duration, f func()) { time.AfterFunc(d, f) },
		now:           time.Now,
	}
	for _, opt := range opts {
		opt(o)
	}
	if o.retry.Logger == nil {
		o.retry.Logger = o.logger
	}
	if rec := deps.Recorder; rec != nil && o.retry.OnRetry == nil {
		o.retry.OnRetry = func(op string, _ int, _ time.Duration, _ error) { rec.RemoteRetry(op) }
	}
	return o
}

// Request is one user input.
type Request struct {
	// ConversationID selects an existing conversation; empty starts a new one.
	ConversationID string
	Prompt         string
	Image          *types.Image
	Preferences    types.Preferences

	// OnAnalysis, if set, receives the classifier result before the reply.
	OnAnalysis func(types.Analysis)

	// OnUpdate receives a copy of the bot message after every change.
	OnUpdate func(types.Message)
}

// Result is the settled turn. Err carries a reply failure that was mapped to
// the bot's text; Run itself only fails for bad input or persistence.
type Result struct {
	Conversation *types.Conversation
	Message      types.Message
	Analysis     types.Analysis
	Err          error
}

// Run executes one turn and persists the conversation exactly once.
func (o *Orchestrator) Run(ctx context.Context, req Request) (*Result, error) {
	if o == nil || o.deps.Model == nil || o.deps.Conversations == nil {
		return nil, errors.New("turn: model and conversation store are required")
	}
	if strings.TrimSpace(req.Prompt) == "" && req.Image == nil {
		return nil, core.NewInvalidRequestError("prompt or image is required")
	}
	if o.deps.Speaker != nil {
		o.deps.Speaker.Cancel()
	}

	conv, isNew, err := o.load(ctx, req.ConversationID)
	if err != nil {
		return nil, err
	}
	started := o.now()
	history := conv.Messages

	user := types.Message{ID: types.NewMessageID(), Sender: types.SenderUser, Text: req.Prompt, Image: req.Image}
	bot := types.Message{ID: types.NewMessageID(), Sender: types.SenderBot}
	emit := func() {
		if req.OnUpdate != nil {
			req.OnUpdate(bot.Clone())
		}
	}
	emit()

	analysis := o.classify(ctx, req.Prompt)
	if req.OnAnalysis != nil {
		req.OnAnalysis(analysis)
	}

	imaged, turnErr := o.reply(ctx, req, analysis, history, &bot, emit)
	outcome := OutcomeOK
	switch {
	case turnErr == nil && imaged:
		// Generated images are shown, not spoken.
	case turnErr == nil:
		o.afterReply(ctx, req, analysis, bot)
	case errors.Is(turnErr, context.Canceled) || errors.Is(turnErr, context.DeadlineExceeded):
		outcome = OutcomeCancelled
		o.logger.Info("turn cancelled", "conversation_id", conv.ID, "error", turnErr)
	default:
		outcome = OutcomeFailed
		o.logger.Error("turn failed", "conversation_id", conv.ID, "intent", analysis.Intent, "error", turnErr)
		bot.Text = FailureReply(turnErr)
		emit()
	}

	now := o.now()
	if isNew {
		conv.Title = types.TitleFromPrompt(req.Prompt)
		conv.CreatedAt = now
	}
	conv.UpdatedAt = now
	conv.Messages = append(append(make([]types.Message, 0, len(history)+2), history...), user, bot)

	if err := o.deps.Conversations.Save(context.WithoutCancel(ctx), conv); err != nil {
		return nil, err
	}
	if o.deps.Recorder != nil {
		o.deps.Recorder.TurnCompleted(analysis.Intent, outcome, now.Sub(started).Seconds())
	}
	return &Result{Conversation: conv, Message: bot, Analysis: analysis, Err: turnErr}, nil
}

func (o *Orchestrator) load(ctx context.Context, id string) (*types.Conversation, bool, error) {
	if id == "" {
		return &types.Conversation{ID: types.NewConversationID()}, true, nil
	}
	conv, err := o.deps.Conversations.Get(ctx, id)
	if err != nil {
		return nil, false, err
	}
	return conv, false, nil
}

func (o *Orchestrator) classify(ctx context.Context, prompt string) types.Analysis {
	a, err := retry.Execute(ctx, o.retry, "classify", func(ctx context.Context) (types.Analysis, error) {
		return o.deps.Model.Classify(ctx, prompt)
	})
	if err != nil {
		o.logger.Debug("classification failed, using default", "error", core.Wrap(core.ErrClassification, "classify prompt", err))
		return types.DefaultAnalysis()
	}
	if !a.Intent.Valid() {
		a.Intent = types.IntentTextGeneration
	}
	if a.DetectedLanguageCode == "" {
		a.DetectedLanguageCode = types.DefaultLanguageCode
	}
	return a
}

// reply fills bot from the model. imaged reports that the turn took the
// image generation branch.
func (o *Orchestrator) reply(ctx context.Context, req Request, a types.Analysis, history []types.Message, bot *types.Message, emit func()) (imaged bool, err error) {
	if a.Intent == types.IntentImageGeneration && a.ImagePrompt != "" {
		img, err := retry.Execute(ctx, o.retry, "generate_image", func(ctx context.Context) (*types.Image, error) {
			return o.deps.Model.GenerateImage(ctx, a.ImagePrompt)
		})
		if err != nil {
			return true, err
		}
		bot.Text = ImageReply
		bot.Image = img
		emit()
		return true, nil
	}
	return false, o.streamReply(ctx, req, a, history, bot, emit)
}

func (o *Orchestrator) streamReply(ctx context.Context, req Request, a types.Analysis, history []types.Message, bot *types.Message, emit func()) error {
	sreq := StreamRequest{
		Contents:          BuildContents(history, req.Prompt, req.Image),
		SystemInstruction: SystemInstruction(o.persona, req.Preferences),
		Tools:             o.tools(ctx, a),
	}
	s, err := retry.Execute(ctx, o.retry, "stream_reply", func(ctx context.Context) (types.FragmentStream, error) {
		return o.deps.Model.Stream(ctx, sreq)
	})
	if err != nil {
		return err
	}
	defer s.Close()

	acc := stream.NewAccumulator()
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		frag, err := s.Next()
		if frag.Text != "" || len(frag.Citations) > 0 || len(frag.FunctionCalls) > 0 {
			snap := acc.Apply(frag)
			bot.Text = snap.Text
			bot.Sources = snap.Citations
			for _, call := range snap.FunctionCalls[len(bot.Actions):] {
				bot.Actions = append(bot.Actions, device.Invoke(ctx, o.deps.Devices, call))
			}
			emit()
		}
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}
	}
}

func (o *Orchestrator) tools(ctx context.Context, a types.Analysis) types.ToolConfig {
	switch a.Intent {
	case types.IntentDeviceControl:
		return types.ToolConfig{Functions: device.Tools()}
	case types.IntentLocationQuery:
		return types.ToolConfig{Maps: true, WebSearch: true, Location: o.locate(ctx)}
	default:
		return types.ToolConfig{WebSearch: true}
	}
}

func (o *Orchestrator) locate(ctx context.Context) *types.Location {
	if o.deps.Geolocator == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, o.locateTimeout)
	defer cancel()
	loc, err := o.deps.Geolocator.Locate(ctx)
	if err != nil {
		o.logger.Warn("geolocation unavailable", "error", err)
		return nil
	}
	return loc
}

func (o *Orchestrator) afterReply(ctx context.Context, req Request, a types.Analysis, bot types.Message) {
	if a.IsSetLocationCommand && o.deps.Links != nil {
		for _, c := range bot.Sources {
			if c.Kind != types.CitationMap || c.URI == "" {
				continue
			}
			uri := c.URI
			o.afterFunc(o.mapOpenDelay, func() {
				if err := o.deps.Links.Open(uri); err != nil {
					o.logger.Warn("open map failed", "uri", uri, "error", err)
				}
			})
			break
		}
	}

	if req.Preferences.VoiceOutputEnabled && o.deps.Speaker != nil {
		prefs := req.Preferences
		err := o.deps.Speaker.Speak(context.WithoutCancel(ctx), voice.StripMarkdown(bot.Text), prefs.SelectedLanguage, prefs.SelectedVoiceURI)
		switch {
		case err == nil:
		case core.IsType(err, core.ErrVoiceUnavailable):
			o.logger.Debug("speech skipped", "error", err)
		default:
			o.logger.Warn("speech failed", "error", err)
		}
	}
}

// RefreshMemory folds a conversation into the long-term memory notes and
// stores the result as a preference.
func (o *Orchestrator) RefreshMemory(ctx context.Context, conversationID string) (string, error) {
	if o.deps.Preferences == nil {
		return "", errors.New("turn: preference store is required")
	}
	conv, err := o.deps.Conversations.Get(ctx, conversationID)
	if err != nil {
		return "", err
	}
	prefs, err := o.deps.Preferences.Load(ctx)
	if err != nil {
		return "", err
	}
	transcript := MemoryTranscript(o.persona, conv.Messages)
	if transcript == "" {
		return prefs.LongTermMemory, nil
	}
	mem, err := retry.Execute(ctx, o.retry, "update_memory", func(ctx context.Context) (string, error) {
		return o.deps.Model.UpdateMemory(ctx, prefs.LongTermMemory, transcript)
	})
	if err != nil {
		return "", err
	}
	mem = strings.TrimSpace(mem)
	if err := o.deps.Preferences.Save(ctx, types.PrefLongTermMemory, mem); err != nil {
		return "", err
	}
	return mem, nil
}
