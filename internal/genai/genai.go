// Package genai provides OpenAI-backed classification and speech synthesis.
//
// The classifier is used when no remote classify endpoint is configured; it asks the model for a
// structured verdict constrained by a JSON schema and never fails, falling back to the query flow.
package genai

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"unicode/utf8"

	"github.com/BTreeMap/ClassAssist/internal/models"
	"github.com/invopop/jsonschema"
	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

const (
	// DefaultModel is used when neither WithModel nor OPENAI_MODEL is set.
	DefaultModel = "gpt-4o-mini"
	// FallbackFlow and FallbackConfidence are returned whenever classification fails.
	FallbackFlow       = "query"
	FallbackConfidence = 0.8
	// MaxSpeechInput is the longest text accepted by the speech endpoint.
	MaxSpeechInput = 4096
)

// Opts holds configuration options for the GenAI client.
type Opts struct {
	APIKey     string
	BaseURL    string
	Model      string
	MaxRetries *int
}

// Option defines a configuration option for the GenAI client.
type Option func(*Opts)

// WithAPIKey overrides the OPENAI_API_KEY environment variable.
func WithAPIKey(key string) Option {
	return func(o *Opts) { o.APIKey = key }
}

// WithBaseURL points the client at an OpenAI-compatible endpoint.
func WithBaseURL(url string) Option {
	return func(o *Opts) { o.BaseURL = url }
}

// WithModel sets the chat model used for classification.
func WithModel(model string) Option {
	return func(o *Opts) { o.Model = model }
}

// WithMaxRetries sets the SDK retry count.
func WithMaxRetries(n int) Option {
	return func(o *Opts) { o.MaxRetries = &n }
}

// Client wraps the OpenAI chat and audio services.
type Client struct {
	oa    openai.Client
	model string
}

// NewClient initializes a GenAI client. The API key falls back to OPENAI_API_KEY and the model to
// OPENAI_MODEL.
func NewClient(opts ...Option) (*Client, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.APIKey == "" {
		cfg.APIKey = os.Getenv("OPENAI_API_KEY")
	}
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("OPENAI_API_KEY not set")
	}
	if cfg.Model == "" {
		cfg.Model = os.Getenv("OPENAI_MODEL")
	}
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}

	reqOpts := []option.RequestOption{option.WithAPIKey(cfg.APIKey)}
	if cfg.BaseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(cfg.BaseURL))
	}
	if cfg.MaxRetries != nil {
		reqOpts = append(reqOpts, option.WithMaxRetries(*cfg.MaxRetries))
	}
	slog.Debug("GenAI.NewClient: client created", "model", cfg.Model, "customBaseURL", cfg.BaseURL != "")
	return &Client{oa: openai.NewClient(reqOpts...), model: cfg.Model}, nil
}

// Entity is one key/value pair extracted from the utterance.
type Entity struct {
	Name  string `json:"name" jsonschema:"description=entity name such as class or section or date"`
	Value string `json:"value"`
}

// Verdict is the structured classification the model must return.
type Verdict struct {
	Flow       string   `json:"flow" jsonschema:"enum=query,enum=attendance,enum=voice_attendance,enum=full_voice_attendance,enum=leave,enum=leave_approval,enum=assignment,enum=course_progress"`
	Confidence float64  `json:"confidence" jsonschema:"minimum=0,maximum=1"`
	Entities   []Entity `json:"entities"`
}

var verdictSchema = generateSchema[Verdict]()

func generateSchema[T any]() any {
	reflector := jsonschema.Reflector{
		AllowAdditionalProperties: false,
		DoNotReference:            true,
	}
	var v T
	return reflector.Reflect(v)
}

const classifierPrompt = `You route messages from school teachers to one of these flows:
query: questions about students, classes, fees or schedules
attendance: marking attendance by typing or uploading a register
voice_attendance: marking attendance by dictating one class
full_voice_attendance: a hands-free voice session covering class details and students
leave: the teacher applies for their own leave
leave_approval: reviewing or approving pending leave requests
assignment: creating or submitting an assignment
course_progress: syllabus or course progress for a class section
Return the best flow, your confidence between 0 and 1, and any class, section or date you see.`

// Classify returns the model's verdict for the utterance. It never fails: any error yields the
// query flow with confidence 0.8 and no entities.
func (c *Client) Classify(ctx context.Context, utterance, userID string, roles []string) models.ClassificationResult {
	fallback := models.ClassificationResult{Flow: FallbackFlow, Confidence: FallbackConfidence, Entities: map[string]any{}}

	user := utterance
	if len(roles) > 0 {
		user = fmt.Sprintf("Roles: %s\nMessage: %s", strings.Join(roles, ", "), utterance)
	}
	params := openai.ChatCompletionNewParams{
		Model: c.model,
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(classifierPrompt),
			openai.UserMessage(user),
		},
		Temperature: openai.Float(0),
		ResponseFormat: openai.ChatCompletionNewParamsResponseFormatUnion{
			OfJSONSchema: &openai.ResponseFormatJSONSchemaParam{
				JSONSchema: openai.ResponseFormatJSONSchemaJSONSchemaParam{
					Name:   "flow_classification",
					Schema: verdictSchema,
					Strict: openai.Bool(true),
				},
			},
		},
	}

	slog.Debug("GenAI.Classify: requesting classification", "userID", userID, "utteranceLen", len(utterance))
	resp, err := c.oa.Chat.Completions.New(ctx, params)
	if err != nil {
		slog.Warn("GenAI.Classify: completion failed, using fallback", "error", err)
		return fallback
	}
	if len(resp.Choices) == 0 {
		slog.Warn("GenAI.Classify: no choices returned, using fallback")
		return fallback
	}
	var v Verdict
	if err := json.Unmarshal([]byte(resp.Choices[0].Message.Content), &v); err != nil {
		slog.Warn("GenAI.Classify: malformed verdict, using fallback", "error", err)
		return fallback
	}
	if strings.TrimSpace(v.Flow) == "" {
		return fallback
	}
	entities := make(map[string]any, len(v.Entities))
	for _, e := range v.Entities {
		if e.Name != "" {
			entities[e.Name] = e.Value
		}
	}
	slog.Debug("GenAI.Classify: classified", "flow", v.Flow, "confidence", v.Confidence)
	return models.ClassificationResult{Flow: v.Flow, Confidence: v.Confidence, Entities: entities}
}

// truncateUTF8 cuts s to at most limit bytes without splitting a rune.
func truncateUTF8(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	cut := limit
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut]
}

// Speech synthesizes text to MP3 and drains the streamed payload before returning it.
func (c *Client) Speech(ctx context.Context, text string) ([]byte, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, fmt.Errorf("speech text is empty")
	}
	text = truncateUTF8(text, MaxSpeechInput)
	resp, err := c.oa.Audio.Speech.New(ctx, openai.AudioSpeechNewParams{
		Input:          text,
		Model:          openai.SpeechModelTTS1,
		Voice:          openai.AudioSpeechNewParamsVoiceAlloy,
		ResponseFormat: openai.AudioSpeechNewParamsResponseFormatMP3,
	})
	if err != nil {
		return nil, fmt.Errorf("openai speech: %w", err)
	}
	defer resp.Body.Close()
	audio, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read speech payload: %w", err)
	}
	slog.Debug("GenAI.Speech: synthesized", "bytes", len(audio))
	return audio, nil
}
