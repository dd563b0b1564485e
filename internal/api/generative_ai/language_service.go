package generativeAI

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"google.golang.org/genai"

	"github.com/FACorreiaa/go-trip-planner/internal/types"
)

// Generator is the raw model call. *AIClient implements it.
type Generator interface {
	GenerateContent(ctx context.Context, prompt string, config *genai.GenerateContentConfig) (string, error)
}

var (
	_ LanguageService  = (*LanguageServiceImpl)(nil)
	_ IntentClassifier = (*IntentClassifierImpl)(nil)
)

// LanguageService produces text or JSON for a prompt kind and its structured inputs.
type LanguageService interface {
	Generate(ctx context.Context, kind types.PromptKind, inputs map[string]any) (string, error)
}

type IntentClassifier interface {
	Classify(ctx context.Context, text string) (types.IntentSet, error)
}

type LanguageServiceImpl struct {
	logger      *slog.Logger
	gen         Generator
	temperature float32
}

func NewLanguageService(gen Generator, temperature float32, logger *slog.Logger) *LanguageServiceImpl {
	return &LanguageServiceImpl{
		logger:      logger,
		gen:         gen,
		temperature: temperature,
	}
}

// Generate returns prose for conversational kinds and a cleaned JSON document for the rest.
func (s *LanguageServiceImpl) Generate(ctx context.Context, kind types.PromptKind, inputs map[string]any) (string, error) {
	prompt, err := BuildPrompt(kind, inputs)
	if err != nil {
		return "", err
	}

	config := &genai.GenerateContentConfig{Temperature: genai.Ptr[float32](s.temperature)}
	if kind.JSON() {
		config.ResponseMIMEType = "application/json"
	}

	text, err := s.gen.GenerateContent(ctx, prompt, config)
	if err != nil {
		s.logger.ErrorContext(ctx, "Language service call failed", slog.String("kind", string(kind)), slog.Any("error", err))
		return "", fmt.Errorf("generate %s: %w", kind, err)
	}
	if kind.JSON() {
		return CleanJSONResponse(text), nil
	}
	return strings.TrimSpace(text), nil
}

type IntentClassifierImpl struct {
	logger *slog.Logger
	lang   LanguageService
}

func NewIntentClassifier(lang LanguageService, logger *slog.Logger) *IntentClassifierImpl {
	return &IntentClassifierImpl{logger: logger, lang: lang}
}

// Classify returns the recognised intents of text. Labels outside the closed set are dropped,
// and an answer with no recognised label yields {OTHER}.
func (c *IntentClassifierImpl) Classify(ctx context.Context, text string) (types.IntentSet, error) {
	raw, err := c.lang.Generate(ctx, types.PromptIntent, map[string]any{"message": text})
	if err != nil {
		return nil, err
	}

	var out struct {
		Intents []string `json:"intents"`
	}
	if err := DecodeJSON(raw, &out); err != nil {
		return nil, err
	}

	set := types.ParseIntentSet(out.Intents)
	if dropped := len(out.Intents) - len(set); dropped > 0 {
		c.logger.DebugContext(ctx, "Dropped unknown intent labels", slog.Any("labels", out.Intents))
	}
	if len(set) == 0 {
		set.Add(types.IntentOther)
	}
	return set, nil
}
