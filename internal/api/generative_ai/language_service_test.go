package generativeAI

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"google.golang.org/genai"

	"github.com/FACorreiaa/go-trip-planner/internal/types"
)

type MockGenerator struct {
	mock.Mock
}

func (m *MockGenerator) GenerateContent(ctx context.Context, prompt string, config *genai.GenerateContentConfig) (string, error) {
	args := m.Called(ctx, prompt, config)
	return args.String(0), args.Error(1)
}

func setupLanguageServiceTest() (*LanguageServiceImpl, *MockGenerator) {
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelDebug}))
	gen := new(MockGenerator)
	return NewLanguageService(gen, 0.2, logger), gen
}

func TestCleanJSONResponse(t *testing.T) {
	cases := []struct{ in, want string }{
		{in: "```json\n{\"a\":1}\n```", want: `{"a":1}`},
		{in: "```\n{\"a\":1}```", want: `{"a":1}`},
		{in: "Sure! Here it is: {\"a\":{\"b\":2}} hope it helps", want: `{"a":{"b":2}}`},
		{in: "no json here", want: "no json here"},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, CleanJSONResponse(tc.in))
	}
}

func TestBuildPrompt(t *testing.T) {
	prompt, err := BuildPrompt(types.PromptStyleTags, map[string]any{"places": []string{"Kyoto"}})
	require.NoError(t, err)
	assert.Contains(t, prompt, "travel style tags")
	assert.Contains(t, prompt, `"Kyoto"`)

	_, err = BuildPrompt(types.PromptKind("poetry"), nil)
	assert.Error(t, err)
}

func TestLanguageServiceImpl_Generate(t *testing.T) {
	ctx := context.Background()

	t.Run("json kinds request json and are cleaned", func(t *testing.T) {
		svc, gen := setupLanguageServiceTest()
		gen.On("GenerateContent", ctx, mock.Anything, mock.MatchedBy(func(c *genai.GenerateContentConfig) bool {
			return c.ResponseMIMEType == "application/json" && *c.Temperature == float32(0.2)
		})).Return("```json\n{\"tags\":{}}\n```", nil).Once()

		out, err := svc.Generate(ctx, types.PromptStyleTags, nil)
		require.NoError(t, err)
		assert.Equal(t, `{"tags":{}}`, out)
		gen.AssertExpectations(t)
	})

	t.Run("prose kinds are trimmed", func(t *testing.T) {
		svc, gen := setupLanguageServiceTest()
		gen.On("GenerateContent", ctx, mock.MatchedBy(func(p string) bool {
			return strings.Contains(p, "short title")
		}), mock.MatchedBy(func(c *genai.GenerateContentConfig) bool {
			return c.ResponseMIMEType == ""
		})).Return("  Spring in Kyoto \n", nil).Once()

		out, err := svc.Generate(ctx, types.PromptTitle, map[string]any{"message": "Kyoto in April"})
		require.NoError(t, err)
		assert.Equal(t, "Spring in Kyoto", out)
	})

	t.Run("model failure", func(t *testing.T) {
		svc, gen := setupLanguageServiceTest()
		gen.On("GenerateContent", ctx, mock.Anything, mock.Anything).Return("", errors.New("quota")).Once()

		_, err := svc.Generate(ctx, types.PromptAnswer, nil)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "quota")
	})
}

func TestIntentClassifierImpl_Classify(t *testing.T) {
	ctx := context.Background()

	t.Run("drops unknown labels", func(t *testing.T) {
		svc, gen := setupLanguageServiceTest()
		classifier := NewIntentClassifier(svc, svc.logger)
		gen.On("GenerateContent", ctx, mock.Anything, mock.Anything).
			Return(`{"intents":["advance_step","DANCE","MODIFY_PLAN"]}`, nil).Once()

		set, err := classifier.Classify(ctx, "next, and change the plan")
		require.NoError(t, err)
		assert.Len(t, set, 2)
		assert.True(t, set.Has(types.IntentAdvanceStep))
		assert.True(t, set.Has(types.IntentModifyPlan))
	})

	t.Run("nothing recognised becomes other", func(t *testing.T) {
		svc, gen := setupLanguageServiceTest()
		classifier := NewIntentClassifier(svc, svc.logger)
		gen.On("GenerateContent", ctx, mock.Anything, mock.Anything).Return(`{"intents":["SING"]}`, nil).Once()

		set, err := classifier.Classify(ctx, "la la la")
		require.NoError(t, err)
		assert.Equal(t, types.NewIntentSet(types.IntentOther), set)
	})

	t.Run("undecodable output", func(t *testing.T) {
		svc, gen := setupLanguageServiceTest()
		classifier := NewIntentClassifier(svc, svc.logger)
		gen.On("GenerateContent", ctx, mock.Anything, mock.Anything).Return(`{"intents":`, nil).Once()

		_, err := classifier.Classify(ctx, "hmm")
		assert.Error(t, err)
	})
}
