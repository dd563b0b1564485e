package survey

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/FACorreiaa/go-trip-planner/internal/types"
)

type MockSurveyRepository struct {
	mock.Mock
}

func (m *MockSurveyRepository) GetConsentStatus(ctx context.Context, userID string) (types.ConsentStatus, error) {
	args := m.Called(ctx, userID)
	return args.Get(0).(types.ConsentStatus), args.Error(1)
}

func (m *MockSurveyRepository) SaveConsent(ctx context.Context, userID, consentHash string, expireAt time.Time) error {
	return m.Called(ctx, userID, consentHash, expireAt).Error(0)
}

func (m *MockSurveyRepository) SaveSurveyResponse(ctx context.Context, userID string, response types.SurveyResponse) error {
	return m.Called(ctx, userID, response).Error(0)
}

func setupSurveyServiceTest(retention time.Duration) (*ServiceImpl, *MockSurveyRepository) {
	repo := new(MockSurveyRepository)
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelDebug}))
	return NewService(repo, retention, logger), repo
}

func fullResponse(answer int) types.SurveyResponse {
	answers := make([]int, types.SurveyQuestionCount)
	for i := range answers {
		answers[i] = answer
	}
	return types.SurveyResponse{Answers: answers, ImprovementSuggestion: "more food spots"}
}

func TestServiceImpl_SaveConsent(t *testing.T) {
	ctx := context.Background()
	fixed := time.Date(2026, 10, 1, 12, 0, 0, 0, time.UTC)

	t.Run("expires after the retention period", func(t *testing.T) {
		service, repo := setupSurveyServiceTest(48 * time.Hour)
		service.now = func() time.Time { return fixed }
		repo.On("SaveConsent", mock.Anything, "user-1", "sha256:abc", fixed.Add(48*time.Hour)).Return(nil).Once()

		require.NoError(t, service.SaveConsent(ctx, "user-1", "sha256:abc"))
		repo.AssertExpectations(t)
	})

	t.Run("zero retention uses the default", func(t *testing.T) {
		service, repo := setupSurveyServiceTest(0)
		service.now = func() time.Time { return fixed }
		repo.On("SaveConsent", mock.Anything, "user-1", "", fixed.Add(DefaultRetention)).Return(nil).Once()

		require.NoError(t, service.SaveConsent(ctx, "user-1", ""))
		repo.AssertExpectations(t)
	})

	t.Run("store failure", func(t *testing.T) {
		service, repo := setupSurveyServiceTest(time.Hour)
		repo.On("SaveConsent", mock.Anything, "user-1", "h", mock.Anything).Return(errors.New("db down")).Once()

		assert.Error(t, service.SaveConsent(ctx, "user-1", "h"))
	})

	t.Run("missing user", func(t *testing.T) {
		service, repo := setupSurveyServiceTest(time.Hour)
		assert.ErrorIs(t, service.SaveConsent(ctx, "", "h"), ErrMissingUser)
		repo.AssertNotCalled(t, "SaveConsent", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	})
}

func TestServiceImpl_SaveResponse(t *testing.T) {
	ctx := context.Background()

	t.Run("valid response is stored", func(t *testing.T) {
		service, repo := setupSurveyServiceTest(time.Hour)
		response := fullResponse(4)
		repo.On("SaveSurveyResponse", mock.Anything, "user-1", response).Return(nil).Once()

		require.NoError(t, service.SaveResponse(ctx, "user-1", response))
		repo.AssertExpectations(t)
	})

	t.Run("rejects bad answers", func(t *testing.T) {
		service, repo := setupSurveyServiceTest(time.Hour)
		for name, response := range map[string]types.SurveyResponse{
			"too few answers": {Answers: []int{5, 5}},
			"out of scale":    fullResponse(6),
			"zero":            fullResponse(0),
		} {
			err := service.SaveResponse(ctx, "user-1", response)
			assert.ErrorIs(t, err, ErrInvalidResponse, name)
		}
		repo.AssertNotCalled(t, "SaveSurveyResponse", mock.Anything, mock.Anything, mock.Anything)
	})
}

func TestServiceImpl_ConsentStatus(t *testing.T) {
	ctx := context.Background()
	service, repo := setupSurveyServiceTest(time.Hour)
	repo.On("GetConsentStatus", mock.Anything, "user-1").
		Return(types.ConsentStatus{IsConsented: true, SurveyCompleted: true}, nil).Once()
	repo.On("GetConsentStatus", mock.Anything, "user-2").
		Return(types.ConsentStatus{}, errors.New("db down")).Once()

	status, err := service.ConsentStatus(ctx, "user-1")
	require.NoError(t, err)
	assert.True(t, status.SurveyCompleted)

	_, err = service.ConsentStatus(ctx, "user-2")
	assert.Error(t, err)

	_, err = service.ConsentStatus(ctx, "")
	assert.ErrorIs(t, err, ErrMissingUser)
}
