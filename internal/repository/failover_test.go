package repository

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"dispatchsync/internal/models"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
)

type mockCache struct {
	mock.Mock
}

func (m *mockCache) GetDetails(ctx context.Context, jobIDs []int64) (map[int64]models.Enrichment, error) {
	args := m.Called(ctx, jobIDs)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(map[int64]models.Enrichment), args.Error(1)
}

func (m *mockCache) SetDetails(ctx context.Context, details map[int64]models.Enrichment, ttl time.Duration) error {
	args := m.Called(ctx, details, ttl)
	return args.Error(0)
}

func TestFailoverDetailCache(t *testing.T) {
	primary := new(mockCache)
	fallback := new(mockCache)
	logger := zerolog.New(io.Discard)
	repo := NewFailoverDetailCache(primary, fallback, &logger)
	ctx := context.Background()

	t.Run("PrimarySuccess", func(t *testing.T) {
		want := map[int64]models.Enrichment{1: {}}
		primary.On("GetDetails", ctx, []int64{1}).Return(want, nil).Once()

		got, err := repo.GetDetails(ctx, []int64{1})
		assert.NoError(t, err)
		assert.Equal(t, want, got)
		primary.AssertExpectations(t)
	})

	t.Run("PrimaryFailFallbackSuccess", func(t *testing.T) {
		want := map[int64]models.Enrichment{2: {}}
		primary.On("GetDetails", ctx, []int64{2}).Return(nil, errors.New("fail")).Once()
		fallback.On("GetDetails", ctx, []int64{2}).Return(want, nil).Once()

		got, err := repo.GetDetails(ctx, []int64{2})
		assert.NoError(t, err)
		assert.Equal(t, want, got)
		assert.True(t, repo.isDown.Load())
		primary.AssertExpectations(t)
		fallback.AssertExpectations(t)
	})

	t.Run("StaysOnFallbackWhileDown", func(t *testing.T) {
		details := map[int64]models.Enrichment{3: {}}
		fallback.On("SetDetails", ctx, details, time.Minute).Return(nil).Once()

		assert.NoError(t, repo.SetDetails(ctx, details, time.Minute))
		fallback.AssertExpectations(t)
		primary.AssertNotCalled(t, "SetDetails", ctx, details, time.Minute)
	})

	t.Run("RecoveryAttempt", func(t *testing.T) {
		repo.isDown.Store(true)
		repo.lastCheck.Store(time.Now().Add(-2 * time.Minute).UnixNano())

		want := map[int64]models.Enrichment{4: {}}
		primary.On("GetDetails", ctx, []int64{4}).Return(want, nil).Once()

		got, err := repo.GetDetails(ctx, []int64{4})
		assert.NoError(t, err)
		assert.Equal(t, want, got)
		assert.False(t, repo.isDown.Load())
	})

	t.Run("SetPrimaryFail", func(t *testing.T) {
		details := map[int64]models.Enrichment{5: {}}
		primary.On("SetDetails", ctx, details, time.Minute).Return(errors.New("fail")).Once()
		fallback.On("SetDetails", ctx, details, time.Minute).Return(nil).Once()

		assert.NoError(t, repo.SetDetails(ctx, details, time.Minute))
		assert.True(t, repo.isDown.Load())
		primary.AssertExpectations(t)
		fallback.AssertExpectations(t)
	})
}
