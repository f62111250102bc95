package services_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/orbitcart/gatekeeper/internal/models"
	"github.com/orbitcart/gatekeeper/internal/services"
)

func TestBlockListServiceIsBlocked_FailsOpenByDefault(t *testing.T) {
	repo := &MockBlockListRepository{}
	repo.HasActiveBlockFunc = func(ctx context.Context, ip, email string) (bool, error) {
		return false, assert.AnError
	}
	service := services.NewBlockListService(repo, services.BlockListConfig{}, testLogger())

	blocked, err := service.IsBlocked(context.Background(), "203.0.113.7", "user@example.com")

	assert.NoError(t, err)
	assert.False(t, blocked)
}

func TestBlockListServiceIsBlocked_FailClosed(t *testing.T) {
	repo := &MockBlockListRepository{}
	repo.HasActiveBlockFunc = func(ctx context.Context, ip, email string) (bool, error) {
		return false, assert.AnError
	}
	service := services.NewBlockListService(repo, services.BlockListConfig{FailClosed: true}, testLogger())

	blocked, err := service.IsBlocked(context.Background(), "203.0.113.7", "user@example.com")

	assert.Error(t, err)
	assert.True(t, blocked)
}

func TestBlockListServiceBlock_RejectsEmptyTarget(t *testing.T) {
	service := services.NewBlockListService(&MockBlockListRepository{}, services.BlockListConfig{}, testLogger())

	_, err := service.Block(context.Background(), models.BlockTarget{}, "abuse", "ops", true, nil)

	assert.ErrorIs(t, err, models.ErrBadRequest)
}

func TestBlockListServiceBlock_RequiresFutureExpiryForTemporary(t *testing.T) {
	service := services.NewBlockListService(&MockBlockListRepository{}, services.BlockListConfig{}, testLogger())

	past := time.Now().Add(-time.Hour)
	_, err := service.Block(context.Background(), models.BlockTarget{Email: "user@example.com"}, "abuse", "ops", false, &past)

	assert.ErrorIs(t, err, models.ErrBadRequest)
}

func TestBlockListServiceBlock_PermanentEntry(t *testing.T) {
	repo := &MockBlockListRepository{}
	service := services.NewBlockListService(repo, services.BlockListConfig{}, testLogger())

	entry, err := service.Block(context.Background(), models.BlockTarget{IPAddress: "203.0.113.7"}, "abuse", "ops", true, nil)

	require.NoError(t, err)
	assert.True(t, entry.IsActive(time.Now()))
}

func TestBlockEntryIsActive(t *testing.T) {
	now := time.Now()
	future := now.Add(time.Hour)
	past := now.Add(-time.Hour)

	permanent := &models.BlockEntry{IsPermanent: true}
	assert.True(t, permanent.IsActive(now))

	active := &models.BlockEntry{BlockedUntil: &future}
	assert.True(t, active.IsActive(now))

	expired := &models.BlockEntry{BlockedUntil: &past}
	assert.False(t, expired.IsActive(now))

	noExpiry := &models.BlockEntry{}
	assert.False(t, noExpiry.IsActive(now))
}
