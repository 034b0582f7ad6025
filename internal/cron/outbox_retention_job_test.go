package cron

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/kotilabs/housing-backend/internal/dbtest"
	"github.com/kotilabs/housing-backend/pkg/db/models"
	"github.com/kotilabs/housing-backend/pkg/enums"
	"github.com/kotilabs/housing-backend/pkg/logger"
	"github.com/kotilabs/housing-backend/pkg/outbox"
)

func TestOutboxRetentionPrunesOldPublishedRows(t *testing.T) {
	client := dbtest.New(t)
	now := time.Date(2026, time.October, 1, 0, 0, 0, 0, time.UTC)
	old := now.Add(-40 * 24 * time.Hour)
	recent := now.Add(-2 * 24 * time.Hour)

	insert := func(published *time.Time, attempts int) uuid.UUID {
		row := models.OutboxEvent{
			ID:            uuid.New(),
			EventType:     enums.EventInvoiceCreated,
			AggregateType: enums.AggregateInvoice,
			AggregateID:   uuid.New(),
			Payload:       []byte(`{}`),
			PublishedAt:   published,
			AttemptCount:  attempts,
		}
		require.NoError(t, client.DB().Create(&row).Error)
		return row.ID
	}
	prunable := insert(&old, 0)
	flaky := insert(&old, 6)
	fresh := insert(&recent, 0)
	pending := insert(nil, 2)

	jobIface, err := NewOutboxRetentionJob(OutboxRetentionJobParams{
		Logger:     logger.Nop(),
		DB:         client,
		Repository: outbox.NewRepository(client.DB()),
	})
	require.NoError(t, err)
	job := jobIface.(*outboxRetentionJob)
	job.now = func() time.Time { return now }

	require.NoError(t, job.Run(context.Background()))

	var remaining []uuid.UUID
	require.NoError(t, client.DB().Model(&models.OutboxEvent{}).Pluck("id", &remaining).Error)
	assert.ElementsMatch(t, []uuid.UUID{flaky, fresh, pending}, remaining)
	assert.NotContains(t, remaining, prunable)
}

type failingPurger struct{}

func (failingPurger) DeletePublishedBefore(context.Context, *gorm.DB, time.Time, int) (int64, error) {
	return 0, errors.New("boom")
}

type passthroughTx struct{}

func (passthroughTx) WithTx(_ context.Context, fn func(tx *gorm.DB) error) error {
	return fn(nil)
}

func TestOutboxRetentionPropagatesError(t *testing.T) {
	job, err := NewOutboxRetentionJob(OutboxRetentionJobParams{
		Logger:     logger.New(logger.Options{ServiceName: "test"}),
		DB:         passthroughTx{},
		Repository: failingPurger{},
	})
	require.NoError(t, err)
	assert.Error(t, job.Run(context.Background()))
}
