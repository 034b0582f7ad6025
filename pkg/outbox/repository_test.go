package outbox

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/kotilabs/housing-backend/pkg/config"
	"github.com/kotilabs/housing-backend/pkg/db"
	"github.com/kotilabs/housing-backend/pkg/db/models"
	"github.com/kotilabs/housing-backend/pkg/enums"
	"github.com/kotilabs/housing-backend/pkg/logger"
	"github.com/kotilabs/housing-backend/pkg/outbox/payloads"
)

func newOutboxDB(t *testing.T) *db.Client {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", strings.ReplaceAll(t.Name(), "/", "_"))
	client, err := db.New(context.Background(), config.DBConfig{Driver: config.DBDriverSQLite, DSN: dsn}, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })
	require.NoError(t, client.AutoMigrate(context.Background(), models.All()...))
	return client
}

func TestEmitQueuesEnvelopeInsideTransaction(t *testing.T) {
	ctx := context.Background()
	client := newOutboxDB(t)
	repo := NewRepository(client.DB())
	svc := NewService(repo, logger.Nop())

	invoiceID := uuid.New()
	require.NoError(t, client.WithTx(ctx, func(tx *gorm.DB) error {
		return svc.Emit(ctx, tx, DomainEvent{
			EventType:     enums.EventInvoiceCreated,
			AggregateType: enums.AggregateInvoice,
			AggregateID:   invoiceID,
			Data:          payloads.InvoiceCreatedEvent{InvoiceID: invoiceID},
		})
	}))

	// rolled back emits leave nothing behind
	rollback := errors.New("rollback")
	err := client.WithTx(ctx, func(tx *gorm.DB) error {
		if err := svc.Emit(ctx, tx, DomainEvent{
			EventType:     enums.EventInvoiceCreated,
			AggregateType: enums.AggregateInvoice,
			AggregateID:   uuid.New(),
			Data:          payloads.InvoiceCreatedEvent{},
		}); err != nil {
			return err
		}
		return rollback
	})
	require.ErrorIs(t, err, rollback)

	var rows []models.OutboxEvent
	require.NoError(t, client.WithTx(ctx, func(tx *gorm.DB) error {
		var err error
		rows, err = repo.FetchUnpublishedForPublish(tx, 10, 5)
		return err
	}))
	require.Len(t, rows, 1)
	require.Equal(t, invoiceID, rows[0].AggregateID)
	require.Contains(t, string(rows[0].Payload), `"version":1`)
}

func TestEmitRejectsUnknownEventType(t *testing.T) {
	client := newOutboxDB(t)
	svc := NewService(NewRepository(client.DB()), nil)
	err := client.WithTx(context.Background(), func(tx *gorm.DB) error {
		return svc.Emit(context.Background(), tx, DomainEvent{EventType: "order_created"})
	})
	require.Error(t, err)
	require.Error(t, svc.Emit(context.Background(), nil, DomainEvent{EventType: enums.EventInvoiceCreated}))
}

func TestFetchSkipsExhaustedAndPublishedRows(t *testing.T) {
	ctx := context.Background()
	client := newOutboxDB(t)
	repo := NewRepository(client.DB())

	mk := func(attempts int) models.OutboxEvent {
		return models.OutboxEvent{
			ID:            uuid.New(),
			EventType:     enums.EventInvoiceCreated,
			AggregateType: enums.AggregateInvoice,
			AggregateID:   uuid.New(),
			Payload:       []byte(`{"version":1,"data":{}}`),
			AttemptCount:  attempts,
		}
	}
	fresh, exhausted, done := mk(0), mk(3), mk(0)

	require.NoError(t, client.WithTx(ctx, func(tx *gorm.DB) error {
		for _, ev := range []models.OutboxEvent{fresh, exhausted, done} {
			if err := repo.Insert(tx, ev); err != nil {
				return err
			}
		}
		if err := repo.MarkPublishedTx(tx, done.ID); err != nil {
			return err
		}
		return repo.MarkFailedTx(tx, fresh.ID, errors.New("transient"))
	}))

	var rows []models.OutboxEvent
	require.NoError(t, client.WithTx(ctx, func(tx *gorm.DB) error {
		var err error
		rows, err = repo.FetchUnpublishedForPublish(tx, 10, 3)
		return err
	}))
	require.Len(t, rows, 1)
	require.Equal(t, fresh.ID, rows[0].ID)
	require.Equal(t, 1, rows[0].AttemptCount)
	require.NotNil(t, rows[0].LastError)
	require.Equal(t, "transient", *rows[0].LastError)
}

func TestDeadLetterCopiesEventAndRetiresRow(t *testing.T) {
	ctx := context.Background()
	client := newOutboxDB(t)
	repo := NewRepository(client.DB())
	dlq := NewDLQRepository(client.DB())

	ev := models.OutboxEvent{
		ID:            uuid.New(),
		EventType:     enums.EventInvoiceRendered,
		AggregateType: enums.AggregateInvoice,
		AggregateID:   uuid.New(),
		Payload:       []byte(`{"version":1,"data":{}}`),
	}
	cause := errors.New(strings.Repeat("x", maxDLQErrorLen+10))
	require.NoError(t, client.WithTx(ctx, func(tx *gorm.DB) error {
		if err := repo.Insert(tx, ev); err != nil {
			return err
		}
		if err := dlq.DeadLetter(tx, ev, enums.OutboxDLQReasonNonRetryable, cause); err != nil {
			return err
		}
		return repo.MarkDeadLettered(tx, ev.ID, cause)
	}))

	entry, err := dlq.FindByEventID(ctx, ev.ID)
	require.NoError(t, err)
	require.NotNil(t, entry)
	require.Equal(t, enums.OutboxDLQReasonNonRetryable, entry.ErrorReason)
	require.Len(t, *entry.ErrorMessage, maxDLQErrorLen)

	missing, err := dlq.FindByEventID(ctx, uuid.New())
	require.NoError(t, err)
	require.Nil(t, missing)

	listed, err := dlq.List(ctx, 0)
	require.NoError(t, err)
	require.Len(t, listed, 1)

	require.NoError(t, client.WithTx(ctx, func(tx *gorm.DB) error {
		rows, err := repo.FetchUnpublishedForPublish(tx, 10, 0)
		require.Empty(t, rows)
		return err
	}))

	require.Error(t, client.WithTx(ctx, func(tx *gorm.DB) error {
		return dlq.DeadLetter(tx, ev, "bogus", nil)
	}))
}
