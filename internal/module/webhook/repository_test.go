package webhook

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

func newMockRepo(t *testing.T) (Repository, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	gdb, err := gorm.Open(postgres.New(postgres.Config{Conn: db}), &gorm.Config{SkipDefaultTransaction: true})
	require.NoError(t, err)
	return NewRepository(gdb), mock
}

func TestRepository_Claim(t *testing.T) {
	event := func() *Event {
		return &Event{
			ID: uuid.New(), Provider: ProviderStripe, EventID: "evt_1", EventType: StripeInvoicePaid,
			Payload: []byte(`{"id":"in_1"}`), ReceivedAt: time.Now(),
		}
	}

	t.Run("first delivery", func(t *testing.T) {
		repo, mock := newMockRepo(t)
		mock.ExpectExec(`INSERT INTO "webhook_events" .* ON CONFLICT \("provider","event_id"\) DO NOTHING`).
			WillReturnResult(sqlmock.NewResult(0, 1))

		ok, err := repo.Claim(context.Background(), event())
		require.NoError(t, err)
		assert.True(t, ok)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("replay", func(t *testing.T) {
		repo, mock := newMockRepo(t)
		mock.ExpectExec(`INSERT INTO "webhook_events"`).WillReturnResult(sqlmock.NewResult(0, 0))

		ok, err := repo.Claim(context.Background(), event())
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("database error", func(t *testing.T) {
		repo, mock := newMockRepo(t)
		mock.ExpectExec(`INSERT INTO "webhook_events"`).WillReturnError(errors.New("connection reset"))

		_, err := repo.Claim(context.Background(), event())
		assert.Error(t, err)
	})
}

func TestRepository_MarkProcessed(t *testing.T) {
	t.Run("outcome", func(t *testing.T) {
		repo, mock := newMockRepo(t)
		mock.ExpectExec(`UPDATE "webhook_events" SET "outcome"=\$1,"processed_at"=\$2 WHERE provider = \$3 AND event_id = \$4`).
			WithArgs("subscription_not_found", sqlmock.AnyArg(), ProviderPayPal, "WH-1").
			WillReturnResult(sqlmock.NewResult(0, 1))

		err := repo.MarkProcessed(context.Background(), ProviderPayPal, "WH-1", skipped(ReasonSubscriptionNotFound), nil, time.Now())
		require.NoError(t, err)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("error", func(t *testing.T) {
		repo, mock := newMockRepo(t)
		mock.ExpectExec(`UPDATE "webhook_events" SET "error"=\$1,"outcome"=\$2,"processed_at"=\$3`).
			WithArgs("boom", "error", sqlmock.AnyArg(), ProviderStripe, "evt_1").
			WillReturnResult(sqlmock.NewResult(0, 1))

		err := repo.MarkProcessed(context.Background(), ProviderStripe, "evt_1", Outcome{}, errors.New("boom"), time.Now())
		require.NoError(t, err)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}
