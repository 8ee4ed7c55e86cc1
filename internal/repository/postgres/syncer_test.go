package postgres_test

import (
	"context"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/outboundhq/engine/internal/domain"
	"github.com/outboundhq/engine/internal/hotstate"
	"github.com/outboundhq/engine/internal/repository/postgres"
)

func TestHotStateSyncer_SyncRecipientsAppliesPerStatusBulkUpdate(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	defer mr.Close()
	hot := hotstate.NewFromRedis(redis.NewClient(&redis.Options{Addr: mr.Addr()}))
	ctx := context.Background()

	_, err = hot.InitCounters(ctx, "b1", 2)
	require.NoError(t, err)
	_, err = hot.RecordOutcome(ctx, "b1", "r1", hotstate.OutcomeRecord{Status: domain.RecipientSent, ProviderMessageID: "pmid-1"})
	require.NoError(t, err)
	_, err = hot.RecordOutcome(ctx, "b1", "r2", hotstate.OutcomeRecord{Status: domain.RecipientFailed, ErrorMessage: "boom"})
	require.NoError(t, err)

	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()
	mock.MatchExpectationsInOrder(false)

	mock.ExpectExec("UPDATE recipients").WithArgs("sent", sqlmock.AnyArg()).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("UPDATE recipients").WithArgs("failed", sqlmock.AnyArg()).WillReturnResult(sqlmock.NewResult(0, 1))

	recipients := postgres.NewRecipientRepo(db)
	syncer := postgres.NewHotStateSyncer(hot, recipients)

	require.NoError(t, syncer.SyncRecipients(ctx, "b1", []string{"r1", "r2"}))
	require.NoError(t, mock.ExpectationsWereMet())
}
