package db

import (
	"context"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/predictarena/predictarena/internal/config"
	"github.com/predictarena/predictarena/internal/reason"
)

func newMockDB(t *testing.T) (*DB, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)

	retention := config.RetentionConfig{
		FeedLimit:       200,
		VerdictLimit:    200,
		JudgmentLimit:   800,
		RoundLimit:      200,
		ScoreEventLimit: 1000,
	}
	return NewWithPool(mock, retention), mock
}

func TestGetAgent(t *testing.T) {
	db, mock := newMockDB(t)
	created := time.Now().UTC()

	rows := pgxmock.NewRows([]string{
		"id", "name", "persona", "prompt", "score", "status", "secret",
		"claim_token", "verification_code", "claimed_at", "created_at",
	}).AddRow("oracle-1", "Oracle", "", "", int64(42), AgentStatusActive, "key",
		"", "", (*time.Time)(nil), created)

	mock.ExpectQuery("FROM agents WHERE id").
		WithArgs("oracle-1").
		WillReturnRows(rows)

	agent, err := db.GetAgent(context.Background(), "oracle-1")
	require.NoError(t, err)
	assert.Equal(t, "Oracle", agent.Name)
	assert.Equal(t, int64(42), agent.Score)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGetAgentNotFound(t *testing.T) {
	db, mock := newMockDB(t)

	mock.ExpectQuery("FROM agents WHERE id").
		WithArgs("missing").
		WillReturnError(pgx.ErrNoRows)

	_, err := db.GetAgent(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCountActiveAgents(t *testing.T) {
	db, mock := newMockDB(t)

	mock.ExpectQuery("SELECT COUNT(.+) FROM agents").
		WithArgs(AgentStatusActive).
		WillReturnRows(pgxmock.NewRows([]string{"count"}).AddRow(3))

	count, err := db.CountActiveAgents(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, count)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGetMetaMissingRow(t *testing.T) {
	db, mock := newMockDB(t)

	mock.ExpectQuery("SELECT (.+) FROM meta").
		WillReturnError(pgx.ErrNoRows)

	meta, err := db.GetMeta(context.Background())
	require.NoError(t, err)
	assert.Nil(t, meta.CurrentPrice)
	assert.Nil(t, meta.LastPriceAt)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUpsertMeta(t *testing.T) {
	db, mock := newMockDB(t)
	price := 67500.25
	at := time.Now().UTC()

	mock.ExpectExec("INSERT INTO meta").
		WithArgs((*float64)(nil), &price, (*float64)(nil), &at).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	err := db.UpsertMeta(context.Background(), &MetaState{CurrentPrice: &price, LastPriceAt: &at})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUpdateRoundStatus(t *testing.T) {
	db, mock := newMockDB(t)

	mock.ExpectExec("UPDATE rounds SET status").
		WithArgs(RoundStatusLocked, "r_20260204_0001").
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	err := db.UpdateRoundStatus(context.Background(), "r_20260204_0001", RoundStatusLocked)
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDeleteRoundBatch(t *testing.T) {
	db, mock := newMockDB(t)

	batch := mock.ExpectBatch()
	batch.ExpectExec("DELETE FROM judgments").
		WithArgs("r_20260204_0001").
		WillReturnResult(pgxmock.NewResult("DELETE", 0))
	batch.ExpectExec("DELETE FROM rounds").
		WithArgs("r_20260204_0001").
		WillReturnResult(pgxmock.NewResult("DELETE", 1))

	err := db.DeleteRound(context.Background(), "r_20260204_0001")
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPendingReasonJudgments(t *testing.T) {
	db, mock := newMockDB(t)

	rows := pgxmock.NewRows([]string{
		"round_id", "agent_id", "reason_timeframe", "reason_pattern", "reason_direction",
		"reason_target_close_ms", "reason_base_close",
	}).AddRow("r_20260204_0001", "oracle-1", "1m", "candle.doji.v1", "FLAT",
		int64(1770163259999), 67000.0)

	mock.ExpectQuery("FROM judgments").
		WithArgs(int64(1770170000000), 50).
		WillReturnRows(rows)

	pending, err := db.PendingReasonJudgments(context.Background(), 1770170000000, 50)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, "candle.doji.v1", pending[0].Pattern)
	assert.Equal(t, int64(1770163259999), pending[0].TargetCloseMs)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestApplyReasonOutcome(t *testing.T) {
	db, mock := newMockDB(t)
	evaluated := time.Now().UTC()

	mock.ExpectExec("UPDATE judgments").
		WithArgs(67100.0, 0.15, "FLAT", 1, evaluated, "r_20260204_0001", "oracle-1").
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	err := db.ApplyReasonOutcome(context.Background(), "r_20260204_0001", "oracle-1", reason.OutcomeUpdate{
		TargetClose: 67100.0,
		DeltaPct:    0.15,
		Outcome:     "FLAT",
		Correct:     true,
		EvaluatedAt: evaluated,
	})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSetReasonEvalError(t *testing.T) {
	db, mock := newMockDB(t)

	mock.ExpectExec("UPDATE judgments SET reason_eval_error").
		WithArgs("target candle unavailable", "r_20260204_0001", "oracle-1").
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	err := db.SetReasonEvalError(context.Background(), "r_20260204_0001", "oracle-1", "target candle unavailable")
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGetLastVerdictNotFound(t *testing.T) {
	db, mock := newMockDB(t)

	mock.ExpectQuery("SELECT (.+) FROM verdicts").
		WillReturnError(pgx.ErrNoRows)

	_, err := db.GetLastVerdict(context.Background())
	assert.ErrorIs(t, err, ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}
