package round

import (
	"context"

	"github.com/predictarena/predictarena/internal/db"
	"github.com/predictarena/predictarena/internal/pricefeed"
	"github.com/predictarena/predictarena/internal/reason"
)

// Store is the persistence surface the round service and advancer depend on.
// *db.DB satisfies it; tests use an in-memory fake.
type Store interface {
	GetLiveRound(ctx context.Context) (*db.Round, error)
	GetRound(ctx context.Context, roundID string) (*db.Round, error)
	InsertRound(ctx context.Context, r *db.Round) error
	UpdateRoundStatus(ctx context.Context, roundID, status string) error
	DeleteRound(ctx context.Context, roundID string) error
	ApplySettlement(ctx context.Context, s *db.Settlement) error

	ReplaceJudgment(ctx context.Context, j *db.Judgment) error
	ListJudgmentsByRound(ctx context.Context, roundID string) ([]*db.Judgment, error)
	CountJudgmentsByRound(ctx context.Context, roundID string) (int, error)

	GetAgent(ctx context.Context, id string) (*db.Agent, error)
	CountActiveAgents(ctx context.Context) (int, error)
	ListAgentsByScore(ctx context.Context) ([]*db.Agent, error)
	ListRecentScoreEventsByAgent(ctx context.Context, agentID string, limit int) ([]*db.ScoreEvent, error)

	GetLastVerdict(ctx context.Context) (*db.Verdict, error)
	ListRecentFlipCards(ctx context.Context, limit int) ([]*db.FlipCard, error)
	ListFailHighConfCards(ctx context.Context, minConfidence, limit int) ([]*db.FlipCard, error)

	GetMeta(ctx context.Context) (*db.MetaState, error)
	UpsertMeta(ctx context.Context, m *db.MetaState) error
}

// PriceSource is the live price feed as the advancer sees it.
type PriceSource interface {
	Price() (pricefeed.Sample, error)
}

// Evaluator computes at-submit reason rule evaluations.
type Evaluator interface {
	EvaluateAtSubmit(ctx context.Context, rule reason.Rule, analysisEndMs int64) (*reason.SubmitEvaluation, error)
}
