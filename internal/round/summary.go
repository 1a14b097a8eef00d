package round

import (
	"context"
	"errors"
	"sort"
	"time"

	"github.com/predictarena/predictarena/internal/db"
)

// Summary feed bounds.
const (
	feedCardLimit          = 30
	highConfidenceCutoff   = 80
	recentScoreEventWindow = 5
)

// AgentSummary is one leaderboard row.
type AgentSummary struct {
	ID                     string   `json:"id"`
	Name                   string   `json:"name"`
	Persona                string   `json:"persona"`
	Score                  int64    `json:"score"`
	Status                 string   `json:"status"`
	RecentRounds           []string `json:"recent_rounds"`
	RecentHighConfFailures int      `json:"recent_high_conf_failures"`
}

// LiveRound is the in-flight round as shown to clients.
type LiveRound struct {
	*db.Round
	CountdownMs int64          `json:"countdown_ms"`
	Judgments   []*db.Judgment `json:"judgments"`
}

// Summary is the polling snapshot served to clients.
type Summary struct {
	ServerTime  time.Time       `json:"server_time"`
	Round       *LiveRound      `json:"round,omitempty"`
	LastVerdict *db.Verdict     `json:"last_verdict,omitempty"`
	Highlight   *db.FlipCard    `json:"highlight,omitempty"`
	Agents      []*AgentSummary `json:"agents"`
	Feed        []*db.FlipCard  `json:"feed"`
	Meta        *db.MetaState   `json:"meta,omitempty"`
}

// BuildSummary assembles the client polling snapshot. Missing pieces (no live
// round, no verdict yet) are omitted rather than treated as errors.
func (s *Service) BuildSummary(ctx context.Context, now time.Time) (*Summary, error) {
	summary := &Summary{ServerTime: now.UTC()}

	meta, err := s.store.GetMeta(ctx)
	if err != nil {
		return nil, err
	}
	summary.Meta = meta

	live, err := s.store.GetLiveRound(ctx)
	if err != nil && !errors.Is(err, db.ErrNotFound) {
		return nil, err
	}
	if live != nil {
		judgments, err := s.store.ListJudgmentsByRound(ctx, live.RoundID)
		if err != nil {
			return nil, err
		}
		countdown := live.EndTime.Sub(now).Milliseconds()
		if countdown < 0 {
			countdown = 0
		}
		summary.Round = &LiveRound{Round: live, CountdownMs: countdown, Judgments: judgments}
	}

	verdict, err := s.store.GetLastVerdict(ctx)
	if err != nil && !errors.Is(err, db.ErrNotFound) {
		return nil, err
	}
	if verdict != nil {
		summary.LastVerdict = verdict
		highlight, err := s.buildHighlight(ctx, verdict)
		if err != nil {
			return nil, err
		}
		summary.Highlight = highlight
	}

	agents, err := s.buildAgentSummaries(ctx)
	if err != nil {
		return nil, err
	}
	summary.Agents = agents

	feed, err := s.buildFeed(ctx)
	if err != nil {
		return nil, err
	}
	summary.Feed = feed

	return summary, nil
}

// buildHighlight reconstructs a flip card for the top-confidence judgment of
// the last settled round.
func (s *Service) buildHighlight(ctx context.Context, verdict *db.Verdict) (*db.FlipCard, error) {
	round, err := s.store.GetRound(ctx, verdict.RoundID)
	if err != nil {
		if errors.Is(err, db.ErrNotFound) {
			return nil, nil // round trimmed by retention
		}
		return nil, err
	}

	judgments, err := s.store.ListJudgmentsByRound(ctx, verdict.RoundID)
	if err != nil {
		return nil, err
	}
	if len(judgments) == 0 {
		return nil, nil
	}

	top := judgments[0]
	for _, j := range judgments[1:] {
		if j.Confidence > top.Confidence {
			top = j
		}
	}

	correct, change := Score(top.Direction, verdict.Result, top.Confidence)
	agentName := top.AgentID
	if agent, err := s.store.GetAgent(ctx, top.AgentID); err == nil {
		agentName = agent.Name
	}
	return buildFlipCard(round, top, agentName, verdict.Result, correct, change, verdict.Timestamp), nil
}

func (s *Service) buildAgentSummaries(ctx context.Context) ([]*AgentSummary, error) {
	agents, err := s.store.ListAgentsByScore(ctx)
	if err != nil {
		return nil, err
	}

	summaries := make([]*AgentSummary, 0, len(agents))
	for _, a := range agents {
		events, err := s.store.ListRecentScoreEventsByAgent(ctx, a.ID, recentScoreEventWindow)
		if err != nil {
			return nil, err
		}

		recent := make([]string, 0, len(events))
		failures := 0
		for _, ev := range events {
			if ev.Correct {
				recent = append(recent, "WIN")
			} else {
				recent = append(recent, "FAIL")
				if ev.Confidence >= highConfidenceCutoff {
					failures++
				}
			}
		}

		summaries = append(summaries, &AgentSummary{
			ID:                     a.ID,
			Name:                   a.Name,
			Persona:                a.Persona,
			Score:                  a.Score,
			Status:                 a.Status,
			RecentRounds:           recent,
			RecentHighConfFailures: failures,
		})
	}

	sort.SliceStable(summaries, func(i, j int) bool {
		return summaries[i].Score > summaries[j].Score
	})
	return summaries, nil
}

// buildFeed prefers high-confidence failures; an empty subset falls back to
// the full recent feed.
func (s *Service) buildFeed(ctx context.Context) ([]*db.FlipCard, error) {
	cards, err := s.store.ListFailHighConfCards(ctx, highConfidenceCutoff, feedCardLimit)
	if err != nil {
		return nil, err
	}
	if len(cards) > 0 {
		return cards, nil
	}
	return s.store.ListRecentFlipCards(ctx, feedCardLimit)
}
