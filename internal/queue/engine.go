// Package queue holds the per-service-point queue engine and the token state
// machine. The engine is stateless: every ordering, position, and wait
// estimate is re-derived from the repository on read, so no cached structure
// can drift from committed state.
package queue

import (
	"context"
	"time"

	"smartqueue/internal/clock"
	"smartqueue/internal/models"
	"smartqueue/internal/store"
)

const consultationHistoryWindow = 30 * 24 * time.Hour

type Engine struct {
	store           store.Repository
	clock           clock.Clock
	defaultDuration int
}

func NewEngine(repo store.Repository, clk clock.Clock, defaultDurationMinutes int) *Engine {
	if defaultDurationMinutes <= 0 {
		defaultDurationMinutes = 15
	}
	return &Engine{store: repo, clock: clk, defaultDuration: defaultDurationMinutes}
}

func (e *Engine) WaitingQueue(ctx context.Context, pointID string, date time.Time) ([]models.Token, error) {
	return e.store.WaitingTokens(ctx, pointID, date)
}

func (e *Engine) CurrentServing(ctx context.Context, pointID string, date time.Time) (models.Token, bool, error) {
	return e.store.CurrentServing(ctx, pointID, date)
}

// Position is the 1-based queue position of a waiting token: one more than
// the number of waiting tokens ahead of it at the same point and date. It is
// 0 for non-waiting tokens and for group-level tokens without a point.
func (e *Engine) Position(ctx context.Context, token models.Token) (int, error) {
	if token.Status != models.StatusWaiting || token.PointID == nil {
		return 0, nil
	}
	ahead, err := e.store.CountAhead(ctx, store.AheadKey{
		PointID:       *token.PointID,
		Date:          token.ServiceDate,
		PriorityScore: token.PriorityScore,
		GeneratedAt:   token.GeneratedAt,
	})
	if err != nil {
		return 0, err
	}
	return ahead + 1, nil
}

// MeanServiceMinutes is the mean completed-consultation duration for the
// point over the trailing 30 days, falling back to the point's nominal
// duration, then to the configured default.
func (e *Engine) MeanServiceMinutes(ctx context.Context, point models.ServicePoint) (int, error) {
	since := e.clock.Now().Add(-consultationHistoryWindow)
	mean, ok, err := e.store.AverageConsultationMinutes(ctx, point.PointID, since)
	if err != nil {
		return 0, err
	}
	if ok {
		return int(mean), nil
	}
	if point.ServiceDurationMinutes > 0 {
		return point.ServiceDurationMinutes, nil
	}
	return e.defaultDuration, nil
}

// EstimatedWaitMinutes for a token at the given position: (position-1) times
// the mean service duration, floored to whole minutes. Position 0 waits 0.
func (e *Engine) EstimatedWaitMinutes(ctx context.Context, point models.ServicePoint, position int) (int, error) {
	if position <= 1 {
		return 0, nil
	}
	mean, err := e.MeanServiceMinutes(ctx, point)
	if err != nil {
		return 0, err
	}
	return (position - 1) * mean, nil
}

func (e *Engine) EstimatedServiceTime(waitMinutes int) time.Time {
	return e.clock.Now().Add(time.Duration(waitMinutes) * time.Minute)
}

// Entry is one waiting token with its derived queue figures.
type Entry struct {
	Token                models.Token `json:"token"`
	Position             int          `json:"position"`
	EstimatedWaitMinutes int          `json:"estimated_wait_minutes"`
	EstimatedServiceTime time.Time    `json:"estimated_service_time"`
}

// Snapshot is the live view of one point's queue.
type Snapshot struct {
	Point              models.ServicePoint `json:"point"`
	Current            *models.Token       `json:"current,omitempty"`
	Waiting            []Entry             `json:"waiting"`
	TotalWaiting       int                 `json:"total_waiting"`
	MeanServiceMinutes int                 `json:"mean_service_minutes"`
	LastUpdated        time.Time           `json:"last_updated"`
}

// QueueSnapshot assembles the current serving token and the ordered waiting
// list with per-entry positions and wait estimates for today.
func (e *Engine) QueueSnapshot(ctx context.Context, point models.ServicePoint) (Snapshot, error) {
	date := e.clock.Today()
	waiting, err := e.store.WaitingTokens(ctx, point.PointID, date)
	if err != nil {
		return Snapshot{}, err
	}
	mean, err := e.MeanServiceMinutes(ctx, point)
	if err != nil {
		return Snapshot{}, err
	}

	entries := make([]Entry, 0, len(waiting))
	for i, token := range waiting {
		position := i + 1
		wait := (position - 1) * mean
		entries = append(entries, Entry{
			Token:                token,
			Position:             position,
			EstimatedWaitMinutes: wait,
			EstimatedServiceTime: e.EstimatedServiceTime(wait),
		})
	}

	snapshot := Snapshot{
		Point:              point,
		Waiting:            entries,
		TotalWaiting:       len(entries),
		MeanServiceMinutes: mean,
		LastUpdated:        e.clock.Now(),
	}
	current, found, err := e.store.CurrentServing(ctx, point.PointID, date)
	if err != nil {
		return Snapshot{}, err
	}
	if found {
		snapshot.Current = &current
	}
	return snapshot, nil
}
