package queue

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"smartqueue/internal/clock"
	"smartqueue/internal/models"
	"smartqueue/internal/store/memory"
)

func newFixture(t *testing.T) (*memory.Store, *clock.Fake, models.ServicePoint) {
	t.Helper()
	repo := memory.NewStore()
	clk := clock.NewFake(time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC))
	group := models.ServiceGroup{GroupID: "group-1", Code: "GEN", Name: "General"}
	point := models.ServicePoint{
		PointID:                "point-1",
		GroupID:                group.GroupID,
		Name:                   "Counter 1",
		ServiceDurationMinutes: 10,
		DailyCapacity:          100,
		Available:              true,
	}
	repo.AddServiceGroup(group)
	repo.AddServicePoint(point)
	return repo, clk, point
}

func addWaiting(t *testing.T, repo *memory.Store, clk *clock.Fake, id, number, priority string, score int) models.Token {
	t.Helper()
	pointID := "point-1"
	token := models.Token{
		TokenID:       id,
		TokenNumber:   number,
		PartyID:       "party-" + id,
		PointID:       &pointID,
		GroupID:       "group-1",
		ServiceDate:   clk.Today(),
		Priority:      priority,
		PriorityScore: score,
		Status:        models.StatusWaiting,
		GeneratedAt:   clk.Now(),
	}
	require.NoError(t, repo.InsertToken(context.Background(), token))
	clk.Advance(time.Minute)
	return token
}

func TestWaitingQueueOrdering(t *testing.T) {
	repo, clk, point := newFixture(t)
	engine := NewEngine(repo, clk, 15)
	ctx := context.Background()

	normal1 := addWaiting(t, repo, clk, "t1", "GEN-20260302-0001", models.PriorityNormal, 0)
	normal2 := addWaiting(t, repo, clk, "t2", "GEN-20260302-0002", models.PriorityNormal, 0)
	emergency := addWaiting(t, repo, clk, "t3", "GEN-20260302-0003", models.PriorityEmergency, 1000)
	senior := addWaiting(t, repo, clk, "t4", "GEN-20260302-0004", models.PrioritySenior, 600)

	waiting, err := engine.WaitingQueue(ctx, point.PointID, clk.Today())
	require.NoError(t, err)
	require.Len(t, waiting, 4)

	// Priority descends; equal scores keep arrival order.
	require.Equal(t, emergency.TokenID, waiting[0].TokenID)
	require.Equal(t, senior.TokenID, waiting[1].TokenID)
	require.Equal(t, normal1.TokenID, waiting[2].TokenID)
	require.Equal(t, normal2.TokenID, waiting[3].TokenID)
}

func TestPositionMatchesQueueOrder(t *testing.T) {
	repo, clk, _ := newFixture(t)
	engine := NewEngine(repo, clk, 15)
	ctx := context.Background()

	first := addWaiting(t, repo, clk, "t1", "GEN-20260302-0001", models.PriorityNormal, 0)
	second := addWaiting(t, repo, clk, "t2", "GEN-20260302-0002", models.PriorityNormal, 0)
	vip := addWaiting(t, repo, clk, "t3", "GEN-20260302-0003", models.PriorityVIP, 400)

	for _, tc := range []struct {
		token models.Token
		want  int
	}{
		{vip, 1},
		{first, 2},
		{second, 3},
	} {
		got, err := engine.Position(ctx, tc.token)
		require.NoError(t, err)
		require.Equal(t, tc.want, got, "token %s", tc.token.TokenID)
	}
}

func TestPositionZeroForNonWaitingAndGroupLevel(t *testing.T) {
	repo, clk, _ := newFixture(t)
	engine := NewEngine(repo, clk, 15)
	ctx := context.Background()

	token := addWaiting(t, repo, clk, "t1", "GEN-20260302-0001", models.PriorityNormal, 0)
	token.Status = models.StatusCalled
	got, err := engine.Position(ctx, token)
	require.NoError(t, err)
	require.Zero(t, got)

	groupLevel := models.Token{
		TokenID:     "t2",
		GroupID:     "group-1",
		ServiceDate: clk.Today(),
		Status:      models.StatusWaiting,
	}
	got, err = engine.Position(ctx, groupLevel)
	require.NoError(t, err)
	require.Zero(t, got)
}

func TestMeanServiceMinutesFallbacks(t *testing.T) {
	repo, clk, point := newFixture(t)
	engine := NewEngine(repo, clk, 15)
	ctx := context.Background()

	// No history: the point's nominal duration applies.
	mean, err := engine.MeanServiceMinutes(ctx, point)
	require.NoError(t, err)
	require.Equal(t, 10, mean)

	// No nominal duration either: the configured default applies.
	bare := point
	bare.ServiceDurationMinutes = 0
	mean, err = engine.MeanServiceMinutes(ctx, bare)
	require.NoError(t, err)
	require.Equal(t, 15, mean)

	// Completed consultations override both.
	pointID := point.PointID
	started := clk.Now()
	ended := started.Add(20 * time.Minute)
	require.NoError(t, repo.InsertToken(ctx, models.Token{
		TokenID:               "done-1",
		TokenNumber:           "GEN-20260302-0009",
		PartyID:               "party-x",
		PointID:               &pointID,
		GroupID:               "group-1",
		ServiceDate:           clk.Today(),
		Status:                models.StatusCompleted,
		GeneratedAt:           started,
		ConsultationStartedAt: &started,
		ConsultationEndedAt:   &ended,
	}))
	mean, err = engine.MeanServiceMinutes(ctx, point)
	require.NoError(t, err)
	require.Equal(t, 20, mean)
}

func TestEstimatedWaitMinutes(t *testing.T) {
	repo, clk, point := newFixture(t)
	engine := NewEngine(repo, clk, 15)
	ctx := context.Background()

	wait, err := engine.EstimatedWaitMinutes(ctx, point, 1)
	require.NoError(t, err)
	require.Zero(t, wait)

	wait, err = engine.EstimatedWaitMinutes(ctx, point, 4)
	require.NoError(t, err)
	require.Equal(t, 30, wait) // 3 ahead x 10 minutes
}

func TestQueueSnapshot(t *testing.T) {
	repo, clk, point := newFixture(t)
	engine := NewEngine(repo, clk, 15)
	ctx := context.Background()

	addWaiting(t, repo, clk, "t1", "GEN-20260302-0001", models.PriorityNormal, 0)
	addWaiting(t, repo, clk, "t2", "GEN-20260302-0002", models.PriorityNormal, 0)

	pointID := point.PointID
	now := clk.Now()
	require.NoError(t, repo.InsertToken(ctx, models.Token{
		TokenID:     "serving",
		TokenNumber: "GEN-20260302-0003",
		PartyID:     "party-s",
		PointID:     &pointID,
		GroupID:     "group-1",
		ServiceDate: clk.Today(),
		Status:      models.StatusCalled,
		GeneratedAt: now,
		CalledAt:    &now,
	}))

	snapshot, err := engine.QueueSnapshot(ctx, point)
	require.NoError(t, err)
	require.NotNil(t, snapshot.Current)
	require.Equal(t, "serving", snapshot.Current.TokenID)
	require.Equal(t, 2, snapshot.TotalWaiting)
	require.Equal(t, 1, snapshot.Waiting[0].Position)
	require.Equal(t, 2, snapshot.Waiting[1].Position)
	require.Zero(t, snapshot.Waiting[0].EstimatedWaitMinutes)
	require.Equal(t, 10, snapshot.Waiting[1].EstimatedWaitMinutes)
	require.Equal(t, clk.Now(), snapshot.LastUpdated)
}
