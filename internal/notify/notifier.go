// Package notify turns queue mutations into outbound messages. The notifier
// tracks the last observed queue position per token in memory, re-reads the
// committed ordering after each event, and emits one message per token whose
// position changed, classified as advancement or regression.
//
// Tracking is best-effort: the map starts empty on process restart and the
// first event per token seeds it without emitting. Delivery failures are
// logged and dropped; queue state never depends on a notification landing.
package notify

import (
	"context"
	"sync"
	"time"

	"smartqueue/internal/clock"
	"smartqueue/internal/models"
	"smartqueue/internal/monitoring"
	"smartqueue/internal/queue"
	"smartqueue/internal/store"

	"go.uber.org/zap"
)

const (
	handlerTimeout = 10 * time.Second
	queueDepth     = 128

	reprioritizeCause = "Queue order has been adjusted based on priority updates."
)

type Config struct {
	// SettlingDelay is waited before a handler re-reads state, giving the
	// originating transaction time to land when dispatch is not strictly
	// after-commit. Zero is valid and preferred when it is.
	SettlingDelay time.Duration
	// EmailEnabled gates all outbound sends; tracking runs either way.
	EmailEnabled bool
}

type Notifier struct {
	store  store.Repository
	engine *queue.Engine
	sink   Sink
	clock  clock.Clock
	log    *zap.SugaredLogger
	cfg    Config

	posMu     sync.Mutex
	positions map[string]int // token id -> last observed position

	qMu     sync.Mutex
	queues  map[string]chan func() // one serial dispatch queue per point
	closed  bool
	pending sync.WaitGroup
}

func New(repo store.Repository, engine *queue.Engine, sink Sink, clk clock.Clock, log *zap.SugaredLogger, cfg Config) *Notifier {
	return &Notifier{
		store:     repo,
		engine:    engine,
		sink:      sink,
		clock:     clk,
		log:       log,
		cfg:       cfg,
		positions: make(map[string]int),
		queues:    make(map[string]chan func()),
	}
}

// Close stops accepting events and waits for queued handlers to finish.
func (n *Notifier) Close() {
	n.qMu.Lock()
	if !n.closed {
		n.closed = true
		for _, q := range n.queues {
			close(q)
		}
	}
	n.qMu.Unlock()
	n.pending.Wait()
}

// Drain blocks until every currently queued handler has run. Intended for
// tests.
func (n *Notifier) Drain() {
	n.pending.Wait()
}

// enqueue appends fn to the point's serial queue, preserving per-point event
// order. Events for distinct points run concurrently.
func (n *Notifier) enqueue(pointID string, fn func()) {
	n.qMu.Lock()
	defer n.qMu.Unlock()
	if n.closed {
		return
	}
	q, ok := n.queues[pointID]
	if !ok {
		q = make(chan func(), queueDepth)
		n.queues[pointID] = q
		go func() {
			for job := range q {
				job()
			}
		}()
	}
	n.pending.Add(1)
	select {
	case q <- func() { defer n.pending.Done(); fn() }:
	default:
		n.pending.Done()
		n.log.Warnw("notifier queue full, event dropped", "point_id", pointID)
	}
}

func (n *Notifier) settle() {
	if n.cfg.SettlingDelay > 0 {
		time.Sleep(n.cfg.SettlingDelay)
	}
}

func handlerContext() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), handlerTimeout)
}

// TokenCreated records the new token's initial position and sends its
// confirmation. A non-NORMAL token with a service point additionally runs the
// priority-insertion diff so displaced tokens learn why they moved back.
func (n *Notifier) TokenCreated(token models.Token) {
	key := ""
	if token.PointID != nil {
		key = *token.PointID
	}
	n.enqueue(key, func() {
		n.settle()
		ctx, cancel := handlerContext()
		defer cancel()

		fresh, err := n.store.GetToken(ctx, token.TokenID)
		if err != nil {
			n.log.Warnw("notifier create read failed", "token_id", token.TokenID, "error", err)
			return
		}
		position, err := n.engine.Position(ctx, fresh)
		if err != nil {
			n.log.Warnw("notifier position failed", "token_id", token.TokenID, "error", err)
			return
		}
		if fresh.PointID != nil {
			n.setPosition(fresh.TokenID, position)
		}
		n.sendConfirmation(ctx, fresh, position)

		if fresh.Priority != models.PriorityNormal && fresh.PointID != nil {
			n.priorityInsertionDiff(ctx, *fresh.PointID, fresh)
		}
	})
}

// TurnCalled tells the called party to proceed to the service point.
func (n *Notifier) TurnCalled(token models.Token, point models.ServicePoint) {
	n.enqueue(point.PointID, func() {
		ctx, cancel := handlerContext()
		defer cancel()
		n.deliver(ctx, token.PartyID, Message{
			Kind:        KindTurnCalled,
			TokenNumber: token.TokenNumber,
			PointName:   point.Name,
			RoomLabel:   point.RoomLabel,
		})
	})
}

// Completed sends the completion message, prunes the finished token from
// tracking, and advances everyone behind it.
func (n *Notifier) Completed(token models.Token, point models.ServicePoint) {
	n.enqueue(point.PointID, func() {
		n.settle()
		ctx, cancel := handlerContext()
		defer cancel()
		n.deliver(ctx, token.PartyID, Message{
			Kind:        KindCompleted,
			TokenNumber: token.TokenNumber,
			PointName:   point.Name,
			ServiceDate: token.ServiceDate,
		})
		n.dropPosition(token.TokenID)
		n.advancementDiff(ctx, point.PointID, token.ServiceDate)
	})
}

// Departed handles cancellation and no-show: the token leaves the queue and
// the tokens behind it advance.
func (n *Notifier) Departed(token models.Token, pointID string) {
	n.enqueue(pointID, func() {
		n.settle()
		ctx, cancel := handlerContext()
		defer cancel()
		n.dropPosition(token.TokenID)
		n.advancementDiff(ctx, pointID, token.ServiceDate)
	})
}

// Skipped handles a token sent back to the queue: tokens it had been ahead of
// advance; the skipped token's own tracked position is silently refreshed.
func (n *Notifier) Skipped(token models.Token, pointID string) {
	n.enqueue(pointID, func() {
		n.settle()
		ctx, cancel := handlerContext()
		defer cancel()
		n.advancementDiff(ctx, pointID, token.ServiceDate)
	})
}

// Reprioritized diffs in both directions: advancements for tokens that moved
// up, regressions with a generic cause for tokens that moved back.
func (n *Notifier) Reprioritized(token models.Token, pointID string) {
	n.enqueue(pointID, func() {
		n.settle()
		ctx, cancel := handlerContext()
		defer cancel()
		n.reprioritizeDiff(ctx, pointID, token.ServiceDate)
	})
}

func (n *Notifier) sendConfirmation(ctx context.Context, token models.Token, position int) {
	group, err := n.store.GetServiceGroup(ctx, token.GroupID)
	if err != nil {
		n.log.Warnw("notifier group read failed", "group_id", token.GroupID, "error", err)
		return
	}
	pointName := "Unassigned"
	waitMinutes := 0
	if token.PointID != nil {
		point, err := n.store.GetServicePoint(ctx, *token.PointID)
		if err != nil {
			n.log.Warnw("notifier point read failed", "point_id", *token.PointID, "error", err)
			return
		}
		pointName = point.Name
		waitMinutes, err = n.engine.EstimatedWaitMinutes(ctx, point, position)
		if err != nil {
			n.log.Warnw("notifier wait estimate failed", "token_id", token.TokenID, "error", err)
			return
		}
	}
	n.deliver(ctx, token.PartyID, Message{
		Kind:                 KindConfirmation,
		TokenNumber:          token.TokenNumber,
		GroupName:            group.Name,
		PointName:            pointName,
		ServiceDate:          token.ServiceDate,
		GeneratedAt:          token.GeneratedAt,
		Priority:             token.Priority,
		Position:             position,
		EstimatedWaitMinutes: waitMinutes,
	})
}

// advancementDiff walks the fresh queue order and notifies every token whose
// position decreased since last observed. Untracked tokens are seeded
// silently; every tracked position is refreshed.
func (n *Notifier) advancementDiff(ctx context.Context, pointID string, date time.Time) {
	point, waiting, ok := n.readQueue(ctx, pointID, date)
	if !ok {
		return
	}
	for i, token := range waiting {
		position := i + 1
		previous, tracked := n.swapPosition(token.TokenID, position)
		if !tracked || position >= previous {
			continue
		}
		wait, err := n.engine.EstimatedWaitMinutes(ctx, point, position)
		if err != nil {
			n.log.Warnw("notifier wait estimate failed", "token_id", token.TokenID, "error", err)
			continue
		}
		n.deliver(ctx, token.PartyID, Message{
			Kind:                 KindAdvancement,
			TokenNumber:          token.TokenNumber,
			Position:             position,
			EstimatedWaitMinutes: wait,
			AlmostYourTurn:       position <= 3,
		})
	}
}

// priorityInsertionDiff notifies tokens displaced by a newly inserted
// priority token, naming the inserter's priority class as the cause. The
// inserter itself is never notified of its own insertion.
func (n *Notifier) priorityInsertionDiff(ctx context.Context, pointID string, inserter models.Token) {
	point, waiting, ok := n.readQueue(ctx, pointID, inserter.ServiceDate)
	if !ok {
		return
	}
	cause := CauseDescription(inserter.Priority)
	for i, token := range waiting {
		if token.TokenID == inserter.TokenID {
			continue
		}
		position := i + 1
		previous, tracked := n.swapPosition(token.TokenID, position)
		if !tracked || position <= previous {
			continue
		}
		wait, err := n.engine.EstimatedWaitMinutes(ctx, point, position)
		if err != nil {
			n.log.Warnw("notifier wait estimate failed", "token_id", token.TokenID, "error", err)
			continue
		}
		n.deliver(ctx, token.PartyID, Message{
			Kind:                 KindRegression,
			TokenNumber:          token.TokenNumber,
			Position:             position,
			PreviousPosition:     previous,
			EstimatedWaitMinutes: wait,
			CauseDescription:     cause,
		})
	}
}

func (n *Notifier) reprioritizeDiff(ctx context.Context, pointID string, date time.Time) {
	point, waiting, ok := n.readQueue(ctx, pointID, date)
	if !ok {
		return
	}
	for i, token := range waiting {
		position := i + 1
		previous, tracked := n.swapPosition(token.TokenID, position)
		if !tracked || position == previous {
			continue
		}
		wait, err := n.engine.EstimatedWaitMinutes(ctx, point, position)
		if err != nil {
			n.log.Warnw("notifier wait estimate failed", "token_id", token.TokenID, "error", err)
			continue
		}
		msg := Message{
			TokenNumber:          token.TokenNumber,
			Position:             position,
			EstimatedWaitMinutes: wait,
		}
		if position < previous {
			msg.Kind = KindAdvancement
			msg.AlmostYourTurn = position <= 3
		} else {
			msg.Kind = KindRegression
			msg.PreviousPosition = previous
			msg.CauseDescription = reprioritizeCause
		}
		n.deliver(ctx, token.PartyID, msg)
	}
}

func (n *Notifier) readQueue(ctx context.Context, pointID string, date time.Time) (models.ServicePoint, []models.Token, bool) {
	point, err := n.store.GetServicePoint(ctx, pointID)
	if err != nil {
		n.log.Warnw("notifier point read failed", "point_id", pointID, "error", err)
		return models.ServicePoint{}, nil, false
	}
	waiting, err := n.store.WaitingTokens(ctx, pointID, date)
	if err != nil {
		n.log.Warnw("notifier queue read failed", "point_id", pointID, "error", err)
		return models.ServicePoint{}, nil, false
	}
	return point, waiting, true
}

// deliver resolves the party's email and pushes the message to the sink.
// Parties without an email are skipped; sink failures are logged and the
// message is dropped, never retried.
func (n *Notifier) deliver(ctx context.Context, partyID string, msg Message) {
	if !n.cfg.EmailEnabled {
		return
	}
	party, err := n.store.GetParty(ctx, partyID)
	if err != nil {
		n.log.Warnw("notifier party read failed", "party_id", partyID, "error", err)
		return
	}
	if party.Email == "" {
		return
	}
	if err := n.sink.Send(ctx, party.Email, msg); err != nil {
		monitoring.NotificationFailed(msg.Kind)
		n.log.Warnw("notification send failed",
			"kind", msg.Kind, "token", msg.TokenNumber, "error", err)
		return
	}
	monitoring.NotificationSent(msg.Kind)
}

func (n *Notifier) setPosition(tokenID string, position int) {
	n.posMu.Lock()
	n.positions[tokenID] = position
	n.posMu.Unlock()
}

func (n *Notifier) dropPosition(tokenID string) {
	n.posMu.Lock()
	delete(n.positions, tokenID)
	n.posMu.Unlock()
}

// swapPosition records the new position and returns the previously observed
// one. tracked is false when this token was not being followed yet; first
// observations seed the map without emitting.
func (n *Notifier) swapPosition(tokenID string, position int) (previous int, tracked bool) {
	n.posMu.Lock()
	defer n.posMu.Unlock()
	previous, tracked = n.positions[tokenID]
	n.positions[tokenID] = position
	return previous, tracked
}
