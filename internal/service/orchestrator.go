// Package service is the orchestration layer: it composes the repository,
// the queue engine, the state machine, and the notifier into the operations
// the HTTP surface exposes. Every mutation runs inside a repository
// transaction under a per-queue lock; notifications dispatch only after the
// transaction has committed.
package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"smartqueue/internal/clock"
	"smartqueue/internal/models"
	"smartqueue/internal/monitoring"
	"smartqueue/internal/queue"
	"smartqueue/internal/store"
)

// Events receives queue mutations after they commit. The notifier is the
// production implementation; tests substitute a recorder.
type Events interface {
	TokenCreated(token models.Token)
	TurnCalled(token models.Token, point models.ServicePoint)
	Completed(token models.Token, point models.ServicePoint)
	Departed(token models.Token, pointID string)
	Skipped(token models.Token, pointID string)
	Reprioritized(token models.Token, pointID string)
}

type Config struct {
	// SeniorAgeYears is the age at which a party derives SENIOR priority.
	SeniorAgeYears int
}

type Orchestrator struct {
	store  store.Repository
	engine *queue.Engine
	clock  clock.Clock
	events Events
	log    *zap.SugaredLogger
	cfg    Config
	locks  *keyedMutex
}

func NewOrchestrator(repo store.Repository, engine *queue.Engine, clk clock.Clock, events Events, log *zap.SugaredLogger, cfg Config) *Orchestrator {
	if cfg.SeniorAgeYears <= 0 {
		cfg.SeniorAgeYears = 60
	}
	return &Orchestrator{
		store:  repo,
		engine: engine,
		clock:  clk,
		events: events,
		log:    log,
		cfg:    cfg,
		locks:  newKeyedMutex(),
	}
}

func instrument(op string, start time.Time, err error) {
	monitoring.ObserveOperationDuration(op, time.Since(start).Seconds())
	if err != nil {
		monitoring.OperationFailed(op)
		return
	}
	monitoring.OperationSucceeded(op)
}

// TokenView is a token joined with its derived queue figures and display
// names. Position and the estimates are zero for tokens not currently
// waiting in an ordered queue.
type TokenView struct {
	Token                models.Token `json:"token"`
	Position             int          `json:"position,omitempty"`
	EstimatedWaitMinutes int          `json:"estimated_wait_minutes,omitempty"`
	EstimatedServiceTime *time.Time   `json:"estimated_service_time,omitempty"`
	GroupName            string       `json:"group_name"`
	PointName            string       `json:"point_name,omitempty"`
	RoomLabel            string       `json:"room_label,omitempty"`
}

type RegisterPartyInput struct {
	FullName    string    `json:"full_name"`
	Phone       string    `json:"phone"`
	Email       string    `json:"email"`
	DateOfBirth time.Time `json:"date_of_birth"`
	Expectant   bool      `json:"expectant"`
}

// RegisterParty creates a party keyed by phone number. Re-registering an
// existing phone returns the party already on file instead of failing, so
// front-desk retries stay idempotent.
func (o *Orchestrator) RegisterParty(ctx context.Context, in RegisterPartyInput) (party models.Party, err error) {
	start := time.Now()
	defer func() { instrument("register_party", start, err) }()

	existing, found, err := o.store.GetPartyByPhone(ctx, in.Phone)
	if err != nil {
		return models.Party{}, err
	}
	if found {
		return existing, nil
	}

	party = models.Party{
		PartyID:     uuid.NewString(),
		FullName:    strings.TrimSpace(in.FullName),
		Phone:       strings.TrimSpace(in.Phone),
		Email:       strings.TrimSpace(in.Email),
		DateOfBirth: in.DateOfBirth,
		Expectant:   in.Expectant,
		CreatedAt:   o.clock.Now(),
	}
	if err = o.store.CreateParty(ctx, party); err != nil {
		// Lost a race with a concurrent registration of the same phone.
		if errors.Is(err, store.ErrDuplicatePhone) {
			winner, _, lookupErr := o.store.GetPartyByPhone(ctx, in.Phone)
			if lookupErr == nil {
				return winner, nil
			}
		}
		return models.Party{}, err
	}
	return party, nil
}

func (o *Orchestrator) Party(ctx context.Context, partyID string) (models.Party, error) {
	return o.store.GetParty(ctx, partyID)
}

type GenerateTokenInput struct {
	PartyID string `json:"party_id"`
	GroupID string `json:"group_id"`
	// PointID is optional; empty creates a group-level token outside any
	// ordered queue.
	PointID string `json:"point_id"`
	// Priority requests a class explicitly; it takes effect only when it
	// outranks the class derived from the party's traits.
	Priority string `json:"priority"`
	Notes    string `json:"notes"`
}

// GenerateToken issues the next token for a group, assigning its priority,
// its sequential number for the day, and its place in the point's queue.
func (o *Orchestrator) GenerateToken(ctx context.Context, in GenerateTokenInput) (view TokenView, err error) {
	start := time.Now()
	defer func() { instrument("generate_token", start, err) }()

	party, err := o.store.GetParty(ctx, in.PartyID)
	if err != nil {
		return TokenView{}, err
	}
	group, err := o.store.GetServiceGroup(ctx, in.GroupID)
	if err != nil {
		return TokenView{}, err
	}

	var point models.ServicePoint
	pointed := in.PointID != ""
	if pointed {
		point, err = o.store.GetServicePoint(ctx, in.PointID)
		if err != nil {
			return TokenView{}, err
		}
		if point.GroupID != group.GroupID {
			return TokenView{}, store.ErrPointNotFound
		}
		if !point.Available {
			return TokenView{}, store.ErrPointUnavailable
		}
	}

	date := o.clock.Today()
	priority, score, err := o.determinePriority(party, in.Priority, date)
	if err != nil {
		return TokenView{}, err
	}

	lockKey := group.GroupID
	if pointed {
		lockKey = point.PointID
	}
	unlock := o.locks.Lock(queueKey(lockKey, date))
	defer unlock()

	token := models.Token{
		TokenID:       uuid.NewString(),
		PartyID:       party.PartyID,
		GroupID:       group.GroupID,
		ServiceDate:   date,
		Priority:      priority,
		PriorityScore: score,
		Status:        models.StatusWaiting,
		GeneratedAt:   o.clock.Now(),
		Notes:         strings.TrimSpace(in.Notes),
	}
	if pointed {
		id := point.PointID
		token.PointID = &id
	}

	// The sequence number derives from the day's count, so a concurrent
	// creation for the same group can collide on the unique
	// (token_number, service_date) pair. One retry re-reads the count; a
	// second collision reports contention to the caller.
	for attempt := 0; attempt < 2; attempt++ {
		err = o.store.InTx(ctx, func(r store.Repository) error {
			if pointed && point.DailyCapacity > 0 {
				issued, countErr := r.CountPointTokens(ctx, point.PointID, date)
				if countErr != nil {
					return countErr
				}
				if issued >= point.DailyCapacity {
					return store.ErrCapacityExceeded
				}
			}
			seq, countErr := r.CountGroupTokens(ctx, group.GroupID, date)
			if countErr != nil {
				return countErr
			}
			token.TokenNumber = formatTokenNumber(group.Code, date, seq+1)
			return r.InsertToken(ctx, token)
		})
		if err == nil {
			o.events.TokenCreated(token)
			o.refreshWaitingGauge(ctx, token)
			return o.view(ctx, token)
		}
		if !errors.Is(err, store.ErrDuplicateTokenNumber) {
			return TokenView{}, err
		}
	}
	err = store.ErrContention
	return TokenView{}, err
}

// formatTokenNumber renders the printed token identity: group code, date,
// and a zero-padded daily sequence, e.g. GEN-20260831-0007.
func formatTokenNumber(groupCode string, date time.Time, seq int) string {
	return fmt.Sprintf("%s-%s-%04d", groupCode, date.Format("20060102"), seq)
}

// determinePriority resolves a token's class. The party's traits derive a
// baseline (expectancy, then senior age, then NORMAL); an explicit request
// applies only when its class outranks the baseline, so a weaker requested
// class never demotes a trait while EMERGENCY overrides everything.
func (o *Orchestrator) determinePriority(party models.Party, requested string, date time.Time) (string, int, error) {
	derived := models.PriorityNormal
	switch {
	case party.Expectant:
		derived = models.PriorityExpectant
	case party.Senior(date, o.cfg.SeniorAgeYears):
		derived = models.PrioritySenior
	}
	derivedScore, _ := models.ScoreFor(derived)
	if requested == "" {
		return derived, derivedScore, nil
	}
	score, ok := models.ScoreFor(requested)
	if !ok {
		return "", 0, store.ErrInvalidPriority
	}
	if derivedScore > score {
		return derived, derivedScore, nil
	}
	return requested, score, nil
}

// CallNext promotes the head of a point's waiting queue to CALLED. At most
// one token per point may be CALLED or IN_CONSULTATION at a time.
func (o *Orchestrator) CallNext(ctx context.Context, pointID string) (view TokenView, err error) {
	start := time.Now()
	defer func() { instrument("call_next", start, err) }()

	point, err := o.store.GetServicePoint(ctx, pointID)
	if err != nil {
		return TokenView{}, err
	}
	date := o.clock.Today()

	unlock := o.locks.Lock(queueKey(pointID, date))
	defer unlock()

	var called models.Token
	err = o.store.InTx(ctx, func(r store.Repository) error {
		if _, serving, txErr := r.CurrentServing(ctx, pointID, date); txErr != nil {
			return txErr
		} else if serving {
			return store.ErrAlreadyServing
		}
		waiting, txErr := r.WaitingTokens(ctx, pointID, date)
		if txErr != nil {
			return txErr
		}
		if len(waiting) == 0 {
			return store.ErrEmptyQueue
		}
		called = waiting[0]
		if txErr = queue.Call(&called, o.clock.Now()); txErr != nil {
			return txErr
		}
		return r.UpdateToken(ctx, called)
	})
	if err != nil {
		return TokenView{}, err
	}
	o.events.TurnCalled(called, point)
	o.refreshWaitingGauge(ctx, called)
	return o.view(ctx, called)
}

// StartService moves a called token into consultation.
func (o *Orchestrator) StartService(ctx context.Context, tokenID string) (view TokenView, err error) {
	start := time.Now()
	defer func() { instrument("start_service", start, err) }()
	token, err := o.mutateToken(ctx, tokenID, func(t *models.Token) error {
		return queue.Start(t, o.clock.Now())
	})
	if err != nil {
		return TokenView{}, err
	}
	return o.view(ctx, token)
}

// EndService completes an active token and advances the queue behind it.
func (o *Orchestrator) EndService(ctx context.Context, tokenID string) (view TokenView, err error) {
	start := time.Now()
	defer func() { instrument("end_service", start, err) }()
	token, err := o.mutateToken(ctx, tokenID, func(t *models.Token) error {
		return queue.Complete(t, o.clock.Now())
	})
	if err != nil {
		return TokenView{}, err
	}
	if token.PointID != nil {
		point, pointErr := o.store.GetServicePoint(ctx, *token.PointID)
		if pointErr == nil {
			o.events.Completed(token, point)
		} else {
			o.log.Warnw("point read after completion failed", "point_id", *token.PointID, "error", pointErr)
		}
	}
	return o.view(ctx, token)
}

// AbortActive cancels a CALLED or IN_CONSULTATION token, freeing the point
// without treating the departure as a completed consultation. No message is
// sent for an abort.
func (o *Orchestrator) AbortActive(ctx context.Context, tokenID string) (view TokenView, err error) {
	start := time.Now()
	defer func() { instrument("abort_active", start, err) }()
	token, err := o.mutateToken(ctx, tokenID, func(t *models.Token) error {
		return queue.Abort(t, o.clock.Now())
	})
	if err != nil {
		return TokenView{}, err
	}
	return o.view(ctx, token)
}

// CancelToken withdraws a waiting token at the holder's request.
func (o *Orchestrator) CancelToken(ctx context.Context, tokenID string) (view TokenView, err error) {
	start := time.Now()
	defer func() { instrument("cancel_token", start, err) }()
	token, err := o.mutateToken(ctx, tokenID, queue.Cancel)
	if err != nil {
		return TokenView{}, err
	}
	if token.PointID != nil {
		o.events.Departed(token, *token.PointID)
		o.refreshWaitingGauge(ctx, token)
	}
	return o.view(ctx, token)
}

// MarkNoShow records that a called party never appeared.
func (o *Orchestrator) MarkNoShow(ctx context.Context, tokenID string) (view TokenView, err error) {
	start := time.Now()
	defer func() { instrument("mark_no_show", start, err) }()
	token, err := o.mutateToken(ctx, tokenID, queue.NoShow)
	if err != nil {
		return TokenView{}, err
	}
	if token.PointID != nil {
		o.events.Departed(token, *token.PointID)
	}
	return o.view(ctx, token)
}

// Skip returns a called token to the waiting queue with the skip penalty
// applied, placing it behind its equal-priority peers.
func (o *Orchestrator) Skip(ctx context.Context, tokenID string) (view TokenView, err error) {
	start := time.Now()
	defer func() { instrument("skip", start, err) }()
	token, err := o.mutateToken(ctx, tokenID, queue.Skip)
	if err != nil {
		return TokenView{}, err
	}
	if token.PointID != nil {
		o.events.Skipped(token, *token.PointID)
	}
	return o.view(ctx, token)
}

// Reprioritize re-classes a waiting token, resetting its score to the new
// class's canonical value.
func (o *Orchestrator) Reprioritize(ctx context.Context, tokenID, priority string) (view TokenView, err error) {
	start := time.Now()
	defer func() { instrument("reprioritize", start, err) }()
	if _, ok := models.ScoreFor(priority); !ok {
		err = store.ErrInvalidPriority
		return TokenView{}, err
	}
	token, err := o.mutateToken(ctx, tokenID, func(t *models.Token) error {
		return queue.Reprioritize(t, priority)
	})
	if err != nil {
		return TokenView{}, err
	}
	if token.PointID != nil {
		o.events.Reprioritized(token, *token.PointID)
	}
	return o.view(ctx, token)
}

// mutateToken loads the token, applies the transition, and persists it, all
// in one transaction under the token's queue lock.
func (o *Orchestrator) mutateToken(ctx context.Context, tokenID string, fn func(*models.Token) error) (models.Token, error) {
	current, err := o.store.GetToken(ctx, tokenID)
	if err != nil {
		return models.Token{}, err
	}
	lockKey := current.GroupID
	if current.PointID != nil {
		lockKey = *current.PointID
	}
	unlock := o.locks.Lock(queueKey(lockKey, current.ServiceDate))
	defer unlock()

	var token models.Token
	err = o.store.InTx(ctx, func(r store.Repository) error {
		token, err = r.GetToken(ctx, tokenID)
		if err != nil {
			return err
		}
		if err = fn(&token); err != nil {
			return err
		}
		return r.UpdateToken(ctx, token)
	})
	if err != nil {
		return models.Token{}, err
	}
	return token, nil
}

// Token returns one token with its live queue figures.
func (o *Orchestrator) Token(ctx context.Context, tokenID string) (TokenView, error) {
	token, err := o.store.GetToken(ctx, tokenID)
	if err != nil {
		return TokenView{}, err
	}
	return o.view(ctx, token)
}

// TokenByNumber resolves a printed token number for a given date. A zero
// date means today.
func (o *Orchestrator) TokenByNumber(ctx context.Context, tokenNumber string, date time.Time) (TokenView, error) {
	if date.IsZero() {
		date = o.clock.Today()
	}
	token, err := o.store.GetTokenByNumber(ctx, tokenNumber, clock.DateOf(date))
	if err != nil {
		return TokenView{}, err
	}
	return o.view(ctx, token)
}

// PartyTokens lists a party's tokens for a date, newest first per the
// repository's ordering, each with live queue figures.
func (o *Orchestrator) PartyTokens(ctx context.Context, partyID string, date time.Time) ([]TokenView, error) {
	if date.IsZero() {
		date = o.clock.Today()
	}
	if _, err := o.store.GetParty(ctx, partyID); err != nil {
		return nil, err
	}
	tokens, err := o.store.ListPartyTokens(ctx, partyID, clock.DateOf(date))
	if err != nil {
		return nil, err
	}
	views := make([]TokenView, 0, len(tokens))
	for _, token := range tokens {
		v, err := o.view(ctx, token)
		if err != nil {
			return nil, err
		}
		views = append(views, v)
	}
	return views, nil
}

// Snapshot returns the live queue view for one service point.
func (o *Orchestrator) Snapshot(ctx context.Context, pointID string) (queue.Snapshot, error) {
	point, err := o.store.GetServicePoint(ctx, pointID)
	if err != nil {
		return queue.Snapshot{}, err
	}
	return o.engine.QueueSnapshot(ctx, point)
}

// CurrentServing returns the token a point is serving now, if any.
func (o *Orchestrator) CurrentServing(ctx context.Context, pointID string) (models.Token, bool, error) {
	if _, err := o.store.GetServicePoint(ctx, pointID); err != nil {
		return models.Token{}, false, err
	}
	return o.store.CurrentServing(ctx, pointID, o.clock.Today())
}

// view joins a token with its group and point names and, for waiting pointed
// tokens, its position and wait estimate.
func (o *Orchestrator) view(ctx context.Context, token models.Token) (TokenView, error) {
	v := TokenView{Token: token}

	group, err := o.store.GetServiceGroup(ctx, token.GroupID)
	if err != nil {
		return TokenView{}, err
	}
	v.GroupName = group.Name

	if token.PointID == nil {
		return v, nil
	}
	point, err := o.store.GetServicePoint(ctx, *token.PointID)
	if err != nil {
		return TokenView{}, err
	}
	v.PointName = point.Name
	v.RoomLabel = point.RoomLabel

	if token.Status != models.StatusWaiting {
		return v, nil
	}
	position, err := o.engine.Position(ctx, token)
	if err != nil {
		return TokenView{}, err
	}
	wait, err := o.engine.EstimatedWaitMinutes(ctx, point, position)
	if err != nil {
		return TokenView{}, err
	}
	eta := o.engine.EstimatedServiceTime(wait)
	v.Position = position
	v.EstimatedWaitMinutes = wait
	v.EstimatedServiceTime = &eta
	return v, nil
}

func (o *Orchestrator) refreshWaitingGauge(ctx context.Context, token models.Token) {
	if token.PointID == nil {
		return
	}
	n, err := o.store.CountWaiting(ctx, *token.PointID, token.ServiceDate)
	if err != nil {
		o.log.Debugw("waiting count failed", "point_id", *token.PointID, "error", err)
		return
	}
	monitoring.SetWaitingLength(*token.PointID, n)
}
