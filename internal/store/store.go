package store

import (
	"context"
	"time"

	"smartqueue/internal/models"
)

// AheadKey identifies a waiting token's ordering key. CountAhead counts the
// waiting tokens at the same point and date that sort strictly before it:
// higher priority score, or equal score with earlier generation.
type AheadKey struct {
	PointID       string
	Date          time.Time
	PriorityScore int
	GeneratedAt   time.Time
}

// Repository is the narrow persistence surface the core consumes. Ordered and
// counted queries are always scoped by service point (or group) and date.
//
// InTx runs fn against a transaction-bound Repository with at least
// read-committed isolation; fn's writes commit atomically or not at all.
// Calling InTx on an already transaction-bound Repository runs fn in the
// same transaction.
type Repository interface {
	InTx(ctx context.Context, fn func(Repository) error) error

	CreateParty(ctx context.Context, party models.Party) error
	GetParty(ctx context.Context, partyID string) (models.Party, error)
	GetPartyByPhone(ctx context.Context, phone string) (models.Party, bool, error)

	GetServiceGroup(ctx context.Context, groupID string) (models.ServiceGroup, error)
	GetServicePoint(ctx context.Context, pointID string) (models.ServicePoint, error)

	// InsertToken persists a new token. A (token_number, service_date)
	// collision from a concurrent creation returns ErrDuplicateTokenNumber.
	InsertToken(ctx context.Context, token models.Token) error
	UpdateToken(ctx context.Context, token models.Token) error
	GetToken(ctx context.Context, tokenID string) (models.Token, error)
	GetTokenByNumber(ctx context.Context, tokenNumber string, date time.Time) (models.Token, error)
	ListPartyTokens(ctx context.Context, partyID string, date time.Time) ([]models.Token, error)

	// WaitingTokens returns the waiting queue for a point and date in queue
	// order: priority score descending, then generated-at ascending, with
	// token number as the deterministic final tie-break.
	WaitingTokens(ctx context.Context, pointID string, date time.Time) ([]models.Token, error)
	// CurrentServing returns the unique CALLED or IN_CONSULTATION token for
	// a point and date, if any.
	CurrentServing(ctx context.Context, pointID string, date time.Time) (models.Token, bool, error)

	CountWaiting(ctx context.Context, pointID string, date time.Time) (int, error)
	CountPointTokens(ctx context.Context, pointID string, date time.Time) (int, error)
	CountGroupTokens(ctx context.Context, groupID string, date time.Time) (int, error)
	CountAhead(ctx context.Context, key AheadKey) (int, error)

	// AverageConsultationMinutes is the mean completed-consultation length
	// for a point since the given instant. ok is false when no completed
	// consultation exists in the window.
	AverageConsultationMinutes(ctx context.Context, pointID string, since time.Time) (mean float64, ok bool, err error)
}
