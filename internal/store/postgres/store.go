// Package postgres implements the store.Repository against PostgreSQL via
// pgx. All queue ordering is done in SQL so that every read reflects
// committed state; see schema.sql for the supporting index.
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"smartqueue/internal/models"
	"smartqueue/internal/store"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

const uniqueViolation = "23505"

type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type Store struct {
	pool *pgxpool.Pool // nil when transaction-bound
	db   querier
}

func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool, db: pool}
}

func (s *Store) InTx(ctx context.Context, fn func(store.Repository) error) error {
	if s.pool == nil {
		return fn(s)
	}
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
		}
	}()
	if err = fn(&Store{db: tx}); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func (s *Store) CreateParty(ctx context.Context, party models.Party) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO parties (party_id, full_name, phone, email, date_of_birth, expectant, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7)
	`, party.PartyID, party.FullName, party.Phone, nullIfEmpty(party.Email), party.DateOfBirth, party.Expectant, party.CreatedAt)
	if isUniqueViolation(err) {
		return store.ErrDuplicatePhone
	}
	return err
}

func (s *Store) GetParty(ctx context.Context, partyID string) (models.Party, error) {
	row := s.db.QueryRow(ctx, `
		SELECT party_id, full_name, phone, email, date_of_birth, expectant, created_at
		FROM parties
		WHERE party_id = $1
	`, partyID)
	return scanParty(row)
}

func (s *Store) GetPartyByPhone(ctx context.Context, phone string) (models.Party, bool, error) {
	row := s.db.QueryRow(ctx, `
		SELECT party_id, full_name, phone, email, date_of_birth, expectant, created_at
		FROM parties
		WHERE phone = $1
	`, phone)
	party, err := scanParty(row)
	if errors.Is(err, store.ErrPartyNotFound) {
		return models.Party{}, false, nil
	}
	if err != nil {
		return models.Party{}, false, err
	}
	return party, true, nil
}

func scanParty(row pgx.Row) (models.Party, error) {
	var party models.Party
	var emailNull sql.NullString
	if err := row.Scan(&party.PartyID, &party.FullName, &party.Phone, &emailNull, &party.DateOfBirth, &party.Expectant, &party.CreatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.Party{}, store.ErrPartyNotFound
		}
		return models.Party{}, err
	}
	if emailNull.Valid {
		party.Email = emailNull.String
	}
	return party, nil
}

func (s *Store) GetServiceGroup(ctx context.Context, groupID string) (models.ServiceGroup, error) {
	var group models.ServiceGroup
	row := s.db.QueryRow(ctx, `
		SELECT group_id, code, name
		FROM service_groups
		WHERE group_id = $1
	`, groupID)
	if err := row.Scan(&group.GroupID, &group.Code, &group.Name); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.ServiceGroup{}, store.ErrGroupNotFound
		}
		return models.ServiceGroup{}, err
	}
	return group, nil
}

func (s *Store) GetServicePoint(ctx context.Context, pointID string) (models.ServicePoint, error) {
	var point models.ServicePoint
	var roomNull sql.NullString
	row := s.db.QueryRow(ctx, `
		SELECT point_id, group_id, name, room_label, service_duration_minutes, daily_capacity, available
		FROM service_points
		WHERE point_id = $1
	`, pointID)
	if err := row.Scan(&point.PointID, &point.GroupID, &point.Name, &roomNull, &point.ServiceDurationMinutes, &point.DailyCapacity, &point.Available); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.ServicePoint{}, store.ErrPointNotFound
		}
		return models.ServicePoint{}, err
	}
	if roomNull.Valid {
		point.RoomLabel = roomNull.String
	}
	return point, nil
}

const tokenColumns = `token_id, token_number, party_id, point_id, group_id, service_date,
	priority, priority_score, status, generated_at, called_at,
	consultation_started_at, consultation_ended_at, notes`

func (s *Store) InsertToken(ctx context.Context, token models.Token) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO tokens (`+tokenColumns+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14)
	`, token.TokenID, token.TokenNumber, token.PartyID, token.PointID, token.GroupID,
		token.ServiceDate, token.Priority, token.PriorityScore, token.Status,
		token.GeneratedAt, token.CalledAt, token.ConsultationStartedAt,
		token.ConsultationEndedAt, nullIfEmpty(token.Notes))
	if isUniqueViolation(err) {
		return store.ErrDuplicateTokenNumber
	}
	return err
}

func (s *Store) UpdateToken(ctx context.Context, token models.Token) error {
	tag, err := s.db.Exec(ctx, `
		UPDATE tokens
		SET priority = $2,
			priority_score = $3,
			status = $4,
			called_at = $5,
			consultation_started_at = $6,
			consultation_ended_at = $7
		WHERE token_id = $1
	`, token.TokenID, token.Priority, token.PriorityScore, token.Status,
		token.CalledAt, token.ConsultationStartedAt, token.ConsultationEndedAt)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return store.ErrTokenNotFound
	}
	return nil
}

func (s *Store) GetToken(ctx context.Context, tokenID string) (models.Token, error) {
	row := s.db.QueryRow(ctx, `
		SELECT `+tokenColumns+`
		FROM tokens
		WHERE token_id = $1
	`, tokenID)
	return scanToken(row)
}

func (s *Store) GetTokenByNumber(ctx context.Context, tokenNumber string, date time.Time) (models.Token, error) {
	row := s.db.QueryRow(ctx, `
		SELECT `+tokenColumns+`
		FROM tokens
		WHERE token_number = $1 AND service_date = $2
	`, tokenNumber, date)
	return scanToken(row)
}

func (s *Store) ListPartyTokens(ctx context.Context, partyID string, date time.Time) ([]models.Token, error) {
	rows, err := s.db.Query(ctx, `
		SELECT `+tokenColumns+`
		FROM tokens
		WHERE party_id = $1 AND service_date = $2
		ORDER BY generated_at ASC
	`, partyID, date)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanTokens(rows)
}

func (s *Store) WaitingTokens(ctx context.Context, pointID string, date time.Time) ([]models.Token, error) {
	rows, err := s.db.Query(ctx, `
		SELECT `+tokenColumns+`
		FROM tokens
		WHERE point_id = $1 AND service_date = $2 AND status = 'WAITING'
		ORDER BY priority_score DESC, generated_at ASC, token_number ASC
	`, pointID, date)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanTokens(rows)
}

func (s *Store) CurrentServing(ctx context.Context, pointID string, date time.Time) (models.Token, bool, error) {
	row := s.db.QueryRow(ctx, `
		SELECT `+tokenColumns+`
		FROM tokens
		WHERE point_id = $1 AND service_date = $2 AND status IN ('CALLED', 'IN_CONSULTATION')
		LIMIT 1
	`, pointID, date)
	token, err := scanToken(row)
	if errors.Is(err, store.ErrTokenNotFound) {
		return models.Token{}, false, nil
	}
	if err != nil {
		return models.Token{}, false, err
	}
	return token, true, nil
}

func (s *Store) CountWaiting(ctx context.Context, pointID string, date time.Time) (int, error) {
	return s.count(ctx, `
		SELECT COUNT(1) FROM tokens
		WHERE point_id = $1 AND service_date = $2 AND status = 'WAITING'
	`, pointID, date)
}

func (s *Store) CountPointTokens(ctx context.Context, pointID string, date time.Time) (int, error) {
	return s.count(ctx, `
		SELECT COUNT(1) FROM tokens
		WHERE point_id = $1 AND service_date = $2
	`, pointID, date)
}

func (s *Store) CountGroupTokens(ctx context.Context, groupID string, date time.Time) (int, error) {
	return s.count(ctx, `
		SELECT COUNT(1) FROM tokens
		WHERE group_id = $1 AND service_date = $2
	`, groupID, date)
}

func (s *Store) CountAhead(ctx context.Context, key store.AheadKey) (int, error) {
	return s.count(ctx, `
		SELECT COUNT(1) FROM tokens
		WHERE point_id = $1 AND service_date = $2 AND status = 'WAITING'
			AND (priority_score > $3 OR (priority_score = $3 AND generated_at < $4))
	`, key.PointID, key.Date, key.PriorityScore, key.GeneratedAt)
}

func (s *Store) AverageConsultationMinutes(ctx context.Context, pointID string, since time.Time) (float64, bool, error) {
	var mean sql.NullFloat64
	row := s.db.QueryRow(ctx, `
		SELECT AVG(EXTRACT(EPOCH FROM (consultation_ended_at - consultation_started_at)) / 60.0)
		FROM tokens
		WHERE point_id = $1 AND status = 'COMPLETED'
			AND consultation_started_at IS NOT NULL
			AND consultation_ended_at >= $2
	`, pointID, since)
	if err := row.Scan(&mean); err != nil {
		return 0, false, err
	}
	if !mean.Valid {
		return 0, false, nil
	}
	return mean.Float64, true, nil
}

func (s *Store) count(ctx context.Context, query string, args ...any) (int, error) {
	var count int
	if err := s.db.QueryRow(ctx, query, args...).Scan(&count); err != nil {
		return 0, err
	}
	return count, nil
}

func scanToken(row pgx.Row) (models.Token, error) {
	var token models.Token
	var pointIDNull sql.NullString
	var calledAtNull sql.NullTime
	var startedAtNull sql.NullTime
	var endedAtNull sql.NullTime
	var notesNull sql.NullString
	err := row.Scan(&token.TokenID, &token.TokenNumber, &token.PartyID, &pointIDNull,
		&token.GroupID, &token.ServiceDate, &token.Priority, &token.PriorityScore,
		&token.Status, &token.GeneratedAt, &calledAtNull, &startedAtNull, &endedAtNull, &notesNull)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.Token{}, store.ErrTokenNotFound
		}
		return models.Token{}, err
	}
	token.PointID = nullStringPtr(pointIDNull)
	token.CalledAt = nullTimePtr(calledAtNull)
	token.ConsultationStartedAt = nullTimePtr(startedAtNull)
	token.ConsultationEndedAt = nullTimePtr(endedAtNull)
	if notesNull.Valid {
		token.Notes = notesNull.String
	}
	return token, nil
}

func scanTokens(rows pgx.Rows) ([]models.Token, error) {
	var tokens []models.Token
	for rows.Next() {
		token, err := scanToken(rows)
		if err != nil {
			return nil, err
		}
		tokens = append(tokens, token)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return tokens, nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolation
}

func nullIfEmpty(value string) any {
	if value == "" {
		return nil
	}
	return value
}

func nullStringPtr(value sql.NullString) *string {
	if !value.Valid {
		return nil
	}
	text := value.String
	return &text
}

func nullTimePtr(value sql.NullTime) *time.Time {
	if !value.Valid {
		return nil
	}
	t := value.Time
	return &t
}
