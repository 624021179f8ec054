// Package memory implements store.Repository with in-process maps. It backs
// tests and the no-database development mode; its ordering and error
// semantics mirror the postgres implementation.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"smartqueue/internal/models"
	"smartqueue/internal/store"
)

type data struct {
	parties map[string]models.Party
	groups  map[string]models.ServiceGroup
	points  map[string]models.ServicePoint
	tokens  map[string]models.Token
}

type Store struct {
	mu     *sync.RWMutex
	locked bool // true for the transaction-bound view handed to InTx callbacks
	data   *data
}

func NewStore() *Store {
	return &Store{
		mu: &sync.RWMutex{},
		data: &data{
			parties: make(map[string]models.Party),
			groups:  make(map[string]models.ServiceGroup),
			points:  make(map[string]models.ServicePoint),
			tokens:  make(map[string]models.Token),
		},
	}
}

// InTx serializes the callback under the store mutex. Rollback of partial
// writes is not simulated; tests exercise failure paths before any write.
func (s *Store) InTx(ctx context.Context, fn func(store.Repository) error) error {
	if s.locked {
		return fn(s)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return fn(&Store{mu: s.mu, locked: true, data: s.data})
}

func (s *Store) rlock() func() {
	if s.locked {
		return func() {}
	}
	s.mu.RLock()
	return s.mu.RUnlock
}

func (s *Store) lock() func() {
	if s.locked {
		return func() {}
	}
	s.mu.Lock()
	return s.mu.Unlock
}

// AddServiceGroup and AddServicePoint seed reference data; administrative
// CRUD of these entities lives outside the core.
func (s *Store) AddServiceGroup(group models.ServiceGroup) {
	defer s.lock()()
	s.data.groups[group.GroupID] = group
}

func (s *Store) AddServicePoint(point models.ServicePoint) {
	defer s.lock()()
	s.data.points[point.PointID] = point
}

func (s *Store) CreateParty(ctx context.Context, party models.Party) error {
	defer s.lock()()
	for _, existing := range s.data.parties {
		if existing.Phone == party.Phone {
			return store.ErrDuplicatePhone
		}
	}
	s.data.parties[party.PartyID] = party
	return nil
}

func (s *Store) GetParty(ctx context.Context, partyID string) (models.Party, error) {
	defer s.rlock()()
	party, ok := s.data.parties[partyID]
	if !ok {
		return models.Party{}, store.ErrPartyNotFound
	}
	return party, nil
}

func (s *Store) GetPartyByPhone(ctx context.Context, phone string) (models.Party, bool, error) {
	defer s.rlock()()
	for _, party := range s.data.parties {
		if party.Phone == phone {
			return party, true, nil
		}
	}
	return models.Party{}, false, nil
}

func (s *Store) GetServiceGroup(ctx context.Context, groupID string) (models.ServiceGroup, error) {
	defer s.rlock()()
	group, ok := s.data.groups[groupID]
	if !ok {
		return models.ServiceGroup{}, store.ErrGroupNotFound
	}
	return group, nil
}

func (s *Store) GetServicePoint(ctx context.Context, pointID string) (models.ServicePoint, error) {
	defer s.rlock()()
	point, ok := s.data.points[pointID]
	if !ok {
		return models.ServicePoint{}, store.ErrPointNotFound
	}
	return point, nil
}

func (s *Store) InsertToken(ctx context.Context, token models.Token) error {
	defer s.lock()()
	for _, existing := range s.data.tokens {
		if existing.TokenNumber == token.TokenNumber && existing.ServiceDate.Equal(token.ServiceDate) {
			return store.ErrDuplicateTokenNumber
		}
	}
	s.data.tokens[token.TokenID] = token
	return nil
}

func (s *Store) UpdateToken(ctx context.Context, token models.Token) error {
	defer s.lock()()
	if _, ok := s.data.tokens[token.TokenID]; !ok {
		return store.ErrTokenNotFound
	}
	s.data.tokens[token.TokenID] = token
	return nil
}

func (s *Store) GetToken(ctx context.Context, tokenID string) (models.Token, error) {
	defer s.rlock()()
	token, ok := s.data.tokens[tokenID]
	if !ok {
		return models.Token{}, store.ErrTokenNotFound
	}
	return token, nil
}

func (s *Store) GetTokenByNumber(ctx context.Context, tokenNumber string, date time.Time) (models.Token, error) {
	defer s.rlock()()
	for _, token := range s.data.tokens {
		if token.TokenNumber == tokenNumber && token.ServiceDate.Equal(date) {
			return token, nil
		}
	}
	return models.Token{}, store.ErrTokenNotFound
}

func (s *Store) ListPartyTokens(ctx context.Context, partyID string, date time.Time) ([]models.Token, error) {
	defer s.rlock()()
	var tokens []models.Token
	for _, token := range s.data.tokens {
		if token.PartyID == partyID && token.ServiceDate.Equal(date) {
			tokens = append(tokens, token)
		}
	}
	sort.Slice(tokens, func(i, j int) bool {
		return tokens[i].GeneratedAt.Before(tokens[j].GeneratedAt)
	})
	return tokens, nil
}

func (s *Store) WaitingTokens(ctx context.Context, pointID string, date time.Time) ([]models.Token, error) {
	defer s.rlock()()
	var tokens []models.Token
	for _, token := range s.data.tokens {
		if tokenAtPoint(token, pointID, date) && token.Status == models.StatusWaiting {
			tokens = append(tokens, token)
		}
	}
	sort.Slice(tokens, func(i, j int) bool {
		a, b := tokens[i], tokens[j]
		if a.PriorityScore != b.PriorityScore {
			return a.PriorityScore > b.PriorityScore
		}
		if !a.GeneratedAt.Equal(b.GeneratedAt) {
			return a.GeneratedAt.Before(b.GeneratedAt)
		}
		return a.TokenNumber < b.TokenNumber
	})
	return tokens, nil
}

func (s *Store) CurrentServing(ctx context.Context, pointID string, date time.Time) (models.Token, bool, error) {
	defer s.rlock()()
	for _, token := range s.data.tokens {
		if tokenAtPoint(token, pointID, date) &&
			(token.Status == models.StatusCalled || token.Status == models.StatusInConsultation) {
			return token, true, nil
		}
	}
	return models.Token{}, false, nil
}

func (s *Store) CountWaiting(ctx context.Context, pointID string, date time.Time) (int, error) {
	defer s.rlock()()
	count := 0
	for _, token := range s.data.tokens {
		if tokenAtPoint(token, pointID, date) && token.Status == models.StatusWaiting {
			count++
		}
	}
	return count, nil
}

func (s *Store) CountPointTokens(ctx context.Context, pointID string, date time.Time) (int, error) {
	defer s.rlock()()
	count := 0
	for _, token := range s.data.tokens {
		if tokenAtPoint(token, pointID, date) {
			count++
		}
	}
	return count, nil
}

func (s *Store) CountGroupTokens(ctx context.Context, groupID string, date time.Time) (int, error) {
	defer s.rlock()()
	count := 0
	for _, token := range s.data.tokens {
		if token.GroupID == groupID && token.ServiceDate.Equal(date) {
			count++
		}
	}
	return count, nil
}

func (s *Store) CountAhead(ctx context.Context, key store.AheadKey) (int, error) {
	defer s.rlock()()
	count := 0
	for _, token := range s.data.tokens {
		if !tokenAtPoint(token, key.PointID, key.Date) || token.Status != models.StatusWaiting {
			continue
		}
		if token.PriorityScore > key.PriorityScore ||
			(token.PriorityScore == key.PriorityScore && token.GeneratedAt.Before(key.GeneratedAt)) {
			count++
		}
	}
	return count, nil
}

func (s *Store) AverageConsultationMinutes(ctx context.Context, pointID string, since time.Time) (float64, bool, error) {
	defer s.rlock()()
	var total float64
	var count int
	for _, token := range s.data.tokens {
		if token.PointID == nil || *token.PointID != pointID || token.Status != models.StatusCompleted {
			continue
		}
		if token.ConsultationStartedAt == nil || token.ConsultationEndedAt == nil || token.ConsultationEndedAt.Before(since) {
			continue
		}
		total += token.ConsultationEndedAt.Sub(*token.ConsultationStartedAt).Minutes()
		count++
	}
	if count == 0 {
		return 0, false, nil
	}
	return total / float64(count), true, nil
}

func tokenAtPoint(token models.Token, pointID string, date time.Time) bool {
	return token.PointID != nil && *token.PointID == pointID && token.ServiceDate.Equal(date)
}
