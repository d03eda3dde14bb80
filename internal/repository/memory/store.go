// Package memory is an in-process store with the same contract and error
// sentinels as the MySQL repositories. It backs service tests and local runs
// without a database.
package memory

import (
	"context"
	"sync"
	"time"

	"github.com/iliyamo/storefront-identity/internal/model"
	"github.com/iliyamo/storefront-identity/internal/repository"
)

// Store holds users, credential records and tickets. Values are copied on
// the way in and out so callers never share memory with the store.
type Store struct {
	mu            sync.Mutex
	users         map[string]model.User // by id
	emails        map[string]string     // normalized email -> id
	refresh       map[string]model.RefreshToken
	verifications map[string]model.VerificationToken
	tickets       map[string]model.Ticket
	seq           int64 // insertion order, breaks created_at ties
	order         map[string]int64
}

func New() *Store {
	return &Store{
		users:         map[string]model.User{},
		emails:        map[string]string{},
		refresh:       map[string]model.RefreshToken{},
		verifications: map[string]model.VerificationToken{},
		tickets:       map[string]model.Ticket{},
		order:         map[string]int64{},
	}
}

func (s *Store) stamp(id string) {
	s.seq++
	s.order[id] = s.seq
}

// newer reports whether record a was created after b.
func (s *Store) newer(aID string, aAt time.Time, bID string, bAt time.Time) bool {
	if !aAt.Equal(bAt) {
		return aAt.After(bAt)
	}
	return s.order[aID] > s.order[bID]
}

func copyTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}

func copyString(p *string) *string {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}

func cloneUser(u model.User) model.User {
	u.EmailVerifiedAt = copyTime(u.EmailVerifiedAt)
	return u
}

func (s *Store) CreateUser(_ context.Context, u model.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	u.Email = repository.NormalizeEmail(u.Email)
	if _, ok := s.emails[u.Email]; ok {
		return repository.ErrEmailExists
	}
	if _, ok := s.users[u.ID]; ok {
		return repository.ErrConflict
	}
	s.users[u.ID] = cloneUser(u)
	s.emails[u.Email] = u.ID
	return nil
}

// UpdateUser overwrites the mutable fields of an existing user. The email
// is not mutable.
func (s *Store) UpdateUser(_ context.Context, u model.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.users[u.ID]
	if !ok {
		return repository.ErrNotFound
	}
	cur.Name = u.Name
	cur.Role = u.Role
	cur.PasswordHash = u.PasswordHash
	cur.EmailVerifiedAt = copyTime(u.EmailVerifiedAt)
	cur.UpdatedAt = u.UpdatedAt
	s.users[u.ID] = cur
	return nil
}

func (s *Store) FindUserByEmail(_ context.Context, email string) (model.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.emails[repository.NormalizeEmail(email)]
	if !ok {
		return model.User{}, repository.ErrNotFound
	}
	return cloneUser(s.users[id]), nil
}

func (s *Store) FindUserByID(_ context.Context, id string) (model.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[id]
	if !ok {
		return model.User{}, repository.ErrNotFound
	}
	return cloneUser(u), nil
}

func (s *Store) CreateRefreshRecord(_ context.Context, t model.RefreshToken) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.refresh[t.ID]; ok {
		return repository.ErrConflict
	}
	s.refresh[t.ID] = t
	s.stamp(t.ID)
	return nil
}

func (s *Store) FindLatestRefreshRecord(_ context.Context, userID string) (model.RefreshToken, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var (
		latest model.RefreshToken
		found  bool
	)
	for _, r := range s.refresh {
		if r.UserID != userID {
			continue
		}
		if !found || s.newer(r.ID, r.CreatedAt, latest.ID, latest.CreatedAt) {
			latest, found = r, true
		}
	}
	if !found {
		return model.RefreshToken{}, repository.ErrNotFound
	}
	return latest, nil
}

func (s *Store) DeleteRefreshRecord(_ context.Context, id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.refresh[id]; !ok {
		return false, nil
	}
	delete(s.refresh, id)
	delete(s.order, id)
	return true, nil
}

func (s *Store) DeleteAllRefreshRecords(_ context.Context, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, r := range s.refresh {
		if r.UserID == userID {
			delete(s.refresh, id)
			delete(s.order, id)
		}
	}
	return nil
}

// RefreshRecords returns the user's stored refresh records.
func (s *Store) RefreshRecords(userID string) []model.RefreshToken {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []model.RefreshToken
	for _, r := range s.refresh {
		if r.UserID == userID {
			out = append(out, r)
		}
	}
	return out
}

func cloneVerification(v model.VerificationToken) model.VerificationToken {
	v.UsedAt = copyTime(v.UsedAt)
	return v
}

func (s *Store) CreateVerificationRecord(_ context.Context, v model.VerificationToken) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.verifications[v.ID]; ok {
		return repository.ErrConflict
	}
	for _, cur := range s.verifications {
		if cur.Token == v.Token {
			return repository.ErrConflict
		}
	}
	s.verifications[v.ID] = cloneVerification(v)
	s.stamp(v.ID)
	return nil
}

func (s *Store) FindActiveVerificationRecord(_ context.Context, userID string, now time.Time) (model.VerificationToken, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var (
		latest model.VerificationToken
		found  bool
	)
	for _, v := range s.verifications {
		if v.UserID != userID || !v.ActiveAt(now) {
			continue
		}
		if !found || s.newer(v.ID, v.CreatedAt, latest.ID, latest.CreatedAt) {
			latest, found = v, true
		}
	}
	if !found {
		return model.VerificationToken{}, repository.ErrNotFound
	}
	return cloneVerification(latest), nil
}

func (s *Store) FindVerificationRecordByToken(_ context.Context, token string) (model.VerificationToken, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, v := range s.verifications {
		if v.Token == token {
			return cloneVerification(v), nil
		}
	}
	return model.VerificationToken{}, repository.ErrNotFound
}

func (s *Store) MarkVerificationUsed(_ context.Context, id string, at time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.verifications[id]
	if !ok || v.UsedAt != nil {
		return false, nil
	}
	v.UsedAt = &at
	s.verifications[id] = v
	return true, nil
}

func (s *Store) DeleteVerificationRecord(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.verifications, id)
	delete(s.order, id)
	return nil
}

func (s *Store) DeleteOtherVerificationRecords(_ context.Context, userID, keepID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, v := range s.verifications {
		if v.UserID == userID && id != keepID && v.UsedAt == nil {
			delete(s.verifications, id)
			delete(s.order, id)
		}
	}
	return nil
}

// ActiveVerificationRecords returns every unused, unexpired token of the
// user at now.
func (s *Store) ActiveVerificationRecords(userID string, now time.Time) []model.VerificationToken {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []model.VerificationToken
	for _, v := range s.verifications {
		if v.UserID == userID && v.ActiveAt(now) {
			out = append(out, cloneVerification(v))
		}
	}
	return out
}

func cloneTicket(t model.Ticket) model.Ticket {
	t.RequesterUserID = copyString(t.RequesterUserID)
	t.OrderID = copyString(t.OrderID)
	return t
}

func (s *Store) CreateTicket(_ context.Context, t model.Ticket) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.tickets[t.ID]; ok {
		return repository.ErrConflict
	}
	for _, cur := range s.tickets {
		if cur.Number == t.Number {
			return repository.ErrConflict
		}
	}
	t.RequesterEmail = repository.NormalizeEmail(t.RequesterEmail)
	s.tickets[t.ID] = cloneTicket(t)
	return nil
}

func (s *Store) FindTicket(_ context.Context, id string) (model.Ticket, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tickets[id]
	if !ok {
		return model.Ticket{}, repository.ErrNotFound
	}
	return cloneTicket(t), nil
}

func (s *Store) UpdateTicketStatus(_ context.Context, id string, status model.TicketStatus, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tickets[id]
	if !ok {
		return repository.ErrNotFound
	}
	t.Status = status
	t.UpdatedAt = at
	s.tickets[id] = t
	return nil
}
