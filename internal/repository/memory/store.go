// Package memory is a map-backed store with the same semantics as the
// PostgreSQL repositories. It backs tests and store.driver=memory.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"travel-points/internal/catalog"
	"travel-points/internal/geo"
	"travel-points/internal/model"
	"travel-points/internal/repository"
)

// progressKey is the composite identity of a progress row.
type progressKey struct {
	UserID        int64
	RequirementID int64
}

// completionKey is the composite identity of a completion marker.
type completionKey struct {
	UserID      int64
	ChallengeID int64
}

// countedKey records that a check-in was applied to a requirement.
type countedKey struct {
	CheckInID     int64
	RequirementID int64
}

// Store keeps every entity in maps guarded by one mutex.
type Store struct {
	mu sync.RWMutex

	users        map[int64]*model.User
	places       map[int64]*model.Place
	checkIns     []*model.CheckIn
	transactions []*model.Transaction
	challenges   map[int64]*model.Challenge
	requirements map[int64]*model.Requirement
	progress     map[progressKey]*model.RequirementProgress
	completions  map[completionKey]*model.ChallengeCompletion
	counted      map[countedKey]bool

	nextID int64
	now    func() time.Time
}

// New creates an empty Store.
func New() *Store {
	return &Store{
		users:        make(map[int64]*model.User),
		places:       make(map[int64]*model.Place),
		challenges:   make(map[int64]*model.Challenge),
		requirements: make(map[int64]*model.Requirement),
		progress:     make(map[progressKey]*model.RequirementProgress),
		completions:  make(map[completionKey]*model.ChallengeCompletion),
		counted:      make(map[countedKey]bool),
		now:          time.Now,
	}
}

func (s *Store) id() int64 {
	s.nextID++
	return s.nextID
}

// ============================================================================
// Users
// ============================================================================

func copyUser(u *model.User) *model.User {
	c := *u
	return &c
}

// GetUser returns a copy of the user.
func (s *Store) GetUser(_ context.Context, id int64) (*model.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	u, ok := s.users[id]
	if !ok {
		return nil, repository.ErrUserNotFound
	}
	return copyUser(u), nil
}

// GetOrCreateUser returns the user, creating it with zero points if missing.
func (s *Store) GetOrCreateUser(_ context.Context, id int64, username string) (*model.User, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if u, ok := s.users[id]; ok {
		return copyUser(u), false, nil
	}
	now := s.now()
	u := &model.User{ID: id, Username: username, CreatedAt: now, UpdatedAt: now}
	s.users[id] = u
	return copyUser(u), true, nil
}

// IncrementPoints adds a positive amount to the user's points.
func (s *Store) IncrementPoints(_ context.Context, id int64, amount int64) (*model.User, error) {
	if amount <= 0 {
		return nil, repository.ErrInvalidAmount
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.users[id]
	if !ok {
		return nil, repository.ErrUserNotFound
	}
	u.Points += amount
	u.UpdatedAt = s.now()
	return copyUser(u), nil
}

// UpdateUsername changes a user's display name.
func (s *Store) UpdateUsername(_ context.Context, id int64, username string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.users[id]
	if !ok {
		return repository.ErrUserNotFound
	}
	u.Username = username
	u.UpdatedAt = s.now()
	return nil
}

// TopUsers returns up to limit users by points, ties broken by ID.
func (s *Store) TopUsers(_ context.Context, limit int) ([]*model.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	users := make([]*model.User, 0, len(s.users))
	for _, u := range s.users {
		users = append(users, copyUser(u))
	}
	sort.Slice(users, func(i, j int) bool {
		if users[i].Points != users[j].Points {
			return users[i].Points > users[j].Points
		}
		return users[i].ID < users[j].ID
	})
	if limit >= 0 && len(users) > limit {
		users = users[:limit]
	}
	return users, nil
}

// ============================================================================
// Ledger
// ============================================================================

// CreateTransaction appends a ledger entry.
func (s *Store) CreateTransaction(_ context.Context, userID, amount int64, txType string, description *string) (*model.Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.users[userID]; !ok {
		return nil, repository.ErrUserNotFound
	}
	return s.appendTransaction(userID, amount, txType, description), nil
}

func (s *Store) appendTransaction(userID, amount int64, txType string, description *string) *model.Transaction {
	tx := &model.Transaction{
		ID:          s.id(),
		UserID:      userID,
		Amount:      amount,
		Type:        txType,
		Description: description,
		CreatedAt:   s.now(),
	}
	s.transactions = append(s.transactions, tx)
	c := *tx
	return &c
}

// ListTransactions returns a user's ledger, newest first.
func (s *Store) ListTransactions(_ context.Context, userID int64, limit int) ([]*model.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*model.Transaction
	for i := len(s.transactions) - 1; i >= 0 && (limit < 0 || len(out) < limit); i-- {
		if tx := s.transactions[i]; tx.UserID == userID {
			c := *tx
			out = append(out, &c)
		}
	}
	return out, nil
}

// TopEarners ranks users by points earned in [from, to).
func (s *Store) TopEarners(_ context.Context, from, to time.Time, limit int) ([]*model.DailyRank, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	earned := make(map[int64]int64)
	for _, tx := range s.transactions {
		if !tx.CreatedAt.Before(from) && tx.CreatedAt.Before(to) {
			earned[tx.UserID] += tx.Amount
		}
	}

	var ranks []*model.DailyRank
	for id, sum := range earned {
		if sum <= 0 {
			continue
		}
		rank := &model.DailyRank{UserID: id, Earned: sum}
		if u, ok := s.users[id]; ok {
			rank.Username = u.Username
		}
		ranks = append(ranks, rank)
	}
	sort.Slice(ranks, func(i, j int) bool {
		if ranks[i].Earned != ranks[j].Earned {
			return ranks[i].Earned > ranks[j].Earned
		}
		return ranks[i].UserID < ranks[j].UserID
	})
	if limit >= 0 && len(ranks) > limit {
		ranks = ranks[:limit]
	}
	return ranks, nil
}

// ============================================================================
// Places and check-ins
// ============================================================================

func copyPlace(p *model.Place) *model.Place {
	c := *p
	if p.Location != nil {
		loc := *p.Location
		c.Location = &loc
	}
	return &c
}

// CreatePlace stores a place and assigns its ID.
func (s *Store) CreatePlace(_ context.Context, p *model.Place) (*model.Place, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored := copyPlace(p)
	stored.ID = s.id()
	stored.CreatedAt = s.now()
	s.places[stored.ID] = stored
	return copyPlace(stored), nil
}

// GetPlace returns a copy of the place.
func (s *Store) GetPlace(_ context.Context, id int64) (*model.Place, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.places[id]
	if !ok {
		return nil, repository.ErrPlaceNotFound
	}
	return copyPlace(p), nil
}

// IncrementVisitCount adds one to the place's visitor counter.
func (s *Store) IncrementVisitCount(_ context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.places[id]
	if !ok {
		return repository.ErrPlaceNotFound
	}
	p.VisitCount++
	return nil
}

// ListPlacesByCity returns a city's places, most visited first.
func (s *Store) ListPlacesByCity(_ context.Context, city string) ([]*model.Place, error) {
	key := catalog.CityKey(city)

	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*model.Place
	for _, p := range s.places {
		if catalog.CityKey(p.City) == key {
			out = append(out, copyPlace(p))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].VisitCount != out[j].VisitCount {
			return out[i].VisitCount > out[j].VisitCount
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

// ListPlacesNear returns places within radiusMeters of center, nearest first.
func (s *Store) ListPlacesNear(_ context.Context, center geo.Coordinate, radiusMeters float64, limit int) ([]*model.Place, error) {
	s.mu.RLock()
	var all []*model.Place
	for _, p := range s.places {
		all = append(all, copyPlace(p))
	}
	s.mu.RUnlock()

	sort.Slice(all, func(i, j int) bool { return all[i].ID < all[j].ID })
	return repository.Nearest(all, center, radiusMeters, limit), nil
}

// CreateCheckIn appends a check-in record.
func (s *Store) CreateCheckIn(_ context.Context, c *model.CheckIn) (*model.CheckIn, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored := *c
	stored.ID = s.id()
	if stored.CreatedAt.IsZero() {
		stored.CreatedAt = s.now()
	}
	s.checkIns = append(s.checkIns, &stored)
	out := stored
	return &out, nil
}

// GetCheckIn returns a copy of the check-in.
func (s *Store) GetCheckIn(_ context.Context, id int64) (*model.CheckIn, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, c := range s.checkIns {
		if c.ID == id {
			cp := *c
			return &cp, nil
		}
	}
	return nil, repository.ErrCheckInNotFound
}

// ListCheckIns returns a user's check-ins, newest first.
func (s *Store) ListCheckIns(_ context.Context, userID int64, limit int) ([]*model.CheckIn, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*model.CheckIn
	for i := len(s.checkIns) - 1; i >= 0 && (limit < 0 || len(out) < limit); i-- {
		if c := s.checkIns[i]; c.UserID == userID {
			cp := *c
			out = append(out, &cp)
		}
	}
	return out, nil
}

// CheckInCount returns how many check-ins have been recorded.
func (s *Store) CheckInCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.checkIns)
}

// ============================================================================
// Challenges
// ============================================================================

func (s *Store) loadChallenge(c *model.Challenge) *model.Challenge {
	out := *c
	out.Requirements = nil
	for _, req := range s.sortedRequirements(c.ID) {
		out.Requirements = append(out.Requirements, *req)
	}
	return &out
}

func (s *Store) sortedRequirements(challengeID int64) []*model.Requirement {
	var reqs []*model.Requirement
	for _, req := range s.requirements {
		if req.ChallengeID == challengeID {
			reqs = append(reqs, req)
		}
	}
	// IDs are assigned in insertion order, which is requirement order
	sort.Slice(reqs, func(i, j int) bool { return reqs[i].ID < reqs[j].ID })
	return reqs
}

// CreateChallenge stores a challenge and its requirements.
func (s *Store) CreateChallenge(_ context.Context, c *model.Challenge) (*model.Challenge, error) {
	if err := validateRequirements(c); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	return s.insertChallenge(c), nil
}

// CreateCityChallenges stores a whole set atomically, refusing with
// repository.ErrChallengesExist when the city already has challenges.
func (s *Store) CreateCityChallenges(_ context.Context, city string, list []*model.Challenge) ([]*model.Challenge, error) {
	for _, c := range list {
		if err := validateRequirements(c); err != nil {
			return nil, err
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	key := catalog.CityKey(city)
	for _, c := range s.challenges {
		if catalog.CityKey(c.City) == key {
			return nil, repository.ErrChallengesExist
		}
	}

	out := make([]*model.Challenge, 0, len(list))
	for _, c := range list {
		out = append(out, s.insertChallenge(c))
	}
	return out, nil
}

func validateRequirements(c *model.Challenge) error {
	for i := range c.Requirements {
		if err := c.Requirements[i].Validate(); err != nil {
			return err
		}
	}
	return nil
}

// insertChallenge expects s.mu to be held.
func (s *Store) insertChallenge(c *model.Challenge) *model.Challenge {
	stored := *c
	stored.ID = s.id()
	stored.CreatedAt = s.now()
	stored.Requirements = nil
	s.challenges[stored.ID] = &stored

	for _, req := range c.Requirements {
		r := req
		r.ID = s.id()
		r.ChallengeID = stored.ID
		s.requirements[r.ID] = &r
	}
	return s.loadChallenge(&stored)
}

// GetChallenge returns a challenge with its requirements.
func (s *Store) GetChallenge(_ context.Context, id int64) (*model.Challenge, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	c, ok := s.challenges[id]
	if !ok {
		return nil, repository.ErrChallengeNotFound
	}
	return s.loadChallenge(c), nil
}

// GetRequirement returns a single requirement.
func (s *Store) GetRequirement(_ context.Context, id int64) (*model.Requirement, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	req, ok := s.requirements[id]
	if !ok {
		return nil, repository.ErrRequirementNotFound
	}
	out := *req
	return &out, nil
}

// GetRequirementsForChallenge returns a challenge's requirements in order.
func (s *Store) GetRequirementsForChallenge(_ context.Context, challengeID int64) ([]model.Requirement, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []model.Requirement
	for _, req := range s.sortedRequirements(challengeID) {
		out = append(out, *req)
	}
	return out, nil
}

// ListChallengesByCity returns a city's challenges, oldest first.
func (s *Store) ListChallengesByCity(_ context.Context, city string) ([]*model.Challenge, error) {
	key := catalog.CityKey(city)

	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*model.Challenge
	for _, c := range s.challenges {
		if catalog.CityKey(c.City) == key {
			out = append(out, s.loadChallenge(c))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// CountChallengesByCity reports how many challenges a city has.
func (s *Store) CountChallengesByCity(ctx context.Context, city string) (int, error) {
	list, err := s.ListChallengesByCity(ctx, city)
	return len(list), err
}

// ============================================================================
// Progress
// ============================================================================

func copyProgress(p *model.RequirementProgress) *model.RequirementProgress {
	c := *p
	if p.CompletedAt != nil {
		t := *p.CompletedAt
		c.CompletedAt = &t
	}
	return &c
}

// GetProgress returns the progress row for (userID, requirementID).
func (s *Store) GetProgress(_ context.Context, userID, requirementID int64) (*model.RequirementProgress, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.progress[progressKey{userID, requirementID}]
	if !ok {
		return nil, repository.ErrProgressNotFound
	}
	return copyProgress(p), nil
}

// GetRequirementProgress returns a user's progress rows for a challenge.
func (s *Store) GetRequirementProgress(_ context.Context, userID, challengeID int64) ([]*model.RequirementProgress, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*model.RequirementProgress
	for key, p := range s.progress {
		if key.UserID == userID && p.ChallengeID == challengeID {
			out = append(out, copyProgress(p))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].RequirementID < out[j].RequirementID })
	return out, nil
}

// UpsertRequirementProgress applies checkInID to the requirement and
// writes p, atomically. A repeated check-in returns
// repository.ErrCheckInAlreadyCounted. The write lands only when the stored
// row is absent, or is not completed and still has expectedCount;
// otherwise it returns repository.ErrProgressConflict and changes nothing.
func (s *Store) UpsertRequirementProgress(_ context.Context, p *model.RequirementProgress, expectedCount int, checkInID int64) (*model.RequirementProgress, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	counted := countedKey{checkInID, p.RequirementID}
	if s.counted[counted] {
		return nil, repository.ErrCheckInAlreadyCounted
	}

	key := progressKey{p.UserID, p.RequirementID}
	if existing, ok := s.progress[key]; ok {
		if existing.Completed || existing.Count != expectedCount {
			return nil, repository.ErrProgressConflict
		}
	}

	stored := copyProgress(p)
	stored.UpdatedAt = s.now()
	s.progress[key] = stored
	s.counted[counted] = true
	return copyProgress(stored), nil
}

// MarkChallengeCompleted inserts the completion marker and, only when it
// is new, credits the bonus and appends the ledger entry.
func (s *Store) MarkChallengeCompleted(_ context.Context, c *model.ChallengeCompletion) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := completionKey{c.UserID, c.ChallengeID}
	if _, ok := s.completions[key]; ok {
		return false, nil
	}

	if c.BonusPoints > 0 {
		u, ok := s.users[c.UserID]
		if !ok {
			return false, repository.ErrUserNotFound
		}
		u.Points += c.BonusPoints
		u.UpdatedAt = s.now()
		desc := fmt.Sprintf("challenge %d completed", c.ChallengeID)
		s.appendTransaction(c.UserID, c.BonusPoints, model.TxTypeChallengeBonus, &desc)
	}

	stored := *c
	stored.CompletedAt = s.now()
	s.completions[key] = &stored
	return true, nil
}

// GetChallengeCompletion returns the completion marker for (user, challenge).
func (s *Store) GetChallengeCompletion(_ context.Context, userID, challengeID int64) (*model.ChallengeCompletion, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	c, ok := s.completions[completionKey{userID, challengeID}]
	if !ok {
		return nil, repository.ErrCompletionNotFound
	}
	out := *c
	return &out, nil
}
