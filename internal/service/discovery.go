package service

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"travel-points/internal/catalog"
	"travel-points/internal/geo"
	"travel-points/internal/model"
	"travel-points/internal/pkg/lock"
	"travel-points/internal/pkg/text"
	"travel-points/internal/repository"
)

// DiscoveryOptions controls challenge generation and nearby search.
type DiscoveryOptions struct {
	MinPoints       int64
	MaxPoints       int64
	CollectionSize  int
	ExplorerSize    int
	NearbyLimit     int
	ChallengeExpiry time.Duration
}

// DefaultDiscoveryOptions matches the config defaults.
var DefaultDiscoveryOptions = DiscoveryOptions{
	MinPoints:      50,
	MaxPoints:      150,
	CollectionSize: 3,
	ExplorerSize:   5,
	NearbyLimit:    50,
}

// DiscoveryService lists places and challenges and generates challenges
// for cities that have none.
type DiscoveryService struct {
	places     PlaceStore
	challenges ChallengeStore
	locker     lock.Locker
	opts       DiscoveryOptions

	rngMu sync.Mutex
	rng   *rand.Rand
	now   func() time.Time
}

// NewDiscoveryService creates a new DiscoveryService. A nil rng is seeded
// from the runtime; tests pass a fixed one.
func NewDiscoveryService(store Store, locker lock.Locker, rng *rand.Rand, opts DiscoveryOptions) *DiscoveryService {
	if locker == nil {
		locker = lock.NewKeyedLock(0)
	}
	if rng == nil {
		rng = rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
	}
	if opts.CollectionSize < 1 {
		opts.CollectionSize = DefaultDiscoveryOptions.CollectionSize
	}
	if opts.ExplorerSize < 1 {
		opts.ExplorerSize = DefaultDiscoveryOptions.ExplorerSize
	}
	if opts.MinPoints <= 0 || opts.MaxPoints < opts.MinPoints {
		opts.MinPoints = DefaultDiscoveryOptions.MinPoints
		opts.MaxPoints = DefaultDiscoveryOptions.MaxPoints
	}
	if opts.NearbyLimit <= 0 {
		opts.NearbyLimit = DefaultDiscoveryOptions.NearbyLimit
	}
	return &DiscoveryService{
		places:     store,
		challenges: store,
		locker:     locker,
		opts:       opts,
		rng:        rng,
		now:        time.Now,
	}
}

// GetPlace returns a single place.
func (s *DiscoveryService) GetPlace(ctx context.Context, id int64) (*model.Place, error) {
	place, err := s.places.GetPlace(ctx, id)
	if err != nil {
		if errors.Is(err, repository.ErrPlaceNotFound) {
			return nil, ErrPlaceNotFound
		}
		return nil, fmt.Errorf("failed to get place: %w", err)
	}
	return place, nil
}

// ListPlaces returns the places of a city.
func (s *DiscoveryService) ListPlaces(ctx context.Context, city string) ([]*model.Place, error) {
	if catalog.CityKey(city) == "" {
		return nil, ErrInvalidRequest
	}
	places, err := s.places.ListPlacesByCity(ctx, city)
	if err != nil {
		return nil, fmt.Errorf("failed to list places: %w", err)
	}
	return places, nil
}

// NearbyPlace is a place and its distance from the search centre.
type NearbyPlace struct {
	Place          *model.Place `json:"place"`
	DistanceMeters float64      `json:"distanceMeters"`
}

// NearbyPlaces returns places within radiusMeters of center, nearest first.
// A non-positive limit uses the configured default.
func (s *DiscoveryService) NearbyPlaces(ctx context.Context, center geo.Coordinate, radiusMeters float64, limit int) ([]NearbyPlace, error) {
	if !center.Valid() || radiusMeters <= 0 {
		return nil, ErrInvalidRequest
	}
	if limit <= 0 || limit > s.opts.NearbyLimit {
		limit = s.opts.NearbyLimit
	}

	places, err := s.places.ListPlacesNear(ctx, center, radiusMeters, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list nearby places: %w", err)
	}
	out := make([]NearbyPlace, 0, len(places))
	for _, p := range places {
		out = append(out, NearbyPlace{Place: p, DistanceMeters: geo.DistanceMeters(center, *p.Location)})
	}
	return out, nil
}

// AddPlace registers a new place. An unset category is derived from the
// legacy type label.
func (s *DiscoveryService) AddPlace(ctx context.Context, p *model.Place) (*model.Place, error) {
	p.Name = text.Clean(p.Name)
	p.City = strings.TrimSpace(p.City)
	if p.Name == "" || catalog.CityKey(p.City) == "" || p.PointValue < 0 {
		return nil, ErrInvalidRequest
	}
	if p.Location != nil && !p.Location.Valid() {
		return nil, ErrInvalidRequest
	}
	p.Category = p.EffectiveCategory()

	created, err := s.places.CreatePlace(ctx, p)
	if err != nil {
		return nil, fmt.Errorf("failed to create place: %w", err)
	}
	return created, nil
}

// ChallengesForCity returns the city's challenges, generating a set first
// when the city has none. created reports whether generation ran.
func (s *DiscoveryService) ChallengesForCity(ctx context.Context, city string) ([]*model.Challenge, bool, error) {
	key := catalog.CityKey(city)
	if key == "" {
		return nil, false, ErrInvalidRequest
	}

	existing, err := s.challenges.ListChallengesByCity(ctx, city)
	if err != nil {
		return nil, false, fmt.Errorf("failed to list challenges: %w", err)
	}
	if len(existing) > 0 {
		return existing, false, nil
	}

	var (
		out     []*model.Challenge
		created bool
	)
	err = s.locker.WithLock(ctx, lock.CityKey(key), func() error {
		// another caller may have generated while we waited
		n, err := s.challenges.CountChallengesByCity(ctx, city)
		if err != nil {
			return fmt.Errorf("failed to count challenges: %w", err)
		}
		if n == 0 {
			out, err = s.generate(ctx, city)
			if !errors.Is(err, ErrChallengesExist) {
				created = len(out) > 0
				return err
			}
		}
		out, err = s.challenges.ListChallengesByCity(ctx, city)
		if err != nil {
			return fmt.Errorf("failed to list challenges: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, false, err
	}
	return out, created, nil
}

// GenerateChallenges plans and stores a challenge set for a city that has
// none. It returns ErrChallengesExist when the city already has one.
func (s *DiscoveryService) GenerateChallenges(ctx context.Context, city string) ([]*model.Challenge, error) {
	key := catalog.CityKey(city)
	if key == "" {
		return nil, ErrInvalidRequest
	}
	var out []*model.Challenge
	err := s.locker.WithLock(ctx, lock.CityKey(key), func() error {
		n, err := s.challenges.CountChallengesByCity(ctx, city)
		if err != nil {
			return fmt.Errorf("failed to count challenges: %w", err)
		}
		if n > 0 {
			return ErrChallengesExist
		}
		out, err = s.generate(ctx, city)
		return err
	})
	return out, err
}

func (s *DiscoveryService) generate(ctx context.Context, city string) ([]*model.Challenge, error) {
	places, err := s.places.ListPlacesByCity(ctx, city)
	if err != nil {
		return nil, fmt.Errorf("failed to list places: %w", err)
	}

	s.rngMu.Lock()
	planned := PlanChallenges(city, places, s.rng, s.opts)
	s.rngMu.Unlock()

	var expiresAt *time.Time
	if s.opts.ChallengeExpiry > 0 {
		t := s.now().Add(s.opts.ChallengeExpiry)
		expiresAt = &t
	}

	for _, c := range planned {
		c.ExpiresAt = expiresAt
	}
	out, err := s.challenges.CreateCityChallenges(ctx, city, planned)
	if err != nil {
		if errors.Is(err, repository.ErrChallengesExist) {
			return nil, ErrChallengesExist
		}
		return nil, fmt.Errorf("failed to create challenges: %w", err)
	}

	log.Info().
		Str("city", catalog.CityKey(city)).
		Int("places", len(places)).
		Int("challenges", len(out)).
		Msg("Generated challenges")

	return out, nil
}

// PlanChallenges builds unsaved challenges for a city from its places.
//
// Every category with at least opts.CollectionSize located places yields
// one collection challenge over that many randomly chosen places of the
// category. One explorer challenge covers up to opts.ExplorerSize places,
// preferring distinct categories. Points are drawn uniformly from
// [opts.MinPoints, opts.MaxPoints].
func PlanChallenges(city string, places []*model.Place, rng *rand.Rand, opts DiscoveryOptions) []*model.Challenge {
	byCategory := make(map[catalog.Category][]*model.Place)
	var located []*model.Place
	for _, p := range places {
		if !p.HasLocation() {
			continue
		}
		located = append(located, p)
		c := p.EffectiveCategory()
		byCategory[c] = append(byCategory[c], p)
	}

	points := func() int64 {
		return opts.MinPoints + rng.Int64N(opts.MaxPoints-opts.MinPoints+1)
	}

	var out []*model.Challenge
	for _, category := range catalog.All() {
		group := byCategory[category]
		if len(group) < opts.CollectionSize {
			continue
		}
		picked := pick(rng, group, opts.CollectionSize)
		tpl := catalog.CollectionTemplate(category, city, len(picked))
		out = append(out, &model.Challenge{
			City:         city,
			Title:        tpl.Title,
			Description:  tpl.Description,
			Kind:         model.ChallengeKindCollection,
			Category:     category,
			Difficulty:   tpl.Difficulty,
			PointValue:   points(),
			Requirements: visitRequirements(picked),
		})
	}

	if len(located) > 0 {
		picked := pickMixed(rng, located, opts.ExplorerSize)
		tpl := catalog.ExplorerTemplate(city, len(picked))
		out = append(out, &model.Challenge{
			City:         city,
			Title:        tpl.Title,
			Description:  tpl.Description,
			Kind:         model.ChallengeKindExplorer,
			Difficulty:   tpl.Difficulty,
			PointValue:   points(),
			Requirements: visitRequirements(picked),
		})
	}
	return out
}

// pick returns n places chosen at random without replacement.
func pick(rng *rand.Rand, places []*model.Place, n int) []*model.Place {
	shuffled := append([]*model.Place(nil), places...)
	rng.Shuffle(len(shuffled), func(i, j int) { shuffled[i], shuffled[j] = shuffled[j], shuffled[i] })
	if len(shuffled) > n {
		shuffled = shuffled[:n]
	}
	return shuffled
}

// pickMixed picks up to n places, one per category first, then fills the
// rest from whatever is left.
func pickMixed(rng *rand.Rand, places []*model.Place, n int) []*model.Place {
	shuffled := pick(rng, places, len(places))

	seen := make(map[catalog.Category]bool)
	var out, rest []*model.Place
	for _, p := range shuffled {
		c := p.EffectiveCategory()
		if !seen[c] && len(out) < n {
			seen[c] = true
			out = append(out, p)
			continue
		}
		rest = append(rest, p)
	}
	for _, p := range rest {
		if len(out) >= n {
			break
		}
		out = append(out, p)
	}
	return out
}

func visitRequirements(places []*model.Place) []model.Requirement {
	reqs := make([]model.Requirement, 0, len(places))
	for _, p := range places {
		id := p.ID
		reqs = append(reqs, model.Requirement{
			Kind:        model.RequirementVisitPlace,
			TargetID:    &id,
			TargetCount: 1,
			Description: fmt.Sprintf("Visit %s", p.Name),
		})
	}
	return reqs
}

// ListChallenges returns the city's challenges without generating any.
func (s *DiscoveryService) ListChallenges(ctx context.Context, city string) ([]*model.Challenge, error) {
	list, err := s.challenges.ListChallengesByCity(ctx, city)
	if err != nil {
		return nil, fmt.Errorf("failed to list challenges: %w", err)
	}
	return list, nil
}

// GetChallenge returns a challenge with its requirements.
func (s *DiscoveryService) GetChallenge(ctx context.Context, id int64) (*model.Challenge, error) {
	c, err := s.challenges.GetChallenge(ctx, id)
	if err != nil {
		if errors.Is(err, repository.ErrChallengeNotFound) {
			return nil, ErrChallengeNotFound
		}
		return nil, fmt.Errorf("failed to get challenge: %w", err)
	}
	return c, nil
}
