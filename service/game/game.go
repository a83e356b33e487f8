// Package game implements the preference-duel orchestrator: onboarding,
// round candidate assembly, pick resolution, and the post-game summary
// (SPEC_FULL §4.6), grounded on
// _examples/original_source/backend/app/services/game_service.py's
// GameService, ported method for method, with the teacher's
// service-struct-plus-repository idiom from service/recommend.
package game

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"math/rand"
	"strings"
	"sync"
	"time"

	"github.com/bsm/redislock"

	"github.com/prefduel/prefduel/persist"
	"github.com/prefduel/prefduel/persist/mongodb"
	"github.com/prefduel/prefduel/service/apperror"
	"github.com/prefduel/prefduel/service/recommend"
)

// TotalRounds is the default duel length for a new game.
const TotalRounds = 5

// OnboardingPoolSize is the number of products offered for onboarding
// selection.
const OnboardingPoolSize = 50

// OnboardingPickCount is how many of the pool the player must choose.
const OnboardingPickCount = 10

// RoundCandidateCount is the number of candidates offered each round.
const RoundCandidateCount = 10

// Service orchestrates games against a catalog/session backed recommender.
// It holds no mutable state of its own beyond the per-session lock table;
// all durable state lives in the game/round/session documents.
type Service struct {
	games      *mongodb.GameRepository
	users      *mongodb.UserRepository
	sessions   *mongodb.SessionRepository
	products   *mongodb.ProductRepository
	recommender *recommend.Recommender
	locker     *redislock.Client

	localLocks sync.Map // persist.DBID -> *sync.Mutex, single-instance fallback
}

// New returns a Service. locker may be nil, in which case session mutation
// is serialized only by the process-local lock table (fine for a single
// instance, e.g. local development or tests).
func New(
	games *mongodb.GameRepository,
	users *mongodb.UserRepository,
	sessions *mongodb.SessionRepository,
	products *mongodb.ProductRepository,
	recommender *recommend.Recommender,
	locker *redislock.Client,
) *Service {
	return &Service{
		games:       games,
		users:       users,
		sessions:    sessions,
		products:    products,
		recommender: recommender,
		locker:      locker,
	}
}

// withSessionLock serializes PCF state mutation for one session, first via
// a process-local mutex (so a single instance never needs Redis), then via
// the distributed lock when one is configured (SPEC_FULL §5).
func (s *Service) withSessionLock(ctx context.Context, sessionID persist.DBID, fn func() error) error {
	lockAny, _ := s.localLocks.LoadOrStore(sessionID, &sync.Mutex{})
	mu := lockAny.(*sync.Mutex)
	mu.Lock()
	defer mu.Unlock()

	if s.locker == nil {
		return fn()
	}

	lock, err := s.locker.Obtain(ctx, "game-session:"+string(sessionID), 30*time.Second, nil)
	if err == redislock.ErrNotObtained {
		return apperror.StateError{Reason: "session is busy with another request"}
	}
	if err != nil {
		return apperror.TransientExternalError{Err: err}
	}
	defer lock.Release(ctx)

	return fn()
}

// rngFor returns the deterministic RNG for one (game, round, purpose)
// triple: seed = first 8 bytes of SHA-256("gameID:roundNumber:salt")
// interpreted as a big-endian uint64. Calling this twice with identical
// arguments always yields the same sequence, which is what lets
// start_round recompute an unsaved candidate set identically and lets
// tests assert on exact output.
func rngFor(gameID persist.DBID, roundNumber int, salt string) *rand.Rand {
	material := fmt.Sprintf("%s:%d:%s", gameID, roundNumber, salt)
	sum := sha256.Sum256([]byte(material))
	seed := binary.BigEndian.Uint64(sum[:8])
	return rand.New(rand.NewSource(int64(seed)))
}

// ProductCard is the trimmed product representation sent to onboarding and
// round-candidate clients.
type ProductCard struct {
	ID       persist.DBID `json:"id"`
	Title    string       `json:"title"`
	Vendor   string       `json:"vendor"`
	PriceMin *float64     `json:"price_min,omitempty"`
	PriceMax *float64     `json:"price_max,omitempty"`
	Tags     []string     `json:"tags"`
	ImageURL string       `json:"image_url,omitempty"`
	Score    *float64     `json:"score,omitempty"`
}

func productCard(p *persist.Product) ProductCard {
	tags := p.Tags
	if len(tags) > 8 {
		tags = tags[:8]
	}
	return ProductCard{
		ID:       p.ID,
		Title:    p.Title,
		Vendor:   p.Vendor,
		PriceMin: p.PriceMin,
		PriceMax: p.PriceMax,
		Tags:     tags,
	}
}

func scoredCard(p *persist.Product, score float64) ProductCard {
	card := productCard(p)
	card.Score = &score
	return card
}

// byIDInOrder resolves ids against a GetByIDs lookup, preserving the order
// of ids and silently dropping any id the lookup didn't return.
func byIDInOrder(ids []persist.DBID, products []*persist.Product) []*persist.Product {
	byID := make(map[persist.DBID]*persist.Product, len(products))
	for _, p := range products {
		byID[p.ID] = p
	}
	out := make([]*persist.Product, 0, len(ids))
	for _, id := range ids {
		if p, ok := byID[id]; ok {
			out = append(out, p)
		}
	}
	return out
}

func (s *Service) productsByIDs(ctx context.Context, ids []persist.DBID) ([]*persist.Product, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	products, err := s.products.GetByIDs(ctx, ids)
	if err != nil {
		return nil, err
	}
	return byIDInOrder(ids, products), nil
}

// currentSelectionSequence rebuilds the full ordered id sequence of a
// game's choices so far: onboarding picks followed by each completed
// round's human pick, plus an optional in-flight pick.
func (s *Service) currentSelectionSequence(ctx context.Context, g *persist.Game, includeProductID persist.DBID) ([]persist.DBID, error) {
	rounds, err := s.games.GetRounds(ctx, g.ID)
	if err != nil {
		return nil, err
	}
	sequence := append([]persist.DBID(nil), g.OnboardingSelectedIDs...)
	for _, r := range rounds {
		if r.Completed && r.HumanPickID != "" {
			sequence = append(sequence, r.HumanPickID)
		}
	}
	if includeProductID != "" {
		sequence = append(sequence, includeProductID)
	}
	return sequence, nil
}

func normalizeName(name string) (string, error) {
	clean := strings.TrimSpace(name)
	if clean == "" {
		return "", apperror.ValidationError{Reason: "player name is required"}
	}
	return clean, nil
}
