// Package joincode mints and redeems the short-lived codes that add a user to
// a team project.
package joincode

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
	"regexp"
	"strings"
	"time"

	"orbit/api/internal/rbac"
	"orbit/api/internal/store"
)

// Alphabet excludes 0/O and 1/I so codes survive being read aloud.
const Alphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"

const DefaultTTL = 30 * 24 * time.Hour

var (
	// ErrInvalidOrExpired covers both unknown and expired codes.
	ErrInvalidOrExpired = errors.New("invalid or expired code")
	ErrAlreadyMember    = errors.New("already a member")
)

var codePattern = regexp.MustCompile(`^[A-Z0-9]{2}-[A-Z0-9]{4}$`)

// Normalize trims and uppercases a user-typed code.
func Normalize(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

// Valid reports whether code, already normalized, has the XX-XXXX shape.
func Valid(code string) bool {
	return codePattern.MatchString(code)
}

// Generate returns a random code over Alphabet.
func Generate() (string, error) {
	var b strings.Builder
	max := big.NewInt(int64(len(Alphabet)))
	for i := 0; i < 6; i++ {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", fmt.Errorf("generate join code: %w", err)
		}
		b.WriteByte(Alphabet[n.Int64()])
		if i == 1 {
			b.WriteByte('-')
		}
	}
	return b.String(), nil
}

type Repository interface {
	store.JoinCodeRepository
	FindMembership(ctx context.Context, projectID, userID string) (store.Membership, error)
	InsertMembership(ctx context.Context, membership store.Membership) (store.Membership, error)
	GetProject(ctx context.Context, projectID string) (store.Project, error)
}

type Service struct {
	repo Repository
	ttl  time.Duration
	now  func() time.Time
}

func NewService(repo Repository, ttl time.Duration) *Service {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Service{repo: repo, ttl: ttl, now: time.Now}
}

// WithClock replaces the time source. Tests only.
func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

// Mint asks the store for a fresh token and records it as the project's only
// active code.
func (s *Service) Mint(ctx context.Context, projectID, creatorID string) (store.JoinCode, error) {
	code, err := s.repo.GenerateCode(ctx)
	if err != nil {
		return store.JoinCode{}, err
	}
	code = Normalize(code)
	if !Valid(code) {
		// the store handed back something unusable; fall back to a local token
		if code, err = Generate(); err != nil {
			return store.JoinCode{}, err
		}
	}

	now := s.now().UTC()
	return s.repo.InsertJoinCode(ctx, store.JoinCode{
		Code:      code,
		ProjectID: projectID,
		CreatorID: creatorID,
		CreatedAt: now,
		ExpiresAt: now.Add(s.ttl),
	})
}

// Active returns the project's current code.
func (s *Service) Active(ctx context.Context, projectID string) (store.JoinCode, error) {
	code, err := s.repo.ActiveJoinCodeForProject(ctx, projectID, s.now().UTC())
	if errors.Is(err, store.ErrNotFound) {
		return store.JoinCode{}, ErrInvalidOrExpired
	}
	return code, err
}

// Redemption is the outcome of a successful Redeem.
type Redemption struct {
	Code       store.JoinCode
	Project    store.Project
	Membership store.Membership
}

// Redeem adds userID to the code's project as a member. Redeeming twice is
// rejected with ErrAlreadyMember; the code itself is never consumed.
func (s *Service) Redeem(ctx context.Context, code, userID string) (Redemption, error) {
	code = Normalize(code)
	if !Valid(code) {
		return Redemption{}, ErrInvalidOrExpired
	}

	found, err := s.repo.FindActiveJoinCode(ctx, code, s.now().UTC())
	if errors.Is(err, store.ErrNotFound) {
		return Redemption{}, ErrInvalidOrExpired
	}
	if err != nil {
		return Redemption{}, err
	}

	project, err := s.repo.GetProject(ctx, found.ProjectID)
	if errors.Is(err, store.ErrNotFound) {
		return Redemption{}, ErrInvalidOrExpired
	}
	if err != nil {
		return Redemption{}, err
	}
	if project.CreatorID == userID {
		return Redemption{}, ErrAlreadyMember
	}

	_, err = s.repo.FindMembership(ctx, found.ProjectID, userID)
	if err == nil {
		return Redemption{}, ErrAlreadyMember
	}
	if !errors.Is(err, store.ErrNotFound) {
		return Redemption{}, err
	}

	membership, err := s.repo.InsertMembership(ctx, store.Membership{
		ProjectID: found.ProjectID,
		UserID:    userID,
		Role:      string(rbac.RoleMember),
	})
	if errors.Is(err, store.ErrConflict) {
		// lost a race with a concurrent redemption of the same user
		return Redemption{}, ErrAlreadyMember
	}
	if err != nil {
		return Redemption{}, err
	}

	return Redemption{Code: found, Project: project, Membership: membership}, nil
}
