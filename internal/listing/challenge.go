package listing

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	digest "github.com/JakeFAU/pricewatch/internal/hash/sha256"
	"github.com/JakeFAU/pricewatch/internal/metrics"
	"github.com/JakeFAU/pricewatch/internal/tracker"
)

// ChallengePage is the browser surface challenge resolution drives.
type ChallengePage interface {
	ChallengeVisible(ctx context.Context) (bool, error)
	CaptureChallenge(ctx context.Context) ([]byte, error)
	SubmitAnswer(ctx context.Context, answer string) error
	RefreshChallenge(ctx context.Context) error
}

// Solver turns a challenge image into an answer.
type Solver interface {
	Solve(ctx context.Context, image []byte) (string, error)
}

// SolverFunc adapts a function to Solver.
type SolverFunc func(ctx context.Context, image []byte) (string, error)

// Solve calls f.
func (f SolverFunc) Solve(ctx context.Context, image []byte) (string, error) {
	return f(ctx, image)
}

// ChallengePolicy bounds automatic resolution.
type ChallengePolicy struct {
	MaxAttempts  int           `mapstructure:"max_attempts"`
	AnswerLength int           `mapstructure:"answer_length"`
	PollInterval time.Duration `mapstructure:"poll_interval"`
}

// DefaultChallengePolicy returns 10 attempts, 6-character answers and a
// one second manual poll.
func DefaultChallengePolicy() ChallengePolicy {
	return ChallengePolicy{MaxAttempts: 10, AnswerLength: 6, PollInterval: time.Second}
}

func (p ChallengePolicy) withDefaults() ChallengePolicy {
	d := DefaultChallengePolicy()
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = d.MaxAttempts
	}
	if p.AnswerLength <= 0 {
		p.AnswerLength = d.AnswerLength
	}
	if p.PollInterval <= 0 {
		p.PollInterval = d.PollInterval
	}
	return p
}

// ChallengeOutcome describes how a challenge was cleared.
type ChallengeOutcome struct {
	Seen     bool
	Attempts int
	Manual   bool
}

// ResolveChallenge clears a bot challenge if one is showing. It makes up to
// MaxAttempts automatic rounds and then waits, without a deadline, for an
// operator to solve the challenge in the browser. Only ctx ends that wait.
func ResolveChallenge(
	ctx context.Context,
	page ChallengePage,
	solver Solver,
	policy ChallengePolicy,
	logger *zap.Logger,
) (ChallengeOutcome, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	policy = policy.withDefaults()
	var out ChallengeOutcome

	for attempt := 1; attempt <= policy.MaxAttempts; attempt++ {
		visible, err := page.ChallengeVisible(ctx)
		if err != nil {
			return out, fmt.Errorf("check challenge: %w", err)
		}
		if !visible {
			return out, nil
		}
		out.Seen = true
		out.Attempts = attempt
		logger.Info("challenge detected, attempting to solve",
			zap.Int("attempt", attempt),
			zap.Int("max_attempts", policy.MaxAttempts),
		)

		solved, err := tryOnce(ctx, page, solver, policy)
		if ctx.Err() != nil {
			return out, fmt.Errorf("resolve challenge: %w", ctx.Err())
		}
		if err != nil {
			logger.Info("challenge attempt failed", zap.Int("attempt", attempt), zap.Error(err))
		}
		if solved {
			metrics.ObserveChallengeAttempt("solved")
			logger.Info("challenge solved", zap.Int("attempt", attempt))
			return out, nil
		}
	}

	visible, err := page.ChallengeVisible(ctx)
	if err != nil {
		return out, fmt.Errorf("check challenge: %w", err)
	}
	if !visible {
		return out, nil
	}
	out.Manual = true
	metrics.ObserveManualWait()
	logger.Warn("automatic challenge solving exhausted; waiting for manual resolution in the browser with no timeout",
		zap.Int("attempts", out.Attempts),
		zap.Duration("poll_interval", policy.PollInterval),
	)
	return out, waitManual(ctx, page, policy.PollInterval)
}

func tryOnce(ctx context.Context, page ChallengePage, solver Solver, policy ChallengePolicy) (bool, error) {
	image, err := page.CaptureChallenge(ctx)
	if err != nil {
		metrics.ObserveChallengeAttempt("error")
		return false, fmt.Errorf("capture challenge: %w", err)
	}
	answer, err := solver.Solve(ctx, image)
	if err != nil || len([]rune(answer)) != policy.AnswerLength {
		result := "error"
		if err == nil || errors.Is(err, ErrUnsolved) {
			result = "unsolved"
		}
		metrics.ObserveChallengeAttempt(result)
		if rerr := page.RefreshChallenge(ctx); rerr != nil {
			return false, errors.Join(err, fmt.Errorf("refresh challenge: %w", rerr))
		}
		if err == nil {
			err = fmt.Errorf("answer has %d characters, want %d", len([]rune(answer)), policy.AnswerLength)
		}
		return false, err
	}
	if err := page.SubmitAnswer(ctx, answer); err != nil {
		metrics.ObserveChallengeAttempt("error")
		return false, fmt.Errorf("submit answer: %w", err)
	}
	visible, err := page.ChallengeVisible(ctx)
	if err != nil {
		metrics.ObserveChallengeAttempt("error")
		return false, fmt.Errorf("check challenge: %w", err)
	}
	if visible {
		metrics.ObserveChallengeAttempt("rejected")
	}
	return !visible, nil
}

func waitManual(ctx context.Context, page ChallengePage, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return fmt.Errorf("manual challenge wait: %w", ctx.Err())
		case <-ticker.C:
		}
		visible, err := page.ChallengeVisible(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return fmt.Errorf("manual challenge wait: %w", ctx.Err())
			}
			continue
		}
		if !visible {
			return nil
		}
	}
}

// ArchivingSolver stores every distinct challenge image for the operator and
// never answers, so resolution always falls through to the manual wait.
type ArchivingSolver struct {
	blobs  tracker.BlobStore
	clock  tracker.Clock
	prefix string
	hasher *digest.Hasher
	logger *zap.Logger

	mu   sync.Mutex
	seen map[string]struct{}
}

// NewArchivingSolver constructs an ArchivingSolver writing under prefix.
func NewArchivingSolver(blobs tracker.BlobStore, clock tracker.Clock, prefix string, logger *zap.Logger) *ArchivingSolver {
	if logger == nil {
		logger = zap.NewNop()
	}
	if prefix == "" {
		prefix = "challenges"
	}
	return &ArchivingSolver{
		blobs:  blobs,
		clock:  clock,
		prefix: prefix,
		hasher: digest.New(),
		logger: logger,
		seen:   make(map[string]struct{}),
	}
}

// Solve archives the image under its content digest and reports
// ErrUnsolved. An image already archived by this solver is not written again.
func (s *ArchivingSolver) Solve(ctx context.Context, image []byte) (string, error) {
	sum, err := s.hasher.Hash(image)
	if err != nil {
		return "", fmt.Errorf("hash challenge image: %w", err)
	}
	s.mu.Lock()
	_, dup := s.seen[sum]
	s.mu.Unlock()
	if dup {
		s.logger.Debug("challenge image already archived", zap.String("digest", sum))
		return "", ErrUnsolved
	}

	path := fmt.Sprintf("%s/%s/%s.png", s.prefix, s.clock.Now().UTC().Format("20060102"), digest.Short(sum))
	uri, err := s.blobs.PutObject(ctx, path, "image/png", bytes.NewReader(image))
	if err != nil {
		return "", fmt.Errorf("archive challenge image: %w", err)
	}
	s.mu.Lock()
	s.seen[sum] = struct{}{}
	s.mu.Unlock()
	s.logger.Info("challenge image archived", zap.String("uri", uri))
	return "", ErrUnsolved
}
