package listing

import (
	"bytes"
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/pricewatch/internal/storage/memory"
)

// fakePage shows a challenge until a correct answer is submitted or, for
// the manual path, until clearAfterChecks visibility checks have happened.
type fakePage struct {
	mu               sync.Mutex
	visible          bool
	correct          string
	checks           int
	clearAfterChecks int
	captures         int
	refreshes        int
	submitted        []string
}

func (p *fakePage) ChallengeVisible(context.Context) (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.checks++
	if p.clearAfterChecks > 0 && p.checks >= p.clearAfterChecks {
		p.visible = false
	}
	return p.visible, nil
}

func (p *fakePage) CaptureChallenge(context.Context) ([]byte, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.captures++
	return []byte("image"), nil
}

func (p *fakePage) SubmitAnswer(_ context.Context, answer string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.submitted = append(p.submitted, answer)
	if answer == p.correct {
		p.visible = false
	}
	return nil
}

func (p *fakePage) RefreshChallenge(context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.refreshes++
	return nil
}

func answers(list ...string) Solver {
	var mu sync.Mutex
	i := 0
	return SolverFunc(func(context.Context, []byte) (string, error) {
		mu.Lock()
		defer mu.Unlock()
		if i >= len(list) {
			return "", ErrUnsolved
		}
		a := list[i]
		i++
		return a, nil
	})
}

func fastPolicy() ChallengePolicy {
	return ChallengePolicy{MaxAttempts: 10, AnswerLength: 6, PollInterval: time.Millisecond}
}

func TestResolveChallengeNoChallenge(t *testing.T) {
	t.Parallel()

	page := &fakePage{}
	out, err := ResolveChallenge(context.Background(), page, answers(), fastPolicy(), zap.NewNop())
	require.NoError(t, err)
	require.False(t, out.Seen)
	require.Zero(t, page.captures)
}

func TestResolveChallengeSolvesAutomatically(t *testing.T) {
	t.Parallel()

	page := &fakePage{visible: true, correct: "ABCDEF"}
	out, err := ResolveChallenge(context.Background(), page, answers("WRONG1", "ABC", "ABCDEF"), fastPolicy(), zap.NewNop())
	require.NoError(t, err)
	require.True(t, out.Seen)
	require.False(t, out.Manual)
	require.Equal(t, 3, out.Attempts)
	// The short answer is never submitted; a new image is requested instead.
	require.Equal(t, []string{"WRONG1", "ABCDEF"}, page.submitted)
	require.Equal(t, 1, page.refreshes)
}

func TestResolveChallengeFallsBackToManualWait(t *testing.T) {
	t.Parallel()

	// Ten rounds use ten visibility checks; the operator clears it later.
	page := &fakePage{visible: true, clearAfterChecks: 15}
	out, err := ResolveChallenge(context.Background(), page, answers(), fastPolicy(), zap.NewNop())
	require.NoError(t, err)
	require.True(t, out.Manual)
	require.Equal(t, 10, out.Attempts)
	require.Equal(t, 10, page.captures)
	require.Equal(t, 10, page.refreshes)
	require.Empty(t, page.submitted)
}

func TestResolveChallengeManualWaitEndsOnShutdown(t *testing.T) {
	t.Parallel()

	page := &fakePage{visible: true}
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	out, err := ResolveChallenge(ctx, page, answers(), fastPolicy(), zap.NewNop())
	require.ErrorIs(t, err, context.DeadlineExceeded)
	require.True(t, out.Manual)
}

func TestChallengePolicyDefaults(t *testing.T) {
	t.Parallel()

	require.Equal(t, DefaultChallengePolicy(), ChallengePolicy{}.withDefaults())
	custom := ChallengePolicy{MaxAttempts: 2, AnswerLength: 4, PollInterval: time.Second}
	require.Equal(t, custom, custom.withDefaults())
}

type fixedClock struct{ now time.Time }

func (c fixedClock) Now() time.Time { return c.now }

func TestArchivingSolverStoresImage(t *testing.T) {
	t.Parallel()

	blobs := memory.NewBlobStore()
	solver := NewArchivingSolver(blobs, fixedClock{now: time.Date(2025, 3, 10, 3, 0, 0, 0, time.UTC)}, "", nil)

	answer, err := solver.Solve(context.Background(), []byte("png"))
	require.ErrorIs(t, err, ErrUnsolved)
	require.Empty(t, answer)

	_, err = solver.Solve(context.Background(), []byte("png"))
	require.ErrorIs(t, err, ErrUnsolved)
	_, err = solver.Solve(context.Background(), []byte("other"))
	require.ErrorIs(t, err, ErrUnsolved)

	paths := blobs.Paths()
	require.ElementsMatch(t, []string{
		"challenges/20250310/8f8cbb7dcf46e0bc.png",
		"challenges/20250310/d9298a10d1b07358.png",
	}, paths, "repeat images are archived once")
	blob, _ := blobs.Object("challenges/20250310/8f8cbb7dcf46e0bc.png")
	require.True(t, bytes.Equal([]byte("png"), blob.Data))
	require.Equal(t, "image/png", blob.ContentType)
}
