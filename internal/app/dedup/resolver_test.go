package dedup

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/stampscore/stampscore/internal/domain"
	"github.com/stampscore/stampscore/internal/infra/lease"
	"github.com/stampscore/stampscore/internal/infra/logger"
	"github.com/stampscore/stampscore/internal/infra/sqlite"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

var t0 = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func newTestResolver(t *testing.T) (*Resolver, *sqlite.DB) {
	t.Helper()
	db, err := sqlite.Open(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return New(db, lease.NewLocal(time.Second), logger.NewNop()), db
}

func claimReq(address string, policy domain.DedupPolicy, at time.Time, fps ...string) Request {
	req := Request{CommunityID: 1, Address: address, Scope: "community:1", Policy: policy, Now: at}
	for _, fp := range fps {
		req.Claims = append(req.Claims, Claim{Fingerprint: fp, Provider: "Ens", ExpiresAt: at.Add(24 * time.Hour)})
	}
	return req
}

// ─── First claims ───────────────────────────────────────────────────────────

func TestResolve_FirstClaimBinds(t *testing.T) {
	r, db := newTestResolver(t)
	ctx := context.Background()

	res, err := r.Resolve(ctx, claimReq("0xAAA", domain.DedupLIFO, t0, "h1", "h2"))
	require.NoError(t, err)
	assert.Equal(t, map[string]bool{"h1": true, "h2": true}, res.Credited)
	assert.Empty(t, res.Lost)
	assert.Empty(t, res.Events)

	for _, fp := range []string{"h1", "h2"} {
		b, err := db.GetBinding(ctx, "community:1", fp)
		require.NoError(t, err)
		require.NotNil(t, b)
		assert.Equal(t, "0xaaa", b.Address)
	}
}

func TestResolve_SameAddressRefreshesExpiry(t *testing.T) {
	r, db := newTestResolver(t)
	ctx := context.Background()
	_, err := r.Resolve(ctx, claimReq("0xa", domain.DedupFIFO, t0, "h1"))
	require.NoError(t, err)

	later := t0.Add(time.Hour)
	res, err := r.Resolve(ctx, claimReq("0xa", domain.DedupFIFO, later, "h1"))
	require.NoError(t, err)
	assert.True(t, res.Credited["h1"])

	b, _ := db.GetBinding(ctx, "community:1", "h1")
	assert.True(t, b.ExpiresAt.Equal(later.Add(24*time.Hour)))
}

func TestResolve_DuplicateClaimsMerged(t *testing.T) {
	r, db := newTestResolver(t)
	req := claimReq("0xa", domain.DedupLIFO, t0, "h1")
	req.Claims = append(req.Claims, Claim{Fingerprint: "h1", Provider: "Ens", ExpiresAt: t0.Add(48 * time.Hour)}, Claim{})

	res, err := r.Resolve(context.Background(), req)
	require.NoError(t, err)
	assert.Len(t, res.Credited, 1)
	b, _ := db.GetBinding(context.Background(), "community:1", "h1")
	assert.True(t, b.ExpiresAt.Equal(t0.Add(48*time.Hour)))
}

// ─── LIFO ───────────────────────────────────────────────────────────────────

func TestResolve_LIFOTakeover(t *testing.T) {
	r, db := newTestResolver(t)
	ctx := context.Background()
	_, err := r.Resolve(ctx, claimReq("0xa", domain.DedupLIFO, t0, "h1"))
	require.NoError(t, err)

	res, err := r.Resolve(ctx, claimReq("0xb", domain.DedupLIFO, t0.Add(time.Minute), "h1"))
	require.NoError(t, err)
	assert.True(t, res.Credited["h1"])
	require.Len(t, res.Events, 1)

	ev := res.Events[0]
	assert.Equal(t, domain.EventLIFODeduplication, ev.Action)
	assert.Equal(t, "0xa", ev.Address)
	data, err := ev.DedupData()
	require.NoError(t, err)
	assert.Equal(t, "0xa", data.HoldingAddress)
	assert.Equal(t, "0xb", data.ClaimingAddress)
	assert.Equal(t, "community:1", data.Scope)

	b, _ := db.GetBinding(ctx, "community:1", "h1")
	assert.Equal(t, "0xb", b.Address)

	stored, err := db.ListEvents(ctx, 1, "0xa", time.Time{}, time.Time{})
	require.NoError(t, err)
	require.Len(t, stored, 1)
	assert.NoError(t, stored[0].Verify())

	// A's recompute no longer credits h1.
	recheck := claimReq("0xa", domain.DedupLIFO, t0.Add(2*time.Minute), "h1")
	recheck.Recheck = true
	res, err = r.Resolve(ctx, recheck)
	require.NoError(t, err)
	assert.False(t, res.Credited["h1"])
	assert.Equal(t, "0xb", res.Lost["h1"])
	assert.Empty(t, res.Events)
}

func TestResolve_LIFOSharedScopeFilesEventUnderHolderCommunity(t *testing.T) {
	r, db := newTestResolver(t)
	ctx := context.Background()

	first := claimReq("0xa", domain.DedupLIFO, t0, "h1")
	first.Scope = "global"
	_, err := r.Resolve(ctx, first)
	require.NoError(t, err)

	b, _ := db.GetBinding(ctx, "global", "h1")
	require.NotNil(t, b)
	assert.Equal(t, int64(1), b.CommunityID)

	takeover := claimReq("0xb", domain.DedupLIFO, t0.Add(time.Minute), "h1")
	takeover.Scope = "global"
	takeover.CommunityID = 2
	res, err := r.Resolve(ctx, takeover)
	require.NoError(t, err)
	require.Len(t, res.Events, 1)
	assert.Equal(t, int64(1), res.Events[0].CommunityID)
	assert.Equal(t, "0xa", res.Events[0].Address)

	data, err := res.Events[0].DedupData()
	require.NoError(t, err)
	assert.Equal(t, int64(1), data.HoldingCommunity)
	assert.Equal(t, int64(2), data.ClaimingCommunity)

	held, err := db.ListEvents(ctx, 1, "0xa", time.Time{}, time.Time{})
	require.NoError(t, err)
	assert.Len(t, held, 1)
	stray, err := db.ListEvents(ctx, 2, "0xa", time.Time{}, time.Time{})
	require.NoError(t, err)
	assert.Empty(t, stray)

	b, _ = db.GetBinding(ctx, "global", "h1")
	assert.Equal(t, "0xb", b.Address)
	assert.Equal(t, int64(2), b.CommunityID)
}

// ─── FIFO ───────────────────────────────────────────────────────────────────

func TestResolve_FIFOStability(t *testing.T) {
	r, db := newTestResolver(t)
	ctx := context.Background()
	_, err := r.Resolve(ctx, claimReq("0xa", domain.DedupFIFO, t0, "h1"))
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		res, err := r.Resolve(ctx, claimReq("0xb", domain.DedupFIFO, t0.Add(time.Duration(i+1)*time.Minute), "h1"))
		require.NoError(t, err)
		assert.False(t, res.Credited["h1"])
		assert.Equal(t, "0xa", res.Lost["h1"])
		require.Len(t, res.Events, 1)
		assert.Equal(t, domain.EventFIFODeduplication, res.Events[0].Action)
		assert.Equal(t, "0xb", res.Events[0].Address)
	}

	b, _ := db.GetBinding(ctx, "community:1", "h1")
	assert.Equal(t, "0xa", b.Address)
	events, _ := db.ListEvents(ctx, 1, "0xb", time.Time{}, time.Time{})
	assert.Len(t, events, 3)
}

func TestResolve_ExpiryReopensClaim(t *testing.T) {
	r, db := newTestResolver(t)
	ctx := context.Background()
	_, err := r.Resolve(ctx, claimReq("0xa", domain.DedupFIFO, t0, "h1"))
	require.NoError(t, err)

	// Binding expires at t0+24h; a claim at exactly that instant succeeds.
	res, err := r.Resolve(ctx, claimReq("0xb", domain.DedupFIFO, t0.Add(24*time.Hour), "h1"))
	require.NoError(t, err)
	assert.True(t, res.Credited["h1"])
	assert.Empty(t, res.Events)

	b, _ := db.GetBinding(ctx, "community:1", "h1")
	assert.Equal(t, "0xb", b.Address)
}

func TestResolve_ScopesAreIndependent(t *testing.T) {
	r, _ := newTestResolver(t)
	ctx := context.Background()
	_, err := r.Resolve(ctx, claimReq("0xa", domain.DedupFIFO, t0, "h1"))
	require.NoError(t, err)

	other := claimReq("0xb", domain.DedupFIFO, t0, "h1")
	other.Scope = "community:2"
	res, err := r.Resolve(ctx, other)
	require.NoError(t, err)
	assert.True(t, res.Credited["h1"])
}

// ─── Errors & concurrency ───────────────────────────────────────────────────

func TestResolve_InvalidPolicy(t *testing.T) {
	r, _ := newTestResolver(t)
	_, err := r.Resolve(context.Background(), claimReq("0xa", "RANDOM", t0, "h1"))
	assert.ErrorIs(t, err, domain.ErrConfiguration)
}

type busyLocker struct{}

func (busyLocker) Acquire(ctx context.Context, key string) (func(), error) {
	return nil, errors.Join(domain.ErrContention, errors.New(key))
}

func TestResolve_LeaseContention(t *testing.T) {
	_, db := newTestResolver(t)
	r := New(db, busyLocker{}, logger.NewNop())
	_, err := r.Resolve(context.Background(), claimReq("0xa", domain.DedupFIFO, t0, "h1"))
	assert.ErrorIs(t, err, domain.ErrContention)
	assert.True(t, domain.IsRetryable(err))
}

func TestResolve_ConcurrentClaimsSingleWinner(t *testing.T) {
	r, db := newTestResolver(t)
	ctx := context.Background()

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		credited []string
	)
	addrs := []string{"0x1", "0x2", "0x3", "0x4", "0x5", "0x6"}
	for _, a := range addrs {
		wg.Add(1)
		go func(a string) {
			defer wg.Done()
			res, err := r.Resolve(ctx, claimReq(a, domain.DedupFIFO, t0, "h1"))
			if !assert.NoError(t, err) {
				return
			}
			if res.Credited["h1"] {
				mu.Lock()
				credited = append(credited, a)
				mu.Unlock()
			}
		}(a)
	}
	wg.Wait()

	require.Len(t, credited, 1)
	b, _ := db.GetBinding(ctx, "community:1", "h1")
	assert.Equal(t, credited[0], b.Address)
}
