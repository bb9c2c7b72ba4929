package matching

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"anonchat/pkg/types"
)

// fakeStore keeps sessions and blocks in maps
type fakeStore struct {
	mu        sync.Mutex
	sessions  map[int64]*types.SessionRecord
	blocks    map[[2]int64]bool
	createErr error
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		sessions: make(map[int64]*types.SessionRecord),
		blocks:   make(map[[2]int64]bool),
	}
}

func (s *fakeStore) CreateSession(ctx context.Context, userA, userB int64, sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.createErr != nil {
		return s.createErr
	}
	s.sessions[userA] = &types.SessionRecord{UserID: userA, PartnerID: userB, SessionID: sessionID}
	s.sessions[userB] = &types.SessionRecord{UserID: userB, PartnerID: userA, SessionID: sessionID}
	return nil
}

func (s *fakeStore) GetSession(ctx context.Context, user int64) (*types.SessionRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sessions[user], nil
}

func (s *fakeStore) EndSession(ctx context.Context, user int64) (*types.SessionEnd, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.sessions[user]
	if !ok {
		return nil, nil
	}
	delete(s.sessions, user)
	delete(s.sessions, rec.PartnerID)
	return &types.SessionEnd{SessionID: rec.SessionID, Users: [2]int64{user, rec.PartnerID}}, nil
}

func (s *fakeStore) IsBlocked(ctx context.Context, blocker, blocked int64) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.blocks[[2]int64{blocker, blocked}], nil
}

func (s *fakeStore) AddBlock(ctx context.Context, a, b int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.blocks[[2]int64{a, b}] = true
	s.blocks[[2]int64{b, a}] = true
	return nil
}

func (s *fakeStore) AddReport(ctx context.Context, sessionID string, reporter, reported int64) error {
	return nil
}

func (s *fakeStore) CleanupExpiredSessions(ctx context.Context) (int64, error) { return 0, nil }
func (s *fakeStore) HealthCheck(ctx context.Context) error                   { return nil }
func (s *fakeStore) Close() error                                            { return nil }

func sequentialIDs() func() string {
	var n atomic.Int64
	return func() string { return fmt.Sprintf("sess-%d", n.Add(1)) }
}

func newTestQueue(store *fakeStore) *Queue {
	return NewQueue(store, zap.NewNop(), WithIDGenerator(sequentialIDs()))
}

func TestQueue_SymmetricPairing(t *testing.T) {
	ctx := context.Background()
	store := newFakeStore()
	q := newTestQueue(store)

	res, err := q.Enqueue(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, types.MatchWaiting, res.Status)
	assert.True(t, q.IsWaiting(1))

	res, err = q.Enqueue(ctx, 2)
	require.NoError(t, err)
	assert.Equal(t, types.MatchMatched, res.Status)
	assert.Equal(t, int64(1), res.PartnerID)
	assert.Equal(t, "sess-1", res.SessionID)
	assert.Zero(t, q.Size())

	a, err := q.GetSession(ctx, 1)
	require.NoError(t, err)
	b, err := q.GetSession(ctx, 2)
	require.NoError(t, err)
	assert.Equal(t, int64(2), a.PartnerID)
	assert.Equal(t, int64(1), b.PartnerID)
	assert.Equal(t, a.SessionID, b.SessionID)
}

func TestQueue_EnqueueIdempotent(t *testing.T) {
	ctx := context.Background()
	q := newTestQueue(newFakeStore())

	for i := 0; i < 3; i++ {
		res, err := q.Enqueue(ctx, 7)
		require.NoError(t, err)
		assert.Equal(t, types.MatchWaiting, res.Status)
	}
	assert.Equal(t, 1, q.Size())
}

func TestQueue_InvalidUser(t *testing.T) {
	q := newTestQueue(newFakeStore())
	_, err := q.Enqueue(context.Background(), 0)
	assert.ErrorIs(t, err, types.ErrInvalidUserID)
}

func TestQueue_PairedUserIsNotQueuedAgain(t *testing.T) {
	ctx := context.Background()
	q := newTestQueue(newFakeStore())

	_, err := q.Enqueue(ctx, 1)
	require.NoError(t, err)
	matched, err := q.Enqueue(ctx, 2)
	require.NoError(t, err)
	require.Equal(t, types.MatchMatched, matched.Status)

	res, err := q.Enqueue(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, types.MatchInSession, res.Status)
	assert.Equal(t, int64(2), res.PartnerID)
	assert.Equal(t, matched.SessionID, res.SessionID)
	assert.False(t, q.IsWaiting(1))

	res, err = q.Enqueue(ctx, 3)
	require.NoError(t, err)
	assert.Equal(t, types.MatchWaiting, res.Status, "a paired user is never a candidate")

	for user, partner := range map[int64]int64{1: 2, 2: 1} {
		rec, err := q.GetSession(ctx, user)
		require.NoError(t, err)
		require.NotNil(t, rec)
		assert.Equal(t, partner, rec.PartnerID)
		assert.Equal(t, matched.SessionID, rec.SessionID)
	}
}

func TestQueue_DropsCandidatePairedElsewhere(t *testing.T) {
	ctx := context.Background()
	store := newFakeStore()
	require.NoError(t, store.AddBlock(ctx, 1, 2))
	q := newTestQueue(store)

	for _, u := range []int64{1, 2} {
		res, err := q.Enqueue(ctx, u)
		require.NoError(t, err)
		require.Equal(t, types.MatchWaiting, res.Status)
	}
	// Waiting user 1 gets paired directly through the store.
	require.NoError(t, store.CreateSession(ctx, 1, 9, "outside"))

	res, err := q.Enqueue(ctx, 3)
	require.NoError(t, err)
	require.Equal(t, types.MatchMatched, res.Status)
	assert.Equal(t, int64(2), res.PartnerID)
	assert.Empty(t, q.Snapshot())

	rec, err := q.GetSession(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, "outside", rec.SessionID)
}

func TestQueue_BlocklistExclusion(t *testing.T) {
	ctx := context.Background()

	testCases := []struct {
		name  string
		block [2]int64
	}{
		{"waiter blocked newcomer", [2]int64{1, 2}},
		{"newcomer blocked waiter", [2]int64{2, 1}},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			store := newFakeStore()
			// One direction only, to prove both directions are checked.
			store.blocks[tc.block] = true
			q := newTestQueue(store)

			_, err := q.Enqueue(ctx, 1)
			require.NoError(t, err)

			res, err := q.Enqueue(ctx, 2)
			require.NoError(t, err)
			assert.Equal(t, types.MatchWaiting, res.Status)
			assert.Equal(t, []int64{1, 2}, q.Snapshot())

			res, err = q.Enqueue(ctx, 3)
			require.NoError(t, err)
			assert.Equal(t, types.MatchMatched, res.Status)
			assert.Equal(t, int64(1), res.PartnerID, "first unblocked candidate in FIFO order")
			assert.Equal(t, []int64{2}, q.Snapshot())
		})
	}
}

func TestQueue_SkipsBlockedCandidateKeepsOrder(t *testing.T) {
	ctx := context.Background()
	store := newFakeStore()
	require.NoError(t, store.AddBlock(ctx, 4, 1))
	require.NoError(t, store.AddBlock(ctx, 7, 1))
	q := newTestQueue(store)

	for _, u := range []int64{1, 7} {
		res, err := q.Enqueue(ctx, u)
		require.NoError(t, err)
		assert.Equal(t, types.MatchWaiting, res.Status)
	}
	assert.Equal(t, []int64{1, 7}, q.Snapshot())

	res, err := q.Enqueue(ctx, 4)
	require.NoError(t, err)
	assert.Equal(t, types.MatchMatched, res.Status)
	assert.Equal(t, int64(7), res.PartnerID)
	assert.Equal(t, []int64{1}, q.Snapshot(), "skipped candidate keeps its position")
}

func TestQueue_CreateFailureKeepsCandidate(t *testing.T) {
	ctx := context.Background()
	store := newFakeStore()
	q := newTestQueue(store)

	_, err := q.Enqueue(ctx, 1)
	require.NoError(t, err)

	store.createErr = errors.New("disk full")
	_, err = q.Enqueue(ctx, 2)
	require.Error(t, err)
	assert.True(t, q.IsWaiting(1))
	assert.False(t, q.IsWaiting(2))
}

func TestQueue_Cancel(t *testing.T) {
	ctx := context.Background()
	q := newTestQueue(newFakeStore())

	assert.False(t, q.Cancel(1))

	_, err := q.Enqueue(ctx, 1)
	require.NoError(t, err)
	_, err = q.Enqueue(ctx, 1)
	require.NoError(t, err)

	assert.True(t, q.Cancel(1))
	assert.False(t, q.Cancel(1))
	assert.Zero(t, q.Size())
}

func TestQueue_EndToEnd(t *testing.T) {
	ctx := context.Background()
	q := newTestQueue(newFakeStore())

	res, err := q.Enqueue(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, types.MatchWaiting, res.Status)

	res, err = q.Enqueue(ctx, 2)
	require.NoError(t, err)
	require.Equal(t, types.MatchMatched, res.Status)

	end, err := q.EndSession(ctx, 1)
	require.NoError(t, err)
	require.NotNil(t, end)
	assert.Equal(t, res.SessionID, end.SessionID)
	assert.Equal(t, [2]int64{1, 2}, end.Users)

	for _, u := range []int64{1, 2} {
		rec, err := q.GetSession(ctx, u)
		require.NoError(t, err)
		assert.Nil(t, rec)
	}

	end, err = q.EndSession(ctx, 1)
	require.NoError(t, err)
	assert.Nil(t, end)
}

func TestQueue_ConcurrentEnqueueNoDoubleMatch(t *testing.T) {
	ctx := context.Background()
	store := newFakeStore()
	q := newTestQueue(store)

	const users = 200
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		matched = make(map[int64]int)
	)

	for u := int64(1); u <= users; u++ {
		wg.Add(1)
		go func(u int64) {
			defer wg.Done()
			res, err := q.Enqueue(ctx, u)
			if err != nil {
				t.Error(err)
				return
			}
			if res.Status == types.MatchMatched {
				mu.Lock()
				matched[u]++
				matched[res.PartnerID]++
				mu.Unlock()
			}
		}(u)
	}
	wg.Wait()

	for u, n := range matched {
		assert.Equal(t, 1, n, "user %d matched %d times", u, n)
	}
	assert.Equal(t, users, len(matched)+q.Size())
	assert.LessOrEqual(t, q.Size(), 1)
}
