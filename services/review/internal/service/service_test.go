package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/Nutcoco971/ProjectavisFew/services/review/internal/domain"
	"github.com/Nutcoco971/ProjectavisFew/services/review/internal/feed"
)

const (
	dune   = "7d0f5a0e-6a43-4c55-9b55-0d7c84a3e2a1"
	arcane = "c3b8f1f2-2f6e-4c1d-8a3a-9f1e5b7d2c44"
)

var t0 = time.Date(2026, 3, 1, 20, 0, 0, 0, time.UTC)

func newTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
}

func intPtr(n int) *int       { return &n }
func strPtr(s string) *string { return &s }
func boolPtr(b bool) *bool    { return &b }

// --- in-memory store ---

type memStore struct {
	mu            sync.Mutex
	reviews       []domain.Review
	creates       int
	enforceUnique bool
	createDelay   time.Duration
	createErr     error
	tick          int
}

func newMemStore() *memStore {
	return &memStore{enforceUnique: true}
}

func (m *memStore) Create(_ context.Context, nr *domain.NewReview) (*domain.Review, error) {
	if m.createDelay > 0 {
		time.Sleep(m.createDelay)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.creates++
	if m.createErr != nil {
		return nil, m.createErr
	}
	if m.enforceUnique && nr.Author.IsRegistered() {
		for _, r := range m.reviews {
			if r.SameAuthorAndContent(nr.ContentID, nr.Author) {
				return nil, fmt.Errorf("insert review: %w: duplicate key", domain.ErrUniquenessConflict)
			}
		}
	}
	m.tick++
	rv := domain.Review{
		ID:          uuid.NewString(),
		ContentID:   nr.ContentID,
		Author:      nr.Author,
		Rating:      intPtr(nr.Rating),
		Emoji:       strPtr(nr.Emoji),
		Keyword:     strPtr(nr.Keyword),
		Body:        nr.Body,
		Context:     nr.Context,
		AudioURL:    nr.AudioURL,
		HasSpoilers: nr.HasSpoilers,
		IsEphemeral: nr.IsEphemeral,
		CreatedAt:   t0.Add(time.Duration(m.tick) * time.Second),
	}
	rv.Normalize()
	m.reviews = append(m.reviews, rv)
	return &rv, nil
}

func (m *memStore) ListByContent(_ context.Context, contentID string) ([]domain.Review, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.Review
	for i := len(m.reviews) - 1; i >= 0; i-- {
		if m.reviews[i].ContentID == contentID {
			out = append(out, m.reviews[i])
		}
	}
	return out, nil
}

func (m *memStore) DeleteExpired(_ context.Context, before time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	kept := m.reviews[:0]
	var n int64
	for _, r := range m.reviews {
		if r.ExpiresAt != nil && !r.ExpiresAt.After(before) {
			n++
			continue
		}
		kept = append(kept, r)
	}
	m.reviews = kept
	return n, nil
}

func (m *memStore) insert(rv domain.Review) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.reviews = append(m.reviews, rv)
}

func (m *memStore) createCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.creates
}

// --- mock catalog ---

type mockCatalog struct {
	mock.Mock
}

func (m *mockCatalog) Exists(ctx context.Context, contentID string) (bool, error) {
	args := m.Called(ctx, contentID)
	return args.Bool(0), args.Error(1)
}

// --- fake publisher ---

type fakePublisher struct {
	mu        sync.Mutex
	published []domain.Review
	err       error
}

func (p *fakePublisher) PublishReviewCreated(_ context.Context, r *domain.Review) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.published = append(p.published, *r)
	return nil
}

// --- harness ---

type harness struct {
	svc       *ReviewService
	store     *memStore
	catalog   *mockCatalog
	hub       *feed.Hub
	rec       *feed.Reconciler
	publisher *fakePublisher
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		store:     newMemStore(),
		catalog:   new(mockCatalog),
		hub:       feed.NewHub(),
		publisher: &fakePublisher{},
	}
	h.catalog.On("Exists", mock.Anything, dune).Return(true, nil).Maybe()
	h.catalog.On("Exists", mock.Anything, arcane).Return(true, nil).Maybe()
	h.rec = feed.NewReconciler(h.store, h.hub, newTestLogger())
	h.svc = NewReviewService(h.store, h.catalog, h.rec, nil, h.publisher, newTestLogger())
	return h
}

func candidate(contentID string) domain.Candidate {
	return domain.Candidate{
		ContentID: contentID,
		Rating:    intPtr(8),
		Emoji:     "😍",
		Keyword:   "Captivant",
	}
}

func registered(userID string) Session { return Session{UserID: userID} }

// --- identity ---

func TestResolveIdentity(t *testing.T) {
	author, err := ResolveIdentity(Session{UserID: "user-1", AnonymousConfirmed: true})
	require.NoError(t, err)
	assert.Equal(t, domain.Registered("user-1"), author)

	author, err = ResolveIdentity(Session{AnonymousConfirmed: true, AnonymousSessionID: "sess-1"})
	require.NoError(t, err)
	assert.Equal(t, domain.Anonymous("sess-1"), author)

	author, err = ResolveIdentity(Session{AnonymousConfirmed: true})
	require.NoError(t, err)
	assert.True(t, author.IsAnonymous())
	_, parseErr := uuid.Parse(author.ID())
	assert.NoError(t, parseErr)

	_, err = ResolveIdentity(Session{AnonymousSessionID: "sess-1"})
	assert.ErrorIs(t, err, domain.ErrAnonymousNotConfirmed)
	assert.Equal(t, domain.KindPermissionDenied, domain.KindOf(err))
}

func TestCheckUniqueness(t *testing.T) {
	existing := []domain.Review{
		{ID: "r1", ContentID: dune, Author: domain.Registered("user-1")},
		{ID: "r2", ContentID: dune, Author: domain.Anonymous("sess-1")},
	}

	err := CheckUniqueness(dune, domain.Registered("user-1"), existing)
	assert.ErrorIs(t, err, domain.ErrUniquenessConflict)

	assert.NoError(t, CheckUniqueness(arcane, domain.Registered("user-1"), existing))
	assert.NoError(t, CheckUniqueness(dune, domain.Registered("user-2"), existing))
	assert.NoError(t, CheckUniqueness(dune, domain.Anonymous("sess-1"), existing))
}

// --- scenarios ---

func TestSubmitReview_Accepted(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	before, err := h.svc.VisibleReviews(ctx, dune, t0)
	require.NoError(t, err)

	rv, err := h.svc.SubmitReview(ctx, registered("user-1"), candidate(dune))
	require.NoError(t, err)
	assert.NotEmpty(t, rv.ID)
	assert.Equal(t, domain.Registered("user-1"), rv.Author)
	assert.Nil(t, rv.ExpiresAt)

	after, err := h.svc.VisibleReviews(ctx, dune, t0.Add(time.Hour))
	require.NoError(t, err)
	assert.Len(t, after, len(before)+1)

	stats, err := h.svc.Stats(ctx, dune, t0.Add(time.Hour))
	require.NoError(t, err)
	require.NotNil(t, stats.AverageRating)
	assert.Equal(t, 8.0, *stats.AverageRating)
	assert.Equal(t, 1, stats.RatingDistribution[8])

	require.Len(t, h.publisher.published, 1)
	assert.Equal(t, rv.ID, h.publisher.published[0].ID)
}

func TestSubmitReview_AverageUpdates(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	_, err := h.svc.SubmitReview(ctx, registered("user-1"), candidate(dune))
	require.NoError(t, err)

	c := candidate(dune)
	c.Rating = intPtr(5)
	_, err = h.svc.SubmitReview(ctx, registered("user-2"), c)
	require.NoError(t, err)

	stats, err := h.svc.Stats(ctx, dune, t0.Add(time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 6.5, *stats.AverageRating)
	assert.Equal(t, 2, stats.TotalReviews)
}

func TestSubmitReview_EmptyKeyword(t *testing.T) {
	h := newHarness(t)

	c := candidate(dune)
	c.Keyword = ""
	_, err := h.svc.SubmitReview(context.Background(), registered("user-1"), c)

	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrValidation)
	var ve *domain.ValidationError
	require.True(t, errors.As(err, &ve))
	assert.True(t, ve.Has("keyword"))
	assert.Zero(t, h.store.createCount())
}

func TestSubmitReview_SecondReviewConflicts(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	_, err := h.svc.SubmitReview(ctx, registered("user-1"), candidate(dune))
	require.NoError(t, err)

	_, err = h.svc.SubmitReview(ctx, registered("user-1"), candidate(dune))
	require.Error(t, err)
	assert.Equal(t, domain.KindUniquenessConflict, domain.KindOf(err))
	// Caught pre-flight: the store saw one write only.
	assert.Equal(t, 1, h.store.createCount())

	visible, err := h.svc.VisibleReviews(ctx, dune, t0.Add(time.Hour))
	require.NoError(t, err)
	assert.Len(t, visible, 1)
}

func TestSubmitReview_StoreConflictHasSameKind(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	_, err := h.svc.VisibleReviews(ctx, dune, t0)
	require.NoError(t, err)

	// Written by another replica after this one seeded its view.
	h.store.insert(domain.Review{ID: "elsewhere", ContentID: dune, Author: domain.Registered("user-1"), CreatedAt: t0})

	_, err = h.svc.SubmitReview(ctx, registered("user-1"), candidate(dune))
	require.Error(t, err)
	assert.Equal(t, domain.KindUniquenessConflict, domain.KindOf(err))
	assert.Equal(t, 1, h.store.createCount())
}

func TestSubmitReview_AnonymousReviewsAreIndependent(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	sess := Session{AnonymousConfirmed: true, AnonymousSessionID: "sess-1"}

	_, err := h.svc.SubmitReview(ctx, sess, candidate(dune))
	require.NoError(t, err)
	_, err = h.svc.SubmitReview(ctx, sess, candidate(dune))
	require.NoError(t, err)

	visible, err := h.svc.VisibleReviews(ctx, dune, t0.Add(time.Hour))
	require.NoError(t, err)
	assert.Len(t, visible, 2)
}

func TestSubmitReview_EphemeralExpires(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	c := candidate(dune)
	c.IsEphemeral = boolPtr(true)
	rv, err := h.svc.SubmitReview(ctx, registered("user-1"), c)
	require.NoError(t, err)
	require.NotNil(t, rv.ExpiresAt)
	assert.Equal(t, rv.CreatedAt.Add(24*time.Hour), *rv.ExpiresAt)

	visible, err := h.svc.VisibleReviews(ctx, dune, rv.CreatedAt.Add(23*time.Hour))
	require.NoError(t, err)
	assert.Len(t, visible, 1)

	visible, err = h.svc.VisibleReviews(ctx, dune, rv.CreatedAt.Add(24*time.Hour+time.Second))
	require.NoError(t, err)
	assert.Empty(t, visible)

	stored, err := h.store.ListByContent(ctx, dune)
	require.NoError(t, err)
	assert.Len(t, stored, 1)

	stats, err := h.svc.Stats(ctx, dune, rv.CreatedAt.Add(24*time.Hour+time.Second))
	require.NoError(t, err)
	assert.Zero(t, stats.TotalReviews)
	assert.Nil(t, stats.AverageRating)
}

func TestSubmitReview_FeedEchoIsAbsorbed(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	older, err := h.svc.SubmitReview(ctx, registered("user-1"), candidate(dune))
	require.NoError(t, err)
	rv, err := h.svc.SubmitReview(ctx, registered("user-2"), candidate(dune))
	require.NoError(t, err)

	assert.False(t, h.rec.Merge(*rv, feed.OriginFeed))

	visible, err := h.svc.VisibleReviews(ctx, dune, t0.Add(time.Hour))
	require.NoError(t, err)
	require.Len(t, visible, 2)
	assert.Equal(t, rv.ID, visible[0].ID)
	assert.Equal(t, older.ID, visible[1].ID)
}

func TestSubmitReview_AnonymousNotConfirmed(t *testing.T) {
	h := newHarness(t)

	_, err := h.svc.SubmitReview(context.Background(), Session{AnonymousSessionID: "sess-1"}, candidate(dune))
	require.Error(t, err)
	assert.Equal(t, domain.KindPermissionDenied, domain.KindOf(err))
	assert.Zero(t, h.store.createCount())
	h.catalog.AssertNotCalled(t, "Exists", mock.Anything, mock.Anything)
}

func TestSubmitReview_UnknownContent(t *testing.T) {
	h := newHarness(t)
	missing := "00000000-0000-4000-8000-000000000000"
	h.catalog.On("Exists", mock.Anything, missing).Return(false, nil).Once()

	_, err := h.svc.SubmitReview(context.Background(), registered("user-1"), candidate(missing))
	require.Error(t, err)
	assert.Equal(t, domain.KindUnknownContent, domain.KindOf(err))
	assert.False(t, domain.Retryable(err))
	assert.Zero(t, h.store.createCount())
}

func TestSubmitReview_CatalogFailureIsTransient(t *testing.T) {
	h := newHarness(t)
	flaky := "11111111-1111-4111-8111-111111111111"
	h.catalog.On("Exists", mock.Anything, flaky).Return(false, errors.New("connection reset")).Once()

	_, err := h.svc.SubmitReview(context.Background(), registered("user-1"), candidate(flaky))
	require.Error(t, err)
	assert.Equal(t, domain.KindTransientStore, domain.KindOf(err))
	assert.True(t, domain.Retryable(err))
}

func TestSubmitReview_StoreFailureIsTransient(t *testing.T) {
	h := newHarness(t)
	h.store.createErr = errors.New("write: broken pipe")

	_, err := h.svc.SubmitReview(context.Background(), registered("user-1"), candidate(dune))
	require.Error(t, err)
	assert.Equal(t, domain.KindTransientStore, domain.KindOf(err))

	// The same submission succeeds once the store recovers.
	h.store.createErr = nil
	_, err = h.svc.SubmitReview(context.Background(), registered("user-1"), candidate(dune))
	assert.NoError(t, err)
}

func TestSubmitReview_PublishFailureKeepsReview(t *testing.T) {
	h := newHarness(t)
	h.publisher.err = errors.New("broker unavailable")

	rv, err := h.svc.SubmitReview(context.Background(), registered("user-1"), candidate(dune))
	require.NoError(t, err)

	visible, err := h.svc.VisibleReviews(context.Background(), dune, t0.Add(time.Hour))
	require.NoError(t, err)
	require.Len(t, visible, 1)
	assert.Equal(t, rv.ID, visible[0].ID)
}

func TestSubmitReview_ConcurrentSameAuthorSerialized(t *testing.T) {
	h := newHarness(t)
	// Only the guard and the pre-flight check stand between the two writes.
	h.store.enforceUnique = false
	h.store.createDelay = 20 * time.Millisecond

	var wg sync.WaitGroup
	var accepted, conflicts atomic.Int32
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := h.svc.SubmitReview(context.Background(), registered("user-1"), candidate(dune))
			switch domain.KindOf(err) {
			case domain.KindNone:
				accepted.Add(1)
			case domain.KindUniquenessConflict:
				conflicts.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), accepted.Load())
	assert.Equal(t, int32(1), conflicts.Load())
	assert.Equal(t, 1, h.store.createCount())
}

func TestSubmitReview_DifferentContentsProceedConcurrently(t *testing.T) {
	h := newHarness(t)

	var wg sync.WaitGroup
	errs := make(chan error, 20)
	for i := 0; i < 10; i++ {
		for _, c := range []string{dune, arcane} {
			wg.Add(1)
			go func(i int, c string) {
				defer wg.Done()
				_, err := h.svc.SubmitReview(context.Background(), registered(fmt.Sprintf("user-%d", i)), candidate(c))
				errs <- err
			}(i, c)
		}
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		assert.NoError(t, err)
	}

	for _, c := range []string{dune, arcane} {
		visible, err := h.svc.VisibleReviews(context.Background(), c, t0.Add(time.Hour))
		require.NoError(t, err)
		assert.Len(t, visible, 10)
	}
}

func TestSubscribe_DeliversAndStopsOnCancel(t *testing.T) {
	h := newHarness(t)
	ctx, cancel := context.WithCancel(context.Background())

	var got atomic.Int32
	sub, err := h.svc.Subscribe(ctx, dune, func(r domain.Review) {
		if r.ContentID == dune {
			got.Add(1)
		}
	})
	require.NoError(t, err)
	assert.Equal(t, dune, sub.ContentID())

	_, err = h.svc.SubmitReview(context.Background(), registered("user-1"), candidate(dune))
	require.NoError(t, err)
	_, err = h.svc.SubmitReview(context.Background(), registered("user-1"), candidate(arcane))
	require.NoError(t, err)
	assert.Equal(t, int32(1), got.Load())

	cancel()
	assert.Eventually(t, func() bool { return h.hub.Subscribers(dune) == 0 }, time.Second, 5*time.Millisecond)

	_, err = h.svc.SubmitReview(context.Background(), registered("user-2"), candidate(dune))
	require.NoError(t, err)
	assert.Equal(t, int32(1), got.Load())
}

// --- guard ---

func TestKeyedLock_Serializes(t *testing.T) {
	l := NewKeyedLock()
	ctx := context.Background()

	release, err := l.Acquire(ctx, "k")
	require.NoError(t, err)

	acquired := make(chan struct{})
	go func() {
		r, err := l.Acquire(ctx, "k")
		if err == nil {
			close(acquired)
			r()
		}
	}()

	select {
	case <-acquired:
		t.Fatal("second acquire succeeded while the key was held")
	case <-time.After(20 * time.Millisecond):
	}

	release()
	release()
	<-acquired
	assert.Eventually(t, func() bool { return l.Len() == 0 }, time.Second, time.Millisecond)
}

func TestKeyedLock_IndependentKeys(t *testing.T) {
	l := NewKeyedLock()
	r1, err := l.Acquire(context.Background(), "a")
	require.NoError(t, err)
	r2, err := l.Acquire(context.Background(), "b")
	require.NoError(t, err)
	assert.Equal(t, 2, l.Len())
	r1()
	r2()
	assert.Zero(t, l.Len())
}

func TestKeyedLock_ContextEnds(t *testing.T) {
	l := NewKeyedLock()
	release, err := l.Acquire(context.Background(), "k")
	require.NoError(t, err)
	defer release()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, err = l.Acquire(ctx, "k")
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, 1, l.Len())
}

// --- reaper ---

func TestReaper_SweepPurgesExpiredOnly(t *testing.T) {
	store := newMemStore()
	exp := t0.Add(24 * time.Hour)
	store.insert(domain.Review{ID: "eph", ContentID: dune, IsEphemeral: true, ExpiresAt: &exp, CreatedAt: t0})
	store.insert(domain.Review{ID: "perm", ContentID: dune, CreatedAt: t0})

	r := NewReaper(store, nil, time.Minute, newTestLogger())

	r.now = func() time.Time { return t0.Add(time.Hour) }
	n, err := r.Sweep(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n)

	r.now = func() time.Time { return exp.Add(time.Second) }
	n, err = r.Sweep(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	left, _ := store.ListByContent(context.Background(), dune)
	require.Len(t, left, 1)
	assert.Equal(t, "perm", left[0].ID)
}

func TestReaper_SweepLetsAuthorReviewAgain(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	ephemeral := candidate(dune)
	ephemeral.IsEphemeral = boolPtr(true)

	first, err := h.svc.SubmitReview(ctx, registered("user-1"), ephemeral)
	require.NoError(t, err)
	require.NotNil(t, first.ExpiresAt)

	_, err = h.svc.SubmitReview(ctx, registered("user-1"), candidate(dune))
	assert.Equal(t, domain.KindUniquenessConflict, domain.KindOf(err))

	r := NewReaper(h.store, h.rec, time.Minute, newTestLogger())
	r.now = func() time.Time { return first.ExpiresAt.Add(time.Second) }
	n, err := r.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
	assert.Empty(t, h.rec.Snapshot(dune))

	second, err := h.svc.SubmitReview(ctx, registered("user-1"), candidate(dune))
	require.NoError(t, err)
	assert.NotEqual(t, first.ID, second.ID)
	assert.Equal(t, 2, h.store.createCount())
}

func TestResync_RecoversUnannouncedReview(t *testing.T) {
	ctx := context.Background()
	store := newMemStore()
	catalog := new(mockCatalog)
	catalog.On("Exists", mock.Anything, dune).Return(true, nil)

	// Two replicas over one store; replica A cannot reach the change feed.
	recA := feed.NewReconciler(store, feed.NewHub(), newTestLogger())
	recB := feed.NewReconciler(store, feed.NewHub(), newTestLogger())
	replicaA := NewReviewService(store, catalog, recA, nil, &fakePublisher{err: errors.New("broker unreachable")}, newTestLogger())
	replicaB := NewReviewService(store, catalog, recB, nil, &fakePublisher{}, newTestLogger())

	var delivered []string
	sub, err := replicaB.Subscribe(ctx, dune, func(r domain.Review) { delivered = append(delivered, r.ID) })
	require.NoError(t, err)
	defer sub.Unsubscribe()

	rv, err := replicaA.SubmitReview(ctx, registered("user-1"), candidate(dune))
	require.NoError(t, err)

	before, err := replicaB.VisibleReviews(ctx, dune, t0.Add(time.Hour))
	require.NoError(t, err)
	assert.Empty(t, before)

	require.NoError(t, recB.Resync(ctx))

	after, err := replicaB.VisibleReviews(ctx, dune, t0.Add(time.Hour))
	require.NoError(t, err)
	require.Len(t, after, 1)
	assert.Equal(t, rv.ID, after[0].ID)
	assert.Equal(t, []string{rv.ID}, delivered)
}

func TestReaper_RunStopsOnCancel(t *testing.T) {
	r := NewReaper(newMemStore(), nil, time.Millisecond, newTestLogger())
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan struct{})
	go func() {
		r.Run(ctx)
		close(done)
	}()
	time.Sleep(5 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("reaper did not stop")
	}
}
