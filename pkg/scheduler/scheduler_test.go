package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/3leaps/deploybot/pkg/chat"
	"github.com/3leaps/deploybot/pkg/deploy"
	"github.com/3leaps/deploybot/pkg/jenkins"
	"github.com/3leaps/deploybot/pkg/jobstore"
)

type fakeDeployer struct {
	mu     sync.Mutex
	calls  []string
	params []string
	fail   map[string]bool
}

func (f *fakeDeployer) Trigger(_ context.Context, path string, _ jenkins.Credentials, parameter string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, path)
	f.params = append(f.params, parameter)
	return !f.fail[path]
}

func (f *fakeDeployer) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

type fakeResolver struct {
	deny map[int64]bool
}

func (f fakeResolver) Resolve(_ context.Context, userID int64) (string, jenkins.Credentials, error) {
	if f.deny[userID] {
		return "guest", jenkins.Credentials{}, fmt.Errorf("role %q: %w", "guest", deploy.ErrNoCredentials)
	}
	return "dev", jenkins.Credentials{User: "dev", Token: "t"}, nil
}

type fakeSender struct {
	mu   sync.Mutex
	sent map[int64][]string
	err  error
}

func (f *fakeSender) Send(_ context.Context, chatID int64, msg chat.OutgoingMessage) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sent == nil {
		f.sent = make(map[int64][]string)
	}
	f.sent[chatID] = append(f.sent[chatID], msg.Text)
	return len(f.sent[chatID]), f.err
}

type fakeWatcher struct {
	watched []string
}

func (f *fakeWatcher) Watch(path string, chatID int64) {
	f.watched = append(f.watched, fmt.Sprintf("%s@%d", path, chatID))
}

func newStore(t *testing.T) *jobstore.Store {
	t.Helper()
	s, err := jobstore.Open(context.Background(), jobstore.Config{Path: ":memory:"})
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func schedule(t *testing.T, s *jobstore.Store, url string, at time.Time, owner, chatID int64, param string) int64 {
	t.Helper()
	ctx := context.Background()
	j, err := s.UpsertJob(ctx, jobstore.JobRef{URL: url, OwnerUserID: owner, ChatID: chatID})
	require.NoError(t, err)
	require.NoError(t, s.Schedule(ctx, j.ID, jobstore.ScheduleRequest{At: at, Parameter: param, OwnerUserID: owner, ChatID: chatID}))
	return j.ID
}

func TestTickFiresDueEntryOnce(t *testing.T) {
	ctx := context.Background()
	store := newStore(t)
	now := time.Date(2026, 10, 16, 9, 0, 0, 0, time.UTC)

	pastID := schedule(t, store, "Team-A/build-service", now.Add(-time.Minute), 7, 100, "v1.2.3")
	futureID := schedule(t, store, "Team-A/later", now.Add(time.Hour), 7, 100, "")

	d := &fakeDeployer{}
	sender := &fakeSender{}
	w := &fakeWatcher{}
	s := New(store, d, fakeResolver{}, sender, Config{Location: time.UTC}, nil).WithWatcher(w)

	sum, err := s.Tick(ctx, now)
	require.NoError(t, err)
	assert.Equal(t, Summary{Due: 1, Triggered: 1, Deleted: 1}, sum)
	assert.Equal(t, []string{"Team-A/build-service"}, d.calls)
	assert.Equal(t, []string{"v1.2.3"}, d.params)
	assert.Equal(t, []string{"Team-A/build-service@100"}, w.watched)

	_, err = store.GetJob(ctx, pastID)
	assert.True(t, jobstore.IsNotFound(err))

	future, err := store.GetJob(ctx, futureID)
	require.NoError(t, err)
	assert.True(t, future.Scheduled())

	require.Len(t, sender.sent[100], 1)
	assert.Contains(t, sender.sent[100][0], "Team-A/build-service")
	assert.Contains(t, sender.sent[100][0], "v1.2.3")
	assert.Contains(t, sender.sent[100][0], "16/10/2026 08:59")

	// Second tick: nothing left to fire.
	sum, err = s.Tick(ctx, now)
	require.NoError(t, err)
	assert.Equal(t, 0, sum.Due)
	assert.Equal(t, 1, d.count())
}

func TestTickDeletesFailedTriggers(t *testing.T) {
	ctx := context.Background()
	store := newStore(t)
	now := time.Now()

	id := schedule(t, store, "broken", now.Add(-time.Second), 7, 100, "")
	d := &fakeDeployer{fail: map[string]bool{"broken": true}}
	w := &fakeWatcher{}
	sender := &fakeSender{}

	sum, err := New(store, d, fakeResolver{}, sender, Config{}, nil).WithWatcher(w).Tick(ctx, now)
	require.NoError(t, err)
	assert.Equal(t, Summary{Due: 1, Failed: 1, Deleted: 1}, sum)
	assert.Empty(t, w.watched)

	_, err = store.GetJob(ctx, id)
	assert.True(t, jobstore.IsNotFound(err))
	assert.Contains(t, sender.sent[100][0], "thất bại")
}

func TestTickWithoutCredentialsSkipsTriggerButDeletes(t *testing.T) {
	ctx := context.Background()
	store := newStore(t)
	now := time.Now()

	schedule(t, store, "svc", now.Add(-time.Second), 9, 100, "")
	d := &fakeDeployer{}

	sum, err := New(store, d, fakeResolver{deny: map[int64]bool{9: true}}, nil, Config{}, nil).Tick(ctx, now)
	require.NoError(t, err)
	assert.Equal(t, Summary{Due: 1, Failed: 1, Deleted: 1}, sum)
	assert.Zero(t, d.count())
}

// reschedulingDeployer moves the entry being fired to a later time, as an
// owner editing the schedule during the trigger request would.
type reschedulingDeployer struct {
	store *jobstore.Store
	id    int64
	to    time.Time
}

func (r *reschedulingDeployer) Trigger(ctx context.Context, _ string, _ jenkins.Credentials, _ string) bool {
	return r.store.UpdateScheduledTime(ctx, r.id, r.to) == nil
}

func TestTickKeepsEntryMovedWhileFiring(t *testing.T) {
	ctx := context.Background()
	store := newStore(t)
	now := time.Date(2026, 10, 16, 9, 0, 0, 0, time.UTC)

	id := schedule(t, store, "Team-A/build-service", now.Add(-time.Minute), 7, 100, "")
	d := &reschedulingDeployer{store: store, id: id, to: now.Add(24 * time.Hour)}

	sum, err := New(store, d, fakeResolver{}, nil, Config{}, nil).Tick(ctx, now)
	require.NoError(t, err)
	assert.Equal(t, Summary{Due: 1, Triggered: 1, Rescheduled: 1}, sum)

	got, err := store.GetJob(ctx, id)
	require.NoError(t, err)
	require.NotNil(t, got.ScheduledTime)
	assert.True(t, got.ScheduledTime.Equal(now.Add(24*time.Hour)))
}

// flakyStore fails to delete selected ids.
type flakyStore struct {
	due     []jobstore.Job
	failIDs map[int64]bool
	deleted []int64
	listErr error
}

func (f *flakyStore) ListDue(context.Context, time.Time) ([]jobstore.Job, error) {
	return f.due, f.listErr
}

func (f *flakyStore) DeleteFired(_ context.Context, id int64, _ time.Time) (bool, error) {
	if f.failIDs[id] {
		return false, errors.New("database is locked")
	}
	f.deleted = append(f.deleted, id)
	return true, nil
}

func TestTickContinuesAfterStoreFailure(t *testing.T) {
	store := &flakyStore{
		due: []jobstore.Job{
			{ID: 1, URL: "a", OwnerUserID: 7},
			{ID: 2, URL: "b", OwnerUserID: 7},
			{ID: 3, URL: "c", OwnerUserID: 7},
		},
		failIDs: map[int64]bool{2: true},
	}
	d := &fakeDeployer{}

	sum, err := New(store, d, fakeResolver{}, nil, Config{}, nil).Tick(context.Background(), time.Now())
	require.NoError(t, err)
	assert.Equal(t, Summary{Due: 3, Triggered: 3, Deleted: 2}, sum)
	assert.Equal(t, []int64{1, 3}, store.deleted)
}

func TestTickListFailure(t *testing.T) {
	store := &flakyStore{listErr: errors.New("no such table: jobs")}
	_, err := New(store, &fakeDeployer{}, fakeResolver{}, nil, Config{}, nil).Tick(context.Background(), time.Now())
	assert.Error(t, err)
}

func TestNotifyFailureIsNotFatal(t *testing.T) {
	store := &flakyStore{due: []jobstore.Job{{ID: 1, URL: "a", ChatID: 5}}}
	sender := &fakeSender{err: errors.New("chat not found")}

	sum, err := New(store, &fakeDeployer{}, fakeResolver{}, sender, Config{}, nil).Tick(context.Background(), time.Now())
	require.NoError(t, err)
	assert.Equal(t, 1, sum.Deleted)
}

// countingStore counts ListDue calls.
type countingStore struct {
	ticks atomic.Int32
}

func (c *countingStore) ListDue(context.Context, time.Time) ([]jobstore.Job, error) {
	c.ticks.Add(1)
	return nil, nil
}

func (c *countingStore) DeleteFired(context.Context, int64, time.Time) (bool, error) {
	return true, nil
}

func TestStartStop(t *testing.T) {
	store := &countingStore{}
	s := New(store, &fakeDeployer{}, fakeResolver{}, nil, Config{Interval: time.Second}, nil)

	require.NoError(t, s.Start(context.Background()))
	assert.Error(t, s.Start(context.Background()), "second start must fail")

	assert.Eventually(t, func() bool { return store.ticks.Load() >= 1 }, 5*time.Second, 50*time.Millisecond)

	s.Stop()
	after := store.ticks.Load()
	time.Sleep(1500 * time.Millisecond)
	assert.Equal(t, after, store.ticks.Load())

	s.Stop()
}
