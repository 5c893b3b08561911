package shortref

import (
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newTestMap(t *testing.T, cfg Config) (*Map, *fakeClock) {
	t.Helper()
	clock := &fakeClock{now: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)}
	cfg.Now = clock.Now
	return New(cfg), clock
}

func TestInternResolveRoundTrip(t *testing.T) {
	m, _ := newTestMap(t, Config{})

	values := []string{
		"Team-A/build-service",
		"Team-B/payments/deploy-prod",
		"",
		strings.Repeat("very/long/path/", 20),
	}
	for _, v := range values {
		token, err := m.Intern("chat:1", v)
		require.NoError(t, err)
		assert.LessOrEqual(t, len(token), 5)

		got, err := m.Resolve(token)
		require.NoError(t, err)
		assert.Equal(t, v, got)
	}
}

func TestInternProducesDistinctTokensForEqualValues(t *testing.T) {
	m, _ := newTestMap(t, Config{})

	seen := make(map[string]bool)
	for i := 0; i < 100; i++ {
		token, err := m.Intern("chat:1", "Team-A/build-service")
		require.NoError(t, err)
		assert.False(t, seen[token], "token %q issued twice", token)
		seen[token] = true
	}
	assert.Equal(t, 100, m.Len())
}

func TestResolveUnknownTokenIsStale(t *testing.T) {
	m, _ := newTestMap(t, Config{})

	_, err := m.Resolve("zz")
	require.Error(t, err)
	assert.True(t, IsStale(err))
}

func TestReleaseScope(t *testing.T) {
	m, _ := newTestMap(t, Config{})

	a, err := m.Intern("1:10", "a")
	require.NoError(t, err)
	b, err := m.Intern("1:10", "b")
	require.NoError(t, err)
	other, err := m.Intern("1:11", "c")
	require.NoError(t, err)

	assert.Equal(t, 2, m.ReleaseScope("1:10"))

	_, err = m.Resolve(a)
	assert.True(t, IsStale(err))
	_, err = m.Resolve(b)
	assert.True(t, IsStale(err))

	got, err := m.Resolve(other)
	require.NoError(t, err)
	assert.Equal(t, "c", got)

	assert.Equal(t, 0, m.ReleaseScope("missing"))
}

func TestRenameScope(t *testing.T) {
	m, _ := newTestMap(t, Config{})

	token, err := m.Intern("pending-1", "Team-A")
	require.NoError(t, err)

	m.RenameScope("pending-1", "1:42")

	assert.Equal(t, 0, m.ReleaseScope("pending-1"))
	got, err := m.Resolve(token)
	require.NoError(t, err)
	assert.Equal(t, "Team-A", got)

	assert.Equal(t, 1, m.ReleaseScope("1:42"))
	_, err = m.Resolve(token)
	assert.True(t, IsStale(err))
}

func TestExpiry(t *testing.T) {
	m, clock := newTestMap(t, Config{TTL: time.Minute})

	token, err := m.Intern("s", "v")
	require.NoError(t, err)

	clock.Advance(59 * time.Second)
	_, err = m.Resolve(token)
	require.NoError(t, err)

	clock.Advance(time.Second)
	_, err = m.Resolve(token)
	assert.True(t, IsStale(err))
	assert.Equal(t, 0, m.Len())
}

func TestSweep(t *testing.T) {
	m, clock := newTestMap(t, Config{TTL: time.Minute})

	for i := 0; i < 3; i++ {
		_, err := m.Intern("old", fmt.Sprintf("v%d", i))
		require.NoError(t, err)
	}
	clock.Advance(2 * time.Minute)
	fresh, err := m.Intern("new", "fresh")
	require.NoError(t, err)

	assert.Equal(t, 3, m.Sweep())
	assert.Equal(t, 1, m.Len())

	got, err := m.Resolve(fresh)
	require.NoError(t, err)
	assert.Equal(t, "fresh", got)
}

func TestIdSpaceWrapsAndSkipsLiveTokens(t *testing.T) {
	m, _ := newTestMap(t, Config{MaxTokens: 3})

	t1, err := m.Intern("a", "1")
	require.NoError(t, err)
	t2, err := m.Intern("b", "2")
	require.NoError(t, err)
	t3, err := m.Intern("a", "3")
	require.NoError(t, err)

	_, err = m.Intern("c", "4")
	assert.ErrorIs(t, err, ErrExhausted)

	m.ReleaseScope("b")
	t4, err := m.Intern("c", "4")
	require.NoError(t, err)
	assert.Equal(t, t2, t4, "only the released id is free")
	assert.NotEqual(t, t1, t4)
	assert.NotEqual(t, t3, t4)

	got, err := m.Resolve(t4)
	require.NoError(t, err)
	assert.Equal(t, "4", got)
}

func TestConcurrentIntern(t *testing.T) {
	m, _ := newTestMap(t, Config{})

	var wg sync.WaitGroup
	tokens := make(chan string, 400)
	for g := 0; g < 4; g++ {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			for i := 0; i < 100; i++ {
				token, err := m.Intern(fmt.Sprintf("chat:%d", g), "v")
				if err == nil {
					tokens <- token
				}
			}
		}(g)
	}
	wg.Wait()
	close(tokens)

	seen := make(map[string]bool)
	for token := range tokens {
		assert.False(t, seen[token])
		seen[token] = true
	}
	assert.Len(t, seen, 400)
}
