package presence

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/abhi-singhs/slackhub-messenger-sub000/internal/models"
	"github.com/abhi-singhs/slackhub-messenger-sub000/internal/store"
)

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("condition not met in time")
}

func TestGlobalScopeExcludesSelf(t *testing.T) {
	ms := store.NewMemoryStore()
	tr := NewTracker(ms, models.User{ID: "u1", Name: "Alice"}, zerolog.Nop())

	if err := tr.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	defer tr.Stop(context.Background())

	if got := tr.OnlineUsers(); len(got) != 0 {
		t.Fatalf("self leaked into online list: %+v", got)
	}

	// A second client joins the global scope.
	other := ms.Presence(GlobalScope)
	if err := other.Join(context.Background(), models.User{ID: "u2", Name: "Bob"}); err != nil {
		t.Fatal(err)
	}

	got := tr.OnlineUsers()
	if len(got) != 1 || got[0].ID != "u2" {
		t.Fatalf("expected only u2 online, got %+v", got)
	}

	if err := other.Leave(context.Background()); err != nil {
		t.Fatal(err)
	}
	if got := tr.OnlineUsers(); len(got) != 0 {
		t.Fatalf("u2 survived leave: %+v", got)
	}
}

func TestSwitchChannelMembership(t *testing.T) {
	ms := store.NewMemoryStore()
	tr := NewTracker(ms, models.User{ID: "u1", Name: "Alice"}, zerolog.Nop())
	ctx := context.Background()

	if err := tr.Start(ctx); err != nil {
		t.Fatal(err)
	}
	defer tr.Stop(ctx)

	tr.SwitchChannel(ctx, "general")
	waitFor(t, func() bool {
		m := tr.ChannelMembers()
		return len(m) == 1 && m[0].ID == "u1"
	})

	// Another member in the same channel scope.
	peer := ms.Presence(ChannelScope("general"))
	if err := peer.Join(ctx, models.User{ID: "u2", Name: "Bob"}); err != nil {
		t.Fatal(err)
	}
	waitFor(t, func() bool { return len(tr.ChannelMembers()) == 2 })

	// Switching away rebuilds membership for the new scope only.
	tr.SwitchChannel(ctx, "random")
	waitFor(t, func() bool {
		m := tr.ChannelMembers()
		return len(m) == 1 && m[0].ID == "u1"
	})
}

func TestTrackRebroadcastsStatus(t *testing.T) {
	ms := store.NewMemoryStore()
	tr := NewTracker(ms, models.User{ID: "u1", Name: "Alice", Status: models.StatusActive}, zerolog.Nop())
	ctx := context.Background()

	if err := tr.Start(ctx); err != nil {
		t.Fatal(err)
	}
	defer tr.Stop(ctx)

	// Observe the scope from a second channel.
	var mu sync.Mutex
	var last []models.User
	watcher := ms.Presence(GlobalScope)
	watcher.OnSync(func(members []models.User) {
		mu.Lock()
		last = append([]models.User(nil), members...)
		mu.Unlock()
	})
	if err := watcher.Join(ctx, models.User{ID: "u2"}); err != nil {
		t.Fatal(err)
	}

	tr.Track(ctx, models.User{ID: "u1", Name: "Alice", Status: models.StatusAway})

	waitFor(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		for _, m := range last {
			if m.ID == "u1" && m.Status == models.StatusAway {
				return true
			}
		}
		return false
	})
}

// flakyStore fails channel-scope joins a fixed number of times before
// delegating to the in-memory hub.
type flakyStore struct {
	*store.MemoryStore
	mu        sync.Mutex
	failures  int
	joinCalls int
}

type flakyChannel struct {
	store.PresenceChannel
	fs *flakyStore
}

func (f *flakyStore) Presence(scope string) store.PresenceChannel {
	if scope == GlobalScope {
		return f.MemoryStore.Presence(scope)
	}
	return &flakyChannel{PresenceChannel: f.MemoryStore.Presence(scope), fs: f}
}

func (c *flakyChannel) Join(ctx context.Context, self models.User) error {
	c.fs.mu.Lock()
	c.fs.joinCalls++
	fail := c.fs.failures > 0
	if fail {
		c.fs.failures--
	}
	c.fs.mu.Unlock()
	if fail {
		return errors.New("transient join failure")
	}
	return c.PresenceChannel.Join(ctx, self)
}

func TestChannelJoinRetries(t *testing.T) {
	fs := &flakyStore{MemoryStore: store.NewMemoryStore(), failures: 1}
	tr := NewTracker(fs, models.User{ID: "u1", Name: "Alice"}, zerolog.Nop())
	ctx := context.Background()

	if err := tr.Start(ctx); err != nil {
		t.Fatal(err)
	}
	defer tr.Stop(ctx)

	tr.SwitchChannel(ctx, "general")

	// First attempt fails; the retry lands after one backoff interval.
	waitFor(t, func() bool {
		m := tr.ChannelMembers()
		return len(m) == 1 && m[0].ID == "u1"
	})

	fs.mu.Lock()
	calls := fs.joinCalls
	fs.mu.Unlock()
	if calls < 2 {
		t.Fatalf("expected at least 2 join attempts, got %d", calls)
	}
}

func TestSwitchAwayAbandonsRetry(t *testing.T) {
	fs := &flakyStore{MemoryStore: store.NewMemoryStore(), failures: 1000}
	tr := NewTracker(fs, models.User{ID: "u1", Name: "Alice"}, zerolog.Nop())
	ctx := context.Background()

	if err := tr.Start(ctx); err != nil {
		t.Fatal(err)
	}
	defer tr.Stop(ctx)

	tr.SwitchChannel(ctx, "doomed")
	time.Sleep(50 * time.Millisecond)

	// Heal and switch: the doomed retry loop must not clobber the new scope.
	fs.mu.Lock()
	fs.failures = 0
	fs.mu.Unlock()
	tr.SwitchChannel(ctx, "healthy")

	waitFor(t, func() bool {
		m := tr.ChannelMembers()
		return len(m) == 1 && m[0].ID == "u1"
	})
}
