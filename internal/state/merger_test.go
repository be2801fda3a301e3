package state

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/rs/zerolog"

	"github.com/abhi-singhs/slackhub-messenger-sub000/internal/models"
	"github.com/abhi-singhs/slackhub-messenger-sub000/internal/store"
)

func event(t *testing.T, table store.Table, op store.Op, v any) store.Event {
	t.Helper()
	raw, err := json.Marshal(v)
	if err != nil {
		t.Fatal(err)
	}
	ev := store.Event{Table: table, Op: op}
	if op == store.OpDelete {
		ev.Old = raw
	} else {
		ev.New = raw
	}
	return ev
}

// With a live subscription the store delivers the INSERT event before
// the engine's own insert call returns; the provisional entry and the
// merged row must collapse into one.
func TestOptimisticInsertDeduplicates(t *testing.T) {
	ms := store.NewMemoryStore()
	cache := NewCache()
	e := NewEngine(ms, cache, models.User{ID: "u1", Name: "Alice"}, zerolog.Nop())
	mg := NewMerger(cache, zerolog.Nop())

	stop, err := mg.Run(context.Background(), ms)
	if err != nil {
		t.Fatal(err)
	}
	defer stop()

	msg, err := e.SendMessage(context.Background(), "hi", "general", "", nil)
	if err != nil {
		t.Fatal(err)
	}

	got := cache.Messages("general")
	if len(got) != 1 {
		t.Fatalf("expected exactly 1 message, got %d", len(got))
	}
	if got[0].ID != msg.ID {
		t.Fatalf("cached ID %q != confirmed ID %q", got[0].ID, msg.ID)
	}
}

func TestMergerDuplicateInsertReplacesInPlace(t *testing.T) {
	cache := NewCache()
	mg := NewMerger(cache, zerolog.Nop())
	cache.LoadMessages("general", []models.Message{
		{ID: "m1", Content: "stale", ChannelID: "general"},
	}, nil)

	mg.Apply(event(t, store.TableMessages, store.OpInsert,
		models.Message{ID: "m1", Content: "fresh", ChannelID: "general"}))

	got := cache.Messages("general")
	if len(got) != 1 {
		t.Fatalf("expected 1 message, got %d", len(got))
	}
	if got[0].Content != "fresh" {
		t.Fatalf("expected replaced content, got %q", got[0].Content)
	}
}

func TestMergerUpdatePreservesDerivedState(t *testing.T) {
	cache := NewCache()
	mg := NewMerger(cache, zerolog.Nop())
	cache.LoadMessages("general", []models.Message{
		{ID: "m1", Content: "root", ChannelID: "general"},
		{ID: "m2", Content: "reply", ChannelID: "general", ThreadID: "m1"},
	}, []models.Reaction{
		{ID: "r1", MessageID: "m1", UserID: "u2", Emoji: "fire"},
	})

	mg.Apply(event(t, store.TableMessages, store.OpUpdate,
		models.Message{ID: "m1", Content: "root edited", ChannelID: "general", Edited: true}))

	got, _ := cache.Message("m1")
	if got.Content != "root edited" || !got.Edited {
		t.Fatalf("update not applied: %+v", got)
	}
	if got.ReplyCount != 1 {
		t.Fatalf("reply count lost on update: %d", got.ReplyCount)
	}
	if len(got.Reactions) != 1 {
		t.Fatalf("reaction groups lost on update: %+v", got.Reactions)
	}
}

func TestMergerRootDeleteCascadesToReplies(t *testing.T) {
	cache := NewCache()
	mg := NewMerger(cache, zerolog.Nop())
	cache.LoadMessages("general", []models.Message{
		{ID: "m1", Content: "root", ChannelID: "general"},
		{ID: "m2", Content: "reply", ChannelID: "general", ThreadID: "m1"},
		{ID: "m3", Content: "other", ChannelID: "general"},
	}, nil)

	mg.Apply(event(t, store.TableMessages, store.OpDelete,
		models.Message{ID: "m1", ChannelID: "general"}))

	got := cache.Messages("general")
	if len(got) != 1 || got[0].ID != "m3" {
		t.Fatalf("expected only m3 to survive, got %+v", got)
	}
}

func TestMergerReactionEventsTouchOnlyAggregate(t *testing.T) {
	cache := NewCache()
	mg := NewMerger(cache, zerolog.Nop())
	cache.LoadMessages("general", []models.Message{
		{ID: "m1", Content: "hi", ChannelID: "general"},
	}, nil)

	r := models.Reaction{ID: "r1", MessageID: "m1", UserID: "u2", Emoji: "tada"}
	mg.Apply(event(t, store.TableReactions, store.OpInsert, r))

	got, _ := cache.Message("m1")
	if len(got.Reactions) != 1 || got.Reactions[0].Count != 1 || !got.Reactions[0].HasUser("u2") {
		t.Fatalf("unexpected groups after insert: %+v", got.Reactions)
	}

	mg.Apply(event(t, store.TableReactions, store.OpDelete, r))
	got, _ = cache.Message("m1")
	if len(got.Reactions) != 0 {
		t.Fatalf("expected empty groups after delete, got %+v", got.Reactions)
	}
}

func TestMergerChannelDeleteSignalsNavigation(t *testing.T) {
	cache := NewCache()
	mg := NewMerger(cache, zerolog.Nop())
	cache.LoadChannels([]models.Channel{
		{ID: models.GeneralChannel, Name: "General"},
		{ID: "random", Name: "Random"},
	})
	cache.SetActiveChannel("random")

	var gotRemoved, gotFallback string
	cache.OnChannelRemoved(func(removed models.Channel, fallback string) {
		gotRemoved = removed.ID
		gotFallback = fallback
	})

	mg.Apply(event(t, store.TableChannels, store.OpDelete,
		models.Channel{ID: "random", Name: "Random"}))

	if gotRemoved != "random" || gotFallback != models.GeneralChannel {
		t.Fatalf("expected navigation signal random->general, got %q->%q", gotRemoved, gotFallback)
	}
	if len(cache.Channels()) != 1 {
		t.Fatalf("channel not removed: %+v", cache.Channels())
	}
}

func TestMergerChannelDeleteInactiveNoSignal(t *testing.T) {
	cache := NewCache()
	mg := NewMerger(cache, zerolog.Nop())
	cache.LoadChannels([]models.Channel{
		{ID: models.GeneralChannel, Name: "General"},
		{ID: "random", Name: "Random"},
	})
	cache.SetActiveChannel(models.GeneralChannel)

	signalled := false
	cache.OnChannelRemoved(func(models.Channel, string) { signalled = true })

	mg.Apply(event(t, store.TableChannels, store.OpDelete,
		models.Channel{ID: "random"}))

	if signalled {
		t.Fatal("navigation signal fired for an inactive channel")
	}
}

func TestMergerNewMessageCallback(t *testing.T) {
	cache := NewCache()
	mg := NewMerger(cache, zerolog.Nop())
	cache.LoadMessages("general", []models.Message{
		{ID: "m1", Content: "existing", ChannelID: "general"},
	}, nil)

	var seen []string
	mg.OnMessage(func(m models.Message) { seen = append(seen, m.ID) })

	// A reconciliation of an existing row is not a new message.
	mg.Apply(event(t, store.TableMessages, store.OpInsert,
		models.Message{ID: "m1", Content: "existing", ChannelID: "general"}))
	mg.Apply(event(t, store.TableMessages, store.OpInsert,
		models.Message{ID: "m2", Content: "new", ChannelID: "general"}))

	if len(seen) != 1 || seen[0] != "m2" {
		t.Fatalf("expected callback only for m2, got %v", seen)
	}
}

func TestMergerSettingsNormalized(t *testing.T) {
	cache := NewCache()
	mg := NewMerger(cache, zerolog.Nop())

	var got models.Settings
	mg.OnSettings(func(s models.Settings) { got = s })

	mg.Apply(event(t, store.TableSettings, store.OpUpdate,
		models.Settings{ID: "u1", Theme: "sepia"}))

	if got.ID != "u1" {
		t.Fatalf("settings callback not invoked: %+v", got)
	}
	if got.Theme != models.ThemeDark {
		t.Fatalf("unknown theme not normalized: %q", got.Theme)
	}
}

func TestMergerCallEvents(t *testing.T) {
	cache := NewCache()
	mg := NewMerger(cache, zerolog.Nop())

	var last models.Call
	mg.OnCall(func(c models.Call) { last = c })

	call := models.Call{ID: "c1", Type: models.CallVoice, Status: models.CallCalling}
	mg.Apply(event(t, store.TableCalls, store.OpInsert, call))

	if last.ID != "c1" || last.Status != models.CallCalling {
		t.Fatalf("call callback not invoked: %+v", last)
	}
	if cached, ok := cache.Call("c1"); !ok || cached.Status != models.CallCalling {
		t.Fatalf("call not cached: %+v ok=%v", cached, ok)
	}

	mg.Apply(event(t, store.TableCalls, store.OpDelete, call))
	if _, ok := cache.Call("c1"); ok {
		t.Fatal("call survived delete event")
	}
}
