package session

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/abhi-singhs/slackhub-messenger-sub000/internal/config"
	"github.com/abhi-singhs/slackhub-messenger-sub000/internal/models"
	"github.com/abhi-singhs/slackhub-messenger-sub000/internal/notify"
	"github.com/abhi-singhs/slackhub-messenger-sub000/internal/status"
	"github.com/abhi-singhs/slackhub-messenger-sub000/internal/store"
)

type countingToasts struct{ count int }

func (t *countingToasts) Toast(title, body string) { t.count++ }

func testConfig() *config.Config {
	return &config.Config{
		Port:        "0",
		Env:         "development",
		UserID:      "u1",
		DisplayName: "Alice",
	}
}

func startSession(t *testing.T, ms *store.MemoryStore, toasts notify.ToastSink) *Session {
	t.Helper()
	n := notify.NewNotifier(notify.Config{}, nil, nil, toasts, zerolog.Nop())
	s := New(testConfig(), ms, n, status.NewScheduler(), zerolog.Nop())
	if err := s.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { s.Close(context.Background()) })
	return s
}

func TestStartCreatesProfile(t *testing.T) {
	ms := store.NewMemoryStore()
	s := startSession(t, ms, nil)

	if ms.Count(store.TableUsers) != 1 {
		t.Fatalf("expected profile row, got %d", ms.Count(store.TableUsers))
	}
	if s.Self().ID != "u1" || s.Self().Name != "Alice" {
		t.Fatalf("unexpected identity: %+v", s.Self())
	}
	if s.Cache().ActiveChannel() != models.GeneralChannel {
		t.Fatalf("expected general active, got %q", s.Cache().ActiveChannel())
	}
}

func TestBootstrapLoadsRemoteState(t *testing.T) {
	ms := store.NewMemoryStore()
	ctx := context.Background()

	ch, _ := json.Marshal(models.Channel{ID: "general", Name: "General"})
	if _, err := ms.Insert(ctx, store.TableChannels, ch); err != nil {
		t.Fatal(err)
	}
	msg, _ := json.Marshal(models.Message{ID: "m1", Content: "welcome", AuthorID: "u2", ChannelID: "general"})
	if _, err := ms.Insert(ctx, store.TableMessages, msg); err != nil {
		t.Fatal(err)
	}
	st, _ := json.Marshal(models.Settings{ID: "u1", Theme: models.ThemeLight})
	if _, err := ms.Insert(ctx, store.TableSettings, st); err != nil {
		t.Fatal(err)
	}

	s := startSession(t, ms, nil)

	if got := s.Cache().Channels(); len(got) != 1 || got[0].ID != "general" {
		t.Fatalf("channels not loaded: %+v", got)
	}
	if got := s.Cache().Messages("general"); len(got) != 1 || got[0].Content != "welcome" {
		t.Fatalf("history not loaded: %+v", got)
	}
	if got := s.Settings(); got.Theme != models.ThemeLight {
		t.Fatalf("stored settings not applied: %+v", got)
	}
}

func TestIncomingMessageMergesAndNotifies(t *testing.T) {
	ms := store.NewMemoryStore()
	toasts := &countingToasts{}
	s := startSession(t, ms, toasts)

	// Another client's message arrives over the change stream.
	raw, _ := json.Marshal(models.Message{Content: "hello all", AuthorID: "u2", AuthorName: "Bob", ChannelID: "general"})
	if _, err := ms.Insert(context.Background(), store.TableMessages, raw); err != nil {
		t.Fatal(err)
	}

	got := s.Cache().Messages("general")
	if len(got) != 1 || got[0].Content != "hello all" {
		t.Fatalf("message not merged: %+v", got)
	}
	if toasts.count != 1 {
		t.Fatalf("expected 1 toast, got %d", toasts.count)
	}
}

func TestOwnSendDoesNotToast(t *testing.T) {
	ms := store.NewMemoryStore()
	toasts := &countingToasts{}
	s := startSession(t, ms, toasts)

	if _, err := s.Engine().SendMessage(context.Background(), "mine", "general", "", nil); err != nil {
		t.Fatal(err)
	}
	if toasts.count != 0 {
		t.Fatalf("own message toasted %d times", toasts.count)
	}
}

func TestSaveSettingsPersistsAndApplies(t *testing.T) {
	ms := store.NewMemoryStore()
	s := startSession(t, ms, nil)

	st := models.DefaultSettings("u1")
	st.Theme = models.ThemeLight
	st.Notifications.DoNotDisturb = true
	if err := s.SaveSettings(context.Background(), st); err != nil {
		t.Fatal(err)
	}

	if ms.Count(store.TableSettings) != 1 {
		t.Fatalf("expected settings row, got %d", ms.Count(store.TableSettings))
	}
	got := s.Settings()
	if got.Theme != models.ThemeLight || !got.Notifications.DoNotDisturb {
		t.Fatalf("settings not applied locally: %+v", got)
	}
}

func TestRemoteSettingsChangeApplies(t *testing.T) {
	ms := store.NewMemoryStore()
	s := startSession(t, ms, nil)

	raw, _ := json.Marshal(models.Settings{ID: "u1", Theme: models.ThemeLight})
	if _, err := ms.Insert(context.Background(), store.TableSettings, raw); err != nil {
		t.Fatal(err)
	}
	if got := s.Settings(); got.Theme != models.ThemeLight {
		t.Fatalf("remote settings not folded in: %+v", got)
	}
}

func TestActiveChannelDeletedNavigatesToGeneral(t *testing.T) {
	ms := store.NewMemoryStore()
	ctx := context.Background()

	for _, c := range []models.Channel{
		{ID: "general", Name: "General"},
		{ID: "random", Name: "Random", CreatedBy: "u2"},
	} {
		raw, _ := json.Marshal(c)
		if _, err := ms.Insert(ctx, store.TableChannels, raw); err != nil {
			t.Fatal(err)
		}
	}

	s := startSession(t, ms, nil)
	s.SetActiveChannel(ctx, "random")

	if err := ms.Delete(ctx, store.TableChannels, "random"); err != nil {
		t.Fatal(err)
	}

	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if s.Cache().ActiveChannel() == models.GeneralChannel {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("still on %q after channel delete", s.Cache().ActiveChannel())
}

func TestStatusChangePersistsDirectoryRow(t *testing.T) {
	ms := store.NewMemoryStore()
	s := startSession(t, ms, nil)

	s.Status().SetManual(models.StatusBusy)

	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		rows, err := ms.Select(context.Background(), store.TableUsers, store.Filter{"id": "u1"})
		if err != nil {
			t.Fatal(err)
		}
		if len(rows) == 1 {
			var u models.User
			if err := json.Unmarshal(rows[0], &u); err != nil {
				t.Fatal(err)
			}
			if u.Status == models.StatusBusy {
				return
			}
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("busy status never persisted")
}
