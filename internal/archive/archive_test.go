package archive

import (
	"testing"
	"time"

	"chatcore/pkg/logger"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := Open(":memory:", logger.New(logger.DevelopmentMode))
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func stamp(hour, minute int) time.Time {
	return time.Date(2024, 5, 10, hour, minute, 0, 0, time.UTC)
}

func seed(t *testing.T, store *Store, jid string, texts []string) []string {
	t.Helper()
	ids := make([]string, 0, len(texts))
	for i, text := range texts {
		id, err := store.Insert(Record{
			Account:   "acc1",
			JID:       jid,
			Kind:      KindIncoming,
			Type:      "chat",
			Text:      text,
			Timestamp: stamp(10, i),
		})
		if err != nil {
			t.Fatalf("insert %q: %v", text, err)
		}
		ids = append(ids, id)
	}
	return ids
}

func TestInsertGeneratesLogID(t *testing.T) {
	store := openTestStore(t)
	ids := seed(t, store, "a@example.org", []string{"hello"})
	if ids[0] == "" {
		t.Fatal("empty log id")
	}
	again, err := store.Insert(Record{
		Account:   "acc1",
		JID:       "a@example.org",
		Kind:      KindOutgoing,
		Type:      "chat",
		Text:      "hi",
		Timestamp: stamp(10, 5),
	})
	if err != nil {
		t.Fatalf("insert: %v", err)
	}
	if again == ids[0] {
		t.Fatal("log ids must be unique")
	}
}

func TestMarkReadAndUnreadCount(t *testing.T) {
	store := openTestStore(t)
	seed(t, store, "a@example.org", []string{"one", "two"})
	seed(t, store, "b@example.org", []string{"three"})

	n, err := store.UnreadCount("acc1", "a@example.org")
	if err != nil {
		t.Fatalf("count: %v", err)
	}
	if n != 2 {
		t.Fatalf("unread = %d, want 2", n)
	}

	if err := store.MarkRead("acc1", "a@example.org"); err != nil {
		t.Fatalf("mark read: %v", err)
	}
	n, _ = store.UnreadCount("acc1", "a@example.org")
	if n != 0 {
		t.Fatalf("unread after mark = %d, want 0", n)
	}
	// Other conversations are untouched.
	n, _ = store.UnreadCount("acc1", "b@example.org")
	if n != 1 {
		t.Fatalf("other conversation unread = %d, want 1", n)
	}
}

func TestHistoryPageAscendingWindow(t *testing.T) {
	store := openTestStore(t)
	seed(t, store, "a@example.org", []string{"m0", "m1", "m2", "m3", "m4"})

	// Anchor between m3 and m4: the two newest rows below the anchor.
	page, err := store.HistoryPage("acc1", "a@example.org", stamp(10, 4), 2)
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if len(page) != 2 {
		t.Fatalf("page size = %d, want 2", len(page))
	}
	if page[0].Text != "m2" || page[1].Text != "m3" {
		t.Fatalf("page order = %q, %q; want m2, m3", page[0].Text, page[1].Text)
	}
	if !page[0].Timestamp.Before(page[1].Timestamp) {
		t.Fatal("page not ascending")
	}
}

func TestSearch(t *testing.T) {
	store := openTestStore(t)
	seed(t, store, "a@example.org", []string{"the plan", "nothing", "plan B"})
	seed(t, store, "b@example.org", []string{"another plan"})

	hits, err := store.Search("acc1", "", "plan", nil, nil, 10)
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(hits) != 3 {
		t.Fatalf("hits = %d, want 3", len(hits))
	}

	hits, err = store.Search("acc1", "a@example.org", "plan", nil, nil, 10)
	if err != nil {
		t.Fatalf("scoped search: %v", err)
	}
	if len(hits) != 2 {
		t.Fatalf("scoped hits = %d, want 2", len(hits))
	}

	from := stamp(10, 2)
	hits, err = store.Search("acc1", "a@example.org", "plan", &from, nil, 10)
	if err != nil {
		t.Fatalf("ranged search: %v", err)
	}
	if len(hits) != 1 || hits[0].Text != "plan B" {
		t.Fatalf("ranged hits = %+v", hits)
	}

	if _, err := store.Search("acc1", "", "   ", nil, nil, 10); err == nil {
		t.Fatal("blank query must be rejected")
	}
}
