package store

import (
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/matheus3301/chatsync/internal/model"
)

func testDB(t *testing.T) *DB {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	db, err := Open(path)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := db.Migrate(); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db
}

var base = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

func TestOpenCreatesDirAndMigratesFromScratch(t *testing.T) {
	path := filepath.Join(t.TempDir(), "profiles", "work", "chatsync.db")
	db, err := Open(path)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = db.Close() })
	if db.Path() != path {
		t.Errorf("Path() = %q, want %q", db.Path(), path)
	}

	result, err := db.Migrate()
	if err != nil {
		t.Fatal(err)
	}
	if result.From != 0 || result.Version != 2 || !result.Changed {
		t.Errorf("first Migrate() = %+v, want from 0 to 2, changed", *result)
	}
}

func TestMigrateIsIdempotent(t *testing.T) {
	db := testDB(t)

	result, err := db.Migrate()
	if err != nil {
		t.Fatal(err)
	}
	if result.Changed {
		t.Error("second Migrate() should report Changed=false")
	}
	if result.From != 2 || result.Version != 2 {
		t.Errorf("version = %d, want 2 (init + drafts)", result.Version)
	}
}

func TestConversationsRoundTripOrder(t *testing.T) {
	db := testDB(t)

	list := []model.Conversation{
		{ID: 5, CreatedAt: base, LastMessage: &model.Message{ID: 1, CreatedAt: base.Add(10 * time.Hour)}},
		{ID: 7, CreatedAt: base, LastMessage: &model.Message{ID: 2, CreatedAt: base.Add(11 * time.Hour)}},
		{ID: 9, CreatedAt: base.Add(time.Hour)},
	}
	if err := db.SaveConversations(list); err != nil {
		t.Fatal(err)
	}

	got, err := db.LoadConversations()
	if err != nil {
		t.Fatal(err)
	}
	want := []int64{7, 5, 9}
	if len(got) != len(want) {
		t.Fatalf("got %d conversations, want %d", len(got), len(want))
	}
	for i, id := range want {
		if got[i].ID != id {
			t.Errorf("got[%d].ID = %d, want %d", i, got[i].ID, id)
		}
	}

	// Saving again replaces the list.
	if err := db.SaveConversations(list[:1]); err != nil {
		t.Fatal(err)
	}
	got, _ = db.LoadConversations()
	if len(got) != 1 {
		t.Errorf("got %d conversations after replace, want 1", len(got))
	}
}

func TestMessagesUpsertAndLimit(t *testing.T) {
	db := testDB(t)

	var page []model.Message
	for i := 1; i <= 5; i++ {
		page = append(page, model.Message{ID: int64(i), ConversationID: 3, Content: "m", CreatedAt: base.Add(time.Duration(i) * time.Minute)})
	}
	if err := db.SaveMessages(3, page); err != nil {
		t.Fatal(err)
	}
	page[4].Content = "edited"
	page[4].Edited = true
	if err := db.SaveMessages(3, page[4:]); err != nil {
		t.Fatal(err)
	}

	got, err := db.LoadMessages(3, 2)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 || got[0].ID != 4 || got[1].ID != 5 {
		t.Fatalf("LoadMessages(limit 2) = %+v, want ids [4 5]", got)
	}
	if got[1].Content != "edited" || !got[1].Edited {
		t.Errorf("message 5 not updated: %+v", got[1])
	}
}

func TestDeleteConversationCascades(t *testing.T) {
	db := testDB(t)

	if err := db.SaveConversations([]model.Conversation{{ID: 42, CreatedAt: base}}); err != nil {
		t.Fatal(err)
	}
	if err := db.SaveMessages(42, []model.Message{{ID: 1, CreatedAt: base}}); err != nil {
		t.Fatal(err)
	}
	if err := db.SaveDraft(42, "half typed", ""); err != nil {
		t.Fatal(err)
	}

	if err := db.DeleteConversation(42); err != nil {
		t.Fatal(err)
	}

	convs, _ := db.LoadConversations()
	msgs, _ := db.LoadMessages(42, 10)
	draft, _ := db.LoadDraft(42)
	if len(convs) != 0 || len(msgs) != 0 || draft != nil {
		t.Errorf("leftovers after delete: convs=%d msgs=%d draft=%v", len(convs), len(msgs), draft)
	}
}

func TestContactsRoundTrip(t *testing.T) {
	db := testDB(t)

	contacts := []model.Contact{
		{Participant: model.Participant{ID: 9, Username: "amy"}, YouFollow: true},
		{Participant: model.Participant{ID: 2, Username: "Bob"}, FollowsYou: true},
	}
	if err := db.SaveContacts(contacts); err != nil {
		t.Fatal(err)
	}
	got, err := db.LoadContacts()
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 || got[0].Username != "amy" || !got[0].YouFollow || !got[1].FollowsYou {
		t.Errorf("LoadContacts() = %+v", got)
	}
}

func TestDrafts(t *testing.T) {
	db := testDB(t)

	if d, err := db.LoadDraft(1); err != nil || d != nil {
		t.Fatalf("LoadDraft(missing) = %v, %v", d, err)
	}
	if err := db.SaveDraft(1, "hello", "server unavailable"); err != nil {
		t.Fatal(err)
	}
	d, err := db.LoadDraft(1)
	if err != nil {
		t.Fatal(err)
	}
	if d.Content != "hello" || d.LastError != "server unavailable" {
		t.Errorf("draft = %+v", d)
	}
	if err := db.SaveDraft(1, "", ""); err != nil {
		t.Fatal(err)
	}
	if d, _ := db.LoadDraft(1); d != nil {
		t.Errorf("empty SaveDraft should delete, got %+v", d)
	}
}

func TestSyncStateKeepsLastSuccess(t *testing.T) {
	db := testDB(t)

	if err := db.MarkSynced("conversations", nil); err != nil {
		t.Fatal(err)
	}
	first, err := db.GetSyncState("conversations")
	if err != nil || first == nil {
		t.Fatalf("GetSyncState() = %v, %v", first, err)
	}

	if err := db.MarkSynced("conversations", errors.New("502 bad gateway")); err != nil {
		t.Fatal(err)
	}
	second, _ := db.GetSyncState("conversations")
	if second.LastError != "502 bad gateway" {
		t.Errorf("LastError = %q", second.LastError)
	}
	if !second.SyncedAt.Equal(first.SyncedAt) {
		t.Errorf("failed refresh moved SyncedAt from %v to %v", first.SyncedAt, second.SyncedAt)
	}

	if s, _ := db.GetSyncState("contacts"); s != nil {
		t.Errorf("unexpected state for contacts: %+v", s)
	}
}
