package store

import (
	"context"
	"testing"

	"github.com/madlen/chatd/internal/domain"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := NewSQLiteStore(":memory:")
	if err != nil {
		t.Fatalf("failed to create sqlite store: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func newTestSession(t *testing.T, s *SQLiteStore, id string) *domain.Session {
	t.Helper()
	sess := &domain.Session{
		ID:        id,
		Title:     domain.DefaultSessionTitle,
		Model:     "model-x",
		CreatedAt: 1000,
		UpdatedAt: 1000,
	}
	if err := s.CreateSession(context.Background(), sess); err != nil {
		t.Fatalf("CreateSession failed: %v", err)
	}
	return sess
}

func insertTurn(t *testing.T, s *SQLiteStore, sessionID, userID, assistantID, text, title string, now int64) *TurnRows {
	t.Helper()
	rows, err := s.InsertTurn(context.Background(), TurnInsert{
		SessionID:      sessionID,
		UserID:         userID,
		AssistantID:    assistantID,
		UserText:       text,
		Model:          "model-x",
		TitleCandidate: title,
		Now:            now,
	})
	if err != nil {
		t.Fatalf("InsertTurn failed: %v", err)
	}
	return rows
}

func TestInsertTurnAssignsContiguousSeq(t *testing.T) {
	s := newTestStore(t)
	newTestSession(t, s, "s1")

	for i := 0; i < 3; i++ {
		userID := "u" + string(rune('1'+i))
		asstID := "a" + string(rune('1'+i))
		rows := insertTurn(t, s, "s1", userID, asstID, "hello", "", int64(2000+i))
		if rows.UserSeq != 2*i+1 || rows.AssistantSeq != 2*i+2 {
			t.Fatalf("turn %d: unexpected seqs %d/%d", i, rows.UserSeq, rows.AssistantSeq)
		}
	}

	msgs, err := s.ListMessages(context.Background(), "s1")
	if err != nil {
		t.Fatalf("ListMessages failed: %v", err)
	}
	if len(msgs) != 6 {
		t.Fatalf("expected 6 messages, got %d", len(msgs))
	}
	for i, m := range msgs {
		if m.Seq != i+1 {
			t.Fatalf("seq gap at index %d: got %d", i, m.Seq)
		}
	}
}

func TestInsertTurnRollsBackOnConflict(t *testing.T) {
	s := newTestStore(t)
	newTestSession(t, s, "s1")
	insertTurn(t, s, "s1", "u1", "a1", "hello", "", 2000)

	// Reusing the user message id violates the primary key; nothing from
	// the failed turn may remain visible.
	_, err := s.InsertTurn(context.Background(), TurnInsert{
		SessionID:   "s1",
		UserID:      "u1",
		AssistantID: "a2",
		UserText:    "again",
		Model:       "model-x",
		Now:         3000,
	})
	if err == nil {
		t.Fatal("expected conflict error")
	}

	msgs, err := s.ListMessages(context.Background(), "s1")
	if err != nil {
		t.Fatalf("ListMessages failed: %v", err)
	}
	if len(msgs) != 2 {
		t.Fatalf("expected 2 messages after rollback, got %d", len(msgs))
	}
}

func TestInsertTurnAppliesTitleOnce(t *testing.T) {
	s := newTestStore(t)
	newTestSession(t, s, "s1")

	rows := insertTurn(t, s, "s1", "u1", "a1", "what is rust", "what is rust", 2000)
	if !rows.TitleApplied {
		t.Fatal("expected title to be applied on first exchange")
	}

	sess, err := s.GetSession(context.Background(), "s1")
	if err != nil {
		t.Fatalf("GetSession failed: %v", err)
	}
	if sess.Title != "what is rust" {
		t.Fatalf("unexpected title: %q", sess.Title)
	}

	// A second turn never changes the title again.
	rows = insertTurn(t, s, "s1", "u2", "a2", "and go?", "and go?", 3000)
	if rows.TitleApplied {
		t.Fatal("title must not be applied twice")
	}
	sess, _ = s.GetSession(context.Background(), "s1")
	if sess.Title != "what is rust" {
		t.Fatalf("title changed on second turn: %q", sess.Title)
	}
}

func TestInsertTurnBumpsSessionOrdering(t *testing.T) {
	s := newTestStore(t)
	newTestSession(t, s, "s1")
	newTestSession(t, s, "s2")

	insertTurn(t, s, "s1", "u1", "a1", "hello", "", 5000)

	sessions, err := s.ListSessions(context.Background())
	if err != nil {
		t.Fatalf("ListSessions failed: %v", err)
	}
	if len(sessions) != 2 || sessions[0].ID != "s1" {
		t.Fatalf("expected s1 first after turn, got %+v", sessions)
	}
	if sessions[0].UpdatedAt != 5000 {
		t.Fatalf("updated_at not bumped: %d", sessions[0].UpdatedAt)
	}
}

func TestFinalizeIsGuardedByStreamingStatus(t *testing.T) {
	s := newTestStore(t)
	newTestSession(t, s, "s1")
	insertTurn(t, s, "s1", "u1", "a1", "hello", "", 2000)

	ok, err := s.FinalizeError(context.Background(), "a1",
		domain.MessageStatusStopped, domain.ErrCodeAborted, "Stopped by user", 2100)
	if err != nil || !ok {
		t.Fatalf("first finalize: ok=%v err=%v", ok, err)
	}

	// A late completion must not overwrite the stopped status.
	ok, err = s.FinalizeCompleted(context.Background(), "a1", "late content", 2200)
	if err != nil {
		t.Fatalf("FinalizeCompleted failed: %v", err)
	}
	if ok {
		t.Fatal("finalize must be a no-op once the row left streaming status")
	}

	msg, err := s.GetMessage(context.Background(), "a1")
	if err != nil {
		t.Fatalf("GetMessage failed: %v", err)
	}
	if msg.Status != domain.MessageStatusStopped || msg.Content != "" {
		t.Fatalf("row altered after terminal write: %+v", msg)
	}
	if msg.ErrorCode != domain.ErrCodeAborted {
		t.Fatalf("unexpected error code: %q", msg.ErrorCode)
	}
}

func TestUpdateDraftOnlyWhileStreaming(t *testing.T) {
	s := newTestStore(t)
	newTestSession(t, s, "s1")
	insertTurn(t, s, "s1", "u1", "a1", "hello", "", 2000)

	if err := s.UpdateDraft(context.Background(), "a1", "partial", 2100); err != nil {
		t.Fatalf("UpdateDraft failed: %v", err)
	}
	msg, _ := s.GetMessage(context.Background(), "a1")
	if msg.ContentDraft != "partial" {
		t.Fatalf("draft not written: %+v", msg)
	}

	if _, err := s.FinalizeCompleted(context.Background(), "a1", "partial done", 2200); err != nil {
		t.Fatalf("FinalizeCompleted failed: %v", err)
	}
	if err := s.UpdateDraft(context.Background(), "a1", "stale flush", 2300); err != nil {
		t.Fatalf("UpdateDraft failed: %v", err)
	}

	msg, _ = s.GetMessage(context.Background(), "a1")
	if msg.ContentDraft != "" {
		t.Fatalf("stale flush landed after finalize: %+v", msg)
	}
	if msg.Content != "partial done" || msg.Status != domain.MessageStatusCompleted {
		t.Fatalf("unexpected final row: %+v", msg)
	}
}

func TestCountStreaming(t *testing.T) {
	s := newTestStore(t)
	newTestSession(t, s, "s1")

	count, err := s.CountStreaming(context.Background())
	if err != nil || count != 0 {
		t.Fatalf("expected no streaming rows, got %d (err %v)", count, err)
	}

	insertTurn(t, s, "s1", "u1", "a1", "hello", "", 2000)
	count, _ = s.CountStreaming(context.Background())
	if count != 1 {
		t.Fatalf("expected 1 streaming row, got %d", count)
	}

	s.FinalizeCompleted(context.Background(), "a1", "done", 2100)
	count, _ = s.CountStreaming(context.Background())
	if count != 0 {
		t.Fatalf("expected 0 streaming rows after finalize, got %d", count)
	}
}
