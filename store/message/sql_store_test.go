package message

import (
	"context"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"

	"github.com/linkwell/linkwell/internal/apperr"
	"github.com/linkwell/linkwell/store/conversation"
)

const testConvoID = "7f1b2c3d-4e5f-4a6b-8c7d-9e0f1a2b3c4d"

var (
	convoCols   = []string{"id", "participant_low", "participant_high", "status"}
	messageCols = []string{"id", "conversation_id", "sender_id", "content", "sequence", "created_at", "idempotency_key"}
)

func newMock(t *testing.T) (*SQLStore, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	t.Cleanup(func() {
		_ = db.Close()
	})
	return NewSQLStore(db), mock
}

func expectLockedConversation(mock sqlmock.Sqlmock, status string) {
	mock.ExpectQuery(regexp.QuoteMeta("FROM conversations WHERE id = $1 FOR UPDATE")).
		WithArgs(testConvoID).
		WillReturnRows(sqlmock.NewRows(convoCols).AddRow(testConvoID, "alice", "bob", status))
}

func TestSQLAppend(t *testing.T) {
	store, mock := newMock(t)

	mock.ExpectBegin()
	expectLockedConversation(mock, "accepted")
	mock.ExpectQuery(regexp.QuoteMeta("FROM messages WHERE conversation_id = $1 AND sender_id = $2 AND idempotency_key = $3")).
		WithArgs(testConvoID, "alice", "key-1").
		WillReturnRows(sqlmock.NewRows(messageCols))
	mock.ExpectQuery(regexp.QuoteMeta("UPDATE conversations SET last_sequence = last_sequence + 1")).
		WithArgs(testConvoID).
		WillReturnRows(sqlmock.NewRows([]string{"last_sequence"}).AddRow(int64(7)))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO messages")).
		WithArgs(sqlmock.AnyArg(), testConvoID, "alice", "hi", int64(7), sqlmock.AnyArg(), "key-1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	msg, created, err := store.Append(context.Background(), AppendParams{
		ConversationID: testConvoID,
		SenderID:       "alice",
		Content:        "hi",
		IdempotencyKey: "key-1",
	})
	if err != nil {
		t.Fatalf("append: %v", err)
	}
	if !created || msg.Sequence != 7 {
		t.Errorf("unexpected result created=%v msg=%+v", created, msg)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatal(err)
	}
}

func TestSQLAppendReplay(t *testing.T) {
	store, mock := newMock(t)
	created := time.Now().UTC()

	mock.ExpectBegin()
	expectLockedConversation(mock, "accepted")
	mock.ExpectQuery(regexp.QuoteMeta("FROM messages WHERE conversation_id = $1 AND sender_id = $2 AND idempotency_key = $3")).
		WithArgs(testConvoID, "alice", "key-1").
		WillReturnRows(sqlmock.NewRows(messageCols).AddRow("m-1", testConvoID, "alice", "hi", int64(3), created, "key-1"))
	mock.ExpectCommit()

	msg, wasCreated, err := store.Append(context.Background(), AppendParams{
		ConversationID: testConvoID,
		SenderID:       "alice",
		Content:        "hi",
		IdempotencyKey: "key-1",
	})
	if err != nil {
		t.Fatalf("append: %v", err)
	}
	if wasCreated || msg.ID != "m-1" || msg.Sequence != 3 {
		t.Errorf("unexpected replay created=%v msg=%+v", wasCreated, msg)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatal(err)
	}
}

func TestSQLAppendNotAccepted(t *testing.T) {
	store, mock := newMock(t)

	mock.ExpectBegin()
	expectLockedConversation(mock, "pending")
	mock.ExpectRollback()

	_, _, err := store.Append(context.Background(), AppendParams{ConversationID: testConvoID, SenderID: "alice", Content: "hi"})
	if !errors.Is(err, ErrNotAccepted) {
		t.Fatalf("expected not accepted, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatal(err)
	}
}

func TestSQLAppendNotFound(t *testing.T) {
	store, mock := newMock(t)

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("FOR UPDATE")).
		WithArgs(testConvoID).
		WillReturnRows(sqlmock.NewRows(convoCols))
	mock.ExpectRollback()

	_, _, err := store.Append(context.Background(), AppendParams{ConversationID: testConvoID, SenderID: "alice", Content: "hi"})
	if !errors.Is(err, conversation.ErrConversationNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestSQLAppendInsertFailureRollsBack(t *testing.T) {
	store, mock := newMock(t)

	mock.ExpectBegin()
	expectLockedConversation(mock, "accepted")
	mock.ExpectQuery(regexp.QuoteMeta("AND sender_id = $2 AND idempotency_key = $3")).
		WithArgs(testConvoID, "bob", "k").
		WillReturnRows(sqlmock.NewRows(messageCols))
	mock.ExpectQuery(regexp.QuoteMeta("RETURNING last_sequence")).
		WillReturnRows(sqlmock.NewRows([]string{"last_sequence"}).AddRow(int64(1)))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO messages")).
		WillReturnError(errors.New("disk full"))
	mock.ExpectRollback()

	_, _, err := store.Append(context.Background(), AppendParams{ConversationID: testConvoID, SenderID: "bob", Content: "hi", IdempotencyKey: "k"})
	if apperr.KindOf(err) != apperr.KindInternal {
		t.Fatalf("expected internal error, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatal(err)
	}
}

func TestSQLHistory(t *testing.T) {
	store, mock := newMock(t)
	now := time.Now().UTC()

	mock.ExpectQuery(regexp.QuoteMeta("FROM conversations WHERE id = $1")).
		WithArgs(testConvoID).
		WillReturnRows(sqlmock.NewRows(convoCols).AddRow(testConvoID, "alice", "bob", "accepted"))
	mock.ExpectQuery(regexp.QuoteMeta("WHERE conversation_id = $1 AND sequence > $2")).
		WithArgs(testConvoID, int64(1), MaxHistoryPage+1).
		WillReturnRows(sqlmock.NewRows(messageCols).
			AddRow("m-2", testConvoID, "alice", "two", int64(2), now, "k2").
			AddRow("m-3", testConvoID, "bob", "three", int64(3), now, "k3"))

	page, err := store.History(context.Background(), HistoryQuery{ConversationID: testConvoID, RequesterID: "bob", Since: 1})
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if len(page.Messages) != 2 || page.Messages[0].Sequence != 2 || page.Messages[1].Sequence != 3 {
		t.Fatalf("unexpected history %+v", page.Messages)
	}
	if page.HasMore || page.NextSince != 3 {
		t.Fatalf("has_more=%v next_since=%d", page.HasMore, page.NextSince)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatal(err)
	}
}

func TestSQLHistoryHasMore(t *testing.T) {
	store, mock := newMock(t)
	now := time.Now().UTC()

	mock.ExpectQuery(regexp.QuoteMeta("FROM conversations WHERE id = $1")).
		WillReturnRows(sqlmock.NewRows(convoCols).AddRow(testConvoID, "alice", "bob", "accepted"))
	mock.ExpectQuery(regexp.QuoteMeta("WHERE conversation_id = $1 AND sequence > $2")).
		WithArgs(testConvoID, int64(0), 3).
		WillReturnRows(sqlmock.NewRows(messageCols).
			AddRow("m-1", testConvoID, "alice", "one", int64(1), now, "k1").
			AddRow("m-2", testConvoID, "alice", "two", int64(2), now, "k2").
			AddRow("m-3", testConvoID, "alice", "three", int64(3), now, "k3"))

	page, err := store.History(context.Background(), HistoryQuery{ConversationID: testConvoID, RequesterID: "alice", Limit: 2})
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if len(page.Messages) != 2 || !page.HasMore || page.NextSince != 2 {
		t.Fatalf("unexpected page: %d messages, has_more=%v next_since=%d", len(page.Messages), page.HasMore, page.NextSince)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatal(err)
	}
}

func TestSQLAppendReplayIsPerSender(t *testing.T) {
	store, mock := newMock(t)

	// Alice already used "shared"; the lookup for bob finds nothing.
	mock.ExpectBegin()
	expectLockedConversation(mock, "accepted")
	mock.ExpectQuery(regexp.QuoteMeta("AND sender_id = $2 AND idempotency_key = $3")).
		WithArgs(testConvoID, "bob", "shared").
		WillReturnRows(sqlmock.NewRows(messageCols))
	mock.ExpectQuery(regexp.QuoteMeta("RETURNING last_sequence")).
		WillReturnRows(sqlmock.NewRows([]string{"last_sequence"}).AddRow(int64(2)))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO messages")).
		WithArgs(sqlmock.AnyArg(), testConvoID, "bob", "from bob", int64(2), sqlmock.AnyArg(), "shared").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	msg, created, err := store.Append(context.Background(), AppendParams{
		ConversationID: testConvoID,
		SenderID:       "bob",
		Content:        "from bob",
		IdempotencyKey: "shared",
	})
	if err != nil {
		t.Fatalf("append: %v", err)
	}
	if !created || msg.SenderID != "bob" {
		t.Fatalf("unexpected result created=%v msg=%+v", created, msg)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatal(err)
	}
}

func TestSQLHistoryNotParticipant(t *testing.T) {
	store, mock := newMock(t)

	mock.ExpectQuery(regexp.QuoteMeta("FROM conversations WHERE id = $1")).
		WillReturnRows(sqlmock.NewRows(convoCols).AddRow(testConvoID, "alice", "bob", "accepted"))

	_, err := store.History(context.Background(), HistoryQuery{ConversationID: testConvoID, RequesterID: "carol"})
	if !apperr.Is(err, apperr.KindAuthorization) {
		t.Fatalf("expected authorization error, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatal(err)
	}
}
