package tracking

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
)

func TestUpsert_InsertsOnConflictUpdate(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer db.Close()

	mock.ExpectExec("INSERT INTO tracking_records").
		WillReturnResult(sqlmock.NewResult(1, 1))

	store := New(db)
	err = store.Upsert(context.Background(), Record{
		SubscriptionID: "sub-1",
		Resource:       "Lists/MyList",
		ExpiresAt:      time.Now().Add(24 * time.Hour),
		Status:         StatusActive,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestMarkDeleted(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer db.Close()

	mock.ExpectExec("UPDATE tracking_records SET status").
		WithArgs(StatusDeleted, "sub-1").
		WillReturnResult(sqlmock.NewResult(0, 1))

	store := New(db)
	if err := store.MarkDeleted(context.Background(), "sub-1"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestIncrementNotificationCount(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer db.Close()

	mock.ExpectExec("UPDATE tracking_records SET notification_count").
		WithArgs("sub-1").
		WillReturnResult(sqlmock.NewResult(0, 1))

	store := New(db)
	if err := store.IncrementNotificationCount(context.Background(), "sub-1"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestList_ReturnsAllRecords(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer db.Close()

	rows := sqlmock.NewRows([]string{"subscription_id", "resource", "client_state", "expires_at", "description", "notification_count", "status"}).
		AddRow("sub-1", "Lists/A", "", time.Now(), "", 0, StatusActive).
		AddRow("sub-2", "Lists/B", "", time.Now(), "", 3, StatusDeleted)
	mock.ExpectQuery("SELECT \\* FROM tracking_records").WillReturnRows(rows)

	store := New(db)
	records, err := store.List(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("expected 2 records, got %d", len(records))
	}
}

func TestGet_NotFound(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer db.Close()

	mock.ExpectQuery("SELECT \\* FROM tracking_records WHERE subscription_id").
		WithArgs("missing").
		WillReturnRows(sqlmock.NewRows([]string{"subscription_id", "resource", "client_state", "expires_at", "description", "notification_count", "status"}))

	store := New(db)
	_, found, err := store.Get(context.Background(), "missing")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if found {
		t.Fatal("expected record to not be found")
	}
}
