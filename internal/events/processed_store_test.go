package events

import (
	"context"
	"errors"
	"testing"

	pgx "github.com/jackc/pgx/v5"
	pgxmock "github.com/pashagolub/pgxmock/v4"
)

func TestProcessedStore(t *testing.T) {
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("failed to create pgx mock: %v", err)
	}
	defer mock.Close()

	store := newProcessedStoreWithExec(mock)

	mock.ExpectQuery("SELECT 1 FROM processed_messages").WithArgs("twilio_webhook", "SM1").WillReturnRows(pgxmock.NewRows([]string{"exists"}).AddRow(1))
	processed, err := store.AlreadyProcessed(context.Background(), "twilio_webhook", "SM1")
	if err != nil || !processed {
		t.Fatalf("expected existing row, got processed=%v err=%v", processed, err)
	}

	mock.ExpectQuery("SELECT 1 FROM processed_messages").WithArgs("twilio_webhook", "SM-miss").WillReturnError(pgx.ErrNoRows)
	processed, err = store.AlreadyProcessed(context.Background(), "twilio_webhook", "SM-miss")
	if err != nil || processed {
		t.Fatalf("expected missing row, got processed=%v err=%v", processed, err)
	}

	mock.ExpectExec("INSERT INTO processed_messages").WithArgs("twilio_webhook", "SM-new").WillReturnResult(pgxmock.NewResult("INSERT", 1))
	ok, err := store.MarkProcessed(context.Background(), "twilio_webhook", "SM-new")
	if err != nil || !ok {
		t.Fatalf("expected mark processed success, got %v %v", ok, err)
	}

	mock.ExpectExec("INSERT INTO processed_messages").WithArgs("twilio_webhook", "SM-new").WillReturnResult(pgxmock.NewResult("INSERT", 0))
	ok, err = store.MarkProcessed(context.Background(), "twilio_webhook", "SM-new")
	if err != nil || ok {
		t.Fatalf("expected duplicate to report false, got %v %v", ok, err)
	}

	mock.ExpectExec("INSERT INTO processed_messages").WithArgs("twilio_webhook", "SM-err").WillReturnError(errors.New("conn reset"))
	if _, err := store.MarkProcessed(context.Background(), "twilio_webhook", "SM-err"); err == nil {
		t.Fatal("expected an error")
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestMemoryProcessedStore(t *testing.T) {
	store := NewMemoryProcessedStore()
	ctx := context.Background()

	if seen, _ := store.AlreadyProcessed(ctx, "twilio_worker", "SM1"); seen {
		t.Fatal("expected unseen id")
	}
	if first, _ := store.MarkProcessed(ctx, "twilio_worker", "SM1"); !first {
		t.Fatal("expected first mark to win")
	}
	if again, _ := store.MarkProcessed(ctx, "twilio_worker", "SM1"); again {
		t.Fatal("expected second mark to lose")
	}
	if other, _ := store.MarkProcessed(ctx, "twilio_webhook", "SM1"); !other {
		t.Fatal("expected providers to be tracked independently")
	}
}
