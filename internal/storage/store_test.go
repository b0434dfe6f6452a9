package storage_test

import (
	"context"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"

	"github.com/rohmanhakim/docs-crawler/internal/storage"
	"github.com/rohmanhakim/docs-crawler/internal/urlmodel"
)

func newMockStore(t *testing.T) (*storage.Store, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	sqlxDB := sqlx.NewDb(db, "sqlmock")
	return storage.NewStore(sqlxDB, "docs_result", nil), mock
}

func TestStore_Flush_EmptyBatchIsNoop(t *testing.T) {
	store, mock := newMockStore(t)
	if err := store.Flush(context.Background(), nil); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unexpected queries run: %v", err)
	}
}

func TestStore_Flush_UpsertsWithinOneTransaction(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta(`INSERT INTO "docs_result"`)).
		WithArgs("https://example.com/a", "com,example)/a", "example.com", 200, "hello", "text/html",
			int64(12), sqlmock.AnyArg(), nil, nil, "", "", "abcd").
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	row := urlmodel.ResultRow{
		URL: "https://example.com/a", SurtKey: "com,example)/a", Domain: "example.com",
		HTTPStatus: 200, Body: []byte("hello"), ContentType: "text/html", ElapsedMs: 12,
		CrawledAt: time.Now(), ContentHash: "abcd",
	}
	if err := store.Flush(context.Background(), []urlmodel.ResultRow{row}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestStore_Flush_RollsBackOnError(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta(`INSERT INTO "docs_result"`)).
		WillReturnError(sqlmock.ErrCancelled)
	mock.ExpectRollback()

	row := urlmodel.ResultRow{URL: "https://example.com/a", SurtKey: "k", Domain: "example.com", CrawledAt: time.Now()}
	if err := store.Flush(context.Background(), []urlmodel.ResultRow{row}); err == nil {
		t.Fatal("expected an error")
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestStore_Lookup_ReturnsNotFoundWithoutError(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectQuery(regexp.QuoteMeta(`SELECT body, content_type, etag, last_modified, content_hash, crawled_at`)).
		WithArgs("https://example.com/missing").
		WillReturnRows(sqlmock.NewRows([]string{"body", "content_type", "etag", "last_modified", "content_hash", "crawled_at"}))

	prior, err := store.Lookup(context.Background(), "https://example.com/missing")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if prior.Found {
		t.Error("expected Found=false for a missing row")
	}
}

func TestStore_Lookup_ReturnsPriorRow(t *testing.T) {
	store, mock := newMockStore(t)

	crawledAt := time.Now()
	rows := sqlmock.NewRows([]string{"body", "content_type", "etag", "last_modified", "content_hash", "crawled_at"}).
		AddRow("cached body", "text/html", `"abc"`, "Mon, 01 Jan 2024 00:00:00 GMT", "deadbeef", crawledAt)
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT body, content_type, etag, last_modified, content_hash, crawled_at`)).
		WithArgs("https://example.com/a").
		WillReturnRows(rows)

	prior, err := store.Lookup(context.Background(), "https://example.com/a")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !prior.Found || string(prior.Body) != "cached body" || prior.ContentHash != "deadbeef" {
		t.Errorf("unexpected prior row: %+v", prior)
	}
	want := time.Date(2024, time.January, 1, 0, 0, 0, 0, time.UTC)
	if !prior.LastModifiedAt.Equal(want) {
		t.Errorf("LastModifiedAt = %v, want %v (parsed from the stored Last-Modified header, not crawled_at)", prior.LastModifiedAt, want)
	}
}

func TestStore_Lookup_FallsBackToCrawledAtWithoutLastModified(t *testing.T) {
	store, mock := newMockStore(t)

	crawledAt := time.Now()
	rows := sqlmock.NewRows([]string{"body", "content_type", "etag", "last_modified", "content_hash", "crawled_at"}).
		AddRow("cached body", "text/html", "", "", "deadbeef", crawledAt)
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT body, content_type, etag, last_modified, content_hash, crawled_at`)).
		WithArgs("https://example.com/b").
		WillReturnRows(rows)

	prior, err := store.Lookup(context.Background(), "https://example.com/b")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !prior.LastModifiedAt.Equal(crawledAt) {
		t.Errorf("LastModifiedAt = %v, want fallback to crawled_at %v", prior.LastModifiedAt, crawledAt)
	}
}

func TestValidateIdentifier(t *testing.T) {
	tests := []struct {
		name  string
		valid bool
	}{
		{"docs_result", true},
		{"_leading_underscore", true},
		{"Docs123", true},
		{"docs-result", false},
		{"docs result", false},
		{"docs;drop table", false},
		{"", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := storage.ValidateIdentifier(tt.name)
			if (err == nil) != tt.valid {
				t.Errorf("ValidateIdentifier(%q) err=%v, want valid=%v", tt.name, err, tt.valid)
			}
		})
	}
}
