package db

import (
	"context"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sitelevels/sitelevels/internal/cache"
	"github.com/sitelevels/sitelevels/internal/records"
	"github.com/sitelevels/sitelevels/internal/snapshot"
)

func newMockRepository(t *testing.T) (*Repository, sqlmock.Sqlmock) {
	t.Helper()
	client, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { client.Close() })

	database := &DB{client: client, Cache: cache.NewInMemoryCache()}
	return NewRepository(database), mock
}

func TestInsertRecords(t *testing.T) {
	repo, mock := newMockRepository(t)

	now := time.Date(2026, 3, 14, 9, 30, 0, 0, time.UTC)
	likes := 12
	target := 80
	batch := []records.Record{
		{
			URL:           "https://example.com/blog/post",
			Title:         "Post",
			Description:   "A post.",
			HeaderTags:    map[string][]string{"H1": {"Post"}},
			Version:       "Version 2026-03-14T09:30:00Z",
			Timestamp:     now,
			TopLevelCount: 2,
			Level:         4,
			LikeCount:     &likes,
			TargetLikes:   &target,
		},
		{
			URL:           "https://example.com/about",
			Title:         "About",
			Description:   "About us.",
			HeaderTags:    map[string][]string{},
			Version:       "Version 2026-03-14T09:30:00Z",
			Timestamp:     now,
			TopLevelCount: 2,
			Level:         1,
		},
	}

	mock.ExpectBegin()
	prepared := mock.ExpectPrepare(regexp.QuoteMeta("INSERT INTO url_records"))
	prepared.ExpectExec().
		WithArgs("example", "https://example.com/blog/post", "Post", "A post.",
			[]byte(`{"H1":["Post"]}`), "Version 2026-03-14T09:30:00Z", now, 2, 4, "12", "80").
		WillReturnResult(sqlmock.NewResult(1, 1))
	prepared.ExpectExec().
		WithArgs("example", "https://example.com/about", "About", "About us.",
			[]byte(`{}`), "Version 2026-03-14T09:30:00Z", now, 2, 1, "N/A", "N/A").
		WillReturnResult(sqlmock.NewResult(2, 1))
	mock.ExpectCommit()

	err := repo.InsertRecords(context.Background(), "example", batch)
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestInsertRecordsRejectsMissingURL(t *testing.T) {
	repo, mock := newMockRepository(t)

	mock.ExpectBegin()
	mock.ExpectPrepare(regexp.QuoteMeta("INSERT INTO url_records"))
	mock.ExpectRollback()

	err := repo.InsertRecords(context.Background(), "example", []records.Record{{Title: "no url"}})
	assert.ErrorIs(t, err, snapshot.ErrInvalidRecord)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestLoadGroups(t *testing.T) {
	repo, mock := newMockRepository(t)

	first := time.Date(2026, 1, 10, 8, 0, 0, 0, time.UTC)
	second := first.Add(24 * time.Hour)

	rows := sqlmock.NewRows([]string{
		"url", "title", "description", "header_tags", "version",
		"recorded_at", "top_level_count", "level", "like_count", "target_likes",
	}).
		AddRow("https://example.com/about", "About", "About us.", []byte(`{}`),
			"Version 2026-01-10T08:00:00Z", first, 1, 1, "N/A", "N/A").
		AddRow("https://example.com/blog/post", "Post", "A post.", []byte(`{"H1":["Post"]}`),
			"Version 2026-01-11T08:00:00Z", second, 2, 4, "12", "80").
		AddRow("https://example.com/blog/post", "Post", "A post.", []byte(`{"H1":["Post"]}`),
			"Version 2026-01-10T08:00:00Z", first, 1, 4, "Not Available", "75")

	mock.ExpectQuery(regexp.QuoteMeta("FROM url_records")).
		WithArgs("example").
		WillReturnRows(rows)

	groups, err := repo.LoadGroups(context.Background(), "example")
	require.NoError(t, err)
	require.Len(t, groups, 2)

	assert.Equal(t, "https://example.com/about", groups[0].URL)
	require.Len(t, groups[0].Versions, 1)
	assert.Nil(t, groups[0].Versions[0].LikeCount)

	post := groups[1]
	require.Len(t, post.Versions, 2)
	assert.Equal(t, second, post.Versions[0].Timestamp)
	require.NotNil(t, post.Versions[0].LikeCount)
	assert.Equal(t, 12, *post.Versions[0].LikeCount)
	assert.Nil(t, post.Versions[1].LikeCount, "sentinel cell maps back to nil")
	assert.Equal(t, []string{"Post"}, post.Versions[0].HeaderTags["H1"])
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUpsertProperty(t *testing.T) {
	repo, mock := newMockRepository(t)

	updated := time.Date(2026, 3, 14, 9, 30, 0, 0, time.UTC)
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO properties")).
		WithArgs("example", "https://example.com", nil, updated).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := repo.UpsertProperty(context.Background(), snapshot.PropertyInfo{
		Name:        "example",
		BaseURL:     "https://example.com",
		LastUpdated: updated,
	})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUpsertPropertyRegistration(t *testing.T) {
	repo, mock := newMockRepository(t)

	// Registering before a run's first insert carries a zero timestamp;
	// GREATEST in the upsert keeps any previously stamped completion
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO properties")).
		WithArgs("example", "https://example.com", nil, time.Time{}).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := repo.UpsertProperty(context.Background(), snapshot.PropertyInfo{
		Name:    "example",
		BaseURL: "https://example.com",
	})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGetPropertyUsesCache(t *testing.T) {
	repo, mock := newMockRepository(t)

	updated := time.Date(2026, 3, 14, 9, 30, 0, 0, time.UTC)
	rows := sqlmock.NewRows([]string{"name", "base_url", "technologies", "last_updated"}).
		AddRow("example", "https://example.com", nil, updated)

	mock.ExpectQuery(regexp.QuoteMeta("FROM properties")).
		WithArgs("example").
		WillReturnRows(rows)

	info, err := repo.GetProperty(context.Background(), "example")
	require.NoError(t, err)
	assert.Equal(t, "https://example.com", info.BaseURL)

	// Second read must come from cache: no further query expected
	again, err := repo.GetProperty(context.Background(), "example")
	require.NoError(t, err)
	assert.Equal(t, info.BaseURL, again.BaseURL)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGetPropertyNotFound(t *testing.T) {
	repo, mock := newMockRepository(t)

	mock.ExpectQuery(regexp.QuoteMeta("FROM properties")).
		WithArgs("missing").
		WillReturnRows(sqlmock.NewRows([]string{"name", "base_url", "technologies", "last_updated"}))

	_, err := repo.GetProperty(context.Background(), "missing")
	assert.ErrorIs(t, err, snapshot.ErrPropertyNotFound)
}

func TestRemoveProperty(t *testing.T) {
	repo, mock := newMockRepository(t)

	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM properties")).
		WithArgs("example").
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := repo.RemoveProperty(context.Background(), "example")
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestIsRetryableError(t *testing.T) {
	assert.False(t, isRetryableError(nil))
	assert.False(t, isRetryableError(assert.AnError))
	assert.True(t, isRetryableError(errConnRefused{}))
}

type errConnRefused struct{}

func (errConnRefused) Error() string { return "dial tcp 127.0.0.1:5432: connection refused" }
