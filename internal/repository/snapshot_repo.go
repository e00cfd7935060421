// Package repository はストアのスナップショットをPostgreSQLへ永続化する。
package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/hitoshi/feedtag/internal/model"
	"github.com/hitoshi/feedtag/internal/store"
)

const metaKeyLastUpdate = "last_update"

// SnapshotRepo はストアのエンティティグラフをまとめて保存・読み込みするリポジトリ。
// store.Persister を実装する。
type SnapshotRepo struct {
	db *sql.DB
}

// NewSnapshotRepo はSnapshotRepoを生成する。
func NewSnapshotRepo(db *sql.DB) *SnapshotRepo {
	return &SnapshotRepo{db: db}
}

// Load は保存済みのフィードとエントリを読み込む。未保存の場合は空のスナップショットを返す。
func (r *SnapshotRepo) Load(ctx context.Context) (*store.Snapshot, error) {
	snap := &store.Snapshot{}

	feeds, err := r.loadFeeds(ctx)
	if err != nil {
		return nil, err
	}
	if err := r.loadEntries(ctx, feeds); err != nil {
		return nil, err
	}
	for _, f := range feeds {
		snap.Feeds = append(snap.Feeds, f)
	}

	var raw string
	err = r.db.QueryRowContext(ctx,
		`SELECT value FROM store_meta WHERE key = $1`, metaKeyLastUpdate,
	).Scan(&raw)
	switch {
	case err == sql.ErrNoRows:
	case err != nil:
		return nil, fmt.Errorf("最終更新日時の取得に失敗しました: %w", err)
	default:
		if t, perr := time.Parse(time.RFC3339Nano, raw); perr == nil {
			snap.LastUpdate = t
		}
	}

	return snap, nil
}

func (r *SnapshotRepo) loadFeeds(ctx context.Context) (map[string]*model.Feed, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT url, title, last_fetched_at, failure_count, last_error
		 FROM feeds ORDER BY url`,
	)
	if err != nil {
		return nil, fmt.Errorf("フィードの取得に失敗しました: %w", err)
	}
	defer rows.Close()

	feeds := make(map[string]*model.Feed)
	for rows.Next() {
		var url, title, lastError string
		var lastFetched sql.NullTime
		var failures int
		if err := rows.Scan(&url, &title, &lastFetched, &failures, &lastError); err != nil {
			return nil, fmt.Errorf("フィードのスキャンに失敗しました: %w", err)
		}
		f := model.NewFeed(url)
		f.Title = title
		f.FailureCount = failures
		f.LastError = lastError
		if lastFetched.Valid {
			f.LastFetchedAt = lastFetched.Time.UTC()
		}
		feeds[url] = f
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("フィードの読み込み中にエラーが発生しました: %w", err)
	}
	return feeds, nil
}

func (r *SnapshotRepo) loadEntries(ctx context.Context, feeds map[string]*model.Feed) error {
	rows, err := r.db.QueryContext(ctx,
		`SELECT feed_url, id, title, link, date, content, content_type, tags, seq
		 FROM entries ORDER BY seq`,
	)
	if err != nil {
		return fmt.Errorf("エントリの取得に失敗しました: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		e := &model.Entry{}
		var contentType string
		var tags []string
		var seq int64
		if err := rows.Scan(
			&e.FeedURL, &e.ID, &e.Title, &e.Link, &e.Date,
			&e.Content, &contentType, pq.Array(&tags), &seq,
		); err != nil {
			return fmt.Errorf("エントリのスキャンに失敗しました: %w", err)
		}
		e.ContentType = model.ContentType(contentType)
		e.Tags = model.NewTagSet(tags...)
		e.Seq = uint64(seq)

		f, ok := feeds[e.FeedURL]
		if !ok {
			f = model.NewFeed(e.FeedURL)
			feeds[e.FeedURL] = f
		}
		f.Entries[e.ID] = e
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("エントリの読み込み中にエラーが発生しました: %w", err)
	}
	return nil
}

// Save はスナップショットで保存内容を置き換える。
// 全体を1トランザクションで書き込み、途中で失敗した場合は以前の内容を保つ。
func (r *SnapshotRepo) Save(ctx context.Context, snap *store.Snapshot) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM entries`); err != nil {
		return fmt.Errorf("failed to clear entries: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM feeds`); err != nil {
		return fmt.Errorf("failed to clear feeds: %w", err)
	}

	feedStmt, err := tx.PrepareContext(ctx,
		`INSERT INTO feeds (url, title, last_fetched_at, failure_count, last_error)
		 VALUES ($1, $2, $3, $4, $5)`,
	)
	if err != nil {
		return fmt.Errorf("failed to prepare feed insert: %w", err)
	}
	defer feedStmt.Close()

	entryStmt, err := tx.PrepareContext(ctx,
		`INSERT INTO entries (feed_url, id, title, link, date, content, content_type, tags, seq)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
	)
	if err != nil {
		return fmt.Errorf("failed to prepare entry insert: %w", err)
	}
	defer entryStmt.Close()

	for _, f := range snap.Feeds {
		var lastFetched sql.NullTime
		if !f.LastFetchedAt.IsZero() {
			lastFetched = sql.NullTime{Time: f.LastFetchedAt, Valid: true}
		}
		if _, err := feedStmt.ExecContext(ctx,
			f.URL, f.Title, lastFetched, f.FailureCount, f.LastError,
		); err != nil {
			return fmt.Errorf("failed to insert feed %s: %w", f.URL, err)
		}

		for _, e := range f.Entries {
			if _, err := entryStmt.ExecContext(ctx,
				f.URL, e.ID, e.Title, e.Link, e.Date, e.Content,
				string(e.ContentType), pq.Array(e.Tags.Slice()), int64(e.Seq),
			); err != nil {
				return fmt.Errorf("failed to insert entry %s: %w", e.ID, err)
			}
		}
	}

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO store_meta (key, value) VALUES ($1, $2)
		 ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value`,
		metaKeyLastUpdate, snap.LastUpdate.UTC().Format(time.RFC3339Nano),
	); err != nil {
		return fmt.Errorf("failed to save last update: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	return nil
}
