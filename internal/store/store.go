// Package store はフィードとエントリのインメモリストアを提供する。
//
// ストアは (フィードURL, エントリID) をキーとしてエントリを一意に保持する。
// 再取得したエントリは内容が置き換わるがタグは保持され、
// 新規エントリのみ挿入前に新規エントリフックが同期的に呼び出される。
// 全操作は単一のRWMutexで直列化される。
package store

import (
	"cmp"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/hitoshi/feedtag/internal/model"
)

// NewEntryHook は新規エントリの挿入直前に呼び出されるフック。
// エントリを直接変更してよい（タグの追加/削除など）。
// ストアのロック保持中に呼び出されるため、フック内からストアを操作してはならない。
type NewEntryHook func(entry *model.Entry) error

// MergeResult はマージ1回分の結果。
type MergeResult struct {
	Inserted     int
	Updated      int
	HookFailures int
}

// FeedInfo はフィード一覧表示用の要約。
type FeedInfo struct {
	URL           string
	Title         string
	EntryCount    int
	LastFetchedAt time.Time
	FailureCount  int
	LastError     string
}

// Stats はストア全体の統計。
type Stats struct {
	Feeds      int
	Entries    int
	Tags       map[string]int
	LastUpdate time.Time
}

// ListOptions はAllEntriesの取得条件。
type ListOptions struct {
	// FeedURL が指定された場合はそのフィードのエントリのみを返す。
	FeedURL string
	// OldestFirst がtrueの場合は日時の昇順で返す。既定は降順。
	OldestFirst bool
}

// Store はフィードとエントリを保持する。
type Store struct {
	mu         sync.RWMutex
	feeds      map[string]*model.Feed
	seq        uint64
	rev        uint64
	lastUpdate time.Time
	hooks      []NewEntryHook
	logger     *slog.Logger
	now        func() time.Time
}

// New は空のStoreを生成する。
func New(logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{
		feeds:  make(map[string]*model.Feed),
		logger: logger,
		now:    time.Now,
	}
}

// AddNewEntryHook は新規エントリフックを登録する。登録順に呼び出される。
func (s *Store) AddNewEntryHook(hook NewEntryHook) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.hooks = append(s.hooks, hook)
}

// GetOrCreate はURLに対応するFeedを返す。存在しない場合は空のFeedを作成する。
// 返されるFeedはストアが所有する。並行実行中の参照にはEntries/Feedsを使うこと。
func (s *Store) GetOrCreate(feedURL string) *model.Feed {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.feedLocked(feedURL)
}

func (s *Store) feedLocked(feedURL string) *model.Feed {
	f, ok := s.feeds[feedURL]
	if !ok {
		f = model.NewFeed(feedURL)
		s.feeds[feedURL] = f
		s.rev++
	}
	return f
}

// Merge はエントリ列をフィードにマージする。
// 既存エントリは内容を置き換えてタグを保持し、新規エントリはフック実行後に挿入する。
// 入力エントリはコピーしてから格納するため、呼び出し元のスライスは変更されない。
func (s *Store) Merge(feedURL string, entries []*model.Entry) MergeResult {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.mergeLocked(s.feedLocked(feedURL), entries)
}

// MergeFeed はフィードタイトルの更新とエントリのマージを一括で行う。
// titleが空の場合は既存のタイトルを維持する。
func (s *Store) MergeFeed(feedURL, title string, entries []*model.Entry) MergeResult {
	s.mu.Lock()
	defer s.mu.Unlock()

	f := s.feedLocked(feedURL)
	if title != "" {
		f.Title = title
	}
	f.LastFetchedAt = s.now()
	f.FailureCount = 0
	f.LastError = ""
	return s.mergeLocked(f, entries)
}

// SetFeedTitle はフィードのタイトルを設定する。フィードが存在しない場合は作成する。
func (s *Store) SetFeedTitle(feedURL, title string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.feedLocked(feedURL).Title = title
	s.rev++
}

// RecordFailure はフィードの更新失敗を記録する。エントリには触れない。
func (s *Store) RecordFailure(feedURL string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	f := s.feedLocked(feedURL)
	s.rev++
	f.FailureCount++
	if err != nil {
		f.LastError = err.Error()
	}
}

func (s *Store) mergeLocked(f *model.Feed, entries []*model.Entry) MergeResult {
	var res MergeResult
	s.rev++

	for _, in := range entries {
		if in == nil || in.ID == "" {
			continue
		}

		e := in.Clone()
		e.FeedURL = f.URL

		if old, ok := f.Entries[e.ID]; ok {
			e.Tags = old.Tags.Clone()
			e.Seq = old.Seq
			f.Entries[e.ID] = e
			res.Updated++
			continue
		}

		res.HookFailures += s.runHooksLocked(e)
		s.seq++
		e.Seq = s.seq
		f.Entries[e.ID] = e
		res.Inserted++
	}

	s.lastUpdate = s.now()
	return res
}

// runHooksLocked は新規エントリフックを順に実行する。
// エラーとパニックは記録して次のフックへ進み、失敗数を返す。
func (s *Store) runHooksLocked(e *model.Entry) int {
	failures := 0
	for i, hook := range s.hooks {
		if err := callHook(hook, e); err != nil {
			failures++
			s.logger.Warn("新規エントリフックの実行に失敗しました",
				slog.Int("hook_index", i),
				slog.String("feed_url", e.FeedURL),
				slog.String("entry_id", e.ID),
				slog.String("error", err.Error()),
			)
		}
	}
	return failures
}

func callHook(hook NewEntryHook, e *model.Entry) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: panic: %v", model.ErrHookFailure, r)
		}
	}()
	if hookErr := hook(e); hookErr != nil {
		return fmt.Errorf("%w: %v", model.ErrHookFailure, hookErr)
	}
	return nil
}

// Entries は条件に一致するエントリのコピーを日時順に返す。
// 同一日時のエントリはストアへの初回挿入順に並ぶ。
func (s *Store) Entries(opts ListOptions) []*model.Entry {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var feeds []*model.Feed
	if opts.FeedURL != "" {
		if f, ok := s.feeds[opts.FeedURL]; ok {
			feeds = append(feeds, f)
		}
	} else {
		for _, f := range s.feeds {
			feeds = append(feeds, f)
		}
	}

	entries := make([]*model.Entry, 0)
	for _, f := range feeds {
		for _, e := range f.Entries {
			entries = append(entries, e.Clone())
		}
	}

	slices.SortStableFunc(entries, func(a, b *model.Entry) int {
		c := strings.Compare(b.Date, a.Date)
		if opts.OldestFirst {
			c = -c
		}
		if c != 0 {
			return c
		}
		return cmp.Compare(a.Seq, b.Seq)
	})

	return entries
}

// AllEntries は全フィードのエントリを新しい順に返す。
func (s *Store) AllEntries() []*model.Entry {
	return s.Entries(ListOptions{})
}

// Entry は指定エントリのコピーを返す。
func (s *Store) Entry(feedURL, id string) (*model.Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	e, err := s.entryLocked(feedURL, id)
	if err != nil {
		return nil, err
	}
	return e.Clone(), nil
}

func (s *Store) entryLocked(feedURL, id string) (*model.Entry, error) {
	f, ok := s.feeds[feedURL]
	if !ok {
		return nil, fmt.Errorf("%w: %s (%s)", model.ErrEntryNotFound, id, feedURL)
	}
	e, ok := f.Entries[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s (%s)", model.ErrEntryNotFound, id, feedURL)
	}
	return e, nil
}

// Tag はエントリにタグを追加する。
func (s *Store) Tag(feedURL, id string, tags ...string) error {
	_, err := s.UpdateTags(feedURL, id, tags, nil)
	return err
}

// Untag はエントリからタグを削除する。
func (s *Store) Untag(feedURL, id string, tags ...string) error {
	_, err := s.UpdateTags(feedURL, id, nil, tags)
	return err
}

// UpdateTags はタグの追加と削除を1回のロックで行い、更新後のエントリのコピーを返す。
// 追加と削除の両方に含まれるタグは削除される。
func (s *Store) UpdateTags(feedURL, id string, add, remove []string) (*model.Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, err := s.entryLocked(feedURL, id)
	if err != nil {
		return nil, err
	}
	if e.Tags == nil {
		e.Tags = model.NewTagSet()
	}
	e.Tags.Add(add...)
	e.Tags.Remove(remove...)
	s.rev++
	return e.Clone(), nil
}

// Revision は変更のたびに増える番号を返す。保存が必要かどうかの判定に使う。
// Restoreでは増えない。
func (s *Store) Revision() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.rev
}

// Feeds はフィードの要約をURL順に返す。
func (s *Store) Feeds() []FeedInfo {
	s.mu.RLock()
	defer s.mu.RUnlock()

	infos := make([]FeedInfo, 0, len(s.feeds))
	for _, f := range s.feeds {
		infos = append(infos, FeedInfo{
			URL:           f.URL,
			Title:         f.Title,
			EntryCount:    len(f.Entries),
			LastFetchedAt: f.LastFetchedAt,
			FailureCount:  f.FailureCount,
			LastError:     f.LastError,
		})
	}
	slices.SortFunc(infos, func(a, b FeedInfo) int {
		return strings.Compare(a.URL, b.URL)
	})
	return infos
}

// LastUpdate は最後にマージが行われた時刻を返す。
func (s *Store) LastUpdate() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastUpdate
}

// Stats はストア全体の統計を返す。
func (s *Store) Stats() Stats {
	s.mu.RLock()
	defer s.mu.RUnlock()

	st := Stats{
		Feeds:      len(s.feeds),
		Tags:       make(map[string]int),
		LastUpdate: s.lastUpdate,
	}
	for _, f := range s.feeds {
		st.Entries += len(f.Entries)
		for _, e := range f.Entries {
			for tag := range e.Tags {
				st.Tags[tag]++
			}
		}
	}
	return st
}
