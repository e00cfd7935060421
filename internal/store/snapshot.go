package store

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"time"

	"github.com/hitoshi/feedtag/internal/model"
)

// Snapshot はストア全体のある時点のコピー。永続化層との受け渡しに使う。
type Snapshot struct {
	Feeds      []*model.Feed
	LastUpdate time.Time
}

// Persister はスナップショットの保存先。
type Persister interface {
	Load(ctx context.Context) (*Snapshot, error)
	Save(ctx context.Context, snap *Snapshot) error
}

// Snapshot はストア全体のディープコピーをURL順で返す。
func (s *Store) Snapshot() *Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()

	snap := &Snapshot{
		Feeds:      make([]*model.Feed, 0, len(s.feeds)),
		LastUpdate: s.lastUpdate,
	}
	for _, f := range s.feeds {
		snap.Feeds = append(snap.Feeds, f.Clone())
	}
	slices.SortFunc(snap.Feeds, func(a, b *model.Feed) int {
		return strings.Compare(a.URL, b.URL)
	})
	return snap
}

// Restore はストアの内容をスナップショットで置き換える。
// 挿入順はスナップショットのSeqを引き継ぎ、以降の採番はその最大値から続ける。
// 復元時に新規エントリフックは呼び出さない。
func (s *Store) Restore(snap *Snapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.feeds = make(map[string]*model.Feed)
	s.seq = 0
	if snap == nil {
		return
	}

	for _, f := range snap.Feeds {
		if f == nil || f.URL == "" {
			continue
		}
		c := f.Clone()
		for id, e := range c.Entries {
			e.FeedURL = c.URL
			e.ID = id
			if e.Tags == nil {
				e.Tags = model.NewTagSet()
			}
			s.seq = max(s.seq, e.Seq)
		}
		s.feeds[c.URL] = c
	}

	// Seq未設定のエントリには日時順で採番する
	var unnumbered []*model.Entry
	for _, f := range s.feeds {
		for _, e := range f.Entries {
			if e.Seq == 0 {
				unnumbered = append(unnumbered, e)
			}
		}
	}
	slices.SortFunc(unnumbered, func(a, b *model.Entry) int {
		if c := strings.Compare(a.Date, b.Date); c != 0 {
			return c
		}
		if c := strings.Compare(a.FeedURL, b.FeedURL); c != 0 {
			return c
		}
		return strings.Compare(a.ID, b.ID)
	})
	for _, e := range unnumbered {
		s.seq++
		e.Seq = s.seq
	}

	s.lastUpdate = snap.LastUpdate
}

// LoadFrom は永続化層からスナップショットを読み込んで復元する。
func (s *Store) LoadFrom(ctx context.Context, p Persister) error {
	snap, err := p.Load(ctx)
	if err != nil {
		return fmt.Errorf("スナップショットの読み込みに失敗: %w", err)
	}
	s.Restore(snap)

	st := s.Stats()
	s.logger.Info("スナップショットを復元しました",
		slog.Int("feeds", st.Feeds),
		slog.Int("entries", st.Entries),
	)
	return nil
}

// SaveTo は現在の内容を永続化層に保存する。
func (s *Store) SaveTo(ctx context.Context, p Persister) error {
	snap := s.Snapshot()
	if err := p.Save(ctx, snap); err != nil {
		return fmt.Errorf("スナップショットの保存に失敗: %w", err)
	}
	return nil
}
