package fetch

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/hitoshi/feedtag/internal/model"
	"github.com/hitoshi/feedtag/internal/store"
)

const updaterRSS = `<?xml version="1.0" encoding="UTF-8"?>
<rss version="2.0">
  <channel>
    <title>Integration Test Feed</title>
    <item>
      <title>Article 1</title>
      <link>https://example.com/article/1</link>
      <guid>guid-1</guid>
      <pubDate>Mon, 01 Jan 2024 00:00:00 +0000</pubDate>
      <description>First article content</description>
    </item>
    <item>
      <title>Article 2</title>
      <link>https://example.com/article/2</link>
      <guid>guid-2</guid>
      <pubDate>Tue, 02 Jan 2024 00:00:00 +0000</pubDate>
      <description>Second article content</description>
    </item>
  </channel>
</rss>`

const updaterAtom = `<feed xmlns="http://www.w3.org/2005/Atom">
  <title>Atom Feed</title>
  <entry>
    <id>atom-1</id>
    <title>Atom entry</title>
    <link href="https://example.org/1"/>
    <updated>2024-01-03T00:00:00Z</updated>
  </entry>
</feed>`

// mockUpdateMetrics はUpdateMetricsのテスト用モック。
type mockUpdateMetrics struct {
	mu        sync.Mutex
	successes int
	failures  map[model.FailureKind]int
	statuses  []int
	inserted  int
}

func newMockUpdateMetrics() *mockUpdateMetrics {
	return &mockUpdateMetrics{failures: map[model.FailureKind]int{}}
}

func (m *mockUpdateMetrics) RecordFetchSuccess(string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.successes++
}

func (m *mockUpdateMetrics) RecordFetchFailure(_ string, kind model.FailureKind) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failures[kind]++
}

func (m *mockUpdateMetrics) RecordHTTPStatus(code int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.statuses = append(m.statuses, code)
}

func (m *mockUpdateMetrics) RecordFetchLatency(time.Duration) {}

func (m *mockUpdateMetrics) RecordEntriesMerged(inserted, _ int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.inserted += inserted
}

func (m *mockUpdateMetrics) RecordHookFailures(int) {}

func (m *mockUpdateMetrics) RecordDateFallbacks(int) {}

// fixtureTransport はURLごとに固定のレスポンスを返すトランスポート。
func fixtureTransport(fixtures map[string]*Response, errs map[string]error) *mockTransport {
	return &mockTransport{
		fetchFunc: func(_ context.Context, url string) (*Response, error) {
			if err, ok := errs[url]; ok {
				return nil, err
			}
			if resp, ok := fixtures[url]; ok {
				return resp, nil
			}
			return &Response{StatusCode: 404}, nil
		},
	}
}

func TestUpdater_StartCycle_MergesAllFeeds(t *testing.T) {
	var buf bytes.Buffer
	logger := newTestLogger(&buf)

	transport := fixtureTransport(map[string]*Response{
		"https://example.com/rss":  {StatusCode: 200, Body: []byte(updaterRSS)},
		"https://example.org/atom": {StatusCode: 200, Body: []byte(updaterAtom)},
	}, nil)

	st := store.New(logger)
	sched := NewScheduler(transport, logger, 2)
	u := NewUpdater(sched, st, logger, []string{"https://example.com/rss", "https://example.org/atom"}, []string{"unread"})
	metrics := newMockUpdateMetrics()
	u.SetMetrics(metrics)

	run := u.StartCycle(context.Background())
	if n := run.Requested(); n != 2 {
		t.Errorf("投入数 = %d, want 2", n)
	}
	waitCycle(t, run)

	entries := st.AllEntries()
	if len(entries) != 3 {
		t.Fatalf("エントリ数 = %d, want 3", len(entries))
	}
	if entries[0].ID != "atom-1" || entries[1].ID != "guid-2" || entries[2].ID != "guid-1" {
		t.Errorf("並び順が不正: %s %s %s", entries[0].ID, entries[1].ID, entries[2].ID)
	}
	for _, e := range entries {
		if !e.Tags.Has("unread") {
			t.Errorf("初期タグが付与されるべき: %s", e.ID)
		}
	}

	feeds := st.Feeds()
	if feeds[0].Title != "Integration Test Feed" || feeds[1].Title != "Atom Feed" {
		t.Errorf("フィードタイトル = %q / %q", feeds[0].Title, feeds[1].Title)
	}

	cycle := u.Cycle()
	if cycle.Requested != 2 || cycle.Succeeded != 2 || cycle.Failed != 0 || cycle.Inserted != 3 {
		t.Errorf("CycleStats = %+v", cycle)
	}
	if metrics.successes != 2 || metrics.inserted != 3 {
		t.Errorf("メトリクス = %+v", metrics)
	}
}

func TestUpdater_RefetchPreservesTags(t *testing.T) {
	var buf bytes.Buffer
	logger := newTestLogger(&buf)
	const feedURL = "https://example.com/rss"

	transport := fixtureTransport(map[string]*Response{
		feedURL: {StatusCode: 200, Body: []byte(updaterRSS)},
	}, nil)

	st := store.New(logger)
	sched := NewScheduler(transport, logger, 1)
	u := NewUpdater(sched, st, logger, []string{feedURL}, []string{"unread"})

	waitCycle(t, u.StartCycle(context.Background()))

	if _, err := st.UpdateTags(feedURL, "guid-1", []string{"starred"}, []string{"unread"}); err != nil {
		t.Fatalf("UpdateTags: %v", err)
	}

	waitCycle(t, u.StartCycle(context.Background()))

	e, err := st.Entry(feedURL, "guid-1")
	if err != nil {
		t.Fatalf("Entry: %v", err)
	}
	if e.Tags.Has("unread") || !e.Tags.Has("starred") {
		t.Errorf("再取得でタグが上書きされてはならない: %v", e.Tags.Slice())
	}
	if c := u.Cycle(); c.Inserted != 0 || c.Updated != 2 {
		t.Errorf("2回目は全件更新となるべき: %+v", c)
	}
}

func TestUpdater_FailuresAreIsolated(t *testing.T) {
	var buf bytes.Buffer
	logger := newTestLogger(&buf)

	urls := []string{
		"https://ok.example.com/rss",
		"https://down.example.com/rss",
		"https://missing.example.com/rss",
		"https://html.example.com/",
		"https://broken.example.com/atom",
	}
	transport := fixtureTransport(map[string]*Response{
		urls[0]: {StatusCode: 200, Body: []byte(updaterRSS)},
		urls[3]: {StatusCode: 200, Body: []byte("<html><body>hello</body></html>")},
		urls[4]: {StatusCode: 200, Body: []byte(`<feed xmlns="http://www.w3.org/2005/Atom"><entry><title>x`)},
	}, map[string]error{
		urls[1]: errors.New("connection refused"),
	})

	st := store.New(logger)
	sched := NewScheduler(transport, logger, 3)
	u := NewUpdater(sched, st, logger, urls, []string{"unread"})
	metrics := newMockUpdateMetrics()
	u.SetMetrics(metrics)

	var mu sync.Mutex
	reported := map[string]*model.FeedError{}
	u.SetErrorReporter(func(fe *model.FeedError) {
		mu.Lock()
		defer mu.Unlock()
		reported[fe.FeedURL] = fe
	})

	waitCycle(t, u.StartCycle(context.Background()))

	if n := len(st.AllEntries()); n != 2 {
		t.Errorf("成功したフィードのエントリのみ格納されるべき: %d", n)
	}

	wantKinds := map[string]model.FailureKind{
		urls[1]: model.FailureTransport,
		urls[2]: model.FailureTransport,
		urls[3]: model.FailureUnknownFormat,
		urls[4]: model.FailureParse,
	}
	for url, kind := range wantKinds {
		fe, ok := reported[url]
		if !ok {
			t.Errorf("%s: 失敗が通知されるべき", url)
			continue
		}
		if fe.Kind != kind {
			t.Errorf("%s: Kind = %q, want %q", url, fe.Kind, kind)
		}
	}
	if !errors.Is(reported[urls[2]], model.ErrTransportFailure) {
		t.Errorf("200以外はトランスポートエラーとなるべき: %v", reported[urls[2]])
	}
	if !errors.Is(reported[urls[3]], model.ErrUnknownFormat) {
		t.Errorf("HTMLは未知の形式となるべき: %v", reported[urls[3]])
	}

	for _, info := range st.Feeds() {
		if _, failed := wantKinds[info.URL]; failed {
			if info.FailureCount != 1 || info.LastError == "" {
				t.Errorf("%s: 失敗情報が記録されるべき: %+v", info.URL, info)
			}
		} else if info.FailureCount != 0 {
			t.Errorf("%s: 成功フィードに失敗情報があってはならない", info.URL)
		}
	}

	if c := u.Cycle(); c.Succeeded != 1 || c.Failed != 4 {
		t.Errorf("CycleStats = %+v", c)
	}
	if metrics.failures[model.FailureTransport] != 2 || metrics.failures[model.FailureUnknownFormat] != 1 {
		t.Errorf("失敗メトリクス = %v", metrics.failures)
	}
	if !strings.Contains(buf.String(), "フィードの更新に失敗しました") {
		t.Error("失敗がログに記録されるべき")
	}
}

func TestUpdater_UpdateFeed_CreatesFeedOnReference(t *testing.T) {
	var buf bytes.Buffer
	logger := newTestLogger(&buf)

	release := make(chan struct{})
	transport := &mockTransport{
		fetchFunc: func(context.Context, string) (*Response, error) {
			<-release
			return &Response{StatusCode: 500}, nil
		},
	}

	st := store.New(logger)
	sched := NewScheduler(transport, logger, 1)
	u := NewUpdater(sched, st, logger, nil, nil)

	id := u.UpdateFeed(context.Background(), "https://example.com/new")
	if id == "" {
		t.Error("要求IDが返されるべき")
	}
	if len(st.Feeds()) != 1 {
		t.Error("フェッチ投入時点でフィードが作成されるべき")
	}
	close(release)
	waitIdle(t, sched)
}

func waitCycle(t *testing.T, run *CycleRun) CycleStats {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	stats, err := run.Wait(ctx)
	if err != nil {
		t.Fatalf("CycleRun.Wait: %v", err)
	}
	return stats
}

func TestUpdater_NilResponseIsTransportFailure(t *testing.T) {
	var buf bytes.Buffer
	logger := newTestLogger(&buf)
	const feedURL = "https://example.com/rss"

	transport := &mockTransport{
		fetchFunc: func(context.Context, string) (*Response, error) {
			return nil, nil
		},
	}

	st := store.New(logger)
	sched := NewScheduler(transport, logger, 1)
	u := NewUpdater(sched, st, logger, []string{feedURL}, nil)
	metrics := newMockUpdateMetrics()
	u.SetMetrics(metrics)

	var mu sync.Mutex
	var reported []*model.FeedError
	u.SetErrorReporter(func(fe *model.FeedError) {
		mu.Lock()
		defer mu.Unlock()
		reported = append(reported, fe)
	})

	stats := waitCycle(t, u.StartCycle(context.Background()))

	if stats.Failed != 1 || stats.Succeeded != 0 {
		t.Errorf("空のレスポンスは失敗として集計されるべき: %+v", stats)
	}
	mu.Lock()
	defer mu.Unlock()
	if len(reported) != 1 {
		t.Fatalf("失敗は1回通知されるべき: %d", len(reported))
	}
	if reported[0].Kind != model.FailureTransport || !errors.Is(reported[0], model.ErrTransportFailure) {
		t.Errorf("FeedError = %+v", reported[0])
	}
	if info := st.Feeds()[0]; info.FailureCount != 1 {
		t.Errorf("失敗がストアに記録されるべき: %+v", info)
	}
	if metrics.failures[model.FailureTransport] != 1 {
		t.Errorf("失敗メトリクス = %v", metrics.failures)
	}
	if strings.Contains(buf.String(), "パニック") {
		t.Error("空のレスポンスでパニックしてはならない")
	}
}

func TestUpdater_OverlappingCyclesKeepSeparateStats(t *testing.T) {
	var buf bytes.Buffer
	logger := newTestLogger(&buf)
	const (
		slowURL = "https://slow.example.org/atom"
		fastURL = "https://fast.example.com/rss"
	)

	release := make(chan struct{})
	transport := &mockTransport{
		fetchFunc: func(_ context.Context, url string) (*Response, error) {
			if url == slowURL {
				<-release
				return &Response{StatusCode: 200, Body: []byte(updaterAtom)}, nil
			}
			return &Response{StatusCode: 200, Body: []byte(updaterRSS)}, nil
		},
	}

	st := store.New(logger)
	sched := NewScheduler(transport, logger, 4)
	u := NewUpdater(sched, st, logger, []string{slowURL, fastURL}, nil)

	first := u.StartCycle(context.Background())

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if _, err := first.Wait(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("遅いフィードの完了前にサイクルが終わってはならない: %v", err)
	}

	second := u.StartCycle(context.Background())
	close(release)

	s1 := waitCycle(t, first)
	s2 := waitCycle(t, second)

	for i, s := range []CycleStats{s1, s2} {
		if s.Requested != 2 || s.Succeeded != 2 || s.Failed != 0 {
			t.Errorf("サイクル%d: 他のサイクルの結果が混ざってはならない: %+v", i+1, s)
		}
		if s.Inserted+s.Updated != 3 {
			t.Errorf("サイクル%d: マージ件数 = %d, want 3", i+1, s.Inserted+s.Updated)
		}
	}
	if s1.Inserted+s2.Inserted != 3 {
		t.Errorf("新規件数の合計 = %d, want 3", s1.Inserted+s2.Inserted)
	}
	if got := u.Cycle(); !got.StartedAt.Equal(s2.StartedAt) {
		t.Errorf("Cycleは最後に開始したサイクルを返すべき: %+v", got)
	}
}

func TestUpdater_EndToEnd_AtomRefetch(t *testing.T) {
	var buf bytes.Buffer
	logger := newTestLogger(&buf)
	const feedURL = "https://example.org/atom"

	const firstBody = `<feed xmlns="http://www.w3.org/2005/Atom">
  <title>Atom Feed</title>
  <entry><id>a1</id><title>A1</title><updated>2024-01-01T00:00:00Z</updated></entry>
  <entry><id>a2</id><title>A2</title><updated>2024-01-02T00:00:00Z</updated></entry>
</feed>`
	const secondBody = `<feed xmlns="http://www.w3.org/2005/Atom">
  <title>Atom Feed</title>
  <entry><id>a1</id><title>A1</title><updated>2024-01-01T00:00:00Z</updated></entry>
  <entry><id>a2</id><title>A2</title><updated>2024-01-02T00:00:00Z</updated></entry>
  <entry><id>a3</id><title>A3</title><updated>2024-01-03T00:00:00Z</updated></entry>
</feed>`

	var mu sync.Mutex
	body := firstBody
	transport := &mockTransport{
		fetchFunc: func(context.Context, string) (*Response, error) {
			mu.Lock()
			defer mu.Unlock()
			return &Response{StatusCode: 200, Body: []byte(body)}, nil
		},
	}

	st := store.New(logger)
	var hooked []string
	st.AddNewEntryHook(func(e *model.Entry) error {
		hooked = append(hooked, e.ID)
		return nil
	})

	sched := NewScheduler(transport, logger, 1)
	u := NewUpdater(sched, st, logger, []string{feedURL}, []string{"unread"})

	if s := waitCycle(t, u.StartCycle(context.Background())); s.Inserted != 2 {
		t.Fatalf("1回目の新規件数 = %d, want 2", s.Inserted)
	}
	if err := st.Untag(feedURL, "a1", "unread"); err != nil {
		t.Fatalf("Untag: %v", err)
	}

	mu.Lock()
	body = secondBody
	mu.Unlock()
	hookedBefore := len(hooked)

	s := waitCycle(t, u.StartCycle(context.Background()))
	if s.Inserted != 1 || s.Updated != 2 {
		t.Errorf("2回目の集計 = %+v", s)
	}

	if got := hooked[hookedBefore:]; len(got) != 1 || got[0] != "a3" {
		t.Errorf("2回目のフック呼び出し = %v, want [a3]", got)
	}

	want := map[string]bool{"a1": false, "a2": true, "a3": true}
	for id, unread := range want {
		e, err := st.Entry(feedURL, id)
		if err != nil {
			t.Fatalf("Entry(%s): %v", id, err)
		}
		if e.Tags.Has("unread") != unread {
			t.Errorf("%s: unread = %v, want %v", id, e.Tags.Has("unread"), unread)
		}
	}
}

func TestPoller_Trigger_RunsHooksInBackground(t *testing.T) {
	var buf bytes.Buffer
	logger := newTestLogger(&buf)
	const feedURL = "https://example.com/rss"

	transport := fixtureTransport(map[string]*Response{
		feedURL: {StatusCode: 200, Body: []byte(updaterRSS)},
	}, nil)

	st := store.New(logger)
	sched := NewScheduler(transport, logger, 1)
	u := NewUpdater(sched, st, logger, []string{feedURL}, nil)

	done := make(chan CycleStats, 1)
	p := NewPoller(u, sched, logger, func(_ context.Context, stats CycleStats) error {
		done <- stats
		return nil
	})

	if n := p.Trigger(context.Background()); n != 1 {
		t.Fatalf("投入数 = %d, want 1", n)
	}

	select {
	case stats := <-done:
		if stats.Succeeded != 1 || stats.Inserted != 2 {
			t.Errorf("CycleStats = %+v", stats)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Triggerの後処理が呼ばれるべき")
	}
}

func TestPoller_Trigger_NoFeeds(t *testing.T) {
	var buf bytes.Buffer
	logger := newTestLogger(&buf)

	sched := NewScheduler(&mockTransport{}, logger, 1)
	u := NewUpdater(sched, store.New(logger), logger, nil, nil)
	called := false
	p := NewPoller(u, sched, logger, func(context.Context, CycleStats) error {
		called = true
		return nil
	})

	if n := p.Trigger(context.Background()); n != 0 {
		t.Errorf("投入数 = %d, want 0", n)
	}
	if called {
		t.Error("フィードがない場合は後処理を呼ばない")
	}
}

func TestPoller_RunOnce_CallsHooksAfterIdle(t *testing.T) {
	var buf bytes.Buffer
	logger := newTestLogger(&buf)
	const feedURL = "https://example.com/rss"

	transport := fixtureTransport(map[string]*Response{
		feedURL: {StatusCode: 200, Body: []byte(updaterRSS)},
	}, nil)

	st := store.New(logger)
	sched := NewScheduler(transport, logger, 1)
	u := NewUpdater(sched, st, logger, []string{feedURL}, nil)

	var entriesAtHook int
	var statsAtHook CycleStats
	p := NewPoller(u, sched, logger, func(_ context.Context, stats CycleStats) error {
		entriesAtHook = len(st.AllEntries())
		statsAtHook = stats
		return errors.New("save failed")
	})

	if err := p.RunOnce(context.Background()); err != nil {
		t.Fatalf("RunOnce: %v", err)
	}
	if entriesAtHook != 2 {
		t.Errorf("後処理は全フェッチの反映後に呼ばれるべき: %d", entriesAtHook)
	}
	if statsAtHook.Succeeded != 1 {
		t.Errorf("CycleStats = %+v", statsAtHook)
	}
	if !strings.Contains(buf.String(), "更新サイクルの後処理に失敗しました") {
		t.Error("後処理の失敗がログに記録されるべき")
	}
}

func TestPoller_Start_StopsOnCancel(t *testing.T) {
	var buf bytes.Buffer
	logger := newTestLogger(&buf)

	var mu sync.Mutex
	fetches := 0
	transport := &mockTransport{
		fetchFunc: func(context.Context, string) (*Response, error) {
			mu.Lock()
			fetches++
			mu.Unlock()
			return &Response{StatusCode: 200, Body: []byte(updaterRSS)}, nil
		},
	}

	st := store.New(logger)
	sched := NewScheduler(transport, logger, 1)
	u := NewUpdater(sched, st, logger, []string{"https://example.com/rss"}, nil)
	p := NewPoller(u, sched, logger)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		p.Start(ctx, 20*time.Millisecond)
		close(done)
	}()

	time.Sleep(70 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("キャンセル後にStartが返るべき")
	}

	mu.Lock()
	defer mu.Unlock()
	if fetches < 2 {
		t.Errorf("起動直後と定期実行でフェッチされるべき: %d", fetches)
	}
	if !strings.Contains(buf.String(), "フィード更新ポーラーを停止しました") {
		t.Error("停止がログに記録されるべき")
	}
}
