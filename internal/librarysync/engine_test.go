package librarysync

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"mangashelf/internal/apperr"
	"mangashelf/internal/events"
	"mangashelf/internal/manga"
	"mangashelf/internal/source"
	"mangashelf/internal/source/sourcetest"
	"mangashelf/internal/transport"
	"mangashelf/pkg/clock"
	"mangashelf/pkg/models"
)

var testNow = time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

type harness struct {
	engine *Engine
	store  *manga.MemoryRepo
	srcA   *sourcetest.Fake
	srcB   *sourcetest.Fake
	rec    *events.Recorder
	clk    *clock.FakeClock
}

func newHarness(t *testing.T, cfg Config) *harness {
	t.Helper()
	clk := clock.Fake(testNow)
	reg := source.NewRegistry()
	a, b := sourcetest.New("a"), sourcetest.New("b")
	for _, s := range []*sourcetest.Fake{a, b} {
		if err := reg.Register(s); err != nil {
			t.Fatalf("Register: %v", err)
		}
	}
	store := manga.NewMemoryRepo(clk)
	rec := &events.Recorder{}
	return &harness{
		engine: NewEngine(store, reg, rec, clk, nil, cfg),
		store:  store,
		srcA:   a,
		srcB:   b,
		rec:    rec,
		clk:    clk,
	}
}

// add stores an in-library manga of src whose remote list is chapters.
func (h *harness) add(t *testing.T, src *sourcetest.Fake, raw string, chapters ...models.Chapter) string {
	t.Helper()
	u := src.AddManga(raw, "Title "+raw, chapters...)
	id := models.CompoundID(src.SourceInfo.ID, raw)
	if _, err := h.store.UpsertManga(context.Background(), models.MangaPatch{
		ID:        id,
		URL:       models.Ptr(u),
		Title:     models.Ptr("Title " + raw),
		InLibrary: models.Ptr(true),
	}); err != nil {
		t.Fatalf("UpsertManga: %v", err)
	}
	return id
}

func TestMergeOrdersAndKeepsRemoved(t *testing.T) {
	stored := []models.ChapterRecord{
		{ID: "s_3", Number: 3, Read: true},
		{ID: "s_2", Number: 2},
		{ID: "s_1", Number: 1},
	}
	fetched := []models.Chapter{
		{ID: "s_1", Number: 1},
		{ID: "s_4", Number: 4},
		{ID: "s_3", Number: 3, Title: "renamed"},
		{ID: "s_4", Number: 4, Title: "duplicate"},
	}
	got := Merge(stored, fetched)
	want := []string{"s_4", "s_3", "s_2", "s_1"}
	if len(got) != len(want) {
		t.Fatalf("merged = %+v", got)
	}
	for i, id := range want {
		if got[i].ID != id {
			t.Fatalf("merged[%d] = %s, want %s", i, got[i].ID, id)
		}
	}
	if got[1].Title != "renamed" || got[0].Title != "" {
		t.Fatalf("metadata = %+v", got)
	}
	if added := Added(stored, got); len(added) != 1 || added[0].ID != "s_4" {
		t.Fatalf("Added = %+v", added)
	}
}

func TestMergeEqualNumbersAreDistinct(t *testing.T) {
	got := Merge(nil, []models.Chapter{{ID: "s_a", Number: 5}, {ID: "s_b", Number: 5}})
	if len(got) != 2 || got[0].ID != "s_a" || got[1].ID != "s_b" {
		t.Fatalf("merged = %+v", got)
	}
}

func TestRunWriteSkipsIdenticalLists(t *testing.T) {
	h := newHarness(t, Config{BatchSize: 10, Workers: 2})
	h.add(t, h.srcA, "x", h.srcA.Chapter("x1", 1), h.srcA.Chapter("x2", 2))
	ctx := context.Background()

	res, err := h.engine.Run(ctx, nil, nil)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.Updated != 1 || res.NewChapters != 2 || h.store.SyncCalls() != 1 {
		t.Fatalf("first pass = %+v, syncs %d", res, h.store.SyncCalls())
	}

	res, err = h.engine.Run(ctx, nil, nil)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.Unchanged != 1 || res.Updated != 0 || h.store.SyncCalls() != 1 {
		t.Fatalf("second pass = %+v, syncs %d", res, h.store.SyncCalls())
	}
}

const relativeDatePage = `<html><body><div class="post-title"><h1>Solo</h1></div>
<div id="manga-chapters-holder"><ul>
  <li class="wp-manga-chapter"><a href="/manga/solo/chapter-2/">Chapter 2</a><span class="chapter-release-date"><a title="2 hours ago"></a></span></li>
  <li class="wp-manga-chapter"><a href="/manga/solo/chapter-1/">Chapter 1</a><span class="chapter-release-date"><i>January 2, 2024</i></span></li>
</ul></div></body></html>`

func TestRunWriteSkipsRelativeDates(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(relativeDatePage))
	}))
	defer srv.Close()

	clk := clock.Fake(testNow)
	reg := source.NewRegistry()
	fetcher := transport.New(transport.Config{Timeout: 5 * time.Second})
	if err := reg.Register(source.NewMadara(source.SourceInfo{ID: "madara", BaseURL: srv.URL}, fetcher, clk)); err != nil {
		t.Fatalf("Register: %v", err)
	}
	store := manga.NewMemoryRepo(clk)
	ctx := context.Background()
	if _, err := store.UpsertManga(ctx, models.MangaPatch{
		ID:        "madara_solo",
		URL:       models.Ptr(srv.URL + "/manga/solo/"),
		Title:     models.Ptr("Solo"),
		InLibrary: models.Ptr(true),
	}); err != nil {
		t.Fatalf("UpsertManga: %v", err)
	}
	engine := NewEngine(store, reg, &events.Recorder{}, clk, nil, Config{})

	for pass := 0; pass < 3; pass++ {
		res, err := engine.Run(ctx, nil, nil)
		if err != nil {
			t.Fatalf("Run: %v", err)
		}
		if pass == 0 && res.Updated != 1 {
			t.Fatalf("first pass = %+v", res)
		}
		if pass > 0 && (res.Updated != 0 || res.Unchanged != 1) {
			t.Fatalf("pass %d = %+v", pass, res)
		}
		clk.Advance(10 * time.Minute)
	}
	if store.SyncCalls() != 1 {
		t.Fatalf("identical markup written %d times", store.SyncCalls())
	}

	m, err := store.GetManga(ctx, "madara_solo")
	if err != nil || m == nil || len(m.Chapters) != 2 {
		t.Fatalf("GetManga = %+v, %v", m, err)
	}
	if at := m.Chapters[0].PublishedAt; at == nil || !at.Equal(testNow.Add(-2*time.Hour)) {
		t.Fatalf("kept date = %v", at)
	}
}

func TestMergeKeepsStoredDateForRelativeUpstream(t *testing.T) {
	stored := testNow.Add(-3 * time.Hour)
	drifted := testNow.Add(-time.Hour)
	exact := time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC)
	got := Merge(
		[]models.ChapterRecord{{ID: "s_2", Number: 2, PublishedAt: &stored}, {ID: "s_1", Number: 1, PublishedAt: &stored}},
		[]models.Chapter{
			{ID: "s_3", Number: 3, PublishedAt: &drifted, DateRelative: true},
			{ID: "s_2", Number: 2, PublishedAt: &drifted, DateRelative: true},
			{ID: "s_1", Number: 1, PublishedAt: &exact},
		},
	)
	if !got[0].PublishedAt.Equal(drifted) {
		t.Fatalf("new chapter date = %v", got[0].PublishedAt)
	}
	if !got[1].PublishedAt.Equal(stored) {
		t.Fatalf("relative date replaced stored one: %v", got[1].PublishedAt)
	}
	if !got[2].PublishedAt.Equal(exact) {
		t.Fatalf("absolute date not applied: %v", got[2].PublishedAt)
	}
}

func TestRunPreservesReaderStateAndRemovedChapters(t *testing.T) {
	h := newHarness(t, Config{})
	id := h.add(t, h.srcA, "x", h.srcA.Chapter("x1", 1), h.srcA.Chapter("x2", 2))
	ctx := context.Background()
	if _, err := h.engine.Run(ctx, nil, nil); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if err := h.store.PatchChapter(ctx, "a_x1", models.ChapterPatch{Read: models.Ptr(true)}); err != nil {
		t.Fatalf("PatchChapter: %v", err)
	}

	h.srcA.SetChapters(h.srcA.URL("x"), h.srcA.Chapter("x3", 3), h.srcA.Chapter("x2", 2))
	res, err := h.engine.Run(ctx, nil, nil)
	if err != nil || res.NewChapters != 1 {
		t.Fatalf("Run = %+v, %v", res, err)
	}

	m, _ := h.store.GetManga(ctx, id)
	if len(m.Chapters) != 3 || m.Chapters[0].ID != "a_x3" || m.Chapters[2].ID != "a_x1" || !m.Chapters[2].Read {
		t.Fatalf("chapters = %+v", m.Chapters)
	}
}

func TestRunRecordsFailureAndContinues(t *testing.T) {
	h := newHarness(t, Config{BatchSize: 2, Workers: 2})
	ids := []string{
		h.add(t, h.srcA, "ok1", h.srcA.Chapter("ok1c", 1)),
		h.add(t, h.srcA, "bad", h.srcA.Chapter("badc", 1)),
		h.add(t, h.srcB, "ok2", h.srcB.Chapter("ok2c", 1)),
	}
	h.srcA.Fail(h.srcA.URL("bad"), &apperr.ParseError{Source: "a", What: "chapter list", URL: h.srcA.URL("bad")})

	res, err := h.engine.Run(context.Background(), ids, nil)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.Total != 3 || res.Updated != 2 || len(res.Failures) != 1 {
		t.Fatalf("result = %+v", res)
	}
	f := res.Failures[0]
	if f.MangaID != "a_bad" || f.Kind != apperr.KindParse || f.Title != "Title bad" {
		t.Fatalf("failure = %+v", f)
	}
}

func TestRunUnknownMangaIsAFailure(t *testing.T) {
	h := newHarness(t, Config{})
	res, err := h.engine.Run(context.Background(), []string{"a_ghost"}, nil)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(res.Failures) != 1 || res.Failures[0].Kind != apperr.KindNotFound {
		t.Fatalf("result = %+v", res)
	}
}

func TestChallengeBlocksSourceForRestOfPass(t *testing.T) {
	h := newHarness(t, Config{BatchSize: 10, Workers: 1})
	ids := []string{
		h.add(t, h.srcA, "first", h.srcA.Chapter("f1", 1)),
		h.add(t, h.srcA, "second", h.srcA.Chapter("s1", 1)),
		h.add(t, h.srcB, "other", h.srcB.Chapter("o1", 1)),
	}
	h.srcA.Fail(h.srcA.URL("first"), &apperr.ChallengeError{URL: h.srcA.URL("first"), Status: 403, Marker: "cf-chl"})

	res, err := h.engine.Run(context.Background(), ids, nil)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(res.Failures) != 2 || res.Updated != 1 {
		t.Fatalf("result = %+v", res)
	}
	for _, f := range res.Failures {
		if f.Kind != apperr.KindChallenge {
			t.Fatalf("failure kind = %q", f.Kind)
		}
	}
	if n := h.srcA.Calls(h.srcA.URL("second")); n != 0 {
		t.Fatalf("blocked source was requested %d times", n)
	}

	// the block lasts one pass only
	h.srcA.Fail(h.srcA.URL("first"), nil)
	res, _ = h.engine.Run(context.Background(), ids, nil)
	if len(res.Failures) != 0 {
		t.Fatalf("second pass failures = %+v", res.Failures)
	}
}

func TestRunIsSingleFlight(t *testing.T) {
	h := newHarness(t, Config{})
	h.add(t, h.srcA, "x", h.srcA.Chapter("x1", 1))

	entered := make(chan struct{})
	release := make(chan struct{})
	var once sync.Once
	h.srcA.OnChapterList(func(string) {
		once.Do(func() { close(entered) })
		<-release
	})

	done := make(chan error, 1)
	go func() {
		_, err := h.engine.Run(context.Background(), nil, nil)
		done <- err
	}()
	<-entered

	if !h.engine.Running() {
		t.Fatalf("Running = false during pass")
	}
	if _, err := h.engine.Run(context.Background(), nil, nil); !errors.Is(err, apperr.ErrSyncInProgress) {
		t.Fatalf("concurrent Run = %v, want ErrSyncInProgress", err)
	}
	close(release)
	if err := <-done; err != nil {
		t.Fatalf("first Run: %v", err)
	}
	if h.engine.Last() == nil || h.engine.Last().Updated != 1 {
		t.Fatalf("Last = %+v", h.engine.Last())
	}
}

func TestProgressIsReportedPerManga(t *testing.T) {
	h := newHarness(t, Config{BatchSize: 2, Workers: 2})
	for _, raw := range []string{"p", "q", "r"} {
		h.add(t, h.srcA, raw, h.srcA.Chapter(raw+"1", 1))
	}

	var seen []Progress
	_, err := h.engine.Run(context.Background(), nil, func(p Progress) { seen = append(seen, p) })
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(seen) != 3 {
		t.Fatalf("progress calls = %d", len(seen))
	}
	for i, p := range seen {
		if p.Current != i+1 || p.Total != 3 || p.SourceID != "a" {
			t.Fatalf("progress[%d] = %+v", i, p)
		}
	}
	if n := len(h.rec.OfType(events.TypeSyncProgress)); n != 3 {
		t.Fatalf("progress events = %d", n)
	}
	if n := len(h.rec.OfType(events.TypeSyncFinished)); n != 1 {
		t.Fatalf("finished events = %d", n)
	}
}

func TestBatchDelayUsesClock(t *testing.T) {
	h := newHarness(t, Config{BatchSize: 1, Workers: 1, BatchDelay: time.Second})
	h.add(t, h.srcA, "x", h.srcA.Chapter("x1", 1))
	h.add(t, h.srcA, "y", h.srcA.Chapter("y1", 1))

	done := make(chan Result, 1)
	go func() {
		res, _ := h.engine.Run(context.Background(), nil, nil)
		done <- res
	}()

	deadline := time.Now().Add(5 * time.Second)
	for h.clk.Pending() == 0 {
		if time.Now().After(deadline) {
			t.Fatalf("engine never waited between batches")
		}
		time.Sleep(time.Millisecond)
	}
	select {
	case <-done:
		t.Fatalf("pass finished before the delay elapsed")
	default:
	}

	h.clk.Advance(time.Second)
	res := <-done
	if res.Updated != 2 {
		t.Fatalf("result = %+v", res)
	}
}

func TestRunCanceled(t *testing.T) {
	h := newHarness(t, Config{})
	h.add(t, h.srcA, "x", h.srcA.Chapter("x1", 1))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	res, err := h.engine.Run(ctx, nil, nil)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
	if res.Updated != 0 || h.store.SyncCalls() != 0 {
		t.Fatalf("result = %+v", res)
	}
}

type recordingQueue struct {
	mu     sync.Mutex
	queued []string
}

func (q *recordingQueue) Queue(_ context.Context, c models.Chapter, mangaID, sourceID string) (*models.DownloadTask, error) {
	q.mu.Lock()
	q.queued = append(q.queued, c.ID)
	q.mu.Unlock()
	return &models.DownloadTask{ChapterID: c.ID, MangaID: mangaID, SourceID: sourceID}, nil
}

func TestSchedulerAutoDownloadsNewChapters(t *testing.T) {
	h := newHarness(t, Config{})
	h.add(t, h.srcA, "x", h.srcA.Chapter("x1", 1), h.srcA.Chapter("x2", 2))
	q := &recordingQueue{}
	s := NewScheduler(h.engine, time.Hour, true, q, h.clk, nil)

	if _, err := s.RunOnce(context.Background(), nil, nil); err != nil {
		t.Fatalf("RunOnce: %v", err)
	}
	if len(q.queued) != 2 || q.queued[0] != "a_x2" {
		t.Fatalf("queued = %v", q.queued)
	}

	if _, err := s.RunOnce(context.Background(), nil, nil); err != nil {
		t.Fatalf("RunOnce: %v", err)
	}
	if len(q.queued) != 2 {
		t.Fatalf("unchanged pass queued more: %v", q.queued)
	}
}

func TestSchedulerRunsOnInterval(t *testing.T) {
	h := newHarness(t, Config{})
	h.add(t, h.srcA, "x", h.srcA.Chapter("x1", 1))
	s := NewScheduler(h.engine, time.Minute, false, nil, h.clk, nil)

	ctx, cancel := context.WithCancel(context.Background())
	stopped := make(chan struct{})
	go func() {
		_ = s.Run(ctx)
		close(stopped)
	}()

	deadline := time.Now().Add(5 * time.Second)
	for h.engine.Last() == nil {
		if time.Now().After(deadline) {
			t.Fatalf("scheduler never ran a pass")
		}
		if h.clk.Pending() > 0 {
			h.clk.Advance(time.Minute)
		}
		time.Sleep(time.Millisecond)
	}
	cancel()
	<-stopped
}
