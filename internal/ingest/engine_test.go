package ingest

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/nisilag/telegram-analysis-service/internal/analyzer"
	"github.com/nisilag/telegram-analysis-service/internal/database"
	"github.com/nisilag/telegram-analysis-service/internal/source"
)

const testChatID int64 = -1001234567890

var baseTime = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

func msgAt(id int64) source.Message {
	return source.Message{
		ChatID:    testChatID,
		MessageID: id,
		Timestamp: baseTime.Add(time.Duration(id) * time.Minute),
		Text:      fmt.Sprintf("message %d", id),
	}
}

// fakeSource serves a fixed set of messages and lets tests queue errors for
// fetch calls.
type fakeSource struct {
	mu         sync.Mutex
	msgs       map[int64]source.Message
	latest     source.LatestMark
	rangeErrs  []error // popped one per FetchRange call
	rangeCalls int
	rangeArgs  [][2]int64 // (minExclusive, maxInclusive) per FetchRange call

	onNew  source.NewMessageHandler
	onEdit source.NewMessageHandler
}

func newFakeSource(ids ...int64) *fakeSource {
	fs := &fakeSource{msgs: make(map[int64]source.Message)}
	for _, id := range ids {
		fs.msgs[id] = msgAt(id)
		if id > fs.latest.MessageID {
			fs.latest = source.LatestMark{MessageID: id, Timestamp: msgAt(id).Timestamp}
		}
	}
	return fs
}

func (f *fakeSource) GetLatest(_ context.Context) (source.LatestMark, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.latest, nil
}

func (f *fakeSource) FetchRange(_ context.Context, minEx, maxInc int64, limit int) ([]source.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rangeCalls++
	f.rangeArgs = append(f.rangeArgs, [2]int64{minEx, maxInc})
	if len(f.rangeErrs) > 0 {
		err := f.rangeErrs[0]
		f.rangeErrs = f.rangeErrs[1:]
		if err != nil {
			return nil, err
		}
	}
	ids := make([]int64, 0, len(f.msgs))
	for id := range f.msgs {
		if id > minEx && id <= maxInc {
			ids = append(ids, id)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	if limit > 0 && len(ids) > limit {
		ids = ids[:limit]
	}
	out := make([]source.Message, 0, len(ids))
	for _, id := range ids {
		out = append(out, f.msgs[id])
	}
	return out, nil
}

func (f *fakeSource) FetchTimeRange(_ context.Context, start, end time.Time, limit int) ([]source.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	ids := make([]int64, 0, len(f.msgs))
	for id, m := range f.msgs {
		if !m.Timestamp.Before(start) && m.Timestamp.Before(end) {
			ids = append(ids, id)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	if limit > 0 && len(ids) > limit {
		ids = ids[:limit]
	}
	out := make([]source.Message, 0, len(ids))
	for _, id := range ids {
		out = append(out, f.msgs[id])
	}
	return out, nil
}

func (f *fakeSource) FetchByID(_ context.Context, id int64) (*source.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	m, ok := f.msgs[id]
	if !ok {
		return nil, nil
	}
	return &m, nil
}

func (f *fakeSource) Subscribe(onNew, onEdit source.NewMessageHandler) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.onNew = onNew
	f.onEdit = onEdit
}

func (f *fakeSource) Listen(ctx context.Context) error {
	<-ctx.Done()
	return ctx.Err()
}

// fakeStore is an in-memory Store with the same monotonic checkpoint and
// stale-edit semantics as the SQL implementation.
type fakeStore struct {
	mu       sync.Mutex
	messages map[int64]source.Message
	analyses map[int64]analyzer.Analysis
	cp       *database.Checkpoint
	hwm      *database.HighWaterMark
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		messages: make(map[int64]source.Message),
		analyses: make(map[int64]analyzer.Analysis),
	}
}

func (f *fakeStore) Ping(context.Context) error { return nil }

func (f *fakeStore) UpsertMessage(_ context.Context, msg source.Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.messages[msg.MessageID] = msg
	return nil
}

func (f *fakeStore) UpsertAnalysis(_ context.Context, a analyzer.Analysis) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.analyses[a.MessageID] = a
	return nil
}

func (f *fakeStore) GetCheckpoint(_ context.Context, _ int64) (*database.Checkpoint, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.cp == nil {
		return nil, nil
	}
	cp := *f.cp
	return &cp, nil
}

func (f *fakeStore) UpdateCheckpoint(_ context.Context, cp database.Checkpoint) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.cp == nil || cp.LastMessageID > f.cp.LastMessageID {
		f.cp = &cp
	}
	return nil
}

func (f *fakeStore) SetHighWaterMark(_ context.Context, hwm database.HighWaterMark) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.hwm = &hwm
	return nil
}

func (f *fakeStore) GetHighWaterMark(_ context.Context, _ int64) (*database.HighWaterMark, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.hwm == nil {
		return nil, nil
	}
	hwm := *f.hwm
	return &hwm, nil
}

func (f *fakeStore) GetEditedSince(_ context.Context, _ int64) ([]database.EditedMessage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []database.EditedMessage
	for id, m := range f.messages {
		if m.EditTimestamp == nil {
			continue
		}
		a, ok := f.analyses[id]
		if !ok || m.EditTimestamp.After(a.AnalyzedAt) {
			out = append(out, database.EditedMessage{MessageID: id, EditTimestamp: *m.EditTimestamp})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].MessageID < out[j].MessageID })
	return out, nil
}

func (f *fakeStore) ReportRows(context.Context, int64, time.Time, time.Time, string, int) ([]database.ReportRow, error) {
	return nil, nil
}

func (f *fakeStore) RunSQLMaintenance(context.Context) error { return nil }

// fakeAnalyzer records every analyzed message. Tests that care about
// analysis timestamps set now.
type fakeAnalyzer struct {
	mu    sync.Mutex
	calls []int64
	err   error
	now   func() time.Time
}

func (f *fakeAnalyzer) Analyze(_ context.Context, msg source.Message) (analyzer.Analysis, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, msg.MessageID)
	if f.err != nil {
		return analyzer.Analysis{}, f.err
	}
	at := time.Now().UTC()
	if f.now != nil {
		at = f.now()
	}
	return analyzer.Analysis{
		ChatID:       msg.ChatID,
		MessageID:    msg.MessageID,
		ModelVersion: 1,
		AnalyzedAt:   at,
	}, nil
}

func newTestEngine(t *testing.T, src source.Source, store database.Store, cfg Config) (*Engine, *[]time.Duration) {
	t.Helper()
	cfg.ChatID = testChatID
	e := New(nil, cfg, src, store, &fakeAnalyzer{}, nil)
	var sleeps []time.Duration
	e.sleep = func(ctx context.Context, d time.Duration) error {
		sleeps = append(sleeps, d)
		return ctx.Err()
	}
	return e, &sleeps
}

func TestBackfillFromCheckpoint(t *testing.T) {
	t.Parallel()

	ids := make([]int64, 0, 237)
	for id := int64(1); id <= 237; id++ {
		ids = append(ids, id)
	}
	src := newFakeSource(ids...)
	store := newFakeStore()
	store.cp = &database.Checkpoint{ChatID: testChatID, LastMessageID: 50, LastTimestamp: msgAt(50).Timestamp}

	e, _ := newTestEngine(t, src, store, Config{BatchSize: 100})

	ctx := context.Background()
	mark, err := e.resolveLatestMark(ctx)
	if err != nil {
		t.Fatalf("resolveLatestMark: %v", err)
	}
	if mark.MessageID != 237 {
		t.Fatalf("mark = %d, want 237", mark.MessageID)
	}
	if store.hwm == nil || store.hwm.MessageID != 237 {
		t.Fatalf("high-water mark not persisted: %+v", store.hwm)
	}

	if err := e.backfill(ctx, mark); err != nil {
		t.Fatalf("backfill: %v", err)
	}

	if got := len(store.messages); got != 187 {
		t.Errorf("stored messages = %d, want 187", got)
	}
	for id := int64(51); id <= 237; id++ {
		if _, ok := store.messages[id]; !ok {
			t.Fatalf("message %d missing after backfill", id)
		}
	}
	if _, ok := store.messages[50]; ok {
		t.Error("message 50 re-ingested; range lower bound should be exclusive")
	}
	if store.cp.LastMessageID != 237 {
		t.Errorf("checkpoint = %d, want 237", store.cp.LastMessageID)
	}
	// Each fetch is clamped to one batch width, with the final window clamped
	// to the mark.
	wantRanges := [][2]int64{{50, 150}, {150, 237}}
	if len(src.rangeArgs) != len(wantRanges) {
		t.Fatalf("fetch ranges = %v, want %v", src.rangeArgs, wantRanges)
	}
	for i, want := range wantRanges {
		if src.rangeArgs[i] != want {
			t.Errorf("fetch range %d = %v, want %v", i, src.rangeArgs[i], want)
		}
	}
	snap := e.stats.snapshot()
	if snap.IngestedTotal != 187 || snap.AnalyzedTotal != 187 {
		t.Errorf("stats = %+v, want 187 ingested and analyzed", snap)
	}
}

func TestBackfillSkipsEmptyWindows(t *testing.T) {
	t.Parallel()

	// Everything between ids 2 and 300 was deleted upstream; the empty
	// windows in between must be stepped over batch by batch, not refetched.
	src := newFakeSource(1, 2, 300)
	store := newFakeStore()
	e, _ := newTestEngine(t, src, store, Config{BatchSize: 100})

	mark, err := e.resolveLatestMark(context.Background())
	if err != nil {
		t.Fatalf("resolveLatestMark: %v", err)
	}
	if err := e.backfill(context.Background(), mark); err != nil {
		t.Fatalf("backfill: %v", err)
	}

	wantRanges := [][2]int64{{0, 100}, {2, 102}, {102, 202}, {202, 300}}
	if len(src.rangeArgs) != len(wantRanges) {
		t.Fatalf("fetch ranges = %v, want %v", src.rangeArgs, wantRanges)
	}
	for i, want := range wantRanges {
		if src.rangeArgs[i] != want {
			t.Errorf("fetch range %d = %v, want %v", i, src.rangeArgs[i], want)
		}
	}
	if got := len(store.messages); got != 3 {
		t.Errorf("stored messages = %d, want 3", got)
	}
	if store.cp == nil || store.cp.LastMessageID != 300 {
		t.Errorf("checkpoint = %+v, want 300", store.cp)
	}
}

func TestBackfillCheckpointAdvancesPastFailures(t *testing.T) {
	t.Parallel()

	src := newFakeSource(1, 2, 3)
	store := newFakeStore()
	an := &fakeAnalyzer{err: errors.New("classifier down")}
	e := New(nil, Config{ChatID: testChatID, BatchSize: 100}, src, store, an, nil)
	e.sleep = func(ctx context.Context, _ time.Duration) error { return ctx.Err() }

	mark, err := e.resolveLatestMark(context.Background())
	if err != nil {
		t.Fatalf("resolveLatestMark: %v", err)
	}
	if err := e.backfill(context.Background(), mark); err != nil {
		t.Fatalf("backfill: %v", err)
	}

	// Failed messages are left to the re-scan; the checkpoint still tracks
	// the highest id observed so backfill cannot end below the mark.
	if store.cp == nil || store.cp.LastMessageID != 3 {
		t.Errorf("checkpoint = %+v, want 3", store.cp)
	}
	snap := e.stats.snapshot()
	if snap.AnalyzedTotal != 0 {
		t.Errorf("analyzed = %d, want 0", snap.AnalyzedTotal)
	}
	if snap.IngestedTotal != 3 {
		t.Errorf("ingested = %d, want 3", snap.IngestedTotal)
	}
}

func TestBackfillNoopWhenCaughtUp(t *testing.T) {
	t.Parallel()

	src := newFakeSource(1, 2, 3)
	store := newFakeStore()
	store.cp = &database.Checkpoint{ChatID: testChatID, LastMessageID: 3, LastTimestamp: msgAt(3).Timestamp}

	e, _ := newTestEngine(t, src, store, Config{BatchSize: 100})

	mark, err := e.resolveLatestMark(context.Background())
	if err != nil {
		t.Fatalf("resolveLatestMark: %v", err)
	}
	if err := e.backfill(context.Background(), mark); err != nil {
		t.Fatalf("backfill: %v", err)
	}

	if src.rangeCalls != 0 {
		t.Errorf("FetchRange called %d times, want 0", src.rangeCalls)
	}
	if snap := e.stats.snapshot(); snap.IngestedTotal != 0 {
		t.Errorf("ingested = %d, want 0", snap.IngestedTotal)
	}
}

func TestBackfillEmptyChat(t *testing.T) {
	t.Parallel()

	src := newFakeSource()
	store := newFakeStore()
	e, _ := newTestEngine(t, src, store, Config{})

	mark, err := e.resolveLatestMark(context.Background())
	if err != nil {
		t.Fatalf("resolveLatestMark: %v", err)
	}
	if err := e.backfill(context.Background(), mark); err != nil {
		t.Fatalf("backfill: %v", err)
	}
	if store.hwm == nil || store.hwm.MessageID != 0 {
		t.Errorf("sentinel mark not persisted for empty chat: %+v", store.hwm)
	}
	if mark.MessageID != 0 {
		t.Errorf("mark = %d, want sentinel 0", mark.MessageID)
	}
}

func TestBackfillRateLimitRecovery(t *testing.T) {
	t.Parallel()

	src := newFakeSource(1, 2, 3, 4, 5)
	src.rangeErrs = []error{&source.RateLimitedError{RetryAfter: 5 * time.Second}}
	store := newFakeStore()

	e, sleeps := newTestEngine(t, src, store, Config{BatchSize: 100})

	mark, err := e.resolveLatestMark(context.Background())
	if err != nil {
		t.Fatalf("resolveLatestMark: %v", err)
	}
	if err := e.backfill(context.Background(), mark); err != nil {
		t.Fatalf("backfill: %v", err)
	}

	found := false
	for _, d := range *sleeps {
		if d >= 5*time.Second {
			found = true
		}
	}
	if !found {
		t.Fatalf("no sleep >= 5s recorded, got %v", *sleeps)
	}
	if got := len(store.messages); got != 5 {
		t.Errorf("stored messages = %d, want 5 after retry", got)
	}
	snap := e.stats.snapshot()
	if snap.RateLimitWaitSecs < 5 {
		t.Errorf("rate limit wait = %vs, want >= 5", snap.RateLimitWaitSecs)
	}
}

func TestBackfillSkipsFailedWindow(t *testing.T) {
	t.Parallel()

	src := newFakeSource(1, 2, 3)
	src.rangeErrs = []error{errors.New("boom")}
	store := newFakeStore()

	e, sleeps := newTestEngine(t, src, store, Config{BatchSize: 2})

	mark, err := e.resolveLatestMark(context.Background())
	if err != nil {
		t.Fatalf("resolveLatestMark: %v", err)
	}
	if err := e.backfill(context.Background(), mark); err != nil {
		t.Fatalf("backfill: %v", err)
	}

	if len(*sleeps) == 0 {
		t.Fatal("expected a pause after the failed batch")
	}
	// Ids past the skipped window must still arrive.
	if _, ok := store.messages[3]; !ok {
		t.Error("message 3 missing; backfill should continue past a failed window")
	}
}

func TestCheckpointNeverRegresses(t *testing.T) {
	t.Parallel()

	store := newFakeStore()
	e, _ := newTestEngine(t, newFakeSource(), store, Config{})
	ctx := context.Background()

	if err := e.advanceCheckpoint(ctx, 100, msgAt(100).Timestamp); err != nil {
		t.Fatalf("advanceCheckpoint: %v", err)
	}
	if err := e.advanceCheckpoint(ctx, 40, msgAt(40).Timestamp); err != nil {
		t.Fatalf("advanceCheckpoint: %v", err)
	}
	if store.cp.LastMessageID != 100 {
		t.Errorf("checkpoint = %d, want 100", store.cp.LastMessageID)
	}
}

func TestLiveHandlers(t *testing.T) {
	t.Parallel()

	store := newFakeStore()
	e, _ := newTestEngine(t, newFakeSource(), store, Config{})
	ctx := context.Background()

	e.handleNewMessage(ctx, msgAt(10))
	if store.cp == nil || store.cp.LastMessageID != 10 {
		t.Fatalf("checkpoint after new message = %+v, want 10", store.cp)
	}

	edited := msgAt(7)
	editTS := baseTime.Add(time.Hour)
	edited.EditTimestamp = &editTS
	e.handleEditedMessage(ctx, edited)

	if store.cp.LastMessageID != 10 {
		t.Errorf("checkpoint moved by edit handler: %d", store.cp.LastMessageID)
	}
	if _, ok := store.messages[7]; !ok {
		t.Error("edited message not stored")
	}
	if _, ok := store.analyses[7]; !ok {
		t.Error("edited message not re-analyzed")
	}

	other := msgAt(99)
	other.ChatID = testChatID + 1
	e.handleNewMessage(ctx, other)
	if _, ok := store.messages[99]; ok {
		t.Error("message from another chat was ingested")
	}
}

func TestManualRescanLeavesCheckpoint(t *testing.T) {
	t.Parallel()

	src := newFakeSource(1, 2, 3, 4, 5)
	store := newFakeStore()
	store.cp = &database.Checkpoint{ChatID: testChatID, LastMessageID: 5, LastTimestamp: msgAt(5).Timestamp}

	e, _ := newTestEngine(t, src, store, Config{})

	start := baseTime
	end := baseTime.Add(time.Hour)
	if err := e.Rescan(context.Background(), start, end, 0); err != nil {
		t.Fatalf("Rescan: %v", err)
	}

	if got := len(store.messages); got != 5 {
		t.Errorf("stored messages = %d, want 5", got)
	}
	if store.cp.LastMessageID != 5 {
		t.Errorf("checkpoint = %d, want unchanged 5", store.cp.LastMessageID)
	}
}

func TestOverlapRescanRepairsStaleEdits(t *testing.T) {
	t.Parallel()

	src := newFakeSource(1, 2, 3)
	store := newFakeStore()
	clock := baseTime
	an := &fakeAnalyzer{now: func() time.Time { return clock }}
	e := New(nil, Config{ChatID: testChatID, OverlapWindow: 24 * time.Hour}, src, store, an, nil)
	e.sleep = func(ctx context.Context, _ time.Duration) error { return ctx.Err() }
	e.now = func() time.Time { return clock }
	ctx := context.Background()

	// Seed an analyzed message, then edit it upstream after its analysis.
	if err := e.processMessage(ctx, msgAt(2)); err != nil {
		t.Fatalf("processMessage: %v", err)
	}
	editTS := baseTime.Add(time.Hour)
	edited := msgAt(2)
	edited.Text = "corrected $BTC call"
	edited.EditTimestamp = &editTS
	src.mu.Lock()
	src.msgs[2] = edited
	src.mu.Unlock()
	if err := store.UpsertMessage(ctx, edited); err != nil {
		t.Fatalf("UpsertMessage: %v", err)
	}

	stale, err := store.GetEditedSince(ctx, testChatID)
	if err != nil {
		t.Fatalf("GetEditedSince: %v", err)
	}
	if len(stale) != 1 || stale[0].MessageID != 2 {
		t.Fatalf("stale edits = %+v, want message 2", stale)
	}

	// Advance the clock past the edit; the rescan re-analysis must clear it.
	clock = editTS.Add(time.Minute)
	if err := e.overlapRescan(ctx); err != nil {
		t.Fatalf("overlapRescan: %v", err)
	}

	stale, err = store.GetEditedSince(ctx, testChatID)
	if err != nil {
		t.Fatalf("GetEditedSince: %v", err)
	}
	if len(stale) != 0 {
		t.Errorf("stale edits after rescan = %+v, want none", stale)
	}
}

func TestRunLifecycle(t *testing.T) {
	t.Parallel()

	src := newFakeSource(1, 2, 3)
	store := newFakeStore()
	e := New(nil, Config{ChatID: testChatID, BatchSize: 100, OverlapWindow: time.Hour}, src, store, &fakeAnalyzer{}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- e.Run(ctx) }()

	deadline := time.After(5 * time.Second)
	for e.State() != StateLive {
		select {
		case <-deadline:
			t.Fatalf("engine never reached live state, state=%s", e.State())
		case err := <-done:
			t.Fatalf("Run exited early: %v", err)
		case <-time.After(10 * time.Millisecond):
		}
	}

	// Deliver a live message through the registered subscription.
	src.mu.Lock()
	onNew := src.onNew
	src.mu.Unlock()
	if onNew == nil {
		t.Fatal("engine did not subscribe")
	}
	onNew(ctx, msgAt(4))

	cancel()
	if err := <-done; err != nil {
		t.Fatalf("Run returned %v, want nil on cancellation", err)
	}
	if e.State() != StateStopped {
		t.Errorf("state = %s, want stopped", e.State())
	}
	if store.cp == nil || store.cp.LastMessageID != 4 {
		t.Errorf("checkpoint = %+v, want 4 after live message", store.cp)
	}
}

func TestStatsSnapshot(t *testing.T) {
	t.Parallel()

	store := newFakeStore()
	cpTS := baseTime
	store.cp = &database.Checkpoint{ChatID: testChatID, LastMessageID: 42, LastTimestamp: cpTS}

	e, _ := newTestEngine(t, newFakeSource(), store, Config{})
	e.now = func() time.Time { return cpTS.Add(90 * time.Second) }
	e.stats.addIngested(10)
	e.stats.addAnalyzed(8)
	e.stats.addRescan()
	e.stats.addRateLimitWait(2500 * time.Millisecond)

	snap, err := e.Stats(context.Background())
	if err != nil {
		t.Fatalf("Stats: %v", err)
	}
	if snap.IngestedTotal != 10 || snap.AnalyzedTotal != 8 || snap.OverlapRescansTotal != 1 {
		t.Errorf("counters = %+v", snap)
	}
	if snap.RateLimitWaitSecs != 2.5 {
		t.Errorf("rate limit wait = %v, want 2.5", snap.RateLimitWaitSecs)
	}
	if snap.CheckpointMessageID != 42 {
		t.Errorf("checkpoint id = %d, want 42", snap.CheckpointMessageID)
	}
	if snap.LagSeconds != 90 {
		t.Errorf("lag = %v, want 90", snap.LagSeconds)
	}
}

func TestStatsLagNeverNegative(t *testing.T) {
	t.Parallel()

	store := newFakeStore()
	cpTS := baseTime
	store.cp = &database.Checkpoint{ChatID: testChatID, LastMessageID: 42, LastTimestamp: cpTS}

	e, _ := newTestEngine(t, newFakeSource(), store, Config{})
	// Provider clock slightly ahead of ours.
	e.now = func() time.Time { return cpTS.Add(-30 * time.Second) }

	snap, err := e.Stats(context.Background())
	if err != nil {
		t.Fatalf("Stats: %v", err)
	}
	if snap.LagSeconds != 0 {
		t.Errorf("lag = %v, want clamped to 0", snap.LagSeconds)
	}
}

func TestStopTerminatesRun(t *testing.T) {
	t.Parallel()

	src := newFakeSource(1, 2)
	store := newFakeStore()
	e := New(nil, Config{ChatID: testChatID, OverlapWindow: time.Hour}, src, store, &fakeAnalyzer{}, nil)

	// Stop before Run is a no-op.
	e.Stop()

	done := make(chan error, 1)
	go func() { done <- e.Run(context.Background()) }()

	deadline := time.After(5 * time.Second)
	for e.State() != StateLive {
		select {
		case <-deadline:
			t.Fatalf("engine never reached live state, state=%s", e.State())
		case err := <-done:
			t.Fatalf("Run exited early: %v", err)
		case <-time.After(10 * time.Millisecond):
		}
	}

	e.Stop()
	if err := <-done; err != nil {
		t.Fatalf("Run returned %v, want nil after Stop", err)
	}
	if e.State() != StateStopped {
		t.Errorf("state = %s, want stopped", e.State())
	}
	e.Stop() // idempotent after shutdown
}
