package scheduler

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/camaradata/crawl-coordinator/internal/crawl"
	"github.com/camaradata/crawl-coordinator/internal/registry"
	"github.com/camaradata/crawl-coordinator/internal/storage/memory"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type fakeImporter struct {
	mu       sync.Mutex
	imported bool
	err      error
	batches  [][]crawl.Company
}

func (f *fakeImporter) ImportBatch(_ context.Context, companies []crawl.Company, _ *crawl.Area, _ crawl.Activity) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.batches = append(f.batches, companies)
	return f.imported, f.err
}

type fakeSink struct {
	mu       sync.Mutex
	requests []crawl.EscalationRequest
	pending  map[string]bool
}

func (f *fakeSink) Enqueue(req crawl.EscalationRequest) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests = append(f.requests, req)
}

func (f *fakeSink) HasPending(areaCode string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.pending[areaCode]
}

func (f *fakeSink) all() []crawl.EscalationRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]crawl.EscalationRequest(nil), f.requests...)
}

type fakeNotifier struct {
	mu       sync.Mutex
	finished []string
	capped   []string
}

func (f *fakeNotifier) AreaFinished(_ context.Context, areaCode string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.finished = append(f.finished, areaCode)
}

func (f *fakeNotifier) DeepTaskStillCapped(_ context.Context, areaCode, searchText string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.capped = append(f.capped, areaCode+":"+searchText)
}

type fakeArchive struct {
	mu      sync.Mutex
	batches int
	err     error
}

func (f *fakeArchive) ArchiveBatch(_ context.Context, _, _, _ string, _ []crawl.Company) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.batches++
	return f.err
}

type fixture struct {
	scheduler *Scheduler
	registry  *registry.Registry
	store     *memory.AreaStore
	importer  *fakeImporter
	sink      *fakeSink
	notifier  *fakeNotifier
	archive   *fakeArchive
	clock     *fakeClock
	catalog   []crawl.Activity
}

func newFixture(t *testing.T, snaps ...crawl.AreaSnapshot) *fixture {
	t.Helper()

	store := memory.NewAreaStore(snaps...)
	loaded, err := store.LoadAll(context.Background())
	require.NoError(t, err)

	catalog := []crawl.Activity{
		{ID: 1, Code: "restaurants"},
		{ID: 2, Code: "bars"},
	}
	f := &fixture{
		registry: registry.New(loaded),
		store:    store,
		importer: &fakeImporter{imported: true},
		sink:     &fakeSink{pending: make(map[string]bool)},
		notifier: &fakeNotifier{},
		archive:  &fakeArchive{},
		clock:    &fakeClock{now: time.Unix(1700000000, 0)},
		catalog:  catalog,
	}
	f.scheduler = New(
		f.registry,
		catalog,
		f.store,
		f.importer,
		f.sink,
		f.notifier,
		f.archive,
		f.clock,
		Config{},
		zaptest.NewLogger(t),
	)
	return f
}

func TestClaimTasksReturnsActivityBatchAndLeases(t *testing.T) {
	t.Parallel()

	f := newFixture(t, crawl.AreaSnapshot{Code: "28001"})

	tasks, err := f.scheduler.ClaimTasks(context.Background())
	require.NoError(t, err)
	require.Len(t, tasks, 2)
	for _, task := range tasks {
		require.Equal(t, "28001", task.AreaCode)
		require.Empty(t, task.SearchText)
		require.Equal(t, crawl.DifficultyActivity, task.Difficulty)
	}

	area := f.registry.ByCode("28001")
	require.Equal(t, crawl.AreaStarted, area.State())
	require.Equal(t, f.clock.Now().Add(DefaultLeaseTTL), area.LeaseUntil())

	// The lease blocks a second claim until it expires.
	_, err = f.scheduler.ClaimTasks(context.Background())
	require.ErrorIs(t, err, crawl.ErrNoPendingWork)

	f.clock.advance(DefaultLeaseTTL + time.Minute)
	tasks, err = f.scheduler.ClaimTasks(context.Background())
	require.NoError(t, err)
	require.Len(t, tasks, 2)
}

func TestClaimTasksIncludesDifficultTasks(t *testing.T) {
	t.Parallel()

	f := newFixture(t, crawl.AreaSnapshot{
		Code:     "28001",
		State:    crawl.AreaStarted,
		Finished: []crawl.Activity{{ID: 1, Code: "restaurants"}},
		Difficult: []crawl.DifficultTask{{
			ID:         9,
			SearchText: "B",
			Activity:   crawl.Activity{ID: 2, Code: "bars"},
			Difficulty: crawl.DifficultyLetters,
		}},
	})

	tasks, err := f.scheduler.ClaimTasks(context.Background())
	require.NoError(t, err)
	require.Len(t, tasks, 2)

	var difficult *crawl.Task
	for i := range tasks {
		if tasks[i].SearchText != "" {
			difficult = &tasks[i]
		}
	}
	require.NotNil(t, difficult)
	require.Equal(t, "B", difficult.SearchText)
	require.Equal(t, crawl.DifficultyLetters, difficult.Difficulty)
}

func TestClaimTasksNoAreas(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	_, err := f.scheduler.ClaimTasks(context.Background())
	require.ErrorIs(t, err, crawl.ErrNoPendingWork)
}

func TestClaimTasksSerialized(t *testing.T) {
	t.Parallel()

	f := newFixture(t,
		crawl.AreaSnapshot{Code: "28001"},
		crawl.AreaSnapshot{Code: "28002"},
	)

	var wg sync.WaitGroup
	claimed := make(chan string, 2)
	for range 2 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			tasks, err := f.scheduler.ClaimTasks(context.Background())
			if err == nil && len(tasks) > 0 {
				claimed <- tasks[0].AreaCode
			}
		}()
	}
	wg.Wait()
	close(claimed)

	codes := make(map[string]bool)
	for code := range claimed {
		require.False(t, codes[code], "area %s claimed twice", code)
		codes[code] = true
	}
	require.Len(t, codes, 2)
}

func TestReportCappedActivityEscalates(t *testing.T) {
	t.Parallel()

	f := newFixture(t, crawl.AreaSnapshot{Code: "28001", State: crawl.AreaStarted})

	capped := make([]crawl.Company, crawl.ResultCap)
	for i := range capped {
		capped[i] = crawl.Company{Name: fmt.Sprintf("COMPANY %d", i)}
	}

	require.NoError(t, f.scheduler.Report(context.Background(), "28001", "restaurants", "", capped))

	reqs := f.sink.all()
	require.Len(t, reqs, 1)
	require.False(t, reqs[0].RefineBySameStreets)
	require.Equal(t, "restaurants", reqs[0].Activity.Code)

	// The imported capped batch still finishes the activity-level pass;
	// the remaining companies are reached through the escalated tasks.
	area := f.registry.ByCode("28001")
	require.True(t, area.HasFinishedActivity("restaurants"))
}

func TestReportCappedLetterTaskRefinesBySameStreets(t *testing.T) {
	t.Parallel()

	f := newFixture(t, crawl.AreaSnapshot{
		Code:  "28001",
		State: crawl.AreaStarted,
		Difficult: []crawl.DifficultTask{{
			ID:         9,
			SearchText: "MA",
			Activity:   crawl.Activity{ID: 1, Code: "restaurants"},
			Difficulty: crawl.DifficultyLetters,
		}},
	})

	capped := make([]crawl.Company, crawl.ResultCap)
	require.NoError(t, f.scheduler.Report(context.Background(), "28001", "restaurants", "MA", capped))

	reqs := f.sink.all()
	require.Len(t, reqs, 1)
	require.True(t, reqs[0].RefineBySameStreets)
	require.Equal(t, "MA", reqs[0].SearchText)
}

func TestReportCappedStreetTaskNotifies(t *testing.T) {
	t.Parallel()

	f := newFixture(t, crawl.AreaSnapshot{
		Code:  "28001",
		State: crawl.AreaStarted,
		Difficult: []crawl.DifficultTask{{
			ID:         9,
			SearchText: "GRAN VIA",
			Activity:   crawl.Activity{ID: 1, Code: "restaurants"},
			Difficulty: crawl.DifficultyStreet,
		}},
	})

	capped := make([]crawl.Company, crawl.ResultCap)
	require.NoError(t, f.scheduler.Report(context.Background(), "28001", "restaurants", "GRAN VIA", capped))

	require.Empty(t, f.sink.all())
	require.Equal(t, []string{"28001:GRAN VIA"}, f.notifier.capped)
}

func TestReportEmptyFinishesActivityAndArea(t *testing.T) {
	t.Parallel()

	f := newFixture(t, crawl.AreaSnapshot{
		Code:     "28001",
		State:    crawl.AreaStarted,
		Finished: []crawl.Activity{{ID: 2, Code: "bars"}},
	})

	require.NoError(t, f.scheduler.Report(context.Background(), "28001", "restaurants", "", nil))

	area := f.registry.ByCode("28001")
	require.Equal(t, crawl.AreaFinished, area.State())
	require.Equal(t, []string{"28001"}, f.notifier.finished)
}

func TestReportPendingEscalationBlocksFinish(t *testing.T) {
	t.Parallel()

	f := newFixture(t, crawl.AreaSnapshot{
		Code:     "28001",
		State:    crawl.AreaStarted,
		Finished: []crawl.Activity{{ID: 2, Code: "bars"}},
	})
	f.sink.pending["28001"] = true

	require.NoError(t, f.scheduler.Report(context.Background(), "28001", "restaurants", "", nil))

	area := f.registry.ByCode("28001")
	require.Equal(t, crawl.AreaStarted, area.State())
	require.Empty(t, f.notifier.finished)
}

func TestReportDifficultCompletionRemovesTask(t *testing.T) {
	t.Parallel()

	f := newFixture(t, crawl.AreaSnapshot{Code: "28001", State: crawl.AreaStarted})
	area := f.registry.ByCode("28001")

	id, err := f.store.SaveDifficultTask(context.Background(), area.ID(), crawl.DifficultTask{
		SearchText: "B",
		Activity:   crawl.Activity{ID: 1, Code: "restaurants"},
		Difficulty: crawl.DifficultyLetters,
	})
	require.NoError(t, err)
	area.AppendDifficult(crawl.DifficultTask{
		ID:         id,
		SearchText: "B",
		Activity:   crawl.Activity{ID: 1, Code: "restaurants"},
		Difficulty: crawl.DifficultyLetters,
	})

	require.NoError(t, f.scheduler.Report(context.Background(), "28001", "restaurants", "B",
		[]crawl.Company{{Name: "BAR MANOLO"}}))

	require.Zero(t, area.DifficultCount())
	require.ErrorIs(t, f.store.DeleteDifficultTask(context.Background(), id), crawl.ErrNotFound)
	// The whole-activity pass is separate progress and stays unfinished.
	require.False(t, area.HasFinishedActivity("restaurants"))
}

func TestReportDrainedDifficultClearsLease(t *testing.T) {
	t.Parallel()

	lease := time.Unix(1700000000, 0).Add(5 * time.Minute)
	f := newFixture(t, crawl.AreaSnapshot{
		Code:       "28001",
		State:      crawl.AreaStarted,
		LeaseUntil: lease,
		Finished: []crawl.Activity{
			{ID: 1, Code: "restaurants"},
		},
		Difficult: []crawl.DifficultTask{{
			ID:         9,
			SearchText: "B",
			Activity:   crawl.Activity{ID: 2, Code: "bars"},
			Difficulty: crawl.DifficultyLetters,
		}},
	})

	// Finishing the last whole activity while difficult work remains
	// clears the lease so the next claim drains the fine-grained tasks.
	require.NoError(t, f.scheduler.Report(context.Background(), "28001", "bars", "", nil))

	area := f.registry.ByCode("28001")
	require.Equal(t, crawl.AreaStarted, area.State())
	require.True(t, area.LeaseUntil().IsZero())
	require.Equal(t, 1, area.DifficultCount())
}

func TestReportImportErrorKeepsTaskPending(t *testing.T) {
	t.Parallel()

	f := newFixture(t, crawl.AreaSnapshot{Code: "28001", State: crawl.AreaStarted})
	f.importer.err = fmt.Errorf("flush failed")

	require.NoError(t, f.scheduler.Report(context.Background(), "28001", "restaurants", "",
		[]crawl.Company{{Name: "BAR MANOLO"}}))

	area := f.registry.ByCode("28001")
	require.False(t, area.HasFinishedActivity("restaurants"))
}

func TestReportUnknownAreaOrActivity(t *testing.T) {
	t.Parallel()

	f := newFixture(t, crawl.AreaSnapshot{Code: "28001"})

	err := f.scheduler.Report(context.Background(), "99999", "restaurants", "", nil)
	require.ErrorIs(t, err, crawl.ErrNotFound)

	err = f.scheduler.Report(context.Background(), "28001", "florists", "", nil)
	require.ErrorIs(t, err, crawl.ErrNotFound)
}

func TestSpawnRangeTasks(t *testing.T) {
	t.Parallel()

	f := newFixture(t, crawl.AreaSnapshot{Code: "28001", State: crawl.AreaStarted})

	require.NoError(t, f.scheduler.SpawnRangeTasks(context.Background(), "28001", "gran vía", "1", "3"))

	area := f.registry.ByCode("28001")
	require.True(t, area.HasFinishedActivity("restaurants"))
	require.True(t, area.HasFinishedActivity("bars"))
	require.True(t, area.LeaseUntil().IsZero())

	// One task per activity per number in the range.
	require.Equal(t, 6, area.DifficultCount())
	perActivity := make(map[string][]string)
	for _, task := range area.DifficultTasks() {
		require.Equal(t, crawl.DifficultyStreet, task.Difficulty)
		perActivity[task.Activity.Code] = append(perActivity[task.Activity.Code], task.SearchText)
	}
	for _, code := range []string{"restaurants", "bars"} {
		require.ElementsMatch(t,
			[]string{"GRAN VÍA 00001", "GRAN VÍA 00002", "GRAN VÍA 00003"},
			perActivity[code])
	}

	// Re-spawning the same range registers nothing new.
	require.NoError(t, f.scheduler.SpawnRangeTasks(context.Background(), "28001", "gran vía", "1", "3"))
	require.Equal(t, 6, area.DifficultCount())
}

func TestSpawnRangeTasksValidation(t *testing.T) {
	t.Parallel()

	f := newFixture(t, crawl.AreaSnapshot{Code: "28001"})

	err := f.scheduler.SpawnRangeTasks(context.Background(), "99999", "gran via", "1", "3")
	require.ErrorIs(t, err, crawl.ErrNotFound)

	err = f.scheduler.SpawnRangeTasks(context.Background(), "28001", "gran via", "one", "3")
	require.ErrorIs(t, err, crawl.ErrValidation)

	err = f.scheduler.SpawnRangeTasks(context.Background(), "28001", "@@@", "1", "3")
	require.ErrorIs(t, err, crawl.ErrValidation)

	// Digits-only but too large for an int.
	err = f.scheduler.SpawnRangeTasks(context.Background(), "28001", "gran via", "1", "99999999999999999999")
	require.ErrorIs(t, err, crawl.ErrValidation)
}

func TestSpawnKeywordTasksNormalizes(t *testing.T) {
	t.Parallel()

	f := newFixture(t, crawl.AreaSnapshot{Code: "28001"})

	require.NoError(t, f.scheduler.SpawnKeywordTasks(context.Background(), "28001", "  plaza mayor@@ "))

	area := f.registry.ByCode("28001")
	require.True(t, area.HasDifficultText("PLAZA MAYOR"))

	// Every catalog activity gets its own task for the keyword.
	require.Equal(t, 2, area.DifficultCount())
	_, ok := area.FindDifficult("restaurants", "PLAZA MAYOR")
	require.True(t, ok)
	_, ok = area.FindDifficult("bars", "PLAZA MAYOR")
	require.True(t, ok)
}

func TestMissingAreas(t *testing.T) {
	t.Parallel()

	f := newFixture(t, crawl.AreaSnapshot{Code: "00001"})
	missing := f.scheduler.MissingAreas()
	require.NotContains(t, missing, "00001")
	require.Equal(t, "00002", missing[0])
}

func TestNormalizeSearchText(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in   string
		want string
	}{
		{"gran vía", "GRAN VÍA"},
		{"  plaza   mayor  ", "PLAZA MAYOR"},
		{"c/ alcalá, 23", "C ALCALÁ"},
		{"ñuñez de balboa", "ÑUÑEZ DE BALBOA"},
		{"@@@", ""},
	}
	for _, tc := range tests {
		t.Run(tc.in, func(t *testing.T) {
			t.Parallel()
			require.Equal(t, tc.want, normalizeSearchText(tc.in))
		})
	}
}

func TestGateCancellation(t *testing.T) {
	t.Parallel()

	g := newGate()
	require.NoError(t, g.acquire(context.Background()))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := g.acquire(ctx)
	require.Error(t, err)
	require.True(t, strings.Contains(err.Error(), "claim canceled"))

	g.release()
	require.NoError(t, g.acquire(context.Background()))
	g.release()
}
