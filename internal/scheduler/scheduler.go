// Package scheduler hands out crawl work per postal area, tracks
// progress through the NotStarted/Started/Finished state machine, and
// feeds capped results into the escalation queue.
package scheduler

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/camaradata/crawl-coordinator/internal/crawl"
	"github.com/camaradata/crawl-coordinator/internal/metrics"
	"github.com/camaradata/crawl-coordinator/internal/registry"
)

// DefaultLeaseTTL is how long a claimed area stays reserved before it
// may be handed to another worker. Lease expiry is the only recovery
// path for abandoned work, so workers must tolerate duplicate delivery.
const DefaultLeaseTTL = 10 * time.Minute

// Config controls Scheduler behavior.
type Config struct {
	LeaseTTL time.Duration
}

// Scheduler owns the claim/report/spawn operations over the registry.
type Scheduler struct {
	registry    *registry.Registry
	catalog     []crawl.Activity
	byCode      map[string]crawl.Activity
	store       crawl.AreaStore
	importer    crawl.CompanyImporter
	escalations crawl.EscalationSink
	notifier    crawl.Notifier
	archive     crawl.BatchArchive
	clock       crawl.Clock
	gate        *gate
	cfg         Config
	logger      *zap.Logger
}

// New constructs a Scheduler.
func New(
	reg *registry.Registry,
	catalog []crawl.Activity,
	store crawl.AreaStore,
	importer crawl.CompanyImporter,
	escalations crawl.EscalationSink,
	notifier crawl.Notifier,
	archive crawl.BatchArchive,
	clock crawl.Clock,
	cfg Config,
	logger *zap.Logger,
) *Scheduler {
	if cfg.LeaseTTL <= 0 {
		cfg.LeaseTTL = DefaultLeaseTTL
	}
	byCode := make(map[string]crawl.Activity, len(catalog))
	for _, act := range catalog {
		byCode[act.Code] = act
	}
	return &Scheduler{
		registry:    reg,
		catalog:     catalog,
		byCode:      byCode,
		store:       store,
		importer:    importer,
		escalations: escalations,
		notifier:    notifier,
		archive:     archive,
		clock:       clock,
		gate:        newGate(),
		cfg:         cfg,
		logger:      logger,
	}
}

// ClaimTasks picks the next pending area and returns its task batch:
// one whole-activity task per unfinished activity plus every registered
// fine-grained task. Areas whose batch is empty are re-evaluated for
// completion and skipped, one pass per area, so the walk is bounded.
// Claims are serialized through the dispatch gate.
func (s *Scheduler) ClaimTasks(ctx context.Context) ([]crawl.Task, error) {
	if err := s.gate.acquire(ctx); err != nil {
		return nil, err
	}
	defer s.gate.release()

	now := s.clock.Now()
	for _, area := range s.registry.Pending(now) {
		if !area.Claimable(now) {
			continue
		}
		batch := s.buildBatch(area)
		if len(batch) == 0 {
			s.manageAreaState(ctx, area, false)
			continue
		}

		displacedLease := !area.LeaseUntil().IsZero()
		area.MarkStarted(now.Add(s.cfg.LeaseTTL))
		s.persistState(ctx, area)
		if displacedLease {
			metrics.ObserveLeaseExpiry()
		}
		metrics.ObserveClaim(len(batch))
		s.logger.Info("area claimed",
			zap.String("area", area.Code()),
			zap.Int("tasks", len(batch)),
			zap.Time("lease_until", area.LeaseUntil()),
		)
		return batch, nil
	}
	return nil, crawl.ErrNoPendingWork
}

func (s *Scheduler) buildBatch(area *crawl.Area) []crawl.Task {
	var batch []crawl.Task
	for _, act := range area.RemainingActivities(s.catalog) {
		batch = append(batch, crawl.Task{
			AreaCode:     area.Code(),
			ActivityCode: act.Code,
			SearchText:   "",
			Difficulty:   crawl.DifficultyActivity,
		})
	}
	for _, task := range area.DifficultTasks() {
		batch = append(batch, crawl.Task{
			AreaCode:     area.Code(),
			ActivityCode: task.Activity.Code,
			SearchText:   task.SearchText,
			Difficulty:   task.Difficulty,
		})
	}
	return batch
}

// Report records one task result. A batch of exactly ResultCap
// companies is treated as capped and escalated by difficulty tier; any
// imported or empty batch marks the corresponding progress.
func (s *Scheduler) Report(
	ctx context.Context,
	areaCode, activityCode, searchText string,
	companies []crawl.Company,
) error {
	area := s.registry.ByCode(areaCode)
	if area == nil {
		return fmt.Errorf("postal area %s: %w", areaCode, crawl.ErrNotFound)
	}
	activity, ok := s.byCode[activityCode]
	if !ok {
		return fmt.Errorf("activity %s: %w", activityCode, crawl.ErrNotFound)
	}

	difficulty := crawl.DifficultyActivity
	if task, found := area.FindDifficult(activityCode, searchText); found {
		difficulty = task.Difficulty
	}

	if len(companies) == crawl.ResultCap {
		s.escalate(ctx, area, activity, searchText, difficulty)
	}
	metrics.ObserveResult(resultClass(len(companies)))

	if err := s.archive.ArchiveBatch(ctx, areaCode, activityCode, searchText, companies); err != nil {
		s.logger.Warn("batch archive failed",
			zap.String("area", areaCode), zap.Error(err))
	}

	imported, err := s.importer.ImportBatch(ctx, companies, area, activity)
	if err != nil {
		// The task stays pending and will be re-claimed after the lease
		// runs out.
		s.logger.Error("company import failed",
			zap.String("area", areaCode),
			zap.String("activity", activityCode),
			zap.Error(err))
		return nil
	}

	if len(companies) == 0 || imported {
		if difficulty > crawl.DifficultyActivity {
			s.finishDifficult(ctx, area, activity, searchText)
		} else {
			s.finishActivity(ctx, area, activity)
		}
	}
	return nil
}

func (s *Scheduler) escalate(
	ctx context.Context,
	area *crawl.Area,
	activity crawl.Activity,
	searchText string,
	difficulty int,
) {
	switch difficulty {
	case crawl.DifficultyActivity:
		s.escalations.Enqueue(crawl.EscalationRequest{
			Area: area, Activity: activity, SearchText: searchText,
		})
	case crawl.DifficultyLetters:
		s.escalations.Enqueue(crawl.EscalationRequest{
			Area: area, Activity: activity, SearchText: searchText,
			RefineBySameStreets: true,
		})
	case crawl.DifficultyStreet:
		// Deepest tier: nothing finer to subdivide into.
		s.logger.Warn("street-level task still capped",
			zap.String("area", area.Code()),
			zap.String("activity", activity.Code),
			zap.String("search_text", searchText))
		s.notifier.DeepTaskStillCapped(ctx, area.Code(), searchText)
	}
}

func (s *Scheduler) finishActivity(ctx context.Context, area *crawl.Area, activity crawl.Activity) {
	if area.AddFinishedActivity(activity) {
		s.persistState(ctx, area)
	}
	s.manageAreaState(ctx, area, false)
}

func (s *Scheduler) finishDifficult(ctx context.Context, area *crawl.Area, activity crawl.Activity, searchText string) {
	task, ok := area.RemoveDifficult(activity.Code, searchText)
	if !ok {
		return
	}
	if err := s.store.DeleteDifficultTask(ctx, task.ID); err != nil {
		s.logger.Error("remove difficult task failed",
			zap.String("area", area.Code()),
			zap.Int64("task_id", task.ID),
			zap.Error(err))
	}
	s.manageAreaState(ctx, area, true)
}

// manageAreaState runs the finish-check after every report: fully
// enumerated areas with no pending or outstanding refinement become
// Finished; areas whose only remaining work is fine-grained get their
// lease cleared (and a Finished state demoted) so the next claim drains
// them immediately. The lease reset is skipped right after a difficult
// completion, since that claimant is still working through its batch.
func (s *Scheduler) manageAreaState(ctx context.Context, area *crawl.Area, finishedDifficult bool) {
	remaining := area.RemainingActivities(s.catalog)
	switch {
	case len(remaining) == 0 &&
		area.DifficultCount() == 0 &&
		!s.escalations.HasPending(area.Code()):
		area.MarkFinished()
		s.persistState(ctx, area)
		metrics.ObserveAreaFinished()
		s.notifier.AreaFinished(ctx, area.Code())
		s.logger.Info("area finished", zap.String("area", area.Code()))

	case !finishedDifficult && len(remaining) == 0 && area.DifficultCount() > 0:
		demoted := area.ResetLease()
		s.persistState(ctx, area)
		if demoted {
			s.logger.Info("area demoted to drain difficult tasks",
				zap.String("area", area.Code()))
		}
	}
}

// SpawnRangeTasks registers one street-level task per activity and
// street number in [minNumber, maxNumber], marking every activity
// finished so the whole-activity pass does not re-run, and clears the
// lease so the area is immediately claimable.
func (s *Scheduler) SpawnRangeTasks(ctx context.Context, areaCode, street, minNumber, maxNumber string) error {
	area := s.registry.ByCode(areaCode)
	if area == nil {
		return fmt.Errorf("postal area %s: %w", areaCode, crawl.ErrNotFound)
	}
	if len(s.catalog) == 0 {
		return fmt.Errorf("%w: activity catalog is empty", crawl.ErrValidation)
	}
	if !digitsOnly.MatchString(minNumber) {
		return fmt.Errorf("%w: min number must be digits only", crawl.ErrValidation)
	}
	if !digitsOnly.MatchString(maxNumber) {
		return fmt.Errorf("%w: max number must be digits only", crawl.ErrValidation)
	}
	name := normalizeSearchText(street)
	if name == "" {
		return fmt.Errorf("%w: street name is empty after normalization", crawl.ErrValidation)
	}
	low, err := strconv.Atoi(minNumber)
	if err != nil {
		return fmt.Errorf("%w: min number out of range", crawl.ErrValidation)
	}
	high, err := strconv.Atoi(maxNumber)
	if err != nil {
		return fmt.Errorf("%w: max number out of range", crawl.ErrValidation)
	}

	created := 0
	for _, act := range s.catalog {
		area.AddFinishedActivity(act)
		for n := low; n <= high; n++ {
			text := fmt.Sprintf("%s %05d", name, n)
			if s.registerManualTask(ctx, area, act, text) {
				created++
			}
		}
	}
	area.ResetLease()
	s.persistState(ctx, area)
	s.logger.Info("street-number tasks spawned",
		zap.String("area", areaCode),
		zap.String("street", name),
		zap.Int("tasks", created))
	return nil
}

// SpawnKeywordTasks registers one street-level task per activity for a
// free-text keyword, with the same finished-activity and lease handling
// as SpawnRangeTasks.
func (s *Scheduler) SpawnKeywordTasks(ctx context.Context, areaCode, keyword string) error {
	area := s.registry.ByCode(areaCode)
	if area == nil {
		return fmt.Errorf("postal area %s: %w", areaCode, crawl.ErrNotFound)
	}
	if len(s.catalog) == 0 {
		return fmt.Errorf("%w: activity catalog is empty", crawl.ErrValidation)
	}
	text := normalizeSearchText(keyword)
	if text == "" {
		return fmt.Errorf("%w: keyword is empty after normalization", crawl.ErrValidation)
	}

	created := 0
	for _, act := range s.catalog {
		area.AddFinishedActivity(act)
		if s.registerManualTask(ctx, area, act, text) {
			created++
		}
	}
	area.ResetLease()
	s.persistState(ctx, area)
	s.logger.Info("keyword tasks spawned",
		zap.String("area", areaCode),
		zap.String("keyword", text),
		zap.Int("tasks", created))
	return nil
}

func (s *Scheduler) registerManualTask(ctx context.Context, area *crawl.Area, act crawl.Activity, text string) bool {
	if _, exists := area.FindDifficult(act.Code, text); exists {
		return false
	}
	task := crawl.DifficultTask{
		SearchText: text,
		Activity:   act,
		Difficulty: crawl.DifficultyStreet,
	}
	id, err := s.store.SaveDifficultTask(ctx, area.ID(), task)
	if err != nil {
		s.logger.Error("persist difficult task failed",
			zap.String("area", area.Code()),
			zap.String("search_text", text),
			zap.Error(err))
		return false
	}
	task.ID = id
	area.AppendDifficult(task)
	return true
}

// MissingAreas returns every postal code in the fixed universe absent
// from the registry.
func (s *Scheduler) MissingAreas() []string {
	return s.registry.MissingCodes()
}

// persistState mirrors the area to durable storage. Failures are logged
// only: memory stays authoritative for the process lifetime.
func (s *Scheduler) persistState(ctx context.Context, area *crawl.Area) {
	if err := s.store.SaveAreaState(ctx, area.Snapshot()); err != nil {
		s.logger.Error("persist area state failed",
			zap.String("area", area.Code()), zap.Error(err))
	}
}

func resultClass(n int) string {
	switch {
	case n == 0:
		return "empty"
	case n == crawl.ResultCap:
		return "capped"
	default:
		return "partial"
	}
}
