// Package escalation turns capped search results into finer-grained
// follow-up tasks through a single background consumer.
package escalation

import (
	"context"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/camaradata/crawl-coordinator/internal/crawl"
	"github.com/camaradata/crawl-coordinator/internal/metrics"
	"github.com/camaradata/crawl-coordinator/internal/partition"
)

const defaultPollInterval = 500 * time.Millisecond

// Config tunes the consumer loop.
//   - PollInterval: sleep between checks while the queue is empty
//     (default 500ms). Non-empty dequeues are processed back to back.
//   - AcceptPercent: partitioning acceptance threshold (default 30).
type Config struct {
	PollInterval  time.Duration
	AcceptPercent int
}

// Queue is the FIFO of escalation requests. Producers never block; a
// single consumer drains requests sequentially via Run.
type Queue struct {
	mu          sync.Mutex
	fifo        []crawl.EscalationRequest
	outstanding map[string]int

	streets crawl.StreetCatalog
	store   crawl.AreaStore
	cfg     Config
	logger  *zap.Logger
}

// New constructs a Queue.
func New(streets crawl.StreetCatalog, store crawl.AreaStore, logger *zap.Logger, cfg Config) *Queue {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = defaultPollInterval
	}
	if cfg.AcceptPercent <= 0 {
		cfg.AcceptPercent = partition.DefaultAcceptPercent
	}
	return &Queue{
		outstanding: make(map[string]int),
		streets:     streets,
		store:       store,
		cfg:         cfg,
		logger:      logger,
	}
}

// Enqueue appends a request. The request counts as outstanding for its
// area until the consumer has finished registering its follow-up tasks,
// which is what keeps the area out of the Finished state meanwhile.
func (q *Queue) Enqueue(req crawl.EscalationRequest) {
	q.mu.Lock()
	q.fifo = append(q.fifo, req)
	q.outstanding[req.Area.Code()]++
	depth := len(q.fifo)
	q.mu.Unlock()

	metrics.SetEscalationQueueDepth(depth)
	q.logger.Debug("escalation queued",
		zap.String("area", req.Area.Code()),
		zap.String("activity", req.Activity.Code),
		zap.String("search_text", req.SearchText),
		zap.Bool("refine_by_same_streets", req.RefineBySameStreets),
	)
}

// HasPending reports whether any request for the area is queued or
// still being processed.
func (q *Queue) HasPending(areaCode string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.outstanding[areaCode] > 0
}

func (q *Queue) dequeue() (crawl.EscalationRequest, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.fifo) == 0 {
		return crawl.EscalationRequest{}, false
	}
	req := q.fifo[0]
	q.fifo = q.fifo[1:]
	metrics.SetEscalationQueueDepth(len(q.fifo))
	return req, true
}

func (q *Queue) release(areaCode string) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.outstanding[areaCode] > 0 {
		q.outstanding[areaCode]--
	}
	if q.outstanding[areaCode] == 0 {
		delete(q.outstanding, areaCode)
	}
}

// Run consumes requests until the context finishes: process while the
// queue is non-empty, otherwise sleep one poll interval and recheck.
func (q *Queue) Run(ctx context.Context) {
	ticker := time.NewTicker(q.cfg.PollInterval)
	defer ticker.Stop()
	for {
		req, ok := q.dequeue()
		if !ok {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				continue
			}
		}
		q.process(ctx, req)
	}
}

func (q *Queue) process(ctx context.Context, req crawl.EscalationRequest) {
	defer q.release(req.Area.Code())

	if req.RefineBySameStreets {
		q.spawnStreetTasks(ctx, req)
		return
	}
	q.spawnLetterTasks(ctx, req)
}

// spawnLetterTasks runs the partitioner over the area's full street
// list and registers one letter-sequence task per produced term.
func (q *Queue) spawnLetterTasks(ctx context.Context, req crawl.EscalationRequest) {
	streets, err := q.streets.StreetsForArea(ctx, req.Area.Code())
	if err != nil {
		q.logger.Error("street lookup failed",
			zap.String("area", req.Area.Code()), zap.Error(err))
		return
	}

	terms := partition.Terms(streets, q.cfg.AcceptPercent)
	metrics.ObservePartitionRun(len(terms))
	if len(terms) == 0 {
		// No street data for this area: nothing discoverable this way.
		q.logger.Warn("partitioning produced no terms",
			zap.String("area", req.Area.Code()),
			zap.String("activity", req.Activity.Code))
		return
	}

	registered := 0
	for _, term := range terms {
		if term == req.SearchText {
			continue
		}
		if q.register(ctx, req.Area, crawl.DifficultTask{
			SearchText: term,
			Activity:   req.Activity,
			Difficulty: crawl.DifficultyLetters,
		}) {
			registered++
		}
	}
	metrics.ObserveEscalation("letters")
	q.logger.Info("capped query subdivided by letters",
		zap.String("area", req.Area.Code()),
		zap.String("activity", req.Activity.Code),
		zap.Int("tasks", registered),
	)
}

// spawnStreetTasks goes one level deeper: every stored street matching
// the capped letter sequence becomes its own task.
func (q *Queue) spawnStreetTasks(ctx context.Context, req crawl.EscalationRequest) {
	streets, err := q.streets.StreetsForAreaMatching(ctx, req.Area.Code(), req.SearchText)
	if err != nil {
		q.logger.Error("street lookup failed",
			zap.String("area", req.Area.Code()), zap.Error(err))
		return
	}

	registered := 0
	for _, street := range streets {
		if street == req.SearchText {
			continue
		}
		if len(strings.TrimSpace(street)) < 2 {
			continue
		}
		if q.register(ctx, req.Area, crawl.DifficultTask{
			SearchText: street,
			Activity:   req.Activity,
			Difficulty: crawl.DifficultyStreet,
		}) {
			registered++
		}
	}
	metrics.ObserveEscalation("streets")
	q.logger.Info("capped query subdivided by streets",
		zap.String("area", req.Area.Code()),
		zap.String("activity", req.Activity.Code),
		zap.String("search_text", req.SearchText),
		zap.Int("tasks", registered),
	)
}

// register persists one task and, on success, adds it to the owning
// area. Already-registered (activity, text) pairs are skipped, so a
// re-reported capped query cannot double its follow-ups. A persistence
// failure drops the task from the batch; it is not retried inline.
func (q *Queue) register(ctx context.Context, area *crawl.Area, task crawl.DifficultTask) bool {
	if _, exists := area.FindDifficult(task.Activity.Code, task.SearchText); exists {
		return false
	}
	id, err := q.store.SaveDifficultTask(ctx, area.ID(), task)
	if err != nil {
		q.logger.Error("persist difficult task failed",
			zap.String("area", area.Code()),
			zap.String("search_text", task.SearchText),
			zap.Error(err))
		return false
	}
	task.ID = id
	area.AppendDifficult(task)
	return true
}
