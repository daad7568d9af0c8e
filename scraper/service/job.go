package service

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"metapin/goutils/datamodel"
)

// ProcessingJob is the per-invocation state for one (token, environment,
// schema) scrape. All progress, error and retry state lives here so multiple
// jobs can run concurrently in one process without cross-talk.
type ProcessingJob struct {
	RunID       string
	TokenID     string
	Environment string
	Schema      datamodel.Schema

	startedAt  time.Time
	finishedAt time.Time
	collection string

	mu          sync.Mutex
	completed   int64
	toProcess   int64
	actualTotal int64
	errs        map[string][]*datamodel.ErrorRecord
}

func newProcessingJob(req *datamodel.ScrapeRequest) *ProcessingJob {
	return &ProcessingJob{
		RunID:       uuid.New().String(),
		TokenID:     req.TokenID,
		Environment: req.Environment,
		Schema:      req.Schema,
		startedAt:   time.Now(),
		errs:        make(map[string][]*datamodel.ErrorRecord),
	}
}

func (j *ProcessingJob) addError(category string, record *datamodel.ErrorRecord) {
	j.mu.Lock()
	defer j.mu.Unlock()

	j.errs[category] = append(j.errs[category], record)
}

func (j *ProcessingJob) markCompleted() {
	j.mu.Lock()
	defer j.mu.Unlock()

	j.completed++
}

// setPredictedTotal derives the progress total once from the declared total
// supply minus already-known serials.
func (j *ProcessingJob) setPredictedTotal(total int64) {
	j.mu.Lock()
	defer j.mu.Unlock()

	if total < 0 {
		total = 0
	}

	j.toProcess = total
	j.actualTotal = total
}

// observeTotal revises the total upward only, when actual paging reveals
// more items than predicted.
func (j *ProcessingJob) observeTotal(seen int64) {
	j.mu.Lock()
	defer j.mu.Unlock()

	if seen > j.actualTotal {
		j.actualTotal = seen
	}
}

func (j *ProcessingJob) finish() {
	j.finishedAt = time.Now()
}

func (j *ProcessingJob) ErrorCount() int {
	j.mu.Lock()
	defer j.mu.Unlock()

	count := 0
	for _, records := range j.errs {
		count += len(records)
	}

	return count
}

// Errors returns a copy of the categorized error collection.
func (j *ProcessingJob) Errors() map[string][]*datamodel.ErrorRecord {
	j.mu.Lock()
	defer j.mu.Unlock()

	out := make(map[string][]*datamodel.ErrorRecord, len(j.errs))
	for category, records := range j.errs {
		out[category] = append([]*datamodel.ErrorRecord(nil), records...)
	}

	return out
}

// errorBreakdown returns the per-category error counts.
func (j *ProcessingJob) errorBreakdown() map[string]int {
	j.mu.Lock()
	defer j.mu.Unlock()

	breakdown := make(map[string]int, len(j.errs))
	for category, records := range j.errs {
		breakdown[category] = len(records)
	}

	return breakdown
}

func (j *ProcessingJob) snapshot() *datamodel.JobSnapshot {
	j.mu.Lock()
	defer j.mu.Unlock()

	errorCount := 0
	for _, records := range j.errs {
		errorCount += len(records)
	}

	return &datamodel.JobSnapshot{
		RunID:       j.RunID,
		TokenID:     j.TokenID,
		Environment: j.Environment,
		Schema:      j.Schema,
		Completed:   j.completed,
		ToProcess:   j.toProcess,
		ActualTotal: j.actualTotal,
		ErrorCount:  errorCount,
		StartedAt:   j.startedAt.Unix(),
		FinishedAt:  j.finishedAt.Unix(),
	}
}
