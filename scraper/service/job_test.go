package service

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"

	"metapin/goutils/datamodel"
)

func TestProcessingJobTotals(t *testing.T) {
	job := newProcessingJob(&datamodel.ScrapeRequest{
		TokenID:     "0.0.1234",
		Environment: "mainnet",
		Schema:      datamodel.SchemaV1,
	})

	assert.NotEmpty(t, job.RunID)

	job.setPredictedTotal(100)

	// the observed total only revises upward
	job.observeTotal(60)
	assert.EqualValues(t, 100, job.snapshot().ActualTotal)

	job.observeTotal(130)
	assert.EqualValues(t, 130, job.snapshot().ActualTotal)

	// predicted totals never go negative even when every serial is known
	job.setPredictedTotal(-5)
	assert.EqualValues(t, 0, job.snapshot().ToProcess)
}

func TestProcessingJobErrorAccounting(t *testing.T) {
	job := newProcessingJob(&datamodel.ScrapeRequest{TokenID: "0.0.1234", Schema: datamodel.SchemaV1})

	var wg sync.WaitGroup

	for i := 0; i < 25; i++ {
		wg.Add(1)

		go func(serial int64) {
			defer wg.Done()

			job.addError(datamodel.ErrCategoryFetchMetadata, &datamodel.ErrorRecord{SerialNumber: serial})
			job.markCompleted()
		}(int64(i))
	}

	wg.Wait()

	job.addError(datamodel.ErrCategoryPinImage, &datamodel.ErrorRecord{SerialNumber: 99})

	assert.Equal(t, 26, job.ErrorCount())
	assert.Equal(t, 26, job.snapshot().ErrorCount)
	assert.EqualValues(t, 25, job.snapshot().Completed)

	breakdown := job.errorBreakdown()
	assert.Equal(t, 25, breakdown[datamodel.ErrCategoryFetchMetadata])
	assert.Equal(t, 1, breakdown[datamodel.ErrCategoryPinImage])

	// Errors hands out a copy, mutating it leaves the job untouched
	errs := job.Errors()
	errs[datamodel.ErrCategoryFetchMetadata] = nil

	assert.Equal(t, 26, job.ErrorCount())
}
