package service

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/cenkalti/backoff/v4"
	"github.com/hashicorp/go-multierror"
	"github.com/remeh/sizedwaitgroup"
	log "github.com/sirupsen/logrus"
	"github.com/swagftw/gi"

	"metapin/caching"
	"metapin/goutils/contentref"
	"metapin/goutils/datamodel"
	"metapin/goutils/fetcher"
	"metapin/goutils/ipfsutils"
	"metapin/goutils/mirrornode"
	"metapin/goutils/pinning"
	"metapin/goutils/reporting"
	"metapin/goutils/settings"
)

type Service interface {
	Run(msgBody []byte, topic string) error
	ScrapeToken(ctx context.Context, req *datamodel.ScrapeRequest) (*JobReport, error)
}

// JobReport is what a finished invocation surfaces: progress counts plus the
// full categorized error detail set. Silent partial success is not
// acceptable.
type JobReport struct {
	Snapshot *datamodel.JobSnapshot
	Errors   map[string][]*datamodel.ErrorRecord
}

// ScraperService coordinates the metadata resolution and pinning pipeline:
// ledger pagination, bounded fan-out per page, categorized error capture and
// final persistence of normalized records.
type ScraperService struct {
	settingsObj *settings.SettingsObj
	recordStore caching.RecordStore
	cidCache    *caching.CIDExistenceCache
	diskCache   caching.DiskCache
	fetcher     *fetcher.Fetcher
	pinner      pinning.Service
	mirrorNode  mirrornode.Service
	reporter    reporting.Service
	ipfsClient  *ipfsutils.IpfsClient
}

var _ Service = (*ScraperService)(nil)

// InitScraperService initializes the scraper service. The local IPFS client
// is an optional capability and stays nil when no node is configured.
func InitScraperService(reporter reporting.Service, ipfsClient *ipfsutils.IpfsClient) *ScraperService {
	settingsObj, err := gi.Invoke[*settings.SettingsObj]()
	if err != nil {
		log.WithError(err).Fatal("failed to invoke settings object")
	}

	recordStore, err := gi.Invoke[*caching.RedisRecordStore]()
	if err != nil {
		log.WithError(err).Fatal("failed to invoke redis record store")
	}

	cidCache, err := gi.Invoke[*caching.CIDExistenceCache]()
	if err != nil {
		log.WithError(err).Fatal("failed to invoke cid existence cache")
	}

	diskCache, err := gi.Invoke[*caching.LocalDiskCache]()
	if err != nil {
		log.WithError(err).Fatal("failed to invoke disk cache")
	}

	contentFetcher, err := gi.Invoke[*fetcher.Fetcher]()
	if err != nil {
		log.WithError(err).Fatal("failed to invoke fetcher")
	}

	pinningClient, err := gi.Invoke[*pinning.PinningClient]()
	if err != nil {
		log.WithError(err).Fatal("failed to invoke pinning client")
	}

	mirrorClient, err := gi.Invoke[*mirrornode.MirrorNodeClient]()
	if err != nil {
		log.WithError(err).Fatal("failed to invoke mirror node client")
	}

	scraperService := &ScraperService{
		settingsObj: settingsObj,
		recordStore: recordStore,
		cidCache:    cidCache,
		diskCache:   diskCache,
		fetcher:     contentFetcher,
		pinner:      pinningClient,
		mirrorNode:  mirrorClient,
		reporter:    reporter,
		ipfsClient:  ipfsClient,
	}

	if err := gi.Inject(scraperService); err != nil {
		log.WithError(err).Fatal("failed to inject scraper service")
	}

	return scraperService
}

// Run handles one queued scrape task.
func (s *ScraperService) Run(msgBody []byte, topic string) error {
	req := new(datamodel.ScrapeRequest)

	err := json.Unmarshal(msgBody, req)
	if err != nil {
		log.WithError(err).Error("failed to unmarshal scrape request")

		return err
	}

	_, err = s.ScrapeToken(context.Background(), req)

	return err
}

// ScrapeToken walks the token's ledger records page by page, resolving,
// fetching and pinning each serial's metadata. Only failure of the ledger
// pagination itself is fatal, per-serial failures accumulate into the job's
// categorized error collection.
func (s *ScraperService) ScrapeToken(ctx context.Context, req *datamodel.ScrapeRequest) (*JobReport, error) {
	if err := datamodel.ValidateSchema(req.Schema); err != nil {
		return nil, err
	}

	job := newProcessingJob(req)

	log.WithField("tokenId", job.TokenID).
		WithField("runId", job.RunID).
		WithField("environment", job.Environment).
		Info("starting scrape job")

	if _, err := s.cidCache.Preload(ctx); err != nil {
		log.WithError(err).Warn("cid cache preload failed, continuing with remote existence checks")
	}

	skip := s.loadSkipList(ctx, job)

	if tokenInfo, err := s.mirrorNode.GetTokenInfo(ctx, job.TokenID); err != nil {
		log.WithError(err).Warn("token details lookup failed, progress total will be derived from paging")
	} else {
		job.collection = tokenInfo.Name
		job.setPredictedTotal(tokenInfo.TotalSupply - int64(len(skip)))
	}

	seen := int64(len(skip))
	pageToken := ""

	for {
		page, err := s.mirrorNode.GetSerialsPage(ctx, job.TokenID, pageToken)
		if err != nil {
			// no records can be discovered without the outer paging
			// call, this is fatal to the invocation
			job.finish()

			return s.finalize(job), err
		}

		records := s.processPage(ctx, job, page.Items, skip)

		seen += int64(len(page.Items))
		job.observeTotal(seen)

		s.persistBatch(ctx, job, records)

		snap := job.snapshot()
		log.WithField("runId", job.RunID).
			WithField("completed", snap.Completed).
			WithField("toProcess", snap.ToProcess).
			WithField("actualTotal", snap.ActualTotal).
			Info("page settled")

		if page.NextPageToken == "" {
			break
		}

		pageToken = page.NextPageToken
	}

	job.finish()

	report := s.finalize(job)

	if errCount := job.ErrorCount(); errCount > 0 {
		s.reporter.Report(reporting.ScrapeInternalIssue, job.TokenID, job.RunID, map[string]interface{}{
			"errorCount": errCount,
			"breakdown":  job.errorBreakdown(),
		})
	}

	return report, nil
}

// processPage fans out per-serial work at bounded concurrency and waits for
// the page to settle. Pages are strictly sequential, completion order within
// a page is unordered.
func (s *ScraperService) processPage(ctx context.Context, job *ProcessingJob, items []*datamodel.LedgerRecord, skip map[int64]struct{}) []*datamodel.NormalizedRecord {
	records := make([]*datamodel.NormalizedRecord, 0, len(items))
	recordsMu := sync.Mutex{}

	swg := sizedwaitgroup.New(s.settingsObj.Concurrency)

	for _, item := range items {
		if item.Deleted {
			continue
		}

		if _, known := skip[item.SerialNumber]; known {
			continue
		}

		swg.Add()

		go func(item *datamodel.LedgerRecord) {
			defer swg.Done()

			defer func() {
				if r := recover(); r != nil {
					log.Errorf("panic while processing serial %d: %v", item.SerialNumber, r)

					job.addError(datamodel.ErrCategoryOther, &datamodel.ErrorRecord{
						SerialNumber: item.SerialNumber,
						Message:      fmt.Sprintf("panic: %v", r),
					})
				}
			}()

			if record := s.processSerial(ctx, job, item); record != nil {
				recordsMu.Lock()
				records = append(records, record)
				recordsMu.Unlock()
			}
		}(item)
	}

	swg.Wait()

	return records
}

// processSerial is the per-serial unit: decode the embedded metadata
// reference, fetch its JSON, pin the metadata and image identifiers, build
// the normalized record. Every failure is categorized here, never allowed to
// abort the batch.
func (s *ScraperService) processSerial(ctx context.Context, job *ProcessingJob, item *datamodel.LedgerRecord) *datamodel.NormalizedRecord {
	refBytes, err := base64.StdEncoding.DecodeString(item.Metadata)
	if err != nil {
		job.addError(datamodel.ErrCategoryInvalidCID, &datamodel.ErrorRecord{
			SerialNumber: item.SerialNumber,
			Message:      "malformed base64 metadata pointer: " + err.Error(),
		})

		return nil
	}

	rawRef := strings.TrimSpace(string(refBytes))
	if rawRef == "" {
		job.addError(datamodel.ErrCategoryFetchMetadata, &datamodel.ErrorRecord{
			SerialNumber: item.SerialNumber,
			Message:      "empty metadata reference",
		})

		return nil
	}

	body, err := s.fetcher.FetchContentJSON(ctx, rawRef, s.settingsObj.Fetch.MaxDepth, item.SerialNumber)
	if err != nil {
		category := datamodel.ErrCategoryFetchMetadata

		switch {
		case errors.Is(err, fetcher.ErrGatewayTimeout):
			category = datamodel.ErrCategoryGatewayTimeout
		case errors.Is(err, fetcher.ErrInvalidReference):
			category = datamodel.ErrCategoryInvalidCID
		}

		job.addError(category, &datamodel.ErrorRecord{
			SerialNumber: item.SerialNumber,
			Identifier:   rawRef,
			RetryCount:   s.settingsObj.Fetch.MaxDepth,
			Message:      err.Error(),
		})

		return nil
	}

	meta := new(datamodel.TokenMetadata)
	if err = json.Unmarshal(body, meta); err != nil {
		log.WithField("serial", item.SerialNumber).Debug("metadata document is not an object, keeping raw json only")
	}

	record := &datamodel.NormalizedRecord{
		TokenID:           job.TokenID,
		SerialNumber:      item.SerialNumber,
		MetadataReference: rawRef,
		RawMetadataJSON:   body,
		ImageReference:    meta.Image,
		Attributes:        meta.Attributes,
		Name:              meta.Name,
		Collection:        job.collection,
		Environment:       job.Environment,
		Schema:            job.Schema,
	}

	if ref := contentref.Resolve(rawRef); ref != nil && s.pinnableIdentifier(ref.Identifier) {
		record.MetadataCID = ref.Identifier

		s.pinIdentifier(ctx, job, item.SerialNumber, ref.Identifier, record.UID()+"-metadata", false)
	}

	if meta.Image != "" {
		if imageRef := contentref.Resolve(meta.Image); imageRef != nil && s.pinnableIdentifier(imageRef.Identifier) {
			s.pinIdentifier(ctx, job, item.SerialNumber, imageRef.Identifier, record.UID()+"-image", true)
		}
	}

	job.markCompleted()

	return record
}

// pinIdentifier pins one identifier, skipping the call when the cache
// already knows it present, and tallying failures into the job.
func (s *ScraperService) pinIdentifier(ctx context.Context, job *ProcessingJob, serial int64, identifier, name string, isImage bool) {
	if s.cidCache.Has(ctx, identifier) {
		return
	}

	if !s.pinner.Pin(ctx, identifier, name, isImage) {
		category := datamodel.ErrCategoryPinMetadata
		if isImage {
			category = datamodel.ErrCategoryPinImage
		}

		job.addError(category, &datamodel.ErrorRecord{
			SerialNumber: serial,
			Identifier:   identifier,
			Message:      "pin request rejected or failed after live-check",
		})

		return
	}

	// optionally keep a copy pinned on the self-hosted node
	if s.ipfsClient != nil && contentref.IsValidCID(identifier) {
		if err := s.ipfsClient.PinCid(ctx, identifier); err != nil {
			log.WithError(err).WithField("cid", identifier).Warn("local ipfs node pin failed")
		}
	}
}

func (s *ScraperService) pinnableIdentifier(identifier string) bool {
	return contentref.IsValidCID(identifier) || contentref.IsArweaveID(identifier)
}

// persistBatch writes one page's records, degrading to one-by-one writes for
// that batch only when the batch write keeps failing.
func (s *ScraperService) persistBatch(ctx context.Context, job *ProcessingJob, records []*datamodel.NormalizedRecord) {
	if len(records) == 0 {
		return
	}

	err := backoff.Retry(func() error {
		return s.recordStore.BatchCreateRecords(ctx, records)
	}, backoff.WithMaxRetries(backoff.NewExponentialBackOff(), uint64(s.settingsObj.RetryCount)))

	if err == nil {
		return
	}

	log.WithError(err).Warnf("batch write of %d records failed, falling back to individual writes", len(records))

	var result *multierror.Error

	for _, record := range records {
		if err := s.recordStore.CreateRecord(ctx, record); err != nil {
			result = multierror.Append(result, err)

			job.addError(datamodel.ErrCategoryDatabaseWrite, &datamodel.ErrorRecord{
				SerialNumber: record.SerialNumber,
				Identifier:   record.UID(),
				Message:      err.Error(),
			})
		}
	}

	if err := result.ErrorOrNil(); err != nil {
		log.WithError(err).Error("individual write fallback left permanent failures")
	}
}

// loadSkipList loads the serials already persisted for this token. Failure
// degrades to an empty skip list, redundant work is safe.
func (s *ScraperService) loadSkipList(ctx context.Context, job *ProcessingJob) map[int64]struct{} {
	known, err := s.recordStore.GetKnownSerials(ctx, job.Environment, job.TokenID)
	if err != nil {
		log.WithError(err).Warn("failed to load known serials, processing the full collection")

		return map[int64]struct{}{}
	}

	skip := make(map[int64]struct{}, len(known))
	for _, serial := range known {
		skip[serial] = struct{}{}
	}

	return skip
}

// finalize emits final stats and writes the error export and progress
// snapshot to the local cache path.
func (s *ScraperService) finalize(job *ProcessingJob) *JobReport {
	report := &JobReport{
		Snapshot: job.snapshot(),
		Errors:   job.Errors(),
	}

	log.WithField("runId", job.RunID).
		WithField("completed", report.Snapshot.Completed).
		WithField("errors", report.Snapshot.ErrorCount).
		WithField("breakdown", job.errorBreakdown()).
		Info("scrape job finished")

	if data, err := json.Marshal(report.Snapshot); err == nil {
		path := fmt.Sprintf("%s/job-%s-%s.json", s.settingsObj.LocalCachePath, job.Environment, job.TokenID)
		if err = s.diskCache.Write(path, data); err != nil {
			log.WithError(err).Warn("failed to write job snapshot")
		}
	}

	if report.Snapshot.ErrorCount == 0 {
		return report
	}

	// full error detail set, exported for later offline retry
	if data, err := json.Marshal(report.Errors); err == nil {
		path := fmt.Sprintf("%s/errors-%s-%s.json", s.settingsObj.LocalCachePath, job.TokenID, job.RunID)
		if err = s.diskCache.Write(path, data); err != nil {
			log.WithError(err).Warn("failed to export error details")
		}
	}

	return report
}
