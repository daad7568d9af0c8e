package caching

import (
	"context"
	"errors"

	"metapin/goutils/datamodel"
)

// RecordStore is the contract against the external database holding
// normalized records and pinned-CID records. The store is the source of
// truth, in-memory caches may be stale and must tolerate that.
type RecordStore interface {
	GetKnownSerials(ctx context.Context, environment, tokenID string) ([]int64, error)
	BatchCreateRecords(ctx context.Context, records []*datamodel.NormalizedRecord) error
	CreateRecord(ctx context.Context, record *datamodel.NormalizedRecord) error
	UpdateRecord(ctx context.Context, record *datamodel.NormalizedRecord) error
	HasCIDRecord(ctx context.Context, cid string) (bool, error)
	PutCIDRecord(ctx context.Context, cid string) error
	// PageCIDRecords walks the stored CID records in fixed-size pages.
	// cursor 0 starts a walk, a returned cursor of 0 ends it.
	PageCIDRecords(ctx context.Context, cursor uint64, count int64) ([]string, uint64, error)
}

// DiskCache is responsible for data caching in local disk
type DiskCache interface {
	Read(filepath string) ([]byte, error)
	Write(filepath string, data []byte) error
}

var (
	ErrGettingSerials   = errors.New("error getting known serials")
	ErrBatchWriteFailed = errors.New("error batch writing records")
)
