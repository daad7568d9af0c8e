package mock

import (
	"context"

	"metapin/goutils/datamodel"
)

type RecordStoreMock struct {
	GetKnownSerialsMock    func(ctx context.Context, environment, tokenID string) ([]int64, error)
	BatchCreateRecordsMock func(ctx context.Context, records []*datamodel.NormalizedRecord) error
	CreateRecordMock       func(ctx context.Context, record *datamodel.NormalizedRecord) error
	UpdateRecordMock       func(ctx context.Context, record *datamodel.NormalizedRecord) error
	HasCIDRecordMock       func(ctx context.Context, cid string) (bool, error)
	PutCIDRecordMock       func(ctx context.Context, cid string) error
	PageCIDRecordsMock     func(ctx context.Context, cursor uint64, count int64) ([]string, uint64, error)
}

func (m RecordStoreMock) GetKnownSerials(ctx context.Context, environment, tokenID string) ([]int64, error) {
	return m.GetKnownSerialsMock(ctx, environment, tokenID)
}

func (m RecordStoreMock) BatchCreateRecords(ctx context.Context, records []*datamodel.NormalizedRecord) error {
	return m.BatchCreateRecordsMock(ctx, records)
}

func (m RecordStoreMock) CreateRecord(ctx context.Context, record *datamodel.NormalizedRecord) error {
	return m.CreateRecordMock(ctx, record)
}

func (m RecordStoreMock) UpdateRecord(ctx context.Context, record *datamodel.NormalizedRecord) error {
	return m.UpdateRecordMock(ctx, record)
}

func (m RecordStoreMock) HasCIDRecord(ctx context.Context, cid string) (bool, error) {
	return m.HasCIDRecordMock(ctx, cid)
}

func (m RecordStoreMock) PutCIDRecord(ctx context.Context, cid string) error {
	return m.PutCIDRecordMock(ctx, cid)
}

func (m RecordStoreMock) PageCIDRecords(ctx context.Context, cursor uint64, count int64) ([]string, uint64, error) {
	return m.PageCIDRecordsMock(ctx, cursor, count)
}
