package mock

import (
	"context"

	"metapin/goutils/datamodel"
)

type PinnerMock struct {
	PinMock        func(ctx context.Context, cid, name string, isImage bool) bool
	ConfirmPinMock func(ctx context.Context, cid string, force bool) bool
	ListPinsMock   func(ctx context.Context, status string, limit int) (*datamodel.PinListResponse, error)
	UnpinMock      func(ctx context.Context, requestID string) error
}

func (m PinnerMock) Pin(ctx context.Context, cid, name string, isImage bool) bool {
	return m.PinMock(ctx, cid, name, isImage)
}

func (m PinnerMock) ConfirmPin(ctx context.Context, cid string, force bool) bool {
	return m.ConfirmPinMock(ctx, cid, force)
}

func (m PinnerMock) ListPins(ctx context.Context, status string, limit int) (*datamodel.PinListResponse, error) {
	return m.ListPinsMock(ctx, status, limit)
}

func (m PinnerMock) Unpin(ctx context.Context, requestID string) error {
	return m.UnpinMock(ctx, requestID)
}
