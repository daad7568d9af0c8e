package mock

import (
	"context"

	"metapin/goutils/datamodel"
)

type MirrorNodeMock struct {
	GetTokenInfoMock   func(ctx context.Context, tokenID string) (*datamodel.TokenInfo, error)
	GetSerialsPageMock func(ctx context.Context, tokenID, pageToken string) (*datamodel.SerialsPage, error)
}

func (m MirrorNodeMock) GetTokenInfo(ctx context.Context, tokenID string) (*datamodel.TokenInfo, error) {
	return m.GetTokenInfoMock(ctx, tokenID)
}

func (m MirrorNodeMock) GetSerialsPage(ctx context.Context, tokenID, pageToken string) (*datamodel.SerialsPage, error) {
	return m.GetSerialsPageMock(ctx, tokenID, pageToken)
}
