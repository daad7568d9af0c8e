package mirrornode

import (
	"context"
	"fmt"
	"net/url"

	log "github.com/sirupsen/logrus"
	"github.com/swagftw/gi"

	"metapin/goutils/datamodel"
	"metapin/goutils/fetcher"
	"metapin/goutils/settings"
)

// Service is the paginated fetch contract against the upstream ledger
// record source.
type Service interface {
	GetTokenInfo(ctx context.Context, tokenID string) (*datamodel.TokenInfo, error)
	GetSerialsPage(ctx context.Context, tokenID, pageToken string) (*datamodel.SerialsPage, error)
}

// MirrorNodeClient reads token details and serial pages from the ledger's
// mirror REST API through the retrying fetcher. Pagination-fetch failure is
// fatal to the invocation, no records can be discovered without it.
type MirrorNodeClient struct {
	settingsObj *settings.SettingsObj
	fetcher     *fetcher.Fetcher
}

var _ Service = (*MirrorNodeClient)(nil)

func InitMirrorNodeClient(settingsObj *settings.SettingsObj, f *fetcher.Fetcher) *MirrorNodeClient {
	client := &MirrorNodeClient{
		settingsObj: settingsObj,
		fetcher:     f,
	}

	if err := gi.Inject(client); err != nil {
		log.Fatal("failed to inject mirror node client", err)
	}

	return client
}

func (m *MirrorNodeClient) GetTokenInfo(ctx context.Context, tokenID string) (*datamodel.TokenInfo, error) {
	reqURL := fmt.Sprintf("%s/tokens/%s", m.settingsObj.MirrorNode.BaseURL, url.PathEscape(tokenID))

	tokenInfo := new(datamodel.TokenInfo)

	err := m.fetcher.FetchJSON(ctx, reqURL, m.settingsObj.Fetch.MaxDepth, tokenInfo)
	if err != nil {
		log.WithError(err).WithField("tokenId", tokenID).Error("failed to fetch token details from mirror node")

		return nil, err
	}

	return tokenInfo, nil
}

func (m *MirrorNodeClient) GetSerialsPage(ctx context.Context, tokenID, pageToken string) (*datamodel.SerialsPage, error) {
	reqURL := fmt.Sprintf("%s/tokens/%s/nfts?limit=%d",
		m.settingsObj.MirrorNode.BaseURL, url.PathEscape(tokenID), m.settingsObj.MirrorNode.PageSize)

	if pageToken != "" {
		reqURL += "&page_token=" + url.QueryEscape(pageToken)
	}

	page := new(datamodel.SerialsPage)

	err := m.fetcher.FetchJSON(ctx, reqURL, m.settingsObj.Fetch.MaxDepth, page)
	if err != nil {
		log.WithError(err).WithField("tokenId", tokenID).Error("failed to fetch serials page from mirror node")

		return nil, err
	}

	return page, nil
}
