package pinning

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strconv"

	"github.com/hashicorp/go-retryablehttp"
	"github.com/ipfs/go-cid"
	log "github.com/sirupsen/logrus"
	"github.com/swagftw/gi"
	"golang.org/x/time/rate"

	"metapin/caching"
	"metapin/goutils/contentref"
	"metapin/goutils/datamodel"
	"metapin/goutils/httpclient"
	"metapin/goutils/settings"
)

type Service interface {
	Pin(ctx context.Context, cidStr, name string, isImage bool) bool
	ConfirmPin(ctx context.Context, cidStr string, force bool) bool
	ListPins(ctx context.Context, status string, limit int) (*datamodel.PinListResponse, error)
	Unpin(ctx context.Context, requestID string) error
}

// PinningClient talks to the pinning service HTTP API and guards every call
// with local identifier validation. Ordinary pin failures are recoverable
// outcomes the caller tallies, never errors.
type PinningClient struct {
	limiter           *rate.Limiter
	settingsObj       *settings.SettingsObj
	cidCache          *caching.CIDExistenceCache
	recordStore       caching.RecordStore
	defaultHTTPClient *retryablehttp.Client
	gatewayHTTPClient *http.Client
}

var _ Service = (*PinningClient)(nil)

func InitPinningClient(settingsObj *settings.SettingsObj, cidCache *caching.CIDExistenceCache, recordStore caching.RecordStore) *PinningClient {
	log.Debug("initializing pinning service client")

	// Default values
	tps := rate.Limit(3)
	burst := 3

	if settingsObj.Pinning.RateLimiter != nil {
		burst = settingsObj.Pinning.RateLimiter.Burst

		if settingsObj.Pinning.RateLimiter.RequestsPerSec == -1 {
			tps = rate.Inf
			burst = 0
		} else {
			tps = rate.Limit(settingsObj.Pinning.RateLimiter.RequestsPerSec)
		}
	}

	log.Infof("rate limit configured for pinning service at %v TPS with a burst of %d", tps, burst)

	p := &PinningClient{
		limiter:           rate.NewLimiter(tps, burst),
		settingsObj:       settingsObj,
		cidCache:          cidCache,
		recordStore:       recordStore,
		defaultHTTPClient: httpclient.GetDefaultHTTPClient(settingsObj),
		gatewayHTTPClient: httpclient.GetGatewayHTTPClient(settingsObj),
	}

	if err := gi.Inject(p); err != nil {
		log.Fatal("failed to inject pinning client", err)
	}

	return p
}

// Pin requests a storage network pin of the identifier, or confirms an
// existing one. Content already retrievable via the project's own gateway is
// only recorded, no API pin call is made. Returns true only on an accepted
// outcome.
func (p *PinningClient) Pin(ctx context.Context, cidStr, name string, isImage bool) bool {
	if !p.validIdentifier(cidStr) {
		log.WithField("cid", cidStr).Warn("rejecting pin of malformed identifier")

		return false
	}

	// arweave content is durable at the source, record it without a pin call
	if contentref.IsArweaveID(cidStr) {
		p.writeThrough(ctx, cidStr)

		return true
	}

	if p.isLiveOnOwnGateway(ctx, cidStr) {
		log.WithField("cid", cidStr).Debug("content already live on own gateway, skipping api pin call")

		p.writeThrough(ctx, cidStr)

		return true
	}

	if err := p.limiter.Wait(ctx); err != nil {
		log.WithError(err).Error("pinning service rate limiter wait errored")

		return false
	}

	pinReq := &datamodel.PinRequest{CID: cidStr, Name: name}

	body, err := json.Marshal(pinReq)
	if err != nil {
		log.WithError(err).Error("failed to marshal pin request")

		return false
	}

	req, err := retryablehttp.NewRequest(http.MethodPost, p.settingsObj.Pinning.URL, bytes.NewBuffer(body))
	if err != nil {
		log.WithError(err).Error("failed to create pin request")

		return false
	}

	p.addHeaders(req)

	res, err := p.defaultHTTPClient.Do(req)
	if err != nil {
		log.WithError(err).WithField("cid", cidStr).Error("failed to send pin request to pinning service")

		return false
	}

	defer res.Body.Close()

	respBody, err := io.ReadAll(res.Body)
	if err != nil {
		log.WithError(err).Error("failed to read pin response body")

		return false
	}

	if res.StatusCode < 200 || res.StatusCode > 299 {
		log.WithField("cid", cidStr).
			WithField("status", res.StatusCode).
			WithField("resp", string(respBody)).
			Error("pinning service rejected pin request")

		return false
	}

	pinResp := new(datamodel.PinResponse)
	if err = json.Unmarshal(respBody, pinResp); err != nil {
		log.WithError(err).Error("failed to unmarshal pin response")

		return false
	}

	log.WithField("cid", cidStr).
		WithField("requestid", pinResp.RequestID).
		WithField("isImage", isImage).
		Info("pin request accepted by pinning service")

	p.writeThrough(ctx, cidStr)

	return true
}

// ConfirmPin queries the pin status for the identifier. Pinned content is
// marked confirmed in the record store. When force is set, unpinned content
// gets a fresh pin request as a recovery action.
func (p *PinningClient) ConfirmPin(ctx context.Context, cidStr string, force bool) bool {
	if !p.validIdentifier(cidStr) {
		log.WithField("cid", cidStr).Warn("rejecting confirm of malformed identifier")

		return false
	}

	if err := p.limiter.Wait(ctx); err != nil {
		log.WithError(err).Error("pinning service rate limiter wait errored")

		return false
	}

	req, err := retryablehttp.NewRequest(http.MethodGet, p.settingsObj.Pinning.URL+"?cid="+cidStr, nil)
	if err != nil {
		log.WithError(err).Error("failed to create pin status request")

		return false
	}

	p.addHeaders(req)

	res, err := p.defaultHTTPClient.Do(req)
	if err != nil {
		log.WithError(err).WithField("cid", cidStr).Error("failed to query pin status")

		return false
	}

	defer res.Body.Close()

	respBody, err := io.ReadAll(res.Body)
	if err != nil {
		log.WithError(err).Error("failed to read pin status response body")

		return false
	}

	if res.StatusCode == http.StatusOK {
		listResp := new(datamodel.PinListResponse)

		if err = json.Unmarshal(respBody, listResp); err != nil {
			log.WithError(err).Error("failed to unmarshal pin status response")

			return false
		}

		for _, result := range listResp.Results {
			if result.Pin.CID == cidStr && result.Status == datamodel.PinStatusPinned {
				p.writeThrough(ctx, cidStr)

				return true
			}
		}
	}

	if force {
		log.WithField("cid", cidStr).Info("pin not confirmed, issuing fresh pin as recovery")

		return p.Pin(ctx, cidStr, "confirm-recovery", false)
	}

	return false
}

// ListPins queries pins filtered by status.
func (p *PinningClient) ListPins(ctx context.Context, status string, limit int) (*datamodel.PinListResponse, error) {
	if err := p.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	reqURL := p.settingsObj.Pinning.URL + "?status=" + status
	if limit > 0 {
		reqURL += "&limit=" + strconv.Itoa(limit)
	}

	req, err := retryablehttp.NewRequest(http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, err
	}

	p.addHeaders(req)

	res, err := p.defaultHTTPClient.Do(req)
	if err != nil {
		return nil, err
	}

	defer res.Body.Close()

	respBody, err := io.ReadAll(res.Body)
	if err != nil {
		return nil, err
	}

	listResp := new(datamodel.PinListResponse)
	if err = json.Unmarshal(respBody, listResp); err != nil {
		return nil, err
	}

	return listResp, nil
}

// Unpin deletes a pin request.
func (p *PinningClient) Unpin(ctx context.Context, requestID string) error {
	if err := p.limiter.Wait(ctx); err != nil {
		return err
	}

	req, err := retryablehttp.NewRequest(http.MethodDelete, p.settingsObj.Pinning.URL+"/"+requestID, nil)
	if err != nil {
		return err
	}

	p.addHeaders(req)

	res, err := p.defaultHTTPClient.Do(req)
	if err != nil {
		return err
	}

	defer res.Body.Close()
	io.Copy(io.Discard, res.Body)

	return nil
}

// validIdentifier accepts both IPFS CIDs and Arweave transaction ids,
// rejecting anything else locally without a network call. IPFS identifiers
// additionally must parse as a real CID.
func (p *PinningClient) validIdentifier(cidStr string) bool {
	if contentref.IsValidCID(cidStr) {
		_, err := cid.Parse(cidStr)

		return err == nil
	}

	return contentref.IsArweaveID(cidStr)
}

// isLiveOnOwnGateway probes the project's own gateway for the content.
func (p *PinningClient) isLiveOnOwnGateway(ctx context.Context, cidStr string) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, p.settingsObj.Pinning.OwnGatewayURL+"/ipfs/"+cidStr, nil)
	if err != nil {
		return false
	}

	res, err := p.gatewayHTTPClient.Do(req)
	if err != nil {
		return false
	}

	defer res.Body.Close()
	io.Copy(io.Discard, res.Body)

	return res.StatusCode >= 200 && res.StatusCode <= 299
}

// writeThrough records the identifier in the record store exactly once,
// deduplicated via the existence cache.
func (p *PinningClient) writeThrough(ctx context.Context, cidStr string) {
	if p.cidCache.Has(ctx, cidStr) {
		return
	}

	if err := p.recordStore.PutCIDRecord(ctx, cidStr); err != nil {
		log.WithError(err).WithField("cid", cidStr).Error("failed to write cid record to store")

		return
	}

	p.cidCache.MarkPresent(cidStr)
}

func (p *PinningClient) addHeaders(req *retryablehttp.Request) {
	req.Header.Add("Authorization", "Bearer "+p.settingsObj.Pinning.APIToken)
	req.Header.Add("Content-Type", "application/json")
	req.Header.Add("accept", "application/json")
}
