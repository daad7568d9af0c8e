package pinning

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/hashicorp/go-retryablehttp"
	"github.com/stretchr/testify/assert"
	"golang.org/x/time/rate"

	"metapin/caching"
	"metapin/goutils/datamodel"
	"metapin/goutils/mock"
	"metapin/goutils/settings"
)

const (
	testCID       = "QmYwAPJzv5CZsnA625s3Xf2nemtYgPpHdWEz79ojWnPbdG"
	testArweaveID = "fEbcl0ZOs2fVWB88A8RDAJghSQyj9hCOYkk9YQUIXyA"
)

func newTestPinningClient(t *testing.T, pinURL, gatewayURL string, store caching.RecordStore) *PinningClient {
	t.Helper()

	httpClient := retryablehttp.NewClient()
	httpClient.RetryMax = 0
	httpClient.Logger = nil

	disk := mock.DiskMock{
		ReadMock: func(string) ([]byte, error) {
			return nil, errors.New("no snapshot")
		},
		WriteMock: func(string, []byte) error {
			return nil
		},
	}

	return &PinningClient{
		limiter: rate.NewLimiter(rate.Inf, 0),
		settingsObj: &settings.SettingsObj{
			Pinning: &settings.Pinning{
				URL:           pinURL,
				APIToken:      "test-token",
				OwnGatewayURL: gatewayURL,
			},
		},
		cidCache:          caching.NewCIDExistenceCache(store, disk, t.TempDir()+"/cids.json"),
		recordStore:       store,
		defaultHTTPClient: httpClient,
		gatewayHTTPClient: http.DefaultClient,
	}
}

func newRecordStore(putCalls *[]string) mock.RecordStoreMock {
	return mock.RecordStoreMock{
		HasCIDRecordMock: func(ctx context.Context, cid string) (bool, error) {
			return false, nil
		},
		PutCIDRecordMock: func(ctx context.Context, cid string) error {
			*putCalls = append(*putCalls, cid)

			return nil
		},
	}
}

func TestPinHappyPathAndWriteThroughDedup(t *testing.T) {
	postCalls := 0

	pinAPI := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		postCalls++

		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "Bearer test-token", r.Header.Get("Authorization"))

		pinReq := new(datamodel.PinRequest)
		assert.NoError(t, json.NewDecoder(r.Body).Decode(pinReq))
		assert.Equal(t, testCID, pinReq.CID)

		w.WriteHeader(http.StatusAccepted)
		json.NewEncoder(w).Encode(&datamodel.PinResponse{RequestID: "req-1", Status: datamodel.PinStatusQueued})
	}))
	defer pinAPI.Close()

	ownGateway := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer ownGateway.Close()

	var putCalls []string
	p := newTestPinningClient(t, pinAPI.URL, ownGateway.URL, newRecordStore(&putCalls))

	assert.True(t, p.Pin(context.Background(), testCID, "token-1-metadata", false))
	assert.True(t, p.Pin(context.Background(), testCID, "token-1-metadata", false))

	// every call goes to the service, the record write-through happens once
	assert.Equal(t, 2, postCalls)
	assert.Equal(t, []string{testCID}, putCalls)
}

func TestPinRejectsMalformedIdentifierLocally(t *testing.T) {
	apiCalls := 0

	pinAPI := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		apiCalls++
	}))
	defer pinAPI.Close()

	var putCalls []string
	p := newTestPinningClient(t, pinAPI.URL, pinAPI.URL, newRecordStore(&putCalls))

	assert.False(t, p.Pin(context.Background(), "not-a-cid", "bad", false))
	assert.False(t, p.Pin(context.Background(), "", "empty", false))
	// 44 chars, one too long for an arweave transaction id
	assert.False(t, p.Pin(context.Background(), testArweaveID+"x", "almost", false))

	assert.Equal(t, 0, apiCalls)
	assert.Empty(t, putCalls)
}

func TestPinArweaveContentRecordedWithoutAPICall(t *testing.T) {
	apiCalls := 0

	pinAPI := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		apiCalls++
	}))
	defer pinAPI.Close()

	var putCalls []string
	p := newTestPinningClient(t, pinAPI.URL, pinAPI.URL, newRecordStore(&putCalls))

	assert.True(t, p.Pin(context.Background(), testArweaveID, "arweave-token", false))

	assert.Equal(t, 0, apiCalls)
	assert.Equal(t, []string{testArweaveID}, putCalls)
}

func TestPinSkipsAPICallWhenLiveOnOwnGateway(t *testing.T) {
	postCalls := 0

	pinAPI := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		postCalls++
	}))
	defer pinAPI.Close()

	ownGateway := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodHead, r.Method)
		assert.Equal(t, "/ipfs/"+testCID, r.URL.Path)

		w.WriteHeader(http.StatusOK)
	}))
	defer ownGateway.Close()

	var putCalls []string
	p := newTestPinningClient(t, pinAPI.URL, ownGateway.URL, newRecordStore(&putCalls))

	assert.True(t, p.Pin(context.Background(), testCID, "already-live", false))

	assert.Equal(t, 0, postCalls)
	assert.Equal(t, []string{testCID}, putCalls)
}

func TestPinServiceRejection(t *testing.T) {
	pinAPI := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"error":"quota exceeded"}`))
	}))
	defer pinAPI.Close()

	ownGateway := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer ownGateway.Close()

	var putCalls []string
	p := newTestPinningClient(t, pinAPI.URL, ownGateway.URL, newRecordStore(&putCalls))

	assert.False(t, p.Pin(context.Background(), testCID, "rejected", false))
	assert.Empty(t, putCalls)
}

func TestConfirmPinPinned(t *testing.T) {
	pinAPI := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		assert.Equal(t, testCID, r.URL.Query().Get("cid"))

		json.NewEncoder(w).Encode(&datamodel.PinListResponse{
			Count: 1,
			Results: []*datamodel.PinResponse{
				{RequestID: "req-1", Status: datamodel.PinStatusPinned, Pin: datamodel.PinRequest{CID: testCID}},
			},
		})
	}))
	defer pinAPI.Close()

	var putCalls []string
	p := newTestPinningClient(t, pinAPI.URL, pinAPI.URL, newRecordStore(&putCalls))

	assert.True(t, p.ConfirmPin(context.Background(), testCID, false))
	assert.Equal(t, []string{testCID}, putCalls)
}

func TestConfirmPinForceRecovery(t *testing.T) {
	postCalls := 0

	pinAPI := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost {
			postCalls++

			json.NewEncoder(w).Encode(&datamodel.PinResponse{RequestID: "req-2", Status: datamodel.PinStatusQueued})

			return
		}

		// status query finds nothing
		json.NewEncoder(w).Encode(&datamodel.PinListResponse{})
	}))
	defer pinAPI.Close()

	ownGateway := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer ownGateway.Close()

	var putCalls []string
	p := newTestPinningClient(t, pinAPI.URL, ownGateway.URL, newRecordStore(&putCalls))

	// without force an unconfirmed pin is just reported
	assert.False(t, p.ConfirmPin(context.Background(), testCID, false))
	assert.Equal(t, 0, postCalls)

	// with force the missing pin triggers a fresh pin request
	assert.True(t, p.ConfirmPin(context.Background(), testCID, true))
	assert.Equal(t, 1, postCalls)
}
