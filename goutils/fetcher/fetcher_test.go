package fetcher

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"metapin/caching"
	"metapin/goutils/contentref"
	"metapin/goutils/gateway"
	"metapin/goutils/mock"
)

const testCID = "QmYwAPJzv5CZsnA625s3Xf2nemtYgPpHdWEz79ojWnPbdG"

func newTestFetcher(selectors map[contentref.Network]*gateway.Selector, maxDepth int) *Fetcher {
	return &Fetcher{
		httpClient: http.DefaultClient,
		selectors:  selectors,
		timeout:    5 * time.Second,
		maxDepth:   maxDepth,
		sleep:      func(time.Duration) {},
	}
}

func newExistenceCache(t *testing.T, store mock.RecordStoreMock) *caching.CIDExistenceCache {
	t.Helper()

	disk := mock.DiskMock{
		ReadMock: func(string) ([]byte, error) {
			return nil, errors.New("no snapshot")
		},
		WriteMock: func(string, []byte) error {
			return nil
		},
	}

	return caching.NewCIDExistenceCache(store, disk, t.TempDir()+"/cids.json")
}

func TestFetchContentJSONRotatesGatewayOnFailure(t *testing.T) {
	var badCalls, goodCalls int64

	badGateway := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt64(&badCalls, 1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer badGateway.Close()

	goodGateway := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt64(&goodCalls, 1)

		assert.Equal(t, "/ipfs/"+testCID, r.URL.Path)

		w.Write([]byte(`{"name":"token one"}`))
	}))
	defer goodGateway.Close()

	f := newTestFetcher(map[contentref.Network]*gateway.Selector{
		contentref.NetworkIPFS: gateway.NewSelector([]string{badGateway.URL, goodGateway.URL}),
	}, 3)

	body, err := f.FetchContentJSON(context.Background(), "ipfs://"+testCID, f.maxDepth, 1)

	assert.NoError(t, err)
	assert.JSONEq(t, `{"name":"token one"}`, string(body))

	// first attempt hits the first configured gateway, the failure
	// re-ranks the pool and the retry lands on the healthy one
	assert.EqualValues(t, 1, badCalls)
	assert.EqualValues(t, 1, goodCalls)
}

func TestFetchContentJSONInvalidReference(t *testing.T) {
	f := newTestFetcher(nil, 3)

	_, err := f.FetchContentJSON(context.Background(), "data:application/json;base64,e30=", f.maxDepth, 1)
	assert.ErrorIs(t, err, ErrInvalidReference)

	_, err = f.FetchContentJSON(context.Background(), "definitely not a reference", f.maxDepth, 1)
	assert.ErrorIs(t, err, ErrInvalidReference)
}

func TestFetchContentJSONNoPoolForNetwork(t *testing.T) {
	f := newTestFetcher(map[contentref.Network]*gateway.Selector{}, 3)

	_, err := f.FetchContentJSON(context.Background(), "ar://fEbcl0ZOs2fVWB88A8RDAJghSQyj9hCOYkk9YQUIXyA", f.maxDepth, 1)

	assert.Error(t, err)
	assert.Contains(t, err.Error(), "no gateway pool configured")
}

func TestFetchContentJSONDirectHTTP(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"name":"hosted off-network"}`))
	}))
	defer server.Close()

	f := newTestFetcher(nil, 3)

	body, err := f.FetchContentJSON(context.Background(), server.URL+"/metadata/1.json", f.maxDepth, 1)

	assert.NoError(t, err)
	assert.JSONEq(t, `{"name":"hosted off-network"}`, string(body))
}

func TestFetchContentJSONRecoveryPinAfterExhaustion(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	var pinnedCID, pinnedName string
	pinCalls := 0

	f := newTestFetcher(map[contentref.Network]*gateway.Selector{
		contentref.NetworkIPFS: gateway.NewSelector([]string{server.URL}),
	}, 2)

	f.cidCache = newExistenceCache(t, mock.RecordStoreMock{
		HasCIDRecordMock: func(ctx context.Context, cid string) (bool, error) {
			return false, nil
		},
	})
	f.pinner = mock.PinnerMock{
		PinMock: func(ctx context.Context, cid, name string, isImage bool) bool {
			pinCalls++
			pinnedCID = cid
			pinnedName = name

			return true
		},
	}

	_, err := f.FetchContentJSON(context.Background(), "ipfs://"+testCID, f.maxDepth, 7)

	assert.ErrorIs(t, err, ErrMaxRetries)
	assert.Equal(t, 1, pinCalls)
	assert.Equal(t, testCID, pinnedCID)
	assert.Equal(t, "failed-load-recovery", pinnedName)
}

func TestFetchContentJSONSkipsRecoveryPinWhenKnownPresent(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	pinCalls := 0

	f := newTestFetcher(map[contentref.Network]*gateway.Selector{
		contentref.NetworkIPFS: gateway.NewSelector([]string{server.URL}),
	}, 1)

	f.cidCache = newExistenceCache(t, mock.RecordStoreMock{
		HasCIDRecordMock: func(ctx context.Context, cid string) (bool, error) {
			return true, nil
		},
	})
	f.pinner = mock.PinnerMock{
		PinMock: func(ctx context.Context, cid, name string, isImage bool) bool {
			pinCalls++

			return true
		},
	}

	_, err := f.FetchContentJSON(context.Background(), "ipfs://"+testCID, f.maxDepth, 7)

	assert.ErrorIs(t, err, ErrMaxRetries)
	assert.Equal(t, 0, pinCalls)
}

func TestFetchContentJSONTimeout(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(300 * time.Millisecond)
		w.Write([]byte(`{}`))
	}))
	defer server.Close()

	f := newTestFetcher(map[contentref.Network]*gateway.Selector{
		contentref.NetworkIPFS: gateway.NewSelector([]string{server.URL}),
	}, 1)
	f.timeout = 25 * time.Millisecond

	_, err := f.FetchContentJSON(context.Background(), "ipfs://"+testCID, f.maxDepth, 1)

	assert.ErrorIs(t, err, ErrGatewayTimeout)
}

func TestFetchContentJSONRejectsNonJSONBody(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("<html>gateway splash page</html>"))
	}))
	defer server.Close()

	f := newTestFetcher(map[contentref.Network]*gateway.Selector{
		contentref.NetworkIPFS: gateway.NewSelector([]string{server.URL}),
	}, 1)

	_, err := f.FetchContentJSON(context.Background(), "ipfs://"+testCID, f.maxDepth, 1)

	assert.ErrorIs(t, err, ErrMaxRetries)
	assert.Contains(t, err.Error(), "not valid json")
}

func TestFetchJSONRetriesThenUnmarshals(t *testing.T) {
	var calls int64

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt64(&calls, 1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)

			return
		}

		w.Write([]byte(`{"token_id":"0.0.1234","name":"Test Token","total_supply":"42"}`))
	}))
	defer server.Close()

	f := newTestFetcher(nil, 5)

	out := struct {
		TokenID string `json:"token_id"`
		Name    string `json:"name"`
	}{}

	err := f.FetchJSON(context.Background(), server.URL+"/tokens/0.0.1234", f.maxDepth, &out)

	assert.NoError(t, err)
	assert.EqualValues(t, 3, calls)
	assert.Equal(t, "0.0.1234", out.TokenID)
	assert.Equal(t, "Test Token", out.Name)
}
