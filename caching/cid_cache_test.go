package caching_test

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"

	"metapin/caching"
	"metapin/goutils/mock"
)

func emptyDisk() mock.DiskMock {
	return mock.DiskMock{
		ReadMock: func(string) ([]byte, error) {
			return nil, errors.New("no snapshot on disk")
		},
		WriteMock: func(string, []byte) error {
			return nil
		},
	}
}

func TestCIDExistenceCacheHasMemoizesBothOutcomes(t *testing.T) {
	storeCalls := 0

	cache := caching.NewCIDExistenceCache(mock.RecordStoreMock{
		HasCIDRecordMock: func(ctx context.Context, cid string) (bool, error) {
			storeCalls++

			return cid == "present-cid", nil
		},
	}, emptyDisk(), "/tmp/cids.json")

	assert.True(t, cache.Has(context.Background(), "present-cid"))
	assert.True(t, cache.Has(context.Background(), "present-cid"))
	assert.False(t, cache.Has(context.Background(), "absent-cid"))
	assert.False(t, cache.Has(context.Background(), "absent-cid"))

	// one remote check per distinct identifier
	assert.Equal(t, 2, storeCalls)
}

func TestCIDExistenceCacheHasDegradesOnStoreError(t *testing.T) {
	storeCalls := 0

	cache := caching.NewCIDExistenceCache(mock.RecordStoreMock{
		HasCIDRecordMock: func(ctx context.Context, cid string) (bool, error) {
			storeCalls++

			return false, errors.New("store unavailable")
		},
	}, emptyDisk(), "/tmp/cids.json")

	assert.False(t, cache.Has(context.Background(), "some-cid"))
	assert.False(t, cache.Has(context.Background(), "some-cid"))

	// failed checks are not memoized, the store is asked again
	assert.Equal(t, 2, storeCalls)
}

func TestCIDExistenceCacheMarkPresent(t *testing.T) {
	storeCalls := 0

	cache := caching.NewCIDExistenceCache(mock.RecordStoreMock{
		HasCIDRecordMock: func(ctx context.Context, cid string) (bool, error) {
			storeCalls++

			return false, nil
		},
	}, emptyDisk(), "/tmp/cids.json")

	cache.MarkPresent("pinned-cid")

	assert.True(t, cache.Has(context.Background(), "pinned-cid"))
	assert.Equal(t, 0, storeCalls)
}

func TestCIDExistenceCachePreloadIsIdempotent(t *testing.T) {
	store := mock.RecordStoreMock{
		PageCIDRecordsMock: func(ctx context.Context, cursor uint64, count int64) ([]string, uint64, error) {
			if cursor == 0 {
				return []string{"cid-a", "cid-b"}, 17, nil
			}

			assert.EqualValues(t, 17, cursor)

			return []string{"cid-b", "cid-c"}, 0, nil
		},
	}

	cache := caching.NewCIDExistenceCache(store, emptyDisk(), "/tmp/cids.json")

	loaded, err := cache.Preload(context.Background())

	assert.NoError(t, err)
	assert.Equal(t, 4, loaded)
	assert.Equal(t, 3, cache.Len())

	// a second preload re-reads every page but changes nothing
	loaded, err = cache.Preload(context.Background())

	assert.NoError(t, err)
	assert.Equal(t, 4, loaded)
	assert.Equal(t, 3, cache.Len())
}

func TestCIDExistenceCachePreloadPropagatesPageError(t *testing.T) {
	pageErr := errors.New("scan failed")

	cache := caching.NewCIDExistenceCache(mock.RecordStoreMock{
		PageCIDRecordsMock: func(ctx context.Context, cursor uint64, count int64) ([]string, uint64, error) {
			if cursor == 0 {
				return []string{"cid-a"}, 9, nil
			}

			return nil, 0, pageErr
		},
	}, emptyDisk(), "/tmp/cids.json")

	loaded, err := cache.Preload(context.Background())

	assert.ErrorIs(t, err, pageErr)
	// the first page still landed in the cache
	assert.Equal(t, 1, loaded)
	assert.Equal(t, 1, cache.Len())
}

func TestCIDExistenceCachePersistRestoreRoundTrip(t *testing.T) {
	var snapshot []byte

	disk := mock.DiskMock{
		ReadMock: func(string) ([]byte, error) {
			if snapshot == nil {
				return nil, errors.New("no snapshot on disk")
			}

			return snapshot, nil
		},
		WriteMock: func(path string, data []byte) error {
			snapshot = data

			return nil
		},
	}

	cache := caching.NewCIDExistenceCache(mock.RecordStoreMock{}, disk, "/tmp/cids.json")

	cache.MarkPresent("cid-a")
	cache.MarkPresent("cid-b")

	assert.NoError(t, cache.Persist())

	// snapshot is a json array of [identifier, flag] pairs
	var pairs [][2]interface{}

	assert.NoError(t, json.Unmarshal(snapshot, &pairs))
	assert.Len(t, pairs, 2)

	restored := caching.NewCIDExistenceCache(mock.RecordStoreMock{}, disk, "/tmp/cids.json")

	assert.Equal(t, 2, restored.Len())
	assert.True(t, restored.Has(context.Background(), "cid-a"))
	assert.True(t, restored.Has(context.Background(), "cid-b"))
}

func TestCIDExistenceCacheRestoreIgnoresCorruptSnapshot(t *testing.T) {
	disk := mock.DiskMock{
		ReadMock: func(string) ([]byte, error) {
			return []byte("{definitely not a pair array"), nil
		},
		WriteMock: func(string, []byte) error {
			return nil
		},
	}

	cache := caching.NewCIDExistenceCache(mock.RecordStoreMock{}, disk, "/tmp/cids.json")

	assert.Equal(t, 0, cache.Len())
}
