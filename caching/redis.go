package caching

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/go-redis/redis/v8"
	log "github.com/sirupsen/logrus"
	"github.com/swagftw/gi"

	"metapin/goutils/datamodel"
	"metapin/goutils/redisutils"
)

// RedisRecordStore implements RecordStore against redis. Normalized records
// live in a hash per token+environment keyed by uid, known serials in a set,
// pinned CID records in a process-wide set walked with SSCAN.
type RedisRecordStore struct {
	redisClient *redis.Client
}

var _ RecordStore = (*RedisRecordStore)(nil)

func NewRedisRecordStore() *RedisRecordStore {
	client, err := gi.Invoke[*redis.Client]()
	if err != nil {
		log.Fatal("Failed to invoke redis client", err)
	}

	store := &RedisRecordStore{redisClient: client}

	err = gi.Inject(store)
	if err != nil {
		log.Fatal("Failed to inject redis record store", err)
	}

	return store
}

// GetKnownSerials returns the serial numbers already persisted for the token.
func (r *RedisRecordStore) GetKnownSerials(ctx context.Context, environment, tokenID string) ([]int64, error) {
	key := fmt.Sprintf(redisutils.REDIS_KEY_TOKEN_SERIALS, environment, tokenID)

	val, err := r.redisClient.SMembers(ctx, key).Result()
	if err != nil {
		if err == redis.Nil {
			return []int64{}, nil
		}

		log.WithError(err).Error("failed to get known serials from redis")

		return nil, ErrGettingSerials
	}

	serials := make([]int64, 0, len(val))

	for _, member := range val {
		var serial int64
		if _, err := fmt.Sscanf(member, "%d", &serial); err != nil {
			log.Errorf("skipping malformed serial entry %q at key %s", member, key)

			continue
		}

		serials = append(serials, serial)
	}

	return serials, nil
}

func (r *RedisRecordStore) BatchCreateRecords(ctx context.Context, records []*datamodel.NormalizedRecord) error {
	if len(records) == 0 {
		return nil
	}

	pipe := r.redisClient.TxPipeline()

	for _, record := range records {
		if err := r.queueRecord(ctx, pipe, record); err != nil {
			return err
		}
	}

	if _, err := pipe.Exec(ctx); err != nil {
		log.WithError(err).Error("failed to batch write records to redis")

		return ErrBatchWriteFailed
	}

	log.Debugf("batch wrote %d records to redis", len(records))

	return nil
}

func (r *RedisRecordStore) CreateRecord(ctx context.Context, record *datamodel.NormalizedRecord) error {
	pipe := r.redisClient.TxPipeline()

	if err := r.queueRecord(ctx, pipe, record); err != nil {
		return err
	}

	if _, err := pipe.Exec(ctx); err != nil {
		log.WithError(err).WithField("uid", record.UID()).Error("failed to write record to redis")

		return err
	}

	return nil
}

func (r *RedisRecordStore) UpdateRecord(ctx context.Context, record *datamodel.NormalizedRecord) error {
	return r.CreateRecord(ctx, record)
}

func (r *RedisRecordStore) HasCIDRecord(ctx context.Context, cid string) (bool, error) {
	exists, err := r.redisClient.SIsMember(ctx, redisutils.REDIS_KEY_CID_RECORDS, cid).Result()
	if err != nil {
		return false, err
	}

	return exists, nil
}

func (r *RedisRecordStore) PutCIDRecord(ctx context.Context, cid string) error {
	return r.redisClient.SAdd(ctx, redisutils.REDIS_KEY_CID_RECORDS, cid).Err()
}

func (r *RedisRecordStore) PageCIDRecords(ctx context.Context, cursor uint64, count int64) ([]string, uint64, error) {
	cids, next, err := r.redisClient.SScan(ctx, redisutils.REDIS_KEY_CID_RECORDS, cursor, "", count).Result()
	if err != nil {
		return nil, 0, err
	}

	return cids, next, nil
}

func (r *RedisRecordStore) queueRecord(ctx context.Context, pipe redis.Pipeliner, record *datamodel.NormalizedRecord) error {
	doc, err := record.MapToSchema()
	if err != nil {
		return err
	}

	data, err := json.Marshal(doc)
	if err != nil {
		log.WithError(err).WithField("uid", record.UID()).Error("failed to marshal record")

		return err
	}

	recordsKey := fmt.Sprintf(redisutils.REDIS_KEY_TOKEN_RECORDS, record.Environment, record.TokenID)
	serialsKey := fmt.Sprintf(redisutils.REDIS_KEY_TOKEN_SERIALS, record.Environment, record.TokenID)

	pipe.HSet(ctx, recordsKey, record.UID(), data)
	pipe.SAdd(ctx, serialsKey, record.SerialNumber)

	return nil
}
