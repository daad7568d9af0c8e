package redisutils

const (
	REDIS_KEY_TOKEN_RECORDS string = "metapin:%s:token:%s:records"
	REDIS_KEY_TOKEN_SERIALS string = "metapin:%s:token:%s:serials"
	REDIS_KEY_CID_RECORDS   string = "metapin:cidRecords"
)
