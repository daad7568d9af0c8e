package settings

import (
	"encoding/json"
	"os"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"
	log "github.com/sirupsen/logrus"
	"github.com/swagftw/gi"

	"metapin/goutils/secrets"
)

type (
	RateLimiter struct {
		Burst          int `json:"burst"`
		RequestsPerSec int `json:"req_per_sec"`
	}

	Rabbitmq struct {
		User     string `json:"user"`
		Password string `json:"password"`
		Host     string `json:"host"`
		Port     int    `json:"port"`
		Setup    struct {
			Core struct {
				Exchange string `json:"exchange"`
				DLX      string `json:"dlx"`
			} `json:"core"`
			Queues struct {
				Scraper struct {
					QueueName  string `json:"queue_name"`
					RoutingKey string `json:"routing_key"`
				} `json:"scraper"`
			} `json:"queues"`
		} `json:"setup"`
	}

	Redis struct {
		Host     string `json:"host"`
		Port     int    `json:"port"`
		Db       int    `json:"db"`
		Password string `json:"password"`
		PoolSize int    `json:"pool_size"`
	}

	MirrorNode struct {
		BaseURL     string       `json:"base_url" validate:"required"`
		PageSize    int          `json:"page_size"`
		RateLimiter *RateLimiter `json:"rate_limit,omitempty"`
	}

	Gateways struct {
		Ipfs         []string `json:"ipfs" validate:"required,min=1"`
		Arweave      []string `json:"arweave" validate:"required,min=1"`
		ConsensusLog []string `json:"consensus_log"`
	}

	Pinning struct {
		URL           string       `json:"url" validate:"required"`
		APIToken      string       `json:"api_token"`
		OwnGatewayURL string       `json:"own_gateway_url" validate:"required"`
		Timeout       int          `json:"timeout"`
		RateLimiter   *RateLimiter `json:"rate_limit,omitempty"`
	}

	IpfsNode struct {
		URL         string       `json:"url"`
		Timeout     int          `json:"timeout"`
		PoolSize    int          `json:"pool_size"`
		RateLimiter *RateLimiter `json:"rate_limit,omitempty"`
	}

	Fetch struct {
		TimeoutSecs int `json:"timeout_secs"`
		MaxDepth    int `json:"max_depth"`
	}

	HTTPClient struct {
		MaxIdleConns        int `json:"max_idle_conns"`
		MaxConnsPerHost     int `json:"max_conns_per_host"`
		MaxIdleConnsPerHost int `json:"max_idle_conns_per_host"`
		IdleConnTimeout     int `json:"idle_conn_timeout"`
	}

	Reporting struct {
		SlackWebhookURL  string `json:"slack_webhook_url"`
		OpsIssueEndpoint string `json:"ops_issue_endpoint"`
	}

	Healthcheck struct {
		Port     int    `json:"port"`
		Endpoint string `json:"endpoint"`
	}
)

type SettingsObj struct {
	InstanceId     string       `json:"instance_id" validate:"required"`
	Environment    string       `json:"environment" validate:"required"`
	LocalCachePath string       `json:"local_cache_path" validate:"required"`
	Concurrency    int          `json:"concurrency" validate:"required"`
	RetryCount     int          `json:"retry_count"`
	HttpClient     *HTTPClient  `json:"http_client" validate:"required,dive"`
	Rabbitmq       *Rabbitmq    `json:"rabbitmq,omitempty"`
	Redis          *Redis       `json:"redis" validate:"required,dive"`
	MirrorNode     *MirrorNode  `json:"mirror_node" validate:"required,dive"`
	Gateways       *Gateways    `json:"gateways" validate:"required,dive"`
	Pinning        *Pinning     `json:"pinning" validate:"required,dive"`
	IpfsNode       *IpfsNode    `json:"ipfs_node,omitempty"`
	Fetch          *Fetch       `json:"fetch" validate:"required"`
	Reporting      *Reporting   `json:"reporting"`
	Healthcheck    *Healthcheck `json:"healthcheck"`
}

// ParseSettings parses the settings.json file and returns a SettingsObj
func ParseSettings() *SettingsObj {
	log.Debug("parsing settings")

	v := validator.New()

	dir := strings.TrimSuffix(os.Getenv("CONFIG_PATH"), "/")
	settingsFilePath := dir + "/settings.json"

	settingsObj := new(SettingsObj)

	log.Info("reading settings:", settingsFilePath)

	data, err := os.ReadFile(settingsFilePath)
	if err != nil {
		log.Error("cannot read the file:", err)
		panic(err)
	}

	err = json.Unmarshal(data, settingsObj)
	if err != nil {
		log.Error("cannot unmarshal the settings json ", err)
		panic(err)
	}

	err = v.Struct(settingsObj)
	if err != nil {
		log.WithError(err).Fatal("invalid settings object")
	}

	SetDefaults(settingsObj)

	err = gi.Inject(settingsObj)
	if err != nil {
		log.Fatal("cannot inject the settings object", err)
	}

	return settingsObj
}

// SetDefaults sets the default values for the settings object
// add default values in this function if required
func SetDefaults(settingsObj *SettingsObj) {
	settingsObj.LocalCachePath = strings.TrimSuffix(settingsObj.LocalCachePath, "/")
	settingsObj.MirrorNode.BaseURL = strings.TrimSuffix(settingsObj.MirrorNode.BaseURL, "/")
	settingsObj.Pinning.URL = strings.TrimSuffix(settingsObj.Pinning.URL, "/")
	settingsObj.Pinning.OwnGatewayURL = strings.TrimSuffix(settingsObj.Pinning.OwnGatewayURL, "/")

	if settingsObj.Fetch.TimeoutSecs == 0 {
		settingsObj.Fetch.TimeoutSecs = 30
	}

	if settingsObj.Fetch.MaxDepth == 0 {
		settingsObj.Fetch.MaxDepth = 8
	}

	if settingsObj.Concurrency == 0 {
		settingsObj.Concurrency = 10
	}

	if settingsObj.RetryCount == 0 {
		settingsObj.RetryCount = 5
	}

	if settingsObj.MirrorNode.PageSize == 0 {
		settingsObj.MirrorNode.PageSize = 100
	}

	// for local testing
	if val, err := strconv.ParseBool(os.Getenv("LOCAL_TESTING")); err == nil && val {
		settingsObj.Redis.Host = "localhost"
		if settingsObj.Rabbitmq != nil {
			settingsObj.Rabbitmq.Host = "localhost"
		}
	}

	// credentials come through the secrets provider so the settings file can
	// stay free of tokens
	provider := secrets.DefaultProvider()

	if token, ok := provider.Get("PINNING_API_TOKEN"); ok {
		settingsObj.Pinning.APIToken = token
	}

	if password, ok := provider.Get("REDIS_PASSWORD"); ok {
		settingsObj.Redis.Password = password
	}

	if settingsObj.Reporting == nil {
		settingsObj.Reporting = &Reporting{}
	}

	if settingsObj.Reporting.SlackWebhookURL == "" {
		log.Warning("slack webhook url is not set, errors will not be reported to slack")
	}

	if settingsObj.Healthcheck == nil {
		settingsObj.Healthcheck = &Healthcheck{}
	}

	if settingsObj.Healthcheck.Endpoint == "" {
		settingsObj.Healthcheck.Endpoint = "/health"
	}

	if settingsObj.Healthcheck.Port == 0 {
		settingsObj.Healthcheck.Port = 9000
	}
}
