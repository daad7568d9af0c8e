package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	log "github.com/sirupsen/logrus"

	"metapin/caching"
	"metapin/goutils/contentref"
	"metapin/goutils/datamodel"
	"metapin/goutils/fetcher"
	"metapin/goutils/gateway"
	"metapin/goutils/health"
	"metapin/goutils/httpclient"
	"metapin/goutils/ipfsutils"
	"metapin/goutils/logger"
	"metapin/goutils/mirrornode"
	"metapin/goutils/pinning"
	"metapin/goutils/redisutils"
	"metapin/goutils/reporting"
	"metapin/goutils/settings"
	rabbitmqTaskmgr "metapin/goutils/taskmgr/rabbitmq"
	"metapin/scraper/service"
	"metapin/scraper/worker"
)

func main() {
	// .env is optional, real deployments configure through the environment
	_ = godotenv.Load()

	logger.InitLogger()

	settingsObj := settings.ParseSettings()

	redisClient := redisutils.InitRedisClient(
		settingsObj.Redis.Host,
		settingsObj.Redis.Port,
		settingsObj.Redis.Db,
		settingsObj.Redis.PoolSize,
		settingsObj.Redis.Password,
	)

	recordStore := caching.NewRedisRecordStore()
	diskCache := caching.InitDiskCache()

	snapshotPath := fmt.Sprintf("%s/cid-records-%s.json", settingsObj.LocalCachePath, settingsObj.Environment)
	cidCache := caching.InitCIDExistenceCache(recordStore, diskCache, snapshotPath)

	pinner := pinning.InitPinningClient(settingsObj, cidCache, recordStore)

	selectors := map[contentref.Network]*gateway.Selector{
		contentref.NetworkIPFS:    gateway.NewSelector(settingsObj.Gateways.Ipfs),
		contentref.NetworkArweave: gateway.NewSelector(settingsObj.Gateways.Arweave),
	}
	if len(settingsObj.Gateways.ConsensusLog) > 0 {
		selectors[contentref.NetworkConsensusLog] = gateway.NewSelector(settingsObj.Gateways.ConsensusLog)
	}

	contentFetcher := fetcher.InitFetcher(
		httpclient.GetGatewayHTTPClient(settingsObj),
		selectors,
		cidCache,
		pinner,
		settingsObj.Fetch.TimeoutSecs,
		settingsObj.Fetch.MaxDepth,
	)

	mirrornode.InitMirrorNodeClient(settingsObj, contentFetcher)

	reporter := reporting.InitIssueReporter(settingsObj)

	var ipfsClient *ipfsutils.IpfsClient
	if settingsObj.IpfsNode != nil && settingsObj.IpfsNode.URL != "" {
		ipfsClient = ipfsutils.InitClient(settingsObj.IpfsNode)
	}

	scraperService := service.InitScraperService(reporter, ipfsClient)

	// flush the cid existence snapshot on shutdown so the next run starts warm
	signalChan := make(chan os.Signal, 1)
	signal.Notify(signalChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-signalChan

		log.Info("shutdown signal received, persisting cid cache snapshot")

		if err := cidCache.Persist(); err != nil {
			log.WithError(err).Error("failed to persist cid cache snapshot")
		}

		if err := redisClient.Close(); err != nil {
			log.WithError(err).Error("error while closing redis client")
		}

		os.Exit(0)
	}()

	health.HealthCheck(settingsObj.Healthcheck)

	// one-shot mode scrapes a single token and exits, no broker required
	if tokenID := os.Getenv("SCRAPE_TOKEN_ID"); tokenID != "" {
		runOnce(scraperService, cidCache, settingsObj, tokenID)

		return
	}

	if settingsObj.Rabbitmq == nil {
		log.Fatal("rabbitmq settings are required when SCRAPE_TOKEN_ID is not set")
	}

	taskMgr := rabbitmqTaskmgr.NewRabbitmqTaskMgr(settingsObj)

	mqWorker := worker.NewWorker(settingsObj, scraperService, taskMgr)

	defer func() {
		if err := mqWorker.ShutdownWorker(); err != nil {
			log.WithError(err).Error("error while shutting down worker")
		}

		if err := cidCache.Persist(); err != nil {
			log.WithError(err).Error("failed to persist cid cache snapshot")
		}
	}()

	for {
		err := mqWorker.ConsumeTask()
		if err != nil {
			log.WithError(err).Error("error while consuming task, starting again")
		}
	}
}

func runOnce(scraperService service.Service, cidCache *caching.CIDExistenceCache, settingsObj *settings.SettingsObj, tokenID string) {
	schema := datamodel.SchemaV1
	if val := os.Getenv("SCRAPE_SCHEMA"); val != "" {
		schema = datamodel.Schema(val)
	}

	report, err := scraperService.ScrapeToken(context.Background(), &datamodel.ScrapeRequest{
		TokenID:     tokenID,
		Environment: settingsObj.Environment,
		Schema:      schema,
	})
	if err != nil {
		log.WithError(err).Fatal("scrape run failed")
	}

	if err = cidCache.Persist(); err != nil {
		log.WithError(err).Error("failed to persist cid cache snapshot")
	}

	log.WithField("completed", report.Snapshot.Completed).
		WithField("errors", report.Snapshot.ErrorCount).
		Info("scrape run finished")
}
