package worker

import (
	"context"

	"github.com/cenkalti/backoff/v4"
	log "github.com/sirupsen/logrus"

	"metapin/goutils/settings"
	"metapin/goutils/taskmgr"
	workerInterface "metapin/goutils/taskmgr/worker"
	scraperService "metapin/scraper/service"
)

type Worker struct {
	service  scraperService.Service
	taskmgr  taskmgr.TaskMgr
	settings *settings.SettingsObj
}

// NewWorker creates a new *Worker listening for scrape tasks. A single
// worker runs multiple tasks concurrently using go routines, running
// multiple instances of this whole service scales it horizontally.
func NewWorker(settingsObj *settings.SettingsObj, service scraperService.Service, mgr taskmgr.TaskMgr) workerInterface.Worker {
	return &Worker{service: service, settings: settingsObj, taskmgr: mgr}
}

func (w *Worker) ConsumeTask() error {
	// buffered channel limits how many tasks sit waiting while earlier
	// ones are still being processed
	taskChan := make(chan taskmgr.TaskHandler, w.settings.Concurrency)
	defer close(taskChan)

	// start consuming messages in separate go routine.
	// messages will be sent back over taskChan.
	go func() {
		err := backoff.Retry(func() error {
			err := w.taskmgr.Consume(context.Background(), workerInterface.TypeScraperWorker, taskChan)
			if err != nil {
				log.WithError(err).Error("failed to consume the message, retrying")

				return err
			}

			return nil
		}, backoff.WithMaxRetries(backoff.NewExponentialBackOff(), uint64(w.settings.RetryCount)))

		if err != nil {
			log.WithError(err).Fatal("failed to consume the messages after max retries")
		}
	}()

	for {
		taskHandler := <-taskChan

		go func(taskHandler taskmgr.TaskHandler) {
			msgBody := taskHandler.GetBody()

			log.Debug("received new scrape task")

			err := w.service.Run(msgBody, taskHandler.GetTopic())
			if err != nil {
				log.WithError(err).Error("failed to run the task")

				err = backoff.Retry(func() error {
					return taskHandler.Nack(false)
				}, backoff.WithMaxRetries(backoff.NewExponentialBackOff(), 5))
				if err != nil {
					log.WithError(err).Errorf("failed to nack the message")
				}
			} else {
				err = backoff.Retry(func() error {
					return taskHandler.Ack()
				}, backoff.WithMaxRetries(backoff.NewExponentialBackOff(), 5))
				if err != nil {
					log.WithError(err).Error("failed to ack the message")
				}
			}
		}(taskHandler)
	}
}

func (w *Worker) ShutdownWorker() error {
	err := w.taskmgr.Shutdown(context.Background())
	if err != nil {
		log.WithError(err).Error("failed to shutdown the worker")
	}

	return err
}
