package worker

type Worker interface {
	ConsumeTask() error
	ShutdownWorker() error
}

type Type string

const (
	TypeScraperWorker Type = "scraper-worker"
)
