package gateway

import (
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
)

// recent-failure penalty window
const failurePenaltyWindow = 60 * time.Second

// EndpointStat holds live performance statistics for one configured gateway
// endpoint. Stats are never reset within a run and endpoints are never
// removed from the pool.
type EndpointStat struct {
	URL                 string
	SuccessCount        int64
	FailCount           int64
	TotalResponseTimeMs int64
	AvgResponseTimeMs   float64
	LastSuccessAt       time.Time
	LastFailureAt       time.Time
}

// Selector picks the best gateway endpoint for the next fetch attempt based
// on success rate, average latency and a recent-failure penalty. Safe for
// concurrent use, fetch completions land in any order.
type Selector struct {
	mu        sync.Mutex
	endpoints []*EndpointStat
	now       func() time.Time
}

// NewSelector builds a selector over the configured endpoints. An empty pool
// is a configuration error, not a runtime condition.
func NewSelector(urls []string) *Selector {
	if len(urls) == 0 {
		log.Fatal("gateway selector configured with an empty endpoint pool")
	}

	endpoints := make([]*EndpointStat, 0, len(urls))
	for _, url := range urls {
		endpoints = append(endpoints, &EndpointStat{URL: url})
	}

	return &Selector{
		endpoints: endpoints,
		now:       time.Now,
	}
}

// PickBest returns the endpoint with the highest score. Scores are computed
// fresh on every call, ties break toward original configuration order.
func (s *Selector) PickBest() string {
	s.mu.Lock()
	defer s.mu.Unlock()

	best := s.endpoints[0]
	bestScore := s.score(best)

	for _, endpoint := range s.endpoints[1:] {
		if score := s.score(endpoint); score > bestScore {
			best = endpoint
			bestScore = score
		}
	}

	return best.URL
}

// RecordSuccess updates stats for the endpoint actually used, not the pool.
func (s *Selector) RecordSuccess(url string, latencyMs int64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	endpoint := s.find(url)
	if endpoint == nil {
		return
	}

	endpoint.SuccessCount++
	endpoint.TotalResponseTimeMs += latencyMs
	endpoint.AvgResponseTimeMs = float64(endpoint.TotalResponseTimeMs) / float64(endpoint.SuccessCount)
	endpoint.LastSuccessAt = s.now()
}

func (s *Selector) RecordFailure(url string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	endpoint := s.find(url)
	if endpoint == nil {
		return
	}

	endpoint.FailCount++
	endpoint.LastFailureAt = s.now()
}

// score blends reliability and speed, de-prioritizing an endpoint that just
// failed without permanently banning it.
func (s *Selector) score(endpoint *EndpointStat) float64 {
	attempts := endpoint.SuccessCount + endpoint.FailCount

	successRate := 0.5
	if attempts > 0 {
		successRate = float64(endpoint.SuccessCount) / float64(attempts)
	}

	responseScore := 0.5
	if endpoint.SuccessCount > 0 {
		responseScore = 1 - endpoint.AvgResponseTimeMs/10000
		if responseScore < 0 {
			responseScore = 0
		}
	}

	timePenalty := 1.0
	if !endpoint.LastFailureAt.IsZero() && s.now().Sub(endpoint.LastFailureAt) < failurePenaltyWindow {
		timePenalty = 0.5
	}

	return (successRate*0.6 + responseScore*0.4) * timePenalty
}

func (s *Selector) find(url string) *EndpointStat {
	for _, endpoint := range s.endpoints {
		if endpoint.URL == url {
			return endpoint
		}
	}

	return nil
}
