package chain

import (
	"sort"
	"sync"
	"time"
)

const (
	defaultMaxConsecutiveErrors = 3
	defaultRecoveryInterval     = 30 * time.Second
	ewmaAlpha                   = 0.3
	defaultInitialLatency       = 100 * time.Millisecond
)

// Endpoint is the health state of one RPC endpoint
type Endpoint struct {
	URL             string
	Latency         time.Duration // EWMA
	ConsecutiveErrs int
	LastSuccess     time.Time
	LastError       time.Time
	Healthy         bool
	samples         int
}

// EndpointTracker orders the configured RPC endpoints by observed latency
// and takes failing ones out of rotation until a recovery interval passes
type EndpointTracker struct {
	mu        sync.RWMutex
	endpoints []*Endpoint
	maxErrors int
	recovery  time.Duration
	now       func() time.Time
}

// NewEndpointTracker creates a tracker in which every URL starts healthy
func NewEndpointTracker(urls []string) *EndpointTracker {
	endpoints := make([]*Endpoint, 0, len(urls))
	seen := make(map[string]bool, len(urls))
	for _, u := range urls {
		if u == "" || seen[u] {
			continue
		}
		seen[u] = true
		endpoints = append(endpoints, &Endpoint{
			URL:     u,
			Healthy: true,
			Latency: defaultInitialLatency,
		})
	}
	return &EndpointTracker{
		endpoints: endpoints,
		maxErrors: defaultMaxConsecutiveErrors,
		recovery:  defaultRecoveryInterval,
		now:       time.Now,
	}
}

// RecordSuccess resets the error count and folds latency into the EWMA
func (et *EndpointTracker) RecordSuccess(url string, latency time.Duration) {
	et.mu.Lock()
	defer et.mu.Unlock()

	ep := et.find(url)
	if ep == nil {
		return
	}
	ep.ConsecutiveErrs = 0
	ep.LastSuccess = et.now()
	ep.Healthy = true
	if ep.samples == 0 {
		ep.Latency = latency
	} else {
		ep.Latency = time.Duration(ewmaAlpha*float64(latency) + (1-ewmaAlpha)*float64(ep.Latency))
	}
	ep.samples++
}

// RecordError counts a failure; maxErrors in a row mark the endpoint unhealthy
func (et *EndpointTracker) RecordError(url string) {
	et.mu.Lock()
	defer et.mu.Unlock()

	ep := et.find(url)
	if ep == nil {
		return
	}
	ep.ConsecutiveErrs++
	ep.LastError = et.now()
	if ep.ConsecutiveErrs >= et.maxErrors {
		ep.Healthy = false
	}
}

// Candidates returns healthy URLs by ascending latency, followed by
// unhealthy URLs whose recovery interval has elapsed
func (et *EndpointTracker) Candidates() []string {
	et.mu.RLock()
	defer et.mu.RUnlock()

	now := et.now()
	var healthy, recovering []*Endpoint
	for _, ep := range et.endpoints {
		switch {
		case ep.Healthy:
			healthy = append(healthy, ep)
		case now.Sub(ep.LastError) >= et.recovery:
			recovering = append(recovering, ep)
		}
	}
	sort.SliceStable(healthy, func(i, j int) bool {
		return healthy[i].Latency < healthy[j].Latency
	})

	urls := make([]string, 0, len(healthy)+len(recovering))
	for _, ep := range healthy {
		urls = append(urls, ep.URL)
	}
	for _, ep := range recovering {
		urls = append(urls, ep.URL)
	}
	return urls
}

// Snapshot returns a copy of every endpoint's state
func (et *EndpointTracker) Snapshot() []Endpoint {
	et.mu.RLock()
	defer et.mu.RUnlock()
	out := make([]Endpoint, len(et.endpoints))
	for i, ep := range et.endpoints {
		out[i] = *ep
	}
	return out
}

// Len returns the number of tracked endpoints
func (et *EndpointTracker) Len() int {
	et.mu.RLock()
	defer et.mu.RUnlock()
	return len(et.endpoints)
}

func (et *EndpointTracker) find(url string) *Endpoint {
	for _, ep := range et.endpoints {
		if ep.URL == url {
			return ep
		}
	}
	return nil
}
