package politeness

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/temoto/robotstxt"

	"github.com/knowledge-engine/siteqa/internal/config"
)

var (
	// ErrDisallowed is returned for URLs excluded by the host's robots.txt
	ErrDisallowed = errors.New("URL blocked by robots.txt")
	ErrInvalidURL = errors.New("invalid URL")
)

// PolitenessManager gates outbound requests per host: a concurrency cap, a
// minimum delay between consecutive requests and an optional robots.txt check.
type PolitenessManager struct {
	config    config.PolitenessConfig
	userAgent string
	client    *http.Client
	logger    *logrus.Entry

	hostStates  map[string]*HostState
	robotsCache map[string]*RobotsEntry
	running     bool
	cancel      context.CancelFunc
	wg          sync.WaitGroup
	mu          sync.RWMutex

	stats   Statistics
	statsMu sync.RWMutex
}

// HostState tracks the requests in flight to a single host
type HostState struct {
	host            string
	slots           chan struct{}
	lastRequestTime time.Time
	lastAccess      time.Time
	activeRequests  int
	mu              sync.Mutex
}

// RobotsEntry caches robots.txt data
type RobotsEntry struct {
	robots    *robotstxt.RobotsData
	fetchTime time.Time
}

// Statistics holds politeness manager statistics
type Statistics struct {
	TotalRequests    int64     `json:"total_requests"`
	RejectedRequests int64     `json:"rejected_requests"`
	ActiveRequests   int64     `json:"active_requests"`
	TrackedHosts     int       `json:"tracked_hosts"`
	StartTime        time.Time `json:"start_time"`
}

// NewPolitenessManager creates a new politeness manager. client is used for
// robots.txt lookups; nil means a client with a 10s timeout.
func NewPolitenessManager(cfg config.PolitenessConfig, userAgent string, client *http.Client, logger *logrus.Entry) *PolitenessManager {
	if logger == nil {
		logger = logrus.WithField("component", "politeness_manager")
	}
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	if cfg.HostConcurrency <= 0 {
		cfg.HostConcurrency = 1
	}

	return &PolitenessManager{
		config:      cfg,
		userAgent:   userAgent,
		client:      client,
		logger:      logger,
		hostStates:  make(map[string]*HostState),
		robotsCache: make(map[string]*RobotsEntry),
		stats: Statistics{
			StartTime: time.Now(),
		},
	}
}

// Start launches the background cleanup worker
func (pm *PolitenessManager) Start() error {
	pm.mu.Lock()
	defer pm.mu.Unlock()

	if pm.running {
		return fmt.Errorf("politeness manager is already running")
	}
	if pm.config.CleanupInterval <= 0 {
		return fmt.Errorf("cleanup interval must be positive")
	}

	ctx, cancel := context.WithCancel(context.Background())
	pm.cancel = cancel
	pm.running = true

	pm.wg.Add(1)
	go pm.cleanupWorker(ctx)

	pm.logger.Info("Politeness manager started")
	return nil
}

// Stop stops the cleanup worker
func (pm *PolitenessManager) Stop() error {
	pm.mu.Lock()
	if !pm.running {
		pm.mu.Unlock()
		return fmt.Errorf("politeness manager is not running")
	}
	pm.running = false
	pm.cancel()
	pm.mu.Unlock()

	done := make(chan struct{})
	go func() {
		pm.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		pm.logger.Info("Politeness manager stopped")
		return nil
	case <-time.After(5 * time.Second):
		pm.logger.Warn("Politeness manager stop timed out")
		return fmt.Errorf("stop operation timed out")
	}
}

// Acquire blocks until a request to rawURL may be sent. The returned release
// function must be called once the response has been consumed.
func (pm *PolitenessManager) Acquire(ctx context.Context, rawURL string) (func(), error) {
	parsedURL, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidURL, err)
	}
	if parsedURL.Host == "" {
		return nil, fmt.Errorf("%w: URL must have a host", ErrInvalidURL)
	}
	if parsedURL.Scheme != "http" && parsedURL.Scheme != "https" {
		return nil, fmt.Errorf("%w: only HTTP/HTTPS URLs are supported", ErrInvalidURL)
	}

	if pm.config.EnableRobotsCheck {
		allowed, err := pm.IsURLAllowed(ctx, rawURL)
		if err != nil {
			pm.logger.WithError(err).WithField("url", rawURL).Warn("Robots check failed")
		} else if !allowed {
			pm.updateStats(func(stats *Statistics) {
				stats.RejectedRequests++
			})
			return nil, ErrDisallowed
		}
	}

	state := pm.getOrCreateHostState(parsedURL.Host)

	// Concurrency slot
	select {
	case state.slots <- struct{}{}:
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	// Reserve the next send time so concurrent callers queue up behind each other
	state.mu.Lock()
	now := time.Now()
	sendAt := now
	if !state.lastRequestTime.IsZero() {
		if earliest := state.lastRequestTime.Add(pm.config.MinDelay); earliest.After(now) {
			sendAt = earliest
		}
	}
	state.lastRequestTime = sendAt
	state.lastAccess = now
	state.activeRequests++
	state.mu.Unlock()

	release := pm.releaser(state)

	if wait := time.Until(sendAt); wait > 0 {
		pm.logger.WithFields(logrus.Fields{
			"host":      state.host,
			"wait_time": wait,
		}).Debug("Waiting for politeness delay")

		timer := time.NewTimer(wait)
		defer timer.Stop()
		select {
		case <-timer.C:
		case <-ctx.Done():
			release()
			return nil, ctx.Err()
		}
	}

	pm.updateStats(func(stats *Statistics) {
		stats.TotalRequests++
		stats.ActiveRequests++
	})
	var once sync.Once
	return func() {
		once.Do(func() {
			pm.updateStats(func(stats *Statistics) {
				stats.ActiveRequests--
			})
			release()
		})
	}, nil
}

func (pm *PolitenessManager) releaser(state *HostState) func() {
	var once sync.Once
	return func() {
		once.Do(func() {
			state.mu.Lock()
			state.activeRequests--
			state.lastAccess = time.Now()
			state.mu.Unlock()
			<-state.slots
		})
	}
}

// IsURLAllowed checks if URL is allowed according to robots.txt
func (pm *PolitenessManager) IsURLAllowed(ctx context.Context, rawURL string) (bool, error) {
	if !pm.config.EnableRobotsCheck {
		return true, nil
	}

	parsedURL, err := url.Parse(rawURL)
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrInvalidURL, err)
	}

	robotsData, err := pm.getRobotsData(ctx, parsedURL.Scheme, parsedURL.Host)
	if err != nil {
		pm.logger.WithError(err).WithField("host", parsedURL.Host).Warn("Failed to get robots.txt, allowing request")
		return true, nil
	}
	if robotsData == nil {
		return true, nil
	}

	group := robotsData.FindGroup(pm.userAgent)
	if group == nil {
		return true, nil
	}
	path := parsedURL.EscapedPath()
	if path == "" {
		path = "/"
	}
	return group.Test(path), nil
}

// GetStatistics returns a snapshot of the current statistics
func (pm *PolitenessManager) GetStatistics() Statistics {
	pm.statsMu.RLock()
	stats := pm.stats
	pm.statsMu.RUnlock()

	stats.TrackedHosts = pm.GetHostStateCount()
	return stats
}

// GetHostStateCount returns the number of tracked hosts.
func (pm *PolitenessManager) GetHostStateCount() int {
	pm.mu.RLock()
	defer pm.mu.RUnlock()
	return len(pm.hostStates)
}

func (pm *PolitenessManager) getOrCreateHostState(host string) *HostState {
	pm.mu.RLock()
	state, exists := pm.hostStates[host]
	pm.mu.RUnlock()
	if exists {
		return state
	}

	pm.mu.Lock()
	defer pm.mu.Unlock()

	// Check again in case another goroutine created it while we were waiting
	if state, exists := pm.hostStates[host]; exists {
		return state
	}

	state = &HostState{
		host:       host,
		slots:      make(chan struct{}, pm.config.HostConcurrency),
		lastAccess: time.Now(),
	}
	pm.hostStates[host] = state
	pm.logger.WithField("host", host).Debug("Created new host state")
	return state
}

// getRobotsData fetches and caches robots.txt data
func (pm *PolitenessManager) getRobotsData(ctx context.Context, scheme, host string) (*robotstxt.RobotsData, error) {
	pm.mu.RLock()
	entry, exists := pm.robotsCache[host]
	pm.mu.RUnlock()

	if exists && time.Since(entry.fetchTime) < pm.config.RobotsCacheDuration {
		return entry.robots, nil
	}

	robotsURL := fmt.Sprintf("%s://%s/robots.txt", scheme, host)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, robotsURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create robots.txt request: %w", err)
	}
	req.Header.Set("User-Agent", pm.userAgent)

	resp, err := pm.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch robots.txt: %w", err)
	}
	defer resp.Body.Close()

	var robotsData *robotstxt.RobotsData
	if resp.StatusCode == http.StatusOK {
		robotsData, err = robotstxt.FromResponse(resp)
		if err != nil {
			return nil, fmt.Errorf("failed to parse robots.txt: %w", err)
		}
	}

	// Cache the result (even if nil for 404s)
	pm.mu.Lock()
	pm.robotsCache[host] = &RobotsEntry{
		robots:    robotsData,
		fetchTime: time.Now(),
	}
	pm.mu.Unlock()

	return robotsData, nil
}

// cleanupWorker periodically cleans up idle host states and the robots cache
func (pm *PolitenessManager) cleanupWorker(ctx context.Context) {
	defer pm.wg.Done()

	ticker := time.NewTicker(pm.config.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			pm.cleanup()
		}
	}
}

func (pm *PolitenessManager) cleanup() {
	now := time.Now()

	pm.mu.Lock()
	defer pm.mu.Unlock()

	var expiredHosts []string
	for host, state := range pm.hostStates {
		state.mu.Lock()
		expired := now.Sub(state.lastAccess) > pm.config.HostStateExpiry
		idle := state.activeRequests == 0
		state.mu.Unlock()

		if expired && idle {
			expiredHosts = append(expiredHosts, host)
		}
	}
	for _, host := range expiredHosts {
		delete(pm.hostStates, host)
	}

	var expiredRobots []string
	for host, entry := range pm.robotsCache {
		if now.Sub(entry.fetchTime) > pm.config.RobotsCacheDuration {
			expiredRobots = append(expiredRobots, host)
		}
	}
	for _, host := range expiredRobots {
		delete(pm.robotsCache, host)
	}

	if len(expiredHosts) > 0 || len(expiredRobots) > 0 {
		pm.logger.WithFields(logrus.Fields{
			"expired_hosts":  len(expiredHosts),
			"expired_robots": len(expiredRobots),
		}).Debug("Cleanup completed")
	}
}

// updateStats safely updates statistics
func (pm *PolitenessManager) updateStats(updateFn func(*Statistics)) {
	pm.statsMu.Lock()
	defer pm.statsMu.Unlock()
	updateFn(&pm.stats)
}
