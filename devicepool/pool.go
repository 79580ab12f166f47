// Package devicepool implements the device connection pool: per-device
// pools of authenticated client connections, a per-device FIFO command
// queue dispatched under a concurrency cap, and a short-TTL response
// cache keyed by device + command fingerprint.
package devicepool

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"

	"encore.app/pkg/apperrors"
)

// Client is an authenticated connection to one device. Callers supply a
// concrete implementation (SSH, SNMP, a vendor SDK, ...); the pool only
// needs to execute commands and know liveness.
type Client interface {
	Execute(ctx context.Context, command string) ([]byte, error)
	Close() error
}

// ClientFactory dials a new Client for a device.
type ClientFactory func(ctx context.Context, deviceID string) (Client, error)

// devicePool holds the connection pool and command queue for one device.
type devicePool struct {
	deviceID string
	factory  ClientFactory

	mu      sync.Mutex
	clients []Client

	queue       chan command
	concurrency int
	limiter     *rate.Limiter
	breaker     *gobreaker.CircuitBreaker

	stopOnce sync.Once
	stopChan chan struct{}
	wg       sync.WaitGroup
}

type command struct {
	ctx     context.Context
	text    string
	resultC chan commandResult
}

type commandResult struct {
	output []byte
	err    error
}

func newDevicePool(deviceID string, factory ClientFactory, concurrency int, rps float64) *devicePool {
	dp := &devicePool{
		deviceID:    deviceID,
		factory:     factory,
		queue:       make(chan command, 256),
		concurrency: concurrency,
		limiter:     rate.NewLimiter(rate.Limit(rps), int(rps)+1),
		stopChan:    make(chan struct{}),
	}
	dp.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:    "devicepool:" + deviceID,
		Timeout: 30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
	})
	for i := 0; i < concurrency; i++ {
		dp.wg.Add(1)
		go dp.worker()
	}
	return dp
}

func (dp *devicePool) worker() {
	defer dp.wg.Done()
	for {
		select {
		case <-dp.stopChan:
			return
		case cmd := <-dp.queue:
			dp.run(cmd)
		}
	}
}

func (dp *devicePool) run(cmd command) {
	if err := dp.limiter.Wait(cmd.ctx); err != nil {
		cmd.resultC <- commandResult{err: apperrors.Wrap(apperrors.KindTimeout, "rate limiter wait canceled", err)}
		return
	}

	if dp.breaker.State() == gobreaker.StateOpen {
		cmd.resultC <- commandResult{err: apperrors.New(apperrors.KindUnavailable, "device "+dp.deviceID+" circuit open")}
		return
	}

	out, err := dp.breaker.Execute(func() (interface{}, error) {
		client, err := dp.checkout(cmd.ctx)
		if err != nil {
			return nil, err
		}
		defer dp.release(client)
		return client.Execute(cmd.ctx, cmd.text)
	})
	if err != nil {
		cmd.resultC <- commandResult{err: err}
		return
	}
	output, _ := out.([]byte)
	cmd.resultC <- commandResult{output: output}
}

func (dp *devicePool) checkout(ctx context.Context) (Client, error) {
	dp.mu.Lock()
	if n := len(dp.clients); n > 0 {
		c := dp.clients[n-1]
		dp.clients = dp.clients[:n-1]
		dp.mu.Unlock()
		return c, nil
	}
	dp.mu.Unlock()

	client, err := dp.factory(ctx, dp.deviceID)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.KindUnavailable, "failed to dial device client", err)
	}
	return client, nil
}

// release returns a client to the idle pool for reuse; callers must not
// use the client again after calling this.
func (dp *devicePool) release(c Client) {
	dp.mu.Lock()
	dp.clients = append(dp.clients, c)
	dp.mu.Unlock()
}

func (dp *devicePool) submit(ctx context.Context, text string) ([]byte, error) {
	resultC := make(chan commandResult, 1)
	select {
	case dp.queue <- command{ctx: ctx, text: text, resultC: resultC}:
	case <-ctx.Done():
		return nil, apperrors.Wrap(apperrors.KindTimeout, "command queue full or context canceled", ctx.Err())
	}
	select {
	case res := <-resultC:
		return res.output, res.err
	case <-ctx.Done():
		return nil, apperrors.Wrap(apperrors.KindTimeout, "command execution canceled", ctx.Err())
	}
}

func (dp *devicePool) shutdown() {
	dp.stopOnce.Do(func() {
		close(dp.stopChan)
		dp.wg.Wait()
		dp.mu.Lock()
		for _, c := range dp.clients {
			c.Close()
		}
		dp.mu.Unlock()
	})
}

// ActiveResolver resolves the currently-active device for a failover
// group, letting Pool delegate device selection to the failover
// controller instead of assuming deviceID is always directly addressable.
type ActiveResolver interface {
	ActiveDevice(group string) (string, bool)
}

// Pool is the top-level device connection pool service state.
type Pool struct {
	factory       ClientFactory
	concurrency   int
	defaultRPS    float64
	responseTTL   time.Duration
	activeResolve ActiveResolver

	mu      sync.Mutex
	devices map[string]*devicePool

	responses *lru.Cache[string, cachedResponse]
}

type cachedResponse struct {
	value     []byte
	expiresAt time.Time
}

// Config tunes a Pool.
type Config struct {
	Concurrency    int
	DefaultRPS     float64
	ResponseTTL    time.Duration
	ResponseCacheN int
}

func New(factory ClientFactory, resolver ActiveResolver, config Config) *Pool {
	cache, _ := lru.New[string, cachedResponse](config.ResponseCacheN)
	return &Pool{
		factory:       factory,
		concurrency:   config.Concurrency,
		defaultRPS:    config.DefaultRPS,
		responseTTL:   config.ResponseTTL,
		activeResolve: resolver,
		devices:       make(map[string]*devicePool),
		responses:     cache,
	}
}

func (p *Pool) poolFor(deviceID string) *devicePool {
	p.mu.Lock()
	defer p.mu.Unlock()
	dp, ok := p.devices[deviceID]
	if !ok {
		dp = newDevicePool(deviceID, p.factory, p.concurrency, p.defaultRPS)
		p.devices[deviceID] = dp
	}
	return dp
}

// ExecuteOptions tunes one ExecuteCommand call.
type ExecuteOptions struct {
	Group      string // failover group; if set, the active device is resolved dynamically
	CacheReads bool   // whether to consult/populate the response cache for this command
}

func fingerprint(deviceID, command string) string {
	sum := sha256.Sum256([]byte(deviceID + "\x00" + command))
	return hex.EncodeToString(sum[:])
}

// ExecuteCommand resolves the active device for opts.Group (if set),
// submits the command to that device's queue, and optionally serves/
// populates the response cache.
func (p *Pool) ExecuteCommand(ctx context.Context, deviceID, cmd string, opts ExecuteOptions) ([]byte, error) {
	target := deviceID
	if opts.Group != "" && p.activeResolve != nil {
		active, ok := p.activeResolve.ActiveDevice(opts.Group)
		if !ok {
			return nil, apperrors.New(apperrors.KindUnavailable, fmt.Sprintf("no active device for group %s", opts.Group))
		}
		target = active
	}

	key := fingerprint(target, cmd)
	if opts.CacheReads && p.responses != nil {
		if cached, ok := p.responses.Get(key); ok && time.Now().Before(cached.expiresAt) {
			return cached.value, nil
		}
	}

	out, err := p.poolFor(target).submit(ctx, cmd)
	if err != nil {
		return nil, err
	}

	if opts.CacheReads && p.responses != nil {
		p.responses.Add(key, cachedResponse{value: out, expiresAt: time.Now().Add(p.responseTTL)})
	}
	return out, nil
}

// InvalidateDevice tears down deviceID's connection pool so the next
// command dials a fresh client. Cached responses for deviceID are not
// removed; they stay servable until their ResponseTTL elapses.
func (p *Pool) InvalidateDevice(deviceID string) {
	// golang-lru has no prefix-scan; since cache keys are opaque hashes we
	// can't filter by device without a reverse index, so a write instead
	// evicts this device's connection pool (forcing fresh auth on the next
	// command) and lets the response cache's own TTL clear stale entries.
	p.mu.Lock()
	dp, ok := p.devices[deviceID]
	p.mu.Unlock()
	if ok {
		dp.shutdown()
		p.mu.Lock()
		delete(p.devices, deviceID)
		p.mu.Unlock()
	}
}

// Shutdown tears down every device's pool.
func (p *Pool) Shutdown() {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, dp := range p.devices {
		dp.shutdown()
	}
}
