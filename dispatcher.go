package pulse

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
)

// ErrBackoff is returned by Flush while delivery waits out a fail-timeout.
var ErrBackoff = errors.New("delivery is backing off after a failure")

type DispatcherConfig struct {
	Endpoint    string
	Interval    time.Duration
	FailTimeout time.Duration
	ForcePost   bool
	Headers     map[string]string
}

// Dispatcher runs the heartbeat: each tick runs the owner's housekeeping and
// then delivers at most one request from the queue. The transport call runs
// on its own goroutine; its outcome is applied under the owner's lock.
type Dispatcher struct {
	config DispatcherConfig
	mu     sync.Locker
	queue  *RequestQueue
	http   HTTPAdapter
	logger LoggerAdapter
	clock  clock

	// housekeeping runs under mu at the start of every tick.
	housekeeping func()
	// beforeSend may amend the head request before it goes out.
	beforeSend func(*Request)

	done    chan struct{} // closed when the in-flight delivery completes
	lastErr error

	timerMu  sync.Mutex
	running  bool
	ticker   *time.Ticker
	stopChan chan struct{}
	wg       sync.WaitGroup
}

type dispatcherDeps struct {
	mu     sync.Locker
	queue  *RequestQueue
	http   HTTPAdapter
	logger LoggerAdapter
	clock  clock
}

func newDispatcher(config DispatcherConfig, deps dispatcherDeps) *Dispatcher {
	return &Dispatcher{
		config: config,
		mu:     deps.mu,
		queue:  deps.queue,
		http:   deps.http,
		logger: deps.logger,
		clock:  deps.clock,
	}
}

// Start begins ticking every Interval. Calling Start on a running
// dispatcher is a no-op.
func (d *Dispatcher) Start() {
	d.timerMu.Lock()
	defer d.timerMu.Unlock()

	if d.running {
		return
	}
	d.running = true
	d.ticker = time.NewTicker(d.config.Interval)
	d.stopChan = make(chan struct{})

	ticker, stop := d.ticker, d.stopChan
	d.wg.Go(func() {
		for {
			select {
			case <-ticker.C:
				d.Tick()
			case <-stop:
				return
			}
		}
	})
}

// Stop prevents future ticks. A delivery already in flight still
// completes and updates the queue. The dispatcher may be started again.
func (d *Dispatcher) Stop() {
	d.timerMu.Lock()
	if !d.running {
		d.timerMu.Unlock()
		return
	}
	d.running = false
	d.ticker.Stop()
	close(d.stopChan)
	d.timerMu.Unlock()

	d.wg.Wait()
}

// Running reports whether the tick loop is active.
func (d *Dispatcher) Running() bool {
	d.timerMu.Lock()
	defer d.timerMu.Unlock()
	return d.running
}

// Tick performs one heartbeat.
func (d *Dispatcher) Tick() {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.housekeeping != nil {
		d.housekeeping()
	}
	d.deliverLocked()
}

// deliverLocked starts delivery of the head request if the queue is ready.
// It reports whether a transport call was started.
func (d *Dispatcher) deliverLocked() bool {
	if !d.queue.Ready(d.clock.Now()) {
		return false
	}
	req, ok := d.queue.PeekAndLock()
	if !ok {
		return false
	}
	if d.beforeSend != nil {
		d.beforeSend(&req)
		d.queue.updateInFlight(req)
	}

	httpReq, err := buildHTTPRequest(d.config.Endpoint, &req, d.config.ForcePost, d.config.Headers)
	if err != nil {
		d.logger.Error("Failed to encode request, dropping it: %v", err)
		d.queue.Confirm()
		return false
	}

	done := make(chan struct{})
	d.done = done
	d.logger.Debug("Processing request", map[string]any{"kind": req.Kind(), "method": httpReq.Method})

	go func() {
		defer close(done)
		resp, err := d.http.Send(httpReq)

		d.mu.Lock()
		defer d.mu.Unlock()
		d.complete(req, resp, err)
		if d.done == done {
			d.done = nil
		}
	}()
	return true
}

func (d *Dispatcher) complete(req Request, resp *HTTPResponse, err error) {
	if err == nil && !isSuccess(resp) {
		httpErr := &HTTPError{}
		if resp != nil {
			httpErr.Status = resp.Status
			httpErr.Body = string(resp.Body)
		}
		err = httpErr
	}

	if err != nil {
		until := d.clock.Now().Add(d.config.FailTimeout)
		d.logger.Warn("Request failed, retrying after %s: %v", until.Format(time.RFC3339), err)
		d.queue.Requeue(req, until)
		d.lastErr = err
		return
	}

	d.logger.Debug("Request finished", map[string]any{"kind": req.Kind()})
	d.queue.Confirm()
	d.lastErr = nil
}

// Wait blocks until the in-flight delivery, if any, completes or ctx ends.
func (d *Dispatcher) Wait(ctx context.Context) error {
	d.mu.Lock()
	done := d.done
	d.mu.Unlock()

	if done == nil {
		return nil
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Flush ticks until the queue is empty. It stops at the first failed
// delivery and returns its error, or ErrBackoff if a fail-timeout is
// still running.
func (d *Dispatcher) Flush(ctx context.Context) error {
	for {
		if err := d.Wait(ctx); err != nil {
			return err
		}

		d.mu.Lock()
		if d.housekeeping != nil {
			d.housekeeping()
		}
		if d.queue.IsEmpty() {
			d.mu.Unlock()
			return nil
		}
		if !d.queue.InFlight() && !d.queue.Ready(d.clock.Now()) {
			until := d.queue.FailUntil()
			d.mu.Unlock()
			return fmt.Errorf("%w until %s", ErrBackoff, until.Format(time.RFC3339))
		}
		d.lastErr = nil
		d.deliverLocked()
		d.mu.Unlock()

		if err := d.Wait(ctx); err != nil {
			return err
		}

		d.mu.Lock()
		err := d.lastErr
		d.mu.Unlock()
		if err != nil {
			return fmt.Errorf("flush: %w", err)
		}
	}
}
