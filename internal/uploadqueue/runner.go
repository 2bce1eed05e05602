package uploadqueue

import (
	"container/list"
	"context"
	"encoding/base64"
	"errors"
	"net/http"
	"time"

	"github.com/agentworkforce/themesync/internal/assetapi"
)

// startLocked launches the drain loop unless one is active or the queue
// is stopped, closed or empty. Callers hold q.mu.
func (q *Queue) startLocked() {
	if q.running || q.stopped || q.closed || q.pending.Len() == 0 {
		return
	}
	q.running = true
	q.wg.Add(1)
	go q.drain()
}

func (q *Queue) drain() {
	defer q.wg.Done()
	for {
		if !q.waitForTurn() {
			return
		}
		t, themeID, ok := q.pull()
		if !ok {
			continue
		}
		err := q.execute(t, themeID)
		q.settle(t, err)
	}
}

// waitForTurn applies call pacing and reports whether the loop should
// pull another task. When the queue is empty, stopped or closed it ends
// the loop instead and releases DrainAndWait callers.
func (q *Queue) waitForTurn() bool {
	if q.exitIfIdle() {
		return false
	}
	q.mu.Lock()
	backoff, retryAfter := q.backoff, q.retryAfter
	q.backoff, q.retryAfter = false, 0
	q.mu.Unlock()

	rate := q.client.RateState()
	if backoff || (rate.Known() && rate.Remaining <= q.lowWater) {
		wait := q.cooldown
		if backoff {
			wait = max(wait, retryAfter, rate.ResetHint)
		}
		q.logf("debug", "pacing: waiting %s (remaining calls %d)", wait, rate.Remaining)
		select {
		case <-q.interrupt:
		default:
		}
		timer := time.NewTimer(wait)
		select {
		case <-timer.C:
		case <-q.interrupt:
			timer.Stop()
		case <-q.ctx.Done():
			timer.Stop()
		}
	}
	return !q.exitIfIdle()
}

func (q *Queue) exitIfIdle() bool {
	q.mu.Lock()
	if !q.stopped && !q.closed && q.pending.Len() > 0 {
		q.mu.Unlock()
		return false
	}
	q.running = false
	drained := !q.stopped && !q.closed
	waiters := q.waiters
	q.waiters = nil
	succeeded, failed := q.cycleOK, q.cycleFailed
	var result error
	switch {
	case q.closed:
		result = ErrClosed
	case q.stopped:
		result = ErrStopped
	default:
		q.cycleOK, q.cycleFailed = 0, 0
		if len(waiters) > 0 {
			result = q.takeUnreportedLocked()
		}
	}
	q.mu.Unlock()

	if drained {
		eventType := EventDrained
		if failed > 0 {
			eventType = EventDrainedWithErrors
		}
		q.logf("info", "queue drained: %d succeeded, %d failed", succeeded, failed)
		q.emit(Event{Type: eventType, Succeeded: succeeded, Failed: failed})
	}
	for _, w := range waiters {
		w <- result
	}
	return true
}

// recordUnreportedLocked keeps a failure for the next DrainAndWait. Only
// the newest maxUnreported are kept so a long watch session that never
// waits does not grow without bound.
func (q *Queue) recordUnreportedLocked(taskErr *TaskError) {
	if len(q.unreported) >= maxUnreported {
		q.unreported = q.unreported[len(q.unreported)-maxUnreported+1:]
	}
	q.unreported = append(q.unreported, taskErr)
}

// takeUnreportedLocked hands the failures not yet returned by
// DrainAndWait to the caller.
func (q *Queue) takeUnreportedLocked() error {
	failures := q.unreported
	q.unreported = nil
	if len(failures) == 0 {
		return nil
	}
	return &DrainError{Failures: failures}
}

func (q *Queue) pull() (*task, string, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.stopped || q.closed {
		return nil, "", false
	}
	front := q.pending.Front()
	if front == nil {
		return nil, "", false
	}
	t := q.pending.Remove(front).(*task)
	delete(q.index, t.key)
	t.state = StateInFlight
	t.attempts++
	q.inflight = t
	return t, q.themeID, true
}

func (q *Queue) execute(t *task, themeID string) error {
	if themeID == "" {
		return ErrMissingThemeID
	}
	q.callMu.Lock()
	defer q.callMu.Unlock()
	var err error
	switch t.intent.Action {
	case ActionDelete:
		err = q.client.Delete(q.ctx, themeID, t.key)
		var httpErr *assetapi.HTTPError
		if errors.As(err, &httpErr) && httpErr.StatusCode == http.StatusNotFound {
			err = nil
		}
	case ActionUpdate:
		_, err = q.client.Update(q.ctx, themeID, t.key, encodePayload(t.intent.Payload))
	default:
		_, err = q.client.Create(q.ctx, themeID, t.key, encodePayload(t.intent.Payload))
	}
	return err
}

func (q *Queue) settle(t *task, err error) {
	if err == nil {
		q.mu.Lock()
		q.inflight = nil
		t.state = StateSucceeded
		q.cycleOK++
		q.mu.Unlock()
		q.logf("info", "%s %s", t.intent.Action, t.key)
		t.completion.resolve(nil, t.intent.OnComplete)
		q.emit(Event{Type: EventSucceeded, TaskID: t.id, Key: t.key, Action: t.intent.Action, Attempts: t.attempts})
		return
	}

	class := Classify(err)
	if errors.Is(err, ErrMissingThemeID) {
		class = ClassInvalidRequest
	}
	retryable := class.Retryable()

	q.mu.Lock()
	q.inflight = nil
	if (retryable || errors.Is(err, context.Canceled)) && (q.aborted || q.closed) {
		q.mu.Unlock()
		t.completion.resolve(ErrAborted, nil)
		return
	}
	if retryable {
		if _, newer := q.index[t.key]; newer {
			q.mu.Unlock()
			q.logf("debug", "dropping retry for %s: a newer write is queued", t.key)
			t.completion.resolve(ErrSuperseded, nil)
			q.emit(Event{Type: EventSuperseded, TaskID: t.id, Key: t.key, Action: t.intent.Action, Attempts: t.attempts})
			return
		}
		t.state = StatePending
		q.index[t.key] = q.pending.PushBack(t)
		q.backoff = true
		q.retryAfter = retryAfterOf(err)
		q.mu.Unlock()
		q.logf("warn", "retrying %s %s after %s (attempt %d): %v", t.intent.Action, t.key, class, t.attempts, err)
		q.emit(Event{Type: EventRetried, TaskID: t.id, Key: t.key, Action: t.intent.Action, Attempts: t.attempts, Class: class.String(), Error: err.Error()})
		return
	}

	taskErr := &TaskError{
		TaskID:   t.id,
		Key:      t.key,
		Action:   t.intent.Action,
		Class:    class,
		Attempts: t.attempts,
		Err:      err,
	}
	t.state = StateFailed
	q.cycleFailed++
	q.recordUnreportedLocked(taskErr)
	q.mu.Unlock()
	if class == ClassUnprocessable {
		q.logf("error", "%s %s rejected, likely a Liquid syntax error: %v", t.intent.Action, t.key, err)
	} else {
		q.logf("error", "%s %s failed: %v", t.intent.Action, t.key, taskErr)
	}
	t.completion.resolve(taskErr, t.intent.OnComplete)
	q.emit(Event{Type: EventFailed, TaskID: t.id, Key: t.key, Action: t.intent.Action, Attempts: t.attempts, Class: class.String(), Error: err.Error()})
}

// Stop halts the drain loop before its next pull. A call already in
// flight finishes; pending tasks stay queued until Start.
func (q *Queue) Stop() {
	q.mu.Lock()
	q.stopped = true
	q.mu.Unlock()
	q.wake()
}

// Start resumes a stopped or aborted queue.
func (q *Queue) Start() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.stopped = false
	q.aborted = false
	q.startLocked()
}

// Abort stops the queue and discards every pending task. Their
// completions resolve with ErrAborted and their callbacks never run.
// It returns the number of discarded tasks.
func (q *Queue) Abort() int {
	q.mu.Lock()
	q.stopped = true
	q.aborted = true
	dropped := make([]*task, 0, q.pending.Len())
	for elem := q.pending.Front(); elem != nil; elem = elem.Next() {
		dropped = append(dropped, elem.Value.(*task))
	}
	q.pending.Init()
	q.index = map[string]*list.Element{}
	q.cycleOK, q.cycleFailed = 0, 0
	q.unreported = nil
	waiters := q.waiters
	q.waiters = nil
	q.mu.Unlock()
	q.wake()

	for _, t := range dropped {
		t.completion.resolve(ErrAborted, nil)
	}
	for _, w := range waiters {
		w <- ErrAborted
	}
	q.logf("warn", "sync aborted: %d pending tasks discarded", len(dropped))
	q.emit(Event{Type: EventAborted, Dropped: len(dropped)})
	return len(dropped)
}

// Close rejects further enqueues, aborts pending work and waits for the
// in-flight call and the drain loop to finish.
func (q *Queue) Close() error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return nil
	}
	q.closed = true
	q.mu.Unlock()
	q.Abort()
	q.wg.Wait()
	q.cancel()
	return nil
}

// DrainAndWait runs the queue until it is empty. It returns a *DrainError
// holding the terminal failures not yet reported by an earlier call, or
// nil when there were none. A stopped queue with pending work yields
// ErrStopped; aborting while waiting yields ErrAborted.
func (q *Queue) DrainAndWait(ctx context.Context) error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return ErrClosed
	}
	if q.pending.Len() == 0 && q.inflight == nil && !q.running {
		err := q.takeUnreportedLocked()
		q.mu.Unlock()
		return err
	}
	if q.stopped {
		q.mu.Unlock()
		return ErrStopped
	}
	w := make(chan error, 1)
	q.waiters = append(q.waiters, w)
	q.startLocked()
	q.mu.Unlock()

	select {
	case err := <-w:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (q *Queue) wake() {
	select {
	case q.interrupt <- struct{}{}:
	default:
	}
}

// retryAfterOf returns the server's Retry-After hint carried by err.
func retryAfterOf(err error) time.Duration {
	var httpErr *assetapi.HTTPError
	if errors.As(err, &httpErr) {
		return httpErr.RetryAfter
	}
	return 0
}

func encodePayload(payload []byte) string {
	return base64.StdEncoding.EncodeToString(payload)
}
