package journal

import (
	"context"
	"sync"
	"time"

	"github.com/agentworkforce/themesync/internal/uploadqueue"
)

const defaultSinkBuffer = 256

type Logger interface {
	Warnf(format string, args ...any)
}

// Sink records queue events on its own goroutine so a slow backend never
// blocks the drain loop. Events arriving while the buffer is full are
// dropped and logged.
type Sink struct {
	journal Journal
	runID   string
	logger  Logger
	events  chan Entry

	closeOnce sync.Once
	done      chan struct{}
}

func NewSink(journal Journal, runID string, buffer int, logger Logger) *Sink {
	if buffer <= 0 {
		buffer = defaultSinkBuffer
	}
	s := &Sink{
		journal: journal,
		runID:   runID,
		logger:  logger,
		events:  make(chan Entry, buffer),
		done:    make(chan struct{}),
	}
	go s.run()
	return s
}

// Observe matches the uploadqueue.Queue.Subscribe callback.
func (s *Sink) Observe(event uploadqueue.Event) {
	entry, ok := EntryFromEvent(event)
	if !ok {
		return
	}
	entry.RunID = s.runID
	select {
	case s.events <- entry:
	default:
		s.warnf("journal buffer full, dropping %s entry for %s", entry.Outcome, entry.Key)
	}
}

func (s *Sink) run() {
	defer close(s.done)
	for entry := range s.events {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		if err := s.journal.Record(ctx, entry); err != nil {
			s.warnf("journal record failed for %s: %v", entry.Key, err)
		}
		cancel()
	}
}

// Close flushes buffered entries. Observe must not be called afterwards.
func (s *Sink) Close() {
	s.closeOnce.Do(func() {
		close(s.events)
	})
	<-s.done
}

func (s *Sink) warnf(format string, args ...any) {
	if s.logger == nil {
		return
	}
	s.logger.Warnf(format, args...)
}
