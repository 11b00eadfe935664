package collab

import (
	"context"
	"errors"
	"sync"
	"time"

	"codecollab-server/core"
	"codecollab-server/metrics"

	"github.com/sirupsen/logrus"
)

// Persister writes content in detached goroutines. Callers never wait for
// the write and failures are only logged and counted.
type Persister struct {
	store   core.DocumentStore
	rooms   core.RoomRegistry
	timeout time.Duration

	mu     sync.Mutex
	closed bool
	wg     sync.WaitGroup

	// onDone, when set, observes every finished write. Used by tests.
	onDone func(documentID string, err error)
}

var errPersisterClosed = errors.New("persister closed")

// NewPersister writes to store and records activity in rooms, which may
// be nil. A zero timeout disables the per-write deadline.
func NewPersister(store core.DocumentStore, rooms core.RoomRegistry, timeout time.Duration) *Persister {
	return &Persister{store: store, rooms: rooms, timeout: timeout}
}

// Persist schedules UpdateContent and returns immediately. Writes
// scheduled after Close are dropped.
func (p *Persister) Persist(documentID, content string) {
	if !p.schedule() {
		metrics.ObservePersist(errPersisterClosed, 0)
		logrus.WithFields(logrus.Fields{
			"document_id":    documentID,
			"content_length": len(content),
		}).Warn("Dropping content write after shutdown")
		if p.onDone != nil {
			p.onDone(documentID, errPersisterClosed)
		}
		return
	}
	go func() {
		defer p.wg.Done()

		ctx, cancel := p.context()
		defer cancel()

		start := time.Now()
		err := p.store.UpdateContent(ctx, documentID, content)
		metrics.ObservePersist(err, time.Since(start))

		log := logrus.WithFields(logrus.Fields{
			"document_id":    documentID,
			"content_length": len(content),
		})
		if err != nil {
			log.WithError(err).Error("Failed to persist document content")
		} else {
			log.Debug("Document content persisted")
			p.touch(ctx, documentID)
		}

		if p.onDone != nil {
			p.onDone(documentID, err)
		}
	}()
}

// Touch records room activity in the background.
func (p *Persister) Touch(documentID string) {
	if p.rooms == nil || !p.schedule() {
		return
	}
	go func() {
		defer p.wg.Done()
		ctx, cancel := p.context()
		defer cancel()
		p.touch(ctx, documentID)
	}()
}

func (p *Persister) touch(ctx context.Context, documentID string) {
	if p.rooms == nil {
		return
	}
	if err := p.rooms.TouchRoom(ctx, documentID); err != nil {
		logrus.WithField("document_id", documentID).WithError(err).Warn("Failed to record room activity")
	}
}

// schedule reserves a slot for one background write unless closed.
func (p *Persister) schedule() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return false
	}
	p.wg.Add(1)
	return true
}

// Close rejects further writes and waits for the scheduled ones.
func (p *Persister) Close(ctx context.Context) error {
	p.mu.Lock()
	p.closed = true
	p.mu.Unlock()
	return p.Wait(ctx)
}

// Wait blocks until all scheduled writes finished or ctx is done.
func (p *Persister) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (p *Persister) context() (context.Context, context.CancelFunc) {
	if p.timeout > 0 {
		return context.WithTimeout(context.Background(), p.timeout)
	}
	return context.WithCancel(context.Background())
}
