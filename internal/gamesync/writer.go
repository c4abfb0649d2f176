package gamesync

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/park285/Cheese-Board/internal/docstore"
	"github.com/park285/Cheese-Board/internal/position"
)

type writeJob struct {
	key    string
	pos    position.FEN
	fields docstore.Fields
}

// writer applies upserts one at a time in submission order.
type writer struct {
	mu         sync.Mutex
	queue      []writeJob
	idle       chan struct{}
	idleClosed bool

	wake chan struct{}
	stop chan struct{}
	done chan struct{}
	once sync.Once
}

func newWriter() *writer {
	w := &writer{
		idle: make(chan struct{}),
		wake: make(chan struct{}, 1),
		stop: make(chan struct{}),
		done: make(chan struct{}),
	}
	close(w.idle)
	w.idleClosed = true
	return w
}

func (w *writer) enqueue(job writeJob) {
	w.mu.Lock()
	w.queue = append(w.queue, job)
	if w.idleClosed {
		w.idle = make(chan struct{})
		w.idleClosed = false
	}
	w.mu.Unlock()
	select {
	case w.wake <- struct{}{}:
	default:
	}
}

func (w *writer) idleCh() <-chan struct{} {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.idle
}

func (w *writer) next() (writeJob, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if len(w.queue) == 0 {
		if !w.idleClosed {
			close(w.idle)
			w.idleClosed = true
		}
		return writeJob{}, false
	}
	job := w.queue[0]
	w.queue[0] = writeJob{}
	w.queue = w.queue[1:]
	return job, true
}

func (w *writer) run(s *Synchronizer) {
	defer close(w.done)
	for {
		job, ok := w.next()
		if !ok {
			select {
			case <-w.wake:
				continue
			case <-w.stop:
				return
			}
		}
		s.write(job)
	}
}

func (w *writer) close() {
	w.once.Do(func() { close(w.stop) })
	<-w.done
}

func (s *Synchronizer) write(job writeJob) {
	ctx, cancel := context.WithTimeout(context.Background(), s.opts.WriteTimeout)
	defer cancel()
	start := time.Now()
	err := s.store.UpsertMerge(ctx, job.key, job.fields)
	elapsed := time.Since(start).Seconds()
	if err != nil {
		s.forgetPending(job.key, job.pos)
		s.metrics.Publish("failed", elapsed)
		s.logger.Warn("sync_publish_failed",
			zap.String("key", job.key),
			zap.String("position", job.pos.String()),
			zap.Error(err),
		)
		s.emit(PublishFailed{Key: job.key, Position: job.pos, Err: err})
		return
	}
	s.metrics.Publish("ok", elapsed)
	s.logger.Debug("sync_published", zap.String("key", job.key), zap.String("position", job.pos.String()))
}
