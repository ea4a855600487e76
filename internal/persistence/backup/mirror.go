package backup

import (
	"context"
	"fmt"
	"log"
	"path"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

type Stats struct {
	QueueDepth      int
	Enqueued        uint64
	Dropped         uint64
	Uploaded        uint64
	Failed          uint64
	LastSuccessUnix int64
}

// Uploader is what a Mirror pushes blobs through; *Client satisfies it.
type Uploader interface {
	Put(ctx context.Context, key string, body []byte) error
}

type job struct {
	key  string
	blob []byte
}

// Mirror copies saves off-box in the background. Enqueue never blocks a
// session: when the queue is full the copy is dropped and counted.
type Mirror struct {
	up     Uploader
	prefix string
	logger *log.Logger
	retry  time.Duration

	jobs chan job
	wg   sync.WaitGroup

	enqueued    atomic.Uint64
	dropped     atomic.Uint64
	uploaded    atomic.Uint64
	failed      atomic.Uint64
	lastSuccess atomic.Int64
}

func NewMirror(up Uploader, prefix string, workers, queue int, logger *log.Logger) *Mirror {
	if workers <= 0 {
		workers = 1
	}
	if queue <= 0 {
		queue = 256
	}
	m := &Mirror{
		up:     up,
		prefix: strings.Trim(strings.ReplaceAll(prefix, "\\", "/"), "/"),
		logger: logger,
		retry:  200 * time.Millisecond,
		jobs:   make(chan job, queue),
	}
	for i := 0; i < workers; i++ {
		m.wg.Add(1)
		go func() {
			defer m.wg.Done()
			for j := range m.jobs {
				m.upload(j)
			}
		}()
	}
	return m
}

// Key is the object key of a slot's save written at savedAt.
func (m *Mirror) Key(slot string, savedAt int64) string {
	k := fmt.Sprintf("saves/%s/%d.save", slot, savedAt)
	if m.prefix != "" {
		k = path.Join(m.prefix, k)
	}
	return k
}

// Backup queues a copy of blob. The blob must not be modified afterwards.
func (m *Mirror) Backup(slot string, savedAt int64, blob []byte) {
	if m == nil {
		return
	}
	m.enqueued.Add(1)
	select {
	case m.jobs <- job{key: m.Key(slot, savedAt), blob: blob}:
	default:
		n := m.dropped.Add(1)
		m.printf("backup drop slot=%s reason=queue_full dropped_total=%d", slot, n)
	}
}

// Close waits for queued uploads to finish.
func (m *Mirror) Close() {
	if m == nil {
		return
	}
	close(m.jobs)
	m.wg.Wait()
}

func (m *Mirror) Stats() Stats {
	if m == nil {
		return Stats{}
	}
	return Stats{
		QueueDepth:      len(m.jobs),
		Enqueued:        m.enqueued.Load(),
		Dropped:         m.dropped.Load(),
		Uploaded:        m.uploaded.Load(),
		Failed:          m.failed.Load(),
		LastSuccessUnix: m.lastSuccess.Load(),
	}
}

func (m *Mirror) upload(j job) {
	const attempts = 4
	var err error
	for i := 1; i <= attempts; i++ {
		ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
		err = m.up.Put(ctx, j.key, j.blob)
		cancel()
		if err == nil {
			m.uploaded.Add(1)
			m.lastSuccess.Store(time.Now().Unix())
			return
		}
		if i < attempts {
			time.Sleep(time.Duration(i*i) * m.retry)
		}
	}
	m.failed.Add(1)
	m.printf("backup upload failed key=%s err=%v", j.key, err)
}

func (m *Mirror) printf(format string, args ...any) {
	if m.logger != nil {
		m.logger.Printf(format, args...)
	}
}
