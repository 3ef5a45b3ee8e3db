// Package parallel provides the fork-join worker pool used by the solver stages.
package parallel

import (
	"runtime"
	"sync"
)

// chunksPerWorker controls how finely a dispatch is split so that idle workers
// can pull the remaining chunks of a slow range.
const chunksPerWorker = 4

// Task processes the half-open index range [lo, hi).
type Task func(lo, hi int)

// workChunk represents a range of indices for a worker to process.
type workChunk struct {
	lo, hi int
	fn     Task
	done   *sync.WaitGroup
}

// Pool is a set of persistent worker goroutines. Workers pull chunks from a
// shared channel, so a dispatch finishes when the slowest chunk does, not the
// slowest static partition.
type Pool struct {
	numWorkers int

	workChan chan workChunk // sends work to workers
	stopChan chan struct{}  // signals workers to exit
	wg       sync.WaitGroup // tracks active workers
	mu       sync.Mutex     // guards running against concurrent Start/Stop
	running  bool
}

// NewPool creates a pool with n workers; n <= 0 uses GOMAXPROCS.
// Workers start lazily on the first parallel dispatch.
func NewPool(n int) *Pool {
	if n <= 0 {
		n = runtime.GOMAXPROCS(0)
	}
	return &Pool{numWorkers: n}
}

// Workers returns the number of worker goroutines.
func (p *Pool) Workers() int { return p.numWorkers }

// start launches persistent worker goroutines.
func (p *Pool) start() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.running {
		return
	}

	p.workChan = make(chan workChunk, p.numWorkers*chunksPerWorker)
	p.stopChan = make(chan struct{})
	p.running = true

	for i := 0; i < p.numWorkers; i++ {
		p.wg.Add(1)
		go p.worker()
	}
}

// Stop signals all workers to exit and waits for them.
func (p *Pool) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.running {
		return
	}

	close(p.stopChan)
	p.wg.Wait()
	p.running = false
}

// worker runs in a goroutine, processing chunks until stopped.
func (p *Pool) worker() {
	defer p.wg.Done()

	for {
		select {
		case <-p.stopChan:
			return
		case chunk := <-p.workChan:
			chunk.fn(chunk.lo, chunk.hi)
			chunk.done.Done()
		}
	}
}

// Batch collects chunks from several ranges into one fork-join dispatch.
type Batch struct {
	pool   *Pool
	chunks []workChunk
	done   sync.WaitGroup
}

// NewBatch starts an empty batch on the pool.
func (p *Pool) NewBatch() *Batch {
	return &Batch{pool: p}
}

// Add splits [lo, hi) into chunks of at least minChunk indices.
func (b *Batch) Add(lo, hi, minChunk int, fn Task) {
	n := hi - lo
	if n <= 0 {
		return
	}
	if minChunk < 1 {
		minChunk = 1
	}
	target := b.pool.numWorkers * chunksPerWorker
	chunkSize := (n + target - 1) / target
	if chunkSize < minChunk {
		chunkSize = minChunk
	}
	if chunkSize > n {
		chunkSize = n
	}
	for start := lo; start < hi; start += chunkSize {
		end := start + chunkSize
		if end > hi {
			end = hi
		}
		b.chunks = append(b.chunks, workChunk{lo: start, hi: end, fn: fn})
	}
}

// Len returns the number of chunks queued.
func (b *Batch) Len() int { return len(b.chunks) }

// Run dispatches every queued chunk and blocks until all complete. The
// inline function, if any, runs on the caller while the workers are busy.
func (b *Batch) Run(inline func()) {
	if len(b.chunks) == 0 {
		if inline != nil {
			inline()
		}
		return
	}

	// A single chunk is cheaper on the caller
	if len(b.chunks) == 1 {
		c := b.chunks[0]
		c.fn(c.lo, c.hi)
		if inline != nil {
			inline()
		}
		b.chunks = b.chunks[:0]
		return
	}

	b.pool.start()
	b.done.Add(len(b.chunks))
	go func(chunks []workChunk) {
		for i := range chunks {
			chunks[i].done = &b.done
			b.pool.workChan <- chunks[i]
		}
	}(b.chunks)

	if inline != nil {
		inline()
	}
	b.done.Wait()
	b.chunks = b.chunks[:0]
}

// For runs fn over [0, n) split across workers. Inputs smaller than minBatch
// run on the caller.
func (p *Pool) For(n, minBatch int, fn Task) {
	if n <= 0 {
		return
	}
	if n < minBatch || p.numWorkers == 1 {
		fn(0, n)
		return
	}
	b := p.NewBatch()
	b.Add(0, n, minBatch, fn)
	b.Run(nil)
}
