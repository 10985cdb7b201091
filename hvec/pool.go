package hvec

import "sync"

// countsBufPool recycles []int32 majority-count buffers so Bundle does not
// allocate a fresh counts slice per call. Buffers are keyed by bit width so
// a buffer obtained for one width is never accidentally reused for another.
//
// Zeroing happens on *get*, not put, so a stale buffer returned to the pool
// can never leak counts into the next bundle.
type countsBufPool struct {
	mu    sync.Mutex
	pools map[int]*sync.Pool
}

var countsPool = &countsBufPool{pools: make(map[int]*sync.Pool)}

func (p *countsBufPool) get(nbits int) []int32 {
	p.mu.Lock()
	pool, ok := p.pools[nbits]
	if !ok {
		pool = &sync.Pool{
			New: func() any {
				buf := make([]int32, nbits)
				return &buf
			},
		}
		p.pools[nbits] = pool
	}
	p.mu.Unlock()

	bp := pool.Get().(*[]int32)
	buf := *bp
	for i := range buf {
		buf[i] = 0
	}
	return buf
}

func (p *countsBufPool) put(buf []int32) {
	p.mu.Lock()
	pool, ok := p.pools[len(buf)]
	p.mu.Unlock()
	if ok {
		pool.Put(&buf)
	}
}
