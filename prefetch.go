package datamux

import (
	"sync"

	"google.golang.org/api/iterator"
)

// Prefetch wraps it with a bounded read-ahead buffer of n samples so
// listing latency overlaps with sample consumption.  Ordering is
// preserved.  Close stops the fill goroutine and closes the underlying
// iterator;  always Close a prefetching iterator, abandoning it leaks
// the goroutine until the buffer fills.
func Prefetch(it SampleIterator, n int) SampleIterator {
	if n <= 0 {
		return it
	}
	p := &prefetchIterator{
		it:   it,
		ch:   make(chan prefetchItem, n),
		stop: make(chan struct{}),
		done: make(chan struct{}),
	}
	go p.fill()
	return p
}

type prefetchItem struct {
	s   Sample
	err error
}

type prefetchIterator struct {
	it   SampleIterator
	ch   chan prefetchItem
	stop chan struct{}
	done chan struct{}
	once sync.Once

	err error // terminal error, owned by the consumer side
}

func (p *prefetchIterator) fill() {
	defer close(p.done)
	defer close(p.ch)
	for {
		s, err := p.it.Next()
		select {
		case p.ch <- prefetchItem{s: s, err: err}:
			if err != nil {
				return
			}
		case <-p.stop:
			return
		}
	}
}

func (p *prefetchIterator) Next() (Sample, error) {
	if p.err != nil {
		return nil, p.err
	}
	item, ok := <-p.ch
	if !ok {
		p.err = iterator.Done
		return nil, p.err
	}
	if item.err != nil {
		p.err = item.err
		return nil, p.err
	}
	return item.s, nil
}

func (p *prefetchIterator) Close() error {
	p.once.Do(func() { close(p.stop) })
	<-p.done
	if p.err == nil {
		p.err = iterator.Done
	}
	return p.it.Close()
}
