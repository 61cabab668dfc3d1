package datamux

import (
	"fmt"
	"net"
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/araddon/gou"
)

// WorkerInfo identifies one data-loading worker within a parallel
// pool:  worker Index of Count total.  The host execution harness
// owns worker identity;  it is always passed in explicitly, never
// discovered ambiently, so the sharding stays testable.
type WorkerInfo struct {
	Index int
	Count int
}

// Solo describes iteration outside any worker pool.
var Solo = WorkerInfo{Index: 0, Count: 1}

// Validate checks 0 <= Index < Count and Count >= 1.
func (w WorkerInfo) Validate() error {
	if w.Count < 1 {
		return fmt.Errorf("datamux: worker count must be positive, got %d", w.Count)
	}
	if w.Index < 0 || w.Index >= w.Count {
		return fmt.Errorf("datamux: worker index %d out of range [0,%d)", w.Index, w.Count)
	}
	return nil
}

func (w WorkerInfo) solo() bool {
	return w.Count <= 1
}

// Stride returns the strided partition of it for worker w:  the
// samples at positions congruent to w.Index modulo w.Count, in order.
// With w.Count <= 1 the iterator is returned unchanged.  The slices
// for w.Index = 0..Count-1 over identical underlying sequences are
// disjoint and reconstruct the full sequence with no gaps.
func Stride(it SampleIterator, w WorkerInfo) SampleIterator {
	if w.solo() {
		return it
	}
	return &strideIterator{it: it, w: w}
}

type strideIterator struct {
	it  SampleIterator
	w   WorkerInfo
	pos int
}

func (s *strideIterator) Next() (Sample, error) {
	for {
		sample, err := s.it.Next()
		if err != nil {
			return nil, err
		}
		pos := s.pos
		s.pos++
		if pos%s.w.Count == s.w.Index {
			return sample, nil
		}
	}
}

func (s *strideIterator) Close() error {
	return s.it.Close()
}

// WorkerContext supplies the identity of the current worker within the
// host data-loading pool.  ok is false when not running in a pool.
type WorkerContext interface {
	Worker() (w WorkerInfo, ok bool)
}

// EnvWorker reads worker identity from the environment variables most
// training launchers export for each worker process (rank and world
// size).  Missing or unparsable variables mean "no worker pool".
func EnvWorker(indexKey, countKey string) WorkerContext {
	return &envWorker{indexKey: indexKey, countKey: countKey}
}

type envWorker struct {
	indexKey string
	countKey string
}

func (e *envWorker) Worker() (WorkerInfo, bool) {
	idx, err := strconv.Atoi(os.Getenv(e.indexKey))
	if err != nil {
		return Solo, false
	}
	count, err := strconv.Atoi(os.Getenv(e.countKey))
	if err != nil {
		return Solo, false
	}
	w := WorkerInfo{Index: idx, Count: count}
	if err := w.Validate(); err != nil {
		gou.Warnf("ignoring worker env %s=%d %s=%d err=%v", e.indexKey, idx, e.countKey, count, err)
		return Solo, false
	}
	return w, true
}

// NewWorkerHTTPClient builds an http client with its own transport so
// a forked worker never reuses pooled connections inherited from the
// parent process.
func NewWorkerHTTPClient() *http.Client {
	return &http.Client{
		Transport: &http.Transport{
			Proxy: http.ProxyFromEnvironment,
			DialContext: (&net.Dialer{
				Timeout:   30 * time.Second,
				KeepAlive: 30 * time.Second,
			}).DialContext,
			MaxIdleConns:          100,
			IdleConnTimeout:       90 * time.Second,
			TLSHandshakeTimeout:   10 * time.Second,
			ExpectContinueTimeout: 1 * time.Second,
		},
	}
}
