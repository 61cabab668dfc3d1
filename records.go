package datamux

import (
	"context"
	"fmt"
	"io"
	"io/ioutil"

	"github.com/lytics/datamux/dmbufio"
)

// Record is a sample with its content fully read:  the decoded-content
// variant of the raw sample passthrough.  Gzip'd objects are
// decompressed transparently.
type Record struct {
	Key    string
	Source string
	Body   []byte
}

// RecordIterator pages lazily through records.  Next returns
// iterator.Done when the stream is exhausted.
type RecordIterator interface {
	Next() (*Record, error)
	Close() error
}

// Records streams this worker's slice of the flat sequence with each
// sample's bytes read eagerly.  Each sample is opened, drained and
// closed before the next pull returns, so at most one object is open
// at a time.
func (m *Mux) Records(ctx context.Context, w WorkerInfo) RecordIterator {
	return &recordIterator{ctx: ctx, it: m.WorkerSamples(ctx, w)}
}

type recordIterator struct {
	ctx context.Context
	it  SampleIterator
}

func (r *recordIterator) Next() (*Record, error) {
	s, err := r.it.Next()
	if err != nil {
		return nil, err
	}
	body, err := readSample(r.ctx, s)
	if err != nil {
		return nil, err
	}
	return &Record{Key: s.Key(), Source: s.Source(), Body: body}, nil
}

func (r *recordIterator) Close() error {
	return r.it.Close()
}

func readSample(ctx context.Context, s Sample) ([]byte, error) {
	rc, err := s.Open(ctx)
	if err != nil {
		return nil, fmt.Errorf("error opening sample source=%q key=%q err=%v", s.Source(), s.Key(), err)
	}
	defer rc.Close()

	br, err := dmbufio.NewReader(ctx, rc)
	if err != nil {
		return nil, fmt.Errorf("error reading sample source=%q key=%q err=%v", s.Source(), s.Key(), err)
	}
	body, err := ioutil.ReadAll(br)
	if err != nil && err != io.EOF {
		return nil, fmt.Errorf("error reading sample source=%q key=%q err=%v", s.Source(), s.Key(), err)
	}
	return body, nil
}
