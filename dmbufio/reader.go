// Package dmbufio provides buffered, context-aware readers for sample
// content, decompressing gzip'd objects transparently.
package dmbufio

import (
	"bufio"
	"compress/gzip"
	"context"
	"fmt"
	"io"
	"os"
)

// OpenReader opens the named file as a sample reader.
func OpenReader(ctx context.Context, name string) (io.ReadCloser, error) {
	f, err := os.Open(name)
	if err != nil {
		return nil, err
	}
	return NewReader(ctx, f)
}

var gzipHeader = []byte{0x1f, 0x8b, 0x08}

// NewReader wraps rc in a buffered reader that honors ctx cancelation.
// If the stream begins with a gzip header it is decompressed on the
// fly;  sniff errors are treated as uncompressed data.
func NewReader(ctx context.Context, rc io.ReadCloser) (io.ReadCloser, error) {
	br := bufio.NewReader(rc)
	header, _ := br.Peek(len(gzipHeader))
	if isGzip(header) {
		cr, err := gzip.NewReader(br)
		if err != nil {
			return nil, fmt.Errorf("creating gzip reader: %w", err)
		}
		return &bufReadCloser{ctx, bufio.NewReader(cr), rc}, nil
	}
	return &bufReadCloser{ctx, br, rc}, nil
}

func isGzip(header []byte) bool {
	if len(header) != len(gzipHeader) {
		return false
	}
	for i := range header {
		if header[i] != gzipHeader[i] {
			return false
		}
	}
	return true
}

type bufReadCloser struct {
	ctx context.Context
	r   *bufio.Reader
	c   io.Closer
}

func (b *bufReadCloser) Read(p []byte) (int, error) {
	if err := b.ctx.Err(); err != nil {
		return 0, err
	}
	return b.r.Read(p)
}

func (b *bufReadCloser) Close() error {
	if err := b.ctx.Err(); err != nil {
		return err
	}
	return b.c.Close()
}
