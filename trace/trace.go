// SPDX-License-Identifier: MIT

// Package trace provides a decorator for io.ReadWriter that logs all reads
// and writes, for diagnosing modem interactions in the field.
package trace

import (
	"io"
	"log"
)

// Trace wraps an io.ReadWriter and logs everything passing through it.
type Trace struct {
	rw   io.ReadWriter
	l    *log.Logger
	wfmt string
	rfmt string
}

// Option modifies a Trace object created by New.
type Option func(*Trace)

// New creates a new trace on the io.ReadWriter.
//
// By default reads and writes are logged as strings. For binary traffic use
// ReadFormat/WriteFormat with a %v verb to get a byte dump instead.
func New(rw io.ReadWriter, l *log.Logger, options ...Option) *Trace {
	t := &Trace{
		rw:   rw,
		l:    l,
		wfmt: "w: %s",
		rfmt: "r: %s",
	}
	for _, option := range options {
		option(t)
	}
	return t
}

// ReadFormat sets the format used to log reads.
func ReadFormat(format string) Option {
	return func(t *Trace) {
		t.rfmt = format
	}
}

// WriteFormat sets the format used to log writes.
func WriteFormat(format string) Option {
	return func(t *Trace) {
		t.wfmt = format
	}
}

func (t *Trace) Read(p []byte) (n int, err error) {
	n, err = t.rw.Read(p)
	if n > 0 {
		t.l.Printf(t.rfmt, p[:n])
	}
	return n, err
}

func (t *Trace) Write(p []byte) (n int, err error) {
	n, err = t.rw.Write(p)
	if n > 0 {
		t.l.Printf(t.wfmt, p[:n])
	}
	return n, err
}
