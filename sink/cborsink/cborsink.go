// Package cborsink records bus messages to a CBOR stream for later replay.
package cborsink

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"reflect"
	"sync"

	"ade7880-go/bus"

	"github.com/fxamacker/cbor/v2"
	"go.uber.org/multierr"
)

// Record is one captured message.
type Record struct {
	Topic    string `cbor:"1,keyasint"`
	TS       int64  `cbor:"2,keyasint"`
	Retained bool   `cbor:"3,keyasint,omitempty"`
	Payload  any    `cbor:"4,keyasint"`
}

var (
	encMode cbor.EncMode
	decMode cbor.DecMode
)

func init() {
	var err error
	encMode, err = cbor.EncOptions{
		Sort:          cbor.SortCanonical,
		IndefLength:   cbor.IndefLengthForbidden,
		NilContainers: cbor.NilContainerAsNull,
	}.EncMode()
	if err != nil {
		panic(fmt.Sprintf("cborsink: encoder mode: %v", err))
	}
	decMode, err = cbor.DecOptions{
		DupMapKey:      cbor.DupMapKeyQuiet,
		DefaultMapType: reflect.TypeOf(map[string]any(nil)),
	}.DecMode()
	if err != nil {
		panic(fmt.Sprintf("cborsink: decoder mode: %v", err))
	}
}

// Writer appends records to an underlying stream. It is safe for
// concurrent use.
type Writer struct {
	mu     sync.Mutex
	buf    *bufio.Writer
	enc    *cbor.Encoder
	c      io.Closer
	closed bool
	n      int
	err    error
}

// NewWriter encodes to w. If w is an io.Closer, Close closes it.
func NewWriter(w io.Writer) *Writer {
	bw := bufio.NewWriter(w)
	cw := &Writer{buf: bw, enc: encMode.NewEncoder(bw)}
	if c, ok := w.(io.Closer); ok {
		cw.c = c
	}
	return cw
}

// Create opens path for appending and returns a Writer on it.
func Create(path string) (*Writer, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, err
	}
	return NewWriter(f), nil
}

// Write encodes one message. The first encoding error is kept and returned
// from every later call and from Close.
func (w *Writer) Write(msg *bus.Message) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return os.ErrClosed
	}
	if w.err != nil {
		return w.err
	}
	rec := Record{Topic: msg.Topic.String(), TS: msg.TS, Retained: msg.Retained, Payload: msg.Payload}
	if err := w.enc.Encode(rec); err != nil {
		w.err = err
		return err
	}
	w.n++
	return nil
}

// Count returns the number of records written.
func (w *Writer) Count() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.n
}

// Flush pushes buffered records to the stream.
func (w *Writer) Flush() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.buf.Flush()
}

// Close flushes and closes the stream. It is safe to call more than once.
func (w *Writer) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return nil
	}
	w.closed = true
	err := multierr.Append(w.err, w.buf.Flush())
	if w.c != nil {
		err = multierr.Append(err, w.c.Close())
	}
	return err
}

// Run writes every message from sub until ctx is done or the subscription
// closes, flushing after each message.
func (w *Writer) Run(ctx context.Context, sub *bus.Subscription) error {
	for {
		select {
		case <-ctx.Done():
			return w.Flush()
		case msg, ok := <-sub.Channel():
			if !ok {
				return w.Flush()
			}
			if err := multierr.Append(w.Write(msg), w.Flush()); err != nil {
				return err
			}
		}
	}
}

// ReadAll decodes every record in r. Payloads decode as generic maps.
func ReadAll(r io.Reader) ([]Record, error) {
	dec := decMode.NewDecoder(r)
	var out []Record
	for {
		var rec Record
		err := dec.Decode(&rec)
		if err == io.EOF {
			return out, nil
		}
		if err != nil {
			return out, err
		}
		out = append(out, rec)
	}
}
