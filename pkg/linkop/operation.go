// Package linkop serializes GATT requests to a belt. The belt handles one
// outstanding request at a time, so every write, read and subscription goes
// through a Queue that runs a single Operation, matches its completion
// against incoming link events and times it out when no answer comes.
package linkop

import (
	"errors"
	"fmt"
	"time"

	"github.com/srg/beltctl/pkg/codec"
	"github.com/srg/beltctl/pkg/link"
)

// DefaultErrorLogTimeout bounds a complete error log transfer.
const DefaultErrorLogTimeout = 1500 * time.Millisecond

var (
	ErrCancelled   = errors.New("operation cancelled")
	ErrTimeout     = errors.New("operation timed out")
	ErrStartFailed = errors.New("operation could not be started")
)

// Operation is one unit of work executed by the Queue. The Match methods
// are called only while the operation is running and return true when the
// event completes it; exactly one of Succeeded, Failed or Cancelled is
// called afterwards.
type Operation interface {
	Description() string
	// Timeout returns the operation timeout, 0 for the queue default.
	Timeout() time.Duration
	// Start issues the request; false fails the operation immediately.
	Start() bool
	MatchWriteAck(char link.CharID, err error) bool
	MatchValueUpdate(char link.CharID, value []byte, err error) bool
	MatchSubscriptionAck(char link.CharID, err error) bool
	Succeeded()
	Failed(err error)
	Cancelled()
}

// State is the terminal state of an operation.
type State int

const (
	Succeeded State = iota
	Failed
	Cancelled
)

func (s State) String() string {
	switch s {
	case Succeeded:
		return "succeeded"
	case Failed:
		return "failed"
	case Cancelled:
		return "cancelled"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Result is delivered to the completion callback of an operation.
type Result struct {
	State State
	Err   error
	// Value holds the read or matched response value.
	Value []byte
	// Log is set by ErrorLogRequest.
	Log *codec.ErrorLog
}

// OK reports whether the operation succeeded.
func (r Result) OK() bool {
	return r.State == Succeeded
}

type base struct {
	link    link.Link
	char    link.CharID
	timeout time.Duration
	done    func(Result)
}

func (b *base) Timeout() time.Duration { return b.timeout }

// SetTimeout overrides the queue default timeout for this operation.
func (b *base) SetTimeout(d time.Duration) { b.timeout = d }

func (b *base) MatchWriteAck(link.CharID, error) bool            { return false }
func (b *base) MatchValueUpdate(link.CharID, []byte, error) bool { return false }
func (b *base) MatchSubscriptionAck(link.CharID, error) bool     { return false }

func (b *base) finish(state State, err error, value []byte, log *codec.ErrorLog) {
	if b.done != nil {
		b.done(Result{State: state, Err: err, Value: value, Log: log})
	}
}

func (b *base) Succeeded()       { b.finish(Succeeded, nil, nil, nil) }
func (b *base) Failed(err error) { b.finish(Failed, err, nil, nil) }
func (b *base) Cancelled()       { b.finish(Cancelled, ErrCancelled, nil, nil) }

// Write writes a value with response.
type Write struct {
	base
	value []byte
}

// NewWrite creates a write of value to char. done may be nil.
func NewWrite(l link.Link, char link.CharID, value []byte, done func(Result)) *Write {
	return &Write{base: base{link: l, char: char, done: done}, value: value}
}

func (w *Write) Description() string {
	return fmt.Sprintf("write %s % X", w.char, w.value)
}

func (w *Write) Start() bool {
	return w.link.WriteValue(w.char, w.value)
}

func (w *Write) MatchWriteAck(char link.CharID, _ error) bool {
	return char == w.char
}

// Read reads the current value of a characteristic.
type Read struct {
	base
	value []byte
}

// NewRead creates a read of char. done may be nil.
func NewRead(l link.Link, char link.CharID, done func(Result)) *Read {
	return &Read{base: base{link: l, char: char, done: done}}
}

func (r *Read) Description() string { return fmt.Sprintf("read %s", r.char) }

func (r *Read) Start() bool { return r.link.ReadValue(r.char) }

func (r *Read) MatchValueUpdate(char link.CharID, value []byte, _ error) bool {
	if char != r.char {
		return false
	}
	r.value = value
	return true
}

// Value returns the value read, nil before completion.
func (r *Read) Value() []byte { return r.value }

func (r *Read) Succeeded() { r.finish(Succeeded, nil, r.value, nil) }

// SetNotify enables or disables notifications of a characteristic.
type SetNotify struct {
	base
	enabled bool
}

// NewSetNotify creates a subscription change for char. done may be nil.
func NewSetNotify(l link.Link, char link.CharID, enabled bool, done func(Result)) *SetNotify {
	return &SetNotify{base: base{link: l, char: char, done: done}, enabled: enabled}
}

func (s *SetNotify) Description() string {
	return fmt.Sprintf("set notify %s=%t", s.char, s.enabled)
}

func (s *SetNotify) Start() bool { return s.link.SetNotify(s.char, s.enabled) }

func (s *SetNotify) MatchSubscriptionAck(char link.CharID, _ error) bool {
	return char == s.char
}

// Request writes a request and waits for a response notification matching
// a byte pattern. Responses arriving before the write is acknowledged are
// ignored.
type Request struct {
	base
	request      []byte
	responseChar link.CharID
	pattern      []*byte
	acked        bool
	value        []byte
}

// NewRequest writes request to char and completes on a value update of
// responseChar that matches pattern.
func NewRequest(l link.Link, char link.CharID, request []byte, responseChar link.CharID, pattern []*byte, done func(Result)) *Request {
	return &Request{
		base:         base{link: l, char: char, done: done},
		request:      request,
		responseChar: responseChar,
		pattern:      pattern,
	}
}

func (r *Request) Description() string {
	return fmt.Sprintf("request %s % X -> %s", r.char, r.request, r.responseChar)
}

func (r *Request) Start() bool {
	r.acked = false
	return r.link.WriteValue(r.char, r.request)
}

func (r *Request) MatchWriteAck(char link.CharID, err error) bool {
	if char != r.char {
		return false
	}
	if err != nil {
		return true
	}
	r.acked = true
	return false
}

func (r *Request) MatchValueUpdate(char link.CharID, value []byte, err error) bool {
	if !r.acked || err != nil || char != r.responseChar || !MatchPattern(value, r.pattern) {
		return false
	}
	r.value = value
	return true
}

func (r *Request) Succeeded() { r.finish(Succeeded, nil, r.value, nil) }

// ErrorLogRequest retrieves the belt error log through the debug service.
type ErrorLogRequest struct {
	base
	headerSeen bool
	log        codec.ErrorLog
}

// NewErrorLogRequest creates an error log retrieval with the default
// error log timeout.
func NewErrorLogRequest(l link.Link, done func(Result)) *ErrorLogRequest {
	return &ErrorLogRequest{base: base{link: l, char: link.DebugInputChar, timeout: DefaultErrorLogTimeout, done: done}}
}

func (e *ErrorLogRequest) Description() string { return "error log request" }

func (e *ErrorLogRequest) Start() bool {
	e.headerSeen = false
	e.log = codec.ErrorLog{}
	return e.link.WriteValue(e.char, codec.EncodeErrorLogRequest())
}

func (e *ErrorLogRequest) MatchWriteAck(char link.CharID, err error) bool {
	return char == e.char && err != nil
}

func (e *ErrorLogRequest) MatchValueUpdate(char link.CharID, value []byte, err error) bool {
	if char != link.DebugOutputChar || err != nil {
		return false
	}
	if h, ok := codec.DecodeErrorLogHeader(value); ok {
		e.headerSeen = true
		e.log.Header = h
		e.log.Entries = nil
		return h.EntryCount == 0
	}
	if entry, ok := codec.DecodeErrorLogEntry(value); ok && e.headerSeen {
		e.log.Entries = append(e.log.Entries, entry)
		return e.log.Complete()
	}
	return false
}

func (e *ErrorLogRequest) Succeeded() {
	log := e.log
	e.finish(Succeeded, nil, nil, &log)
}
