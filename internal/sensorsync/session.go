package sensorsync

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"bandlink/internal/chunk"
	"bandlink/internal/protocol"
	"bandlink/internal/transport"
)

// ErrSessionUsed is returned when Run is called on a session that already ran.
var ErrSessionUsed = errors.New("sync session already used")

// State is the reassembly state.
type State int

const (
	StateAwaitingHeader State = iota
	StateReceiving
	StateComplete
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateAwaitingHeader:
		return "awaiting_header"
	case StateReceiving:
		return "receiving"
	case StateComplete:
		return "complete"
	case StateFailed:
		return "failed"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Result is a completed download.
//
// For HeaderPacketCount, Data excludes the digest packet, Digest holds the
// received truncated SHA-1 and IntegrityVerified reports whether it matches.
// A mismatch is not an error: the transfer itself completed.
type Result struct {
	Format            HeaderFormat
	Data              []byte
	Digest            []byte
	IntegrityChecked  bool
	IntegrityVerified bool
	Packets           int
	Bytes             int
	Elapsed           time.Duration
}

// Session downloads one sensor data buffer. A Session runs once.
type Session struct {
	link    transport.Transport
	control transport.Endpoint
	data    transport.Endpoint
	config  Config
	logger  *slog.Logger

	mu        sync.Mutex
	state     State
	used      bool
	expected  int
	reasm     *chunk.Reassembler
	startTime time.Time
}

// NewSession creates a Session that writes the start command to control and
// collects packets from data.
func NewSession(link transport.Transport, control, data transport.Endpoint, opts ...Option) (*Session, error) {
	if link == nil {
		return nil, errors.New("sensorsync: transport is nil")
	}
	cfg := defaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	reasm, err := chunk.NewReassembler(cfg.Capacity)
	if err != nil {
		return nil, err
	}
	return &Session{
		link:    link,
		control: control,
		data:    data,
		config:  cfg,
		logger:  cfg.Logger.With("component", "sync", "format", cfg.Format.String()),
		reasm:   reasm,
	}, nil
}

// State returns the current state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Received returns the number of accepted packets.
func (s *Session) Received() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.reasm.Received()
}

// Run subscribes to the data characteristic, sends the start command and
// reads packets until the declared size is reached.
func (s *Session) Run(ctx context.Context) (*Result, error) {
	s.mu.Lock()
	if s.used {
		s.mu.Unlock()
		return nil, ErrSessionUsed
	}
	s.used = true
	s.startTime = time.Now()
	s.mu.Unlock()

	sub, err := s.link.Subscribe(ctx, s.data)
	if err != nil {
		return nil, s.fail(&protocol.TransportError{Op: "subscribe", Endpoint: s.data.String(), Err: err})
	}
	defer func() {
		if err := sub.Close(); err != nil {
			s.logger.Debug("close data subscription", "err", err)
		}
	}()

	if err := s.link.Write(ctx, s.control, s.config.Command, s.config.ConfirmCommand); err != nil {
		if ctx.Err() != nil {
			return nil, s.fail(fmt.Errorf("cancelled: %w", ctx.Err()))
		}
		return nil, s.fail(&protocol.TransportError{Op: "write", Endpoint: s.control.String(), Err: err})
	}
	s.logger.Debug("start command sent", "cmd", fmt.Sprintf("%X", s.config.Command))

	for {
		buf, err := protocol.Receive(ctx, sub, "sensor data packet", s.config.ReadTimeout)
		if err != nil {
			return nil, s.fail(err)
		}
		done, err := s.accept(buf)
		if err != nil {
			return nil, s.fail(err)
		}
		s.reportProgress()
		if done {
			break
		}
	}

	res := s.complete()
	s.logger.Info("sync complete",
		"packets", res.Packets,
		"bytes", res.Bytes,
		"verified", res.IntegrityVerified,
		"elapsed", res.Elapsed,
	)
	return res, nil
}

// accept stores one packet and reports whether the transfer is complete.
func (s *Session) accept(buf []byte) (bool, error) {
	if len(buf) == 0 {
		return false, packetError(buf, "empty packet")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	seq := int(buf[0])
	payload := buf[1:]

	if seq == 0 {
		if _, seen := s.reasm.Slot(0); seen {
			return false, packetError(buf, "duplicate header")
		}
		var err error
		if payload, err = s.parseHeader(buf); err != nil {
			return false, err
		}
	}

	if err := s.reasm.Put(seq, payload); err != nil {
		return false, packetError(buf, err.Error())
	}
	s.logger.Debug("packet", "seq", seq, "len", len(payload), "received", s.reasm.Received())

	if s.state != StateReceiving {
		return false, nil
	}
	switch s.config.Format {
	case HeaderByteCount:
		if s.reasm.Bytes() > s.expected {
			return false, packetError(buf, fmt.Sprintf("%d bytes received, header declared %d", s.reasm.Bytes(), s.expected))
		}
		return s.reasm.Bytes() == s.expected, nil
	default:
		return s.reasm.Received() == s.expected, nil
	}
}

// parseHeader validates the header packet and returns its payload. Called with mu held.
func (s *Session) parseHeader(buf []byte) ([]byte, error) {
	switch s.config.Format {
	case HeaderByteCount:
		if len(buf) < 3 {
			return nil, packetError(buf, "short byte-count header")
		}
		n := int(binary.LittleEndian.Uint16(buf[1:3]))
		if n == 0 {
			return nil, packetError(buf, "header declares zero bytes")
		}
		if s.reasm.Bytes()+len(buf)-3 > n {
			return nil, packetError(buf, fmt.Sprintf("header declares %d bytes, already received more", n))
		}
		s.expected = n
		s.state = StateReceiving
		s.logger.Debug("header", "bytes", n)
		return buf[3:], nil
	default:
		if len(buf) < 2 {
			return nil, packetError(buf, "short packet-count header")
		}
		n := int(buf[1])
		if n == 0 {
			return nil, packetError(buf, "header declares zero packets")
		}
		if err := s.reasm.Limit(n); err != nil {
			return nil, packetError(buf, err.Error())
		}
		s.expected = n
		s.state = StateReceiving
		s.logger.Debug("header", "packets", n)
		return buf[2:], nil
	}
}

func (s *Session) complete() *Result {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = StateComplete

	res := &Result{
		Format:  s.config.Format,
		Packets: s.reasm.Received(),
		Bytes:   s.reasm.Bytes(),
		Elapsed: time.Since(s.startTime),
	}
	if s.config.Format == HeaderByteCount {
		res.Data = s.reasm.Assemble(s.reasm.Capacity())
		return res
	}

	last := s.expected - 1
	res.Data = s.reasm.Assemble(last)
	digest, _ := s.reasm.Slot(last)
	res.Digest = append([]byte(nil), digest...)
	res.IntegrityChecked = true

	want := protocol.Truncate19(protocol.SHA1Digest(res.Data))
	res.IntegrityVerified = bytes.Equal(want[:], digest)
	if !res.IntegrityVerified {
		s.logger.Warn("sensor data digest mismatch",
			"computed", fmt.Sprintf("%X", want),
			"received", fmt.Sprintf("%X", digest),
		)
	}
	return res
}

func (s *Session) fail(err error) error {
	s.mu.Lock()
	prev := s.state
	s.state = StateFailed
	received := s.reasm.Received()
	s.mu.Unlock()
	s.logger.Error("sync failed", "state", prev, "received", received, "err", err)
	s.reportProgress()
	return fmt.Errorf("sync %s: %w", prev, err)
}

func (s *Session) reportProgress() {
	if s.config.OnProgress == nil {
		return
	}
	s.mu.Lock()
	p := Progress{
		State:    s.state,
		Packets:  s.reasm.Received(),
		Bytes:    s.reasm.Bytes(),
		Expected: s.expected,
		Elapsed:  time.Since(s.startTime),
	}
	s.mu.Unlock()
	s.config.OnProgress(p)
}

func packetError(buf []byte, reason string) error {
	return &protocol.ProtocolError{
		Operation: "sensor data packet",
		Reason:    fmt.Sprintf("%s [%X]", reason, buf),
	}
}
