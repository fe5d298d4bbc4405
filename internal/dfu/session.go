package dfu

import (
	"context"
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
var ErrSessionUsed = errors.New("dfu session already used")

// Result summarises a finished upload.
type Result struct {
	State     State
	Profile   string
	BytesSent uint32
	Packets   int
	Elapsed   time.Duration
}

// Session drives one firmware upload over a control point and a packet
// endpoint. A Session runs once.
type Session struct {
	link    transport.Transport
	control transport.Endpoint
	packet  transport.Endpoint
	image   *Image
	config  Config
	logger  *slog.Logger

	mu        sync.Mutex
	state     State
	bytesSent uint32
	packets   int
	startTime time.Time
	sub       transport.Subscription
}

// NewSession creates a Session uploading img. control is the DFU control
// point, packet the DFU packet characteristic.
func NewSession(link transport.Transport, control, packet transport.Endpoint, img *Image, opts ...Option) (*Session, error) {
	if link == nil {
		return nil, errors.New("dfu: transport is nil")
	}
	if img == nil {
		return nil, errors.New("dfu: image is nil")
	}

	cfg := defaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}

	return &Session{
		link:    link,
		control: control,
		packet:  packet,
		image:   img,
		config:  cfg,
		logger:  cfg.Logger.With("component", "dfu", "profile", cfg.Profile.Name),
	}, nil
}

// State returns the current state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// BytesSent returns the number of image bytes written to the packet endpoint.
func (s *Session) BytesSent() uint32 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.bytesSent
}

// Run executes the upload sequence:
//  1. START_DFU + image size
//  2. INITIALIZE_DFU + init payload
//  3. REQ_PKT_RCPT_NOTIF when an interval is configured
//  4. RECEIVE_FIRMWARE_IMAGE + image packets
//  5. VALIDATE_FIRMWARE_IMAGE
//  6. ACTIVATE_FIRMWARE_AND_RESET after the settle delay
//
// Any failure moves the session to StateFailed and is returned together with
// the partial Result. Cancelling ctx interrupts blocking reads.
func (s *Session) Run(ctx context.Context) (*Result, error) {
	s.mu.Lock()
	if s.state != StateIdle || !s.startTime.IsZero() {
		s.mu.Unlock()
		return nil, ErrSessionUsed
	}
	s.startTime = time.Now()
	s.mu.Unlock()

	s.logger.Info("starting upload",
		"size", s.image.Size(),
		"crc16", fmt.Sprintf("0x%04X", s.image.CRC16()),
		"prn", s.config.PacketNotificationInterval,
	)

	sub, err := s.link.Subscribe(ctx, s.control)
	if err != nil {
		err = s.fail(&protocol.TransportError{Op: "subscribe", Endpoint: s.control.String(), Err: err})
		return s.result(), err
	}
	s.sub = sub
	defer func() {
		if err := sub.Close(); err != nil {
			s.logger.Debug("close control subscription", "err", err)
		}
	}()

	steps := []func(context.Context) error{
		s.start,
		s.initialize,
		s.requestReceipts,
		s.transfer,
		s.validate,
		s.activate,
	}
	for _, step := range steps {
		if err := step(ctx); err != nil {
			err = s.fail(err)
			return s.result(), err
		}
	}

	res := s.result()
	s.logger.Info("upload complete", "bytes", res.BytesSent, "packets", res.Packets, "elapsed", res.Elapsed)
	return res, nil
}

func (s *Session) start(ctx context.Context) error {
	if err := s.command(ctx, protocol.OpStartDFU); err != nil {
		return err
	}
	if err := s.writePacket(ctx, protocol.StartPayload(s.image.Size())); err != nil {
		return err
	}
	if err := s.expect(ctx, protocol.OpStartDFU); err != nil {
		return err
	}
	s.setState(StateStarted)
	return nil
}

func (s *Session) initialize(ctx context.Context) error {
	if err := s.command(ctx, protocol.OpInitializeDFU); err != nil {
		return err
	}
	if err := s.writePacket(ctx, s.config.Profile.InitPayload(s.image)); err != nil {
		return err
	}
	if s.config.Profile.AwaitInitResponse {
		if err := s.expect(ctx, protocol.OpInitializeDFU); err != nil {
			return err
		}
	}
	s.setState(StateInitialized)
	return nil
}

func (s *Session) requestReceipts(ctx context.Context) error {
	n := s.config.PacketNotificationInterval
	if n == 0 {
		return nil
	}
	s.logger.Debug("requesting packet receipts", "interval", n)
	if err := s.write(ctx, s.control, protocol.PacketReceiptRequest(n), true); err != nil {
		return err
	}
	if s.config.Profile.AwaitNotifyRequestResponse {
		return s.expect(ctx, protocol.OpRequestPacketReceiptNotif)
	}
	return nil
}

func (s *Session) transfer(ctx context.Context) error {
	if err := s.command(ctx, protocol.OpReceiveFirmwareImage); err != nil {
		return err
	}
	s.setState(StateReceivingImage)

	if s.config.Profile.AwaitReceiveResponse {
		if err := s.expect(ctx, protocol.OpReceiveFirmwareImage); err != nil {
			return err
		}
	}

	chunker, err := chunk.NewChunker(s.image.data, s.config.PacketSize)
	if err != nil {
		return err
	}
	interval := int(s.config.PacketNotificationInterval)
	sinceAck := 0

	for pkt, ok := chunker.Next(); ok; pkt, ok = chunker.Next() {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("cancelled: %w", err)
		}
		if err := s.writePacket(ctx, pkt); err != nil {
			return fmt.Errorf("packet %d: %w", chunker.Sent()-1, err)
		}

		s.mu.Lock()
		s.bytesSent += uint32(len(pkt))
		s.packets++
		s.mu.Unlock()
		s.reportProgress()

		if interval == 0 {
			continue
		}
		sinceAck++
		if sinceAck < interval {
			continue
		}
		sinceAck = 0
		resp, err := s.receive(ctx, protocol.OpPacketReceiptNotif.String())
		if err != nil {
			return err
		}
		sent := s.BytesSent()
		if err := protocol.ExpectReceipt(resp, sent); err != nil {
			return err
		}
		s.logger.Debug("packet receipt", "acked", resp.BytesAcked, "sent", sent)
	}

	s.logger.Info("image sent", "bytes", s.BytesSent(), "packets", chunker.Sent())

	p := s.config.Profile
	if p.AwaitTransferResponse && (interval == 0 || p.AwaitTransferResponseWithReceipts) {
		return s.expect(ctx, protocol.OpReceiveFirmwareImage)
	}
	return nil
}

func (s *Session) validate(ctx context.Context) error {
	if err := s.command(ctx, protocol.OpValidateFirmwareImage); err != nil {
		return err
	}
	if err := s.expect(ctx, protocol.OpValidateFirmwareImage); err != nil {
		return err
	}
	s.setState(StateValidated)
	return nil
}

// activate sends ACTIVATE_FIRMWARE_AND_RESET. The device resets and the link
// drops, so a failed write or a missing post-reset response is only logged.
func (s *Session) activate(ctx context.Context) error {
	if d := s.config.SettleDelay; d > 0 {
		t := time.NewTimer(d)
		select {
		case <-ctx.Done():
			t.Stop()
			return fmt.Errorf("cancelled: %w", ctx.Err())
		case <-t.C:
		}
	}

	if err := s.command(ctx, protocol.OpActivateFirmwareAndReset); err != nil {
		if ctx.Err() != nil {
			return err
		}
		s.logger.Warn("activate write failed, device may already be resetting", "err", err)
	}

	if s.config.Profile.AwaitActivateResponse {
		resp, err := s.receive(ctx, protocol.OpActivateFirmwareAndReset.String())
		switch {
		case err == nil:
			if err := protocol.ExpectCommand(resp, protocol.OpActivateFirmwareAndReset); err != nil {
				return err
			}
		case ctx.Err() != nil:
			return err
		default:
			s.logger.Warn("no response after activate", "err", err)
		}
	}

	s.setState(StateActivated)
	return nil
}

func (s *Session) command(ctx context.Context, op protocol.OpCode) error {
	s.logger.Debug("command", "op", op)
	return s.write(ctx, s.control, protocol.Command(op), true)
}

func (s *Session) writePacket(ctx context.Context, data []byte) error {
	return s.write(ctx, s.packet, data, false)
}

func (s *Session) write(ctx context.Context, ep transport.Endpoint, data []byte, confirm bool) error {
	if err := s.link.Write(ctx, ep, data, confirm); err != nil {
		if ctx.Err() != nil {
			return fmt.Errorf("cancelled: %w", ctx.Err())
		}
		return &protocol.TransportError{Op: "write", Endpoint: ep.String(), Err: err}
	}
	return nil
}

func (s *Session) receive(ctx context.Context, operation string) (protocol.ControlResponse, error) {
	buf, err := protocol.Receive(ctx, s.sub, operation, s.config.ResponseTimeout)
	if err != nil {
		return protocol.ControlResponse{}, err
	}
	resp := protocol.Decode(buf)
	s.logger.Debug("control point", "response", resp)
	return resp, nil
}

func (s *Session) expect(ctx context.Context, op protocol.OpCode) error {
	resp, err := s.receive(ctx, op.String())
	if err != nil {
		return err
	}
	return protocol.ExpectCommand(resp, op)
}

func (s *Session) setState(st State) {
	s.mu.Lock()
	prev := s.state
	s.state = st
	s.mu.Unlock()
	s.logger.Debug("state", "from", prev, "to", st)
	s.reportProgress()
}

func (s *Session) fail(err error) error {
	s.mu.Lock()
	prev := s.state
	s.state = StateFailed
	s.mu.Unlock()
	s.logger.Error("upload failed", "state", prev, "err", err)
	s.reportProgress()
	return fmt.Errorf("dfu %s: %w", prev, err)
}

func (s *Session) reportProgress() {
	if s.config.OnProgress == nil {
		return
	}
	s.mu.Lock()
	p := Progress{
		State:      s.state,
		BytesSent:  s.bytesSent,
		TotalBytes: s.image.Size(),
		Packets:    s.packets,
		Elapsed:    time.Since(s.startTime),
	}
	s.mu.Unlock()
	p.Percentage = float64(p.BytesSent) / float64(p.TotalBytes) * 100
	s.config.OnProgress(p)
}

func (s *Session) result() *Result {
	s.mu.Lock()
	defer s.mu.Unlock()
	return &Result{
		State:     s.state,
		Profile:   s.config.Profile.Name,
		BytesSent: s.bytesSent,
		Packets:   s.packets,
		Elapsed:   time.Since(s.startTime),
	}
}
