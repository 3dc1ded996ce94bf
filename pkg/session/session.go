package session

import (
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"nimbusdb.io/nimbus/pkg/log"
	"nimbusdb.io/nimbus/pkg/observability"
	"nimbusdb.io/nimbus/pkg/wire"
)

// Config configures one Session's connection and credentials.
type Config struct {
	Address      string
	TLSConfig    *tls.Config // nil disables TLS
	Username     string
	Password     string
	Bucket       string // empty: no bucket selected at connect time
	DialTimeout  time.Duration
	ClientName   string // advertised in HELLO's "user agent" field
}

// ClustermapChangeHandler is invoked (off the read loop's goroutine, in a
// new goroutine) whenever the server pushes an unsolicited cluster
// configuration change.
type ClustermapChangeHandler func(body []byte)

// Session owns one TCP connection to one cluster node, from dial through
// authentication and feature negotiation to steady-state request/response
// multiplexing keyed by the frame opaque.
type Session struct {
	cfg    Config
	logger zerolog.Logger

	mu    sync.Mutex
	state State
	conn  net.Conn

	features wire.FeatureSet
	errorMap *wire.ErrorMap

	opaqueSeq atomic.Uint32

	pendingMu sync.Mutex
	pending   map[uint32]chan *wire.Frame

	onClustermapChange ClustermapChangeHandler

	closeOnce sync.Once
	closed    chan struct{}
}

// New creates a Session in the Disconnected state. Call Connect to dial
// and run the handshake.
func New(cfg Config) *Session {
	if cfg.DialTimeout == 0 {
		cfg.DialTimeout = 10 * time.Second
	}
	return &Session{
		cfg:     cfg,
		logger:  log.WithNode(cfg.Address),
		state:   Disconnected,
		pending: make(map[uint32]chan *wire.Frame),
		closed:  make(chan struct{}),
	}
}

// OnClustermapChange registers the callback invoked when the server pushes
// a cluster-map-change-notification frame. Must be called before Connect.
func (s *Session) OnClustermapChange(fn ClustermapChangeHandler) {
	s.onClustermapChange = fn
}

// State returns the session's current lifecycle state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Features returns the negotiated feature set. Only meaningful once the
// session has reached Ready.
func (s *Session) Features() wire.FeatureSet {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.features
}

// ErrorMap returns the server's error map fetched during negotiation, or
// nil if the server didn't answer GET_ERROR_MAP.
func (s *Session) ErrorMap() *wire.ErrorMap {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.errorMap
}

func (s *Session) transition(next State) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !canTransition(s.state, next) {
		return errInvalidTransition{from: s.state, to: next}
	}
	s.logger.Debug().Str("from", s.state.String()).Str("to", next.String()).Msg("session state transition")
	s.state = next
	return nil
}

// Connect dials the node and runs it through TLS (if configured),
// authentication, and HELLO/feature negotiation, leaving the session in
// the Ready state on success.
func (s *Session) Connect(ctx context.Context) error {
	if err := s.transition(TCPConnecting); err != nil {
		return err
	}

	dialer := net.Dialer{Timeout: s.cfg.DialTimeout}
	conn, err := dialer.DialContext(ctx, "tcp", s.cfg.Address)
	if err != nil {
		s.transition(Closing)
		return fmt.Errorf("session: dial %s: %w", s.cfg.Address, err)
	}
	if tc, ok := conn.(*net.TCPConn); ok {
		_ = tc.SetNoDelay(true)
	}
	s.conn = conn

	if s.cfg.TLSConfig != nil {
		if err := s.transition(TLSHandshaking); err != nil {
			return err
		}
		tlsConn := tls.Client(conn, s.cfg.TLSConfig)
		if err := tlsConn.HandshakeContext(ctx); err != nil {
			s.transition(Closing)
			return fmt.Errorf("session: tls handshake: %w", err)
		}
		s.conn = tlsConn
	}

	go s.readLoop()

	if err := s.transition(Authenticating); err != nil {
		return err
	}
	if err := s.authenticate(ctx); err != nil {
		s.transition(Closing)
		return err
	}

	if err := s.transition(Negotiating); err != nil {
		return err
	}
	if err := s.negotiate(ctx); err != nil {
		s.transition(Closing)
		return err
	}

	if err := s.transition(Ready); err != nil {
		return err
	}
	s.logger.Info().Msg("session ready")
	return nil
}

func (s *Session) authenticate(ctx context.Context) error {
	if s.cfg.Username == "" {
		return nil // anonymous/no-auth cluster
	}

	listResp, err := s.call(ctx, &wire.Frame{Magic: wire.MagicReq, OpCode: wire.OpSASLListMechs})
	if err != nil {
		return fmt.Errorf("session: sasl list mechs: %w", err)
	}
	var mechs []Mechanism
	for _, m := range splitSpace(string(listResp.Value)) {
		mechs = append(mechs, Mechanism(m))
	}

	mechanism, err := PreferredMechanism(mechs)
	if err != nil {
		return err
	}

	if mechanism == MechanismPlain {
		resp, err := s.call(ctx, &wire.Frame{
			Magic:  wire.MagicReq,
			OpCode: wire.OpSASLAuth,
			Key:    []byte(MechanismPlain),
			Value:  PlainAuthPayload(s.cfg.Username, s.cfg.Password),
		})
		if err != nil {
			return fmt.Errorf("session: plain auth: %w", err)
		}
		if resp.Status != wire.StatusSuccess {
			return fmt.Errorf("session: plain auth rejected: %s", resp.Status)
		}
		return nil
	}

	scram, err := NewScramClient(mechanism, s.cfg.Username, s.cfg.Password)
	if err != nil {
		return err
	}

	authResp, err := s.call(ctx, &wire.Frame{
		Magic:  wire.MagicReq,
		OpCode: wire.OpSASLAuth,
		Key:    []byte(mechanism),
		Value:  scram.FirstMessage(),
	})
	if err != nil {
		return fmt.Errorf("session: scram auth: %w", err)
	}
	if authResp.Status != wire.StatusAuthContinue {
		return fmt.Errorf("session: scram auth unexpected status %s", authResp.Status)
	}

	final, err := scram.FinalMessage(authResp.Value)
	if err != nil {
		return err
	}

	stepResp, err := s.call(ctx, &wire.Frame{
		Magic:  wire.MagicReq,
		OpCode: wire.OpSASLStep,
		Key:    []byte(mechanism),
		Value:  final,
	})
	if err != nil {
		return fmt.Errorf("session: scram step: %w", err)
	}
	if stepResp.Status != wire.StatusSuccess {
		return fmt.Errorf("session: scram step rejected: %s", stepResp.Status)
	}

	return scram.VerifyServerFinal(stepResp.Value)
}

func (s *Session) negotiate(ctx context.Context) error {
	helloResp, err := s.call(ctx, &wire.Frame{
		Magic:  wire.MagicReq,
		OpCode: wire.OpHello,
		Key:    []byte(s.cfg.ClientName),
		Value:  wire.EncodeFeatures(wire.DefaultFeatures),
	})
	if err != nil {
		return fmt.Errorf("session: hello: %w", err)
	}
	if helloResp.Status != wire.StatusSuccess {
		return fmt.Errorf("session: hello rejected: %s", helloResp.Status)
	}

	s.mu.Lock()
	s.features = wire.NewFeatureSet(wire.DecodeFeatures(helloResp.Value))
	s.mu.Unlock()

	if mapResp, err := s.call(ctx, &wire.Frame{Magic: wire.MagicReq, OpCode: wire.OpGetErrorMap, Value: []byte{0x00, 0x02}}); err == nil && mapResp.Status == wire.StatusSuccess {
		if m, err := wire.DecodeErrorMap(mapResp.Value); err == nil {
			s.mu.Lock()
			s.errorMap = m
			s.mu.Unlock()
		}
	}

	if s.cfg.Bucket != "" {
		selResp, err := s.call(ctx, &wire.Frame{
			Magic:  wire.MagicReq,
			OpCode: wire.OpSelectBucket,
			Key:    []byte(s.cfg.Bucket),
		})
		if err != nil {
			return fmt.Errorf("session: select bucket: %w", err)
		}
		if selResp.Status != wire.StatusSuccess {
			return fmt.Errorf("session: select bucket %q rejected: %s", s.cfg.Bucket, selResp.Status)
		}
	}

	return nil
}

// Call sends a fully-formed request frame and waits for its matched
// response, honoring ctx's deadline. Exported for use by the retry/txn
// layers once the session is Ready; Connect uses the unexported call
// directly during handshake.
func (s *Session) Call(ctx context.Context, f *wire.Frame) (*wire.Frame, error) {
	return s.call(ctx, f)
}

func (s *Session) call(ctx context.Context, f *wire.Frame) (*wire.Frame, error) {
	opaque := s.opaqueSeq.Add(1)
	f.Opaque = opaque

	ch := make(chan *wire.Frame, 1)
	s.pendingMu.Lock()
	s.pending[opaque] = ch
	s.pendingMu.Unlock()
	defer func() {
		s.pendingMu.Lock()
		delete(s.pending, opaque)
		s.pendingMu.Unlock()
	}()

	buf, err := f.Encode()
	if err != nil {
		return nil, err
	}

	if deadline, ok := ctx.Deadline(); ok {
		s.conn.SetWriteDeadline(deadline)
	}
	if _, err := s.conn.Write(buf); err != nil {
		return nil, fmt.Errorf("session: write: %w", err)
	}

	select {
	case resp := <-ch:
		return resp, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-s.closed:
		return nil, fmt.Errorf("session: closed while awaiting opaque %d", opaque)
	}
}

// readLoop owns the socket read side for the session's lifetime, matching
// each response frame to its waiting caller by opaque, and routing
// server-pushed frames (magic 0x82) to onClustermapChange.
func (s *Session) readLoop() {
	hdr := make([]byte, 24)
	for {
		if _, err := io.ReadFull(s.conn, hdr); err != nil {
			s.logger.Warn().Err(err).Msg("session read loop terminated")
			s.failAllPending(err)
			return
		}

		f, bodyLen, err := wire.DecodeHeader(hdr)
		if err != nil {
			s.logger.Error().Err(err).Msg("session: malformed frame header")
			s.failAllPending(err)
			return
		}

		body := make([]byte, bodyLen)
		if bodyLen > 0 {
			if _, err := io.ReadFull(s.conn, body); err != nil {
				s.failAllPending(err)
				return
			}
		}
		if err := f.DecodeBody(body); err != nil {
			s.logger.Error().Err(err).Msg("session: malformed frame body")
			continue
		}

		if f.Magic == wire.MagicServerReq {
			if s.onClustermapChange != nil {
				go s.onClustermapChange(f.Value)
			}
			continue
		}

		s.pendingMu.Lock()
		ch, ok := s.pending[f.Opaque]
		s.pendingMu.Unlock()
		if !ok {
			observability.ReportOrphan(s.cfg.Address, f.Opaque)
			continue
		}

		select {
		case ch <- f:
		default:
		}
	}
}

func (s *Session) failAllPending(cause error) {
	s.pendingMu.Lock()
	defer s.pendingMu.Unlock()
	for opaque, ch := range s.pending {
		close(ch)
		delete(s.pending, opaque)
	}
}

// Close tears the session down: it stops the read loop by closing the
// socket and unblocks every pending call.
func (s *Session) Close() error {
	var err error
	s.closeOnce.Do(func() {
		s.transition(Closing)
		if s.conn != nil {
			err = s.conn.Close()
		}
		close(s.closed)
		s.mu.Lock()
		s.state = Closed
		s.mu.Unlock()
	})
	return err
}

func splitSpace(s string) []string {
	var out []string
	start := -1
	for i, r := range s {
		if r == ' ' || r == '\x00' {
			if start >= 0 {
				out = append(out, s[start:i])
				start = -1
			}
			continue
		}
		if start < 0 {
			start = i
		}
	}
	if start >= 0 {
		out = append(out, s[start:])
	}
	return out
}
