package stratum

import (
	"bufio"
	"context"
	"encoding/hex"
	"fmt"
	"log"
	"math"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/radiant-proxy/rxdproxy/internal/eventbus"
	"github.com/radiant-proxy/rxdproxy/internal/hashrate"
	"github.com/radiant-proxy/rxdproxy/internal/shares"
	"github.com/radiant-proxy/rxdproxy/internal/stratum/keepalive"
	"github.com/radiant-proxy/rxdproxy/internal/template"
	"github.com/radiant-proxy/rxdproxy/internal/vardiff"
)

// Config holds the Stratum server's tunables.
type Config struct {
	Address                string
	Extranonce2Size        int
	Testnet                bool
	StaticShareDifficulty  float64
	VarDiffEnabled         bool
	VarDiffStartDifficulty float64
}

// Server accepts Stratum v1 TCP connections and drives each one through
// the subscribe/authorize/submit state machine.
type Server struct {
	cfg       Config
	tmpl      *template.Template
	validator *shares.Validator
	hashrate  *hashrate.Tracker
	vardiff   *vardiff.Manager
	bus       *eventbus.Bus
	keepalive *keepalive.Manager

	listener net.Listener
	listenMu sync.RWMutex

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu       sync.RWMutex
	sessions map[string]*session

	extranonceCounter uint32
}

// NewServer wires a Server against its collaborators.
func NewServer(cfg Config, tmpl *template.Template, validator *shares.Validator, hr *hashrate.Tracker, vd *vardiff.Manager, bus *eventbus.Bus) *Server {
	ctx, cancel := context.WithCancel(context.Background())
	s := &Server{
		cfg:       cfg,
		tmpl:      tmpl,
		validator: validator,
		hashrate:  hr,
		vardiff:   vd,
		bus:       bus,
		ctx:       ctx,
		cancel:    cancel,
		sessions:  make(map[string]*session),
	}
	s.keepalive = keepalive.NewManager(keepalive.DefaultConfig(), s.onKeepaliveNudge)
	return s
}

// Start listens on cfg.Address and accepts connections until Stop is
// called. It blocks, so callers run it in its own goroutine.
func (s *Server) Start() error {
	listener, err := net.Listen("tcp", s.cfg.Address)
	if err != nil {
		return fmt.Errorf("stratum: listen: %w", err)
	}
	s.listenMu.Lock()
	s.listener = listener
	s.listenMu.Unlock()

	log.Printf("✅ stratum: listening on %s", listener.Addr())

	for {
		conn, err := listener.Accept()
		if err != nil {
			if s.ctx.Err() != nil {
				return nil
			}
			log.Printf("⚠️ stratum: accept error: %v", err)
			continue
		}
		s.wg.Add(1)
		go s.handleConnection(conn)
	}
}

// Stop shuts the server down, closing the listener and every live
// session.
func (s *Server) Stop() error {
	s.cancel()

	s.listenMu.RLock()
	listener := s.listener
	s.listenMu.RUnlock()
	if listener != nil {
		listener.Close()
	}

	s.mu.RLock()
	sessions := make([]*session, 0, len(s.sessions))
	for _, sess := range s.sessions {
		sessions = append(sessions, sess)
	}
	s.mu.RUnlock()
	for _, sess := range sessions {
		sess.conn.Close()
	}

	s.wg.Wait()
	return nil
}

// SessionCount reports how many connections are currently live.
func (s *Server) SessionCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions)
}

// Addr returns the listener's bound address, useful when cfg.Address
// requested an ephemeral port. It is nil until Start has listened.
func (s *Server) Addr() net.Addr {
	s.listenMu.RLock()
	defer s.listenMu.RUnlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

func (s *Server) handleConnection(conn net.Conn) {
	defer s.wg.Done()
	defer conn.Close()

	id := uuid.NewString()
	extranonce1 := s.nextExtranonce1()
	sess := newSession(conn, id, extranonce1, s.cfg.Extranonce2Size)

	s.mu.Lock()
	s.sessions[id] = sess
	s.mu.Unlock()

	defer s.cleanupConnection(sess)

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		sess.writeLoop()
	}()

	scanner := bufio.NewScanner(conn)
	scanner.Buffer(make([]byte, 64*1024), 64*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		s.keepalive.RecordActivity(id)
		s.handleMessage(sess, line)
	}
}

func (s *Server) handleMessage(sess *session, line []byte) {
	req, err := ParseRequest(line)
	if err != nil {
		sess.enqueue(EncodeResponse(nil, nil, newError(ErrOther, "parse error")))
		return
	}

	switch req.Method {
	case "mining.subscribe":
		s.handleSubscribe(sess, req)
	case "mining.authorize":
		s.handleAuthorize(sess, req)
	case "mining.configure":
		s.handleConfigure(sess, req)
	case "mining.submit":
		s.handleSubmit(sess, req)
	case "eth_submitHashrate":
		s.handleEthSubmitHashrate(sess, req)
	default:
		sess.enqueue(EncodeResponse(req.ID, nil, newError(ErrOther, "unknown method: "+req.Method)))
	}
}

func (s *Server) handleSubscribe(sess *session, req *Request) {
	software, err := paramString(req.Params, 0)
	if err != nil || software == "" {
		software = "unknown"
	}
	sess.mu.Lock()
	sess.minerSoftware = software
	sess.mu.Unlock()

	sess.setSubscribed(true)
	s.tmpl.AddNewSession(sess)

	result := []interface{}{
		[]interface{}{
			[]interface{}{"mining.set_difficulty", sess.id},
			[]interface{}{"mining.notify", sess.id},
		},
		hex.EncodeToString(sess.extranonce1),
		sess.extranonce2Size,
	}
	sess.enqueue(EncodeResponse(req.ID, result, nil))
}

func (s *Server) handleAuthorize(sess *session, req *Request) {
	if !sess.isSubscribed() {
		sess.enqueue(EncodeResponse(req.ID, false, newError(ErrNotSubscribed, "not subscribed")))
		return
	}

	worker, err := paramString(req.Params, 0)
	if err != nil {
		sess.enqueue(EncodeResponse(req.ID, false, newError(ErrOther, "missing worker name")))
		return
	}

	h160, err := decodePayoutHash160(worker, s.cfg.Testnet)
	if err != nil {
		sess.enqueue(EncodeResponse(req.ID, false, newError(ErrOther, err.Error())))
		return
	}

	s.tmpl.SetPayout(h160) // no-op if a payout is already claimed
	sess.setWorkerID(worker)
	sess.setAuthorized(true)

	s.bus.EmitConnect(worker)
	s.keepalive.Start(sess.id)

	if snap := s.tmpl.Snapshot(); snap.Ready {
		diff := s.initialDifficulty(worker)
		sess.SetCurrentDifficulty(diff)
		sess.SendSetDifficulty(diff)
		if params, ok := s.tmpl.LastParams(); ok {
			sess.SendNotify(params)
		}
	}

	sess.enqueue(EncodeResponse(req.ID, true, nil))
}

func (s *Server) handleConfigure(sess *session, req *Request) {
	sess.enqueue(EncodeResponse(req.ID, map[string]interface{}{}, nil))
}

func (s *Server) handleSubmit(sess *session, req *Request) {
	if !sess.isAuthorized() {
		sess.enqueue(EncodeResponse(req.ID, false, newError(ErrUnauthorized, "unauthorized worker")))
		return
	}

	worker, err1 := paramString(req.Params, 0)
	jobID, err2 := paramString(req.Params, 1)
	extranonce2, err3 := paramString(req.Params, 2)
	ntime, err4 := paramString(req.Params, 3)
	nonce, err5 := paramString(req.Params, 4)

	// Positional form failed (or the message used named params outright,
	// e.g. {"worker": ..., "job_id": ...}) — fall back to named fields,
	// matching the aliases mining software is known to send.
	if err1 != nil {
		if v, ok := firstParamNamed(req.Params, "worker", "login"); ok {
			worker, err1 = v, nil
		}
	}
	if err2 != nil {
		if v, ok := paramNamed(req.Params, "job_id"); ok {
			jobID, err2 = v, nil
		}
	}
	if err3 != nil {
		if v, ok := firstParamNamed(req.Params, "extranonce2", "extranonce2_hex"); ok {
			extranonce2, err3 = v, nil
		}
	}
	if err4 != nil {
		if v, ok := firstParamNamed(req.Params, "ntime", "ntime_hex"); ok {
			ntime, err4 = v, nil
		}
	}
	if err5 != nil {
		if v, ok := firstParamNamed(req.Params, "nonce", "nonce_hex"); ok {
			nonce, err5 = v, nil
		}
	}

	if err1 != nil || err2 != nil || err3 != nil || err4 != nil || err5 != nil {
		sess.enqueue(EncodeResponse(req.ID, false, newError(ErrOther, "malformed submit parameters")))
		return
	}

	sub := shares.Submission{
		WorkerID:       worker,
		JobIDHex:       jobID,
		Extranonce1Hex: hex.EncodeToString(sess.extranonce1),
		Extranonce2Hex: extranonce2,
		NtimeHex:       ntime,
		NonceHex:       nonce,
		SentDifficulty: sess.CurrentDifficulty(),
	}

	_, err := s.validator.Validate(s.ctx, sub)
	if err != nil {
		if ve, ok := err.(*shares.ValidationError); ok {
			sess.enqueue(EncodeResponse(req.ID, false, newError(ve.Code, ve.Message)))
			return
		}
		sess.enqueue(EncodeResponse(req.ID, false, newError(ErrOther, err.Error())))
		return
	}

	sess.enqueue(EncodeResponse(req.ID, true, nil))
	s.maybePushRetarget(sess)
}

func (s *Server) handleEthSubmitHashrate(sess *session, req *Request) {
	hashHex, _ := paramString(req.Params, 0)
	clientID, _ := paramString(req.Params, 1)
	log.Printf("ℹ️ stratum: eth_submitHashrate from %s (client %s): %s", sess.WorkerID(), clientID, hashHex)
	sess.enqueue(EncodeResponse(req.ID, true, nil))
}

// maybePushRetarget sends an unsolicited set_difficulty if VarDiff
// produced a materially (>=5%) different value since the last one this
// session was told about.
func (s *Server) maybePushRetarget(sess *session) {
	if s.vardiff == nil || !s.cfg.VarDiffEnabled {
		return
	}
	newDiff := s.vardiff.GetDifficulty(sess.WorkerID())
	cur := sess.CurrentDifficulty()
	if cur <= 0 || newDiff <= 0 {
		return
	}
	if math.Abs(newDiff-cur)/cur >= 0.05 {
		sess.SetCurrentDifficulty(newDiff)
		sess.SendSetDifficulty(newDiff)
	}
}

func (s *Server) initialDifficulty(workerID string) float64 {
	if s.cfg.VarDiffEnabled && s.vardiff != nil {
		return s.vardiff.GetDifficulty(workerID)
	}
	if s.cfg.StaticShareDifficulty <= 0 {
		return 1
	}
	return s.cfg.StaticShareDifficulty
}

// onKeepaliveNudge re-advertises a session's difficulty when it has
// gone idle, picking up any VarDiff change that accumulated meanwhile.
func (s *Server) onKeepaliveNudge(sessionID string) {
	s.mu.RLock()
	sess, ok := s.sessions[sessionID]
	s.mu.RUnlock()
	if !ok || !sess.isAuthorized() {
		return
	}
	s.maybePushRetarget(sess)
	sess.SendSetDifficulty(sess.CurrentDifficulty())
}

func (s *Server) cleanupConnection(sess *session) {
	sess.close()
	s.keepalive.Stop(sess.id)

	s.mu.Lock()
	delete(s.sessions, sess.id)
	s.mu.Unlock()

	anyRemaining := s.tmpl.RemoveSession(sess)

	if worker := sess.WorkerID(); worker != "" {
		if s.hashrate != nil {
			rate := s.hashrate.Rate(worker, time.Now())
			display := rate.EMA
			if display == 0 {
				display = rate.Instantaneous
			}
			log.Printf("ℹ️ stratum: %s disconnected, estimated %s", worker, hashrate.Format(display))
			s.hashrate.Remove(worker)
		}
		s.bus.EmitDisconnect(worker)
	}

	if !anyRemaining {
		s.tmpl.ClearPayout()
	}
}

func (s *Server) nextExtranonce1() []byte {
	v := atomic.AddUint32(&s.extranonceCounter, 1)
	return []byte{byte(v >> 24), byte(v >> 16), byte(v >> 8), byte(v)}
}
