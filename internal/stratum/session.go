package stratum

import (
	"net"
	"sync"
	"time"

	"github.com/radiant-proxy/rxdproxy/internal/template"
)

// session is one connected miner's Stratum v1 state. It implements
// template.Notifiee so the template updater can notify it directly
// without this package and internal/template depending on each other.
type session struct {
	id   string
	conn net.Conn

	sendChan chan []byte
	stopOnce sync.Once
	stopChan chan struct{}

	mu                sync.Mutex
	subscribed        bool
	authorized        bool
	workerID          string
	minerSoftware     string
	extranonce1       []byte
	extranonce2Size   int
	currentDifficulty float64
	lastNotify        *template.JobParams
}

func newSession(conn net.Conn, id string, extranonce1 []byte, extranonce2Size int) *session {
	return &session{
		id:              id,
		conn:            conn,
		sendChan:        make(chan []byte, 64),
		stopChan:        make(chan struct{}),
		extranonce1:     extranonce1,
		extranonce2Size: extranonce2Size,
	}
}

// enqueue offers data to the session's send loop without blocking the
// caller; a session whose outbound buffer is full is already in trouble
// and dropping a notification is preferable to stalling the caller.
func (s *session) enqueue(data []byte) {
	select {
	case s.sendChan <- data:
	default:
	}
}

func (s *session) close() {
	s.stopOnce.Do(func() { close(s.stopChan) })
}

// writeLoop drains sendChan to the underlying connection until the
// session is closed. Run in its own goroutine per connection.
func (s *session) writeLoop() {
	for {
		select {
		case <-s.stopChan:
			return
		case data := <-s.sendChan:
			s.conn.SetWriteDeadline(time.Now().Add(30 * time.Second))
			if _, err := s.conn.Write(data); err != nil {
				return
			}
		}
	}
}

func (s *session) WorkerID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.workerID
}

func (s *session) setWorkerID(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.workerID = id
}

func (s *session) isAuthorized() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.authorized
}

func (s *session) setAuthorized(v bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.authorized = v
}

func (s *session) isSubscribed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.subscribed
}

func (s *session) setSubscribed(v bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.subscribed = v
}

// SendSetDifficulty satisfies template.Notifiee.
func (s *session) SendSetDifficulty(diff float64) error {
	s.enqueue(EncodeNotification("mining.set_difficulty", []interface{}{diff}))
	return nil
}

// SendNotify satisfies template.Notifiee.
func (s *session) SendNotify(params template.JobParams) error {
	s.mu.Lock()
	cp := params
	s.lastNotify = &cp
	s.mu.Unlock()

	s.enqueue(EncodeNotification("mining.notify", []interface{}{
		params.JobID,
		params.PrevHashHex,
		params.Coinbase1Hex,
		params.Coinbase2Hex,
		params.MerkleHex,
		params.VersionHex,
		params.BitsHex,
		params.NtimeHex,
		params.Clean,
	}))
	return nil
}

// CurrentDifficulty satisfies template.Notifiee.
func (s *session) CurrentDifficulty() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.currentDifficulty
}

// SetCurrentDifficulty satisfies template.Notifiee.
func (s *session) SetCurrentDifficulty(diff float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.currentDifficulty = diff
}
