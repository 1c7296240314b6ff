// Package zmqlistener subscribes to a node's ZMQ hashblock publisher
// and invokes a callback on every new block, letting the template
// updater refresh immediately instead of waiting for its next poll.
package zmqlistener

import (
	"context"
	"encoding/hex"
	"fmt"
	"log"
	"time"

	"github.com/go-zeromq/zmq4"
)

const (
	topic                 = "hashblock"
	recvTimeout           = 5 * time.Second
	maxConsecutiveErrors  = 5
)

// OnBlock is invoked with the hex-encoded block hash for every
// hashblock message received.
type OnBlock func(blockHashHex string)

// Listener subscribes to a single ZMQ endpoint and dispatches hashblock
// notifications.
type Listener struct {
	name     string
	endpoint string
	onBlock  OnBlock
}

// New creates a listener for the given endpoint; name is used only in
// log lines so multiple listeners (mainnet/testnet) are distinguishable.
func New(name, endpoint string, onBlock OnBlock) *Listener {
	return &Listener{name: name, endpoint: endpoint, onBlock: onBlock}
}

// Run connects and processes messages until ctx is cancelled or the
// listener gives up after too many consecutive errors, in which case it
// returns nil — the caller's poller continues driving refreshes.
func (l *Listener) Run(ctx context.Context) error {
	sock := zmq4.NewSub(ctx, zmq4.WithDialerRetry(time.Second))
	defer sock.Close()

	if err := sock.SetOption(zmq4.OptionSubscribe, topic); err != nil {
		return fmt.Errorf("zmqlistener: set subscribe option: %w", err)
	}
	if err := sock.Dial(l.endpoint); err != nil {
		return fmt.Errorf("zmqlistener: dial %s: %w", l.endpoint, err)
	}
	log.Printf("✅ %s ZMQ listener connected: %s", l.name, l.endpoint)

	consecutiveErrors := 0
	for {
		select {
		case <-ctx.Done():
			log.Printf("🛑 %s ZMQ listener stopping", l.name)
			return nil
		default:
		}

		msg, err := l.recvWithTimeout(ctx, sock)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			if err == errRecvTimeout {
				// no message within recvTimeout: loop back around so the
				// ctx.Done() check above stays responsive, not an error.
				continue
			}
			consecutiveErrors++
			if consecutiveErrors >= maxConsecutiveErrors {
				log.Printf("⚠️ %s ZMQ listener: too many consecutive errors (%d), stopping", l.name, consecutiveErrors)
				return nil
			}
			backoff := time.Duration(1<<uint(consecutiveErrors-1)) * 500 * time.Millisecond
			if backoff > 5*time.Second {
				backoff = 5 * time.Second
			}
			log.Printf("⚠️ %s ZMQ error (attempt %d/%d): %v", l.name, consecutiveErrors, maxConsecutiveErrors, err)
			time.Sleep(backoff)
			continue
		}

		consecutiveErrors = 0
		l.handle(msg)
	}
}

var errRecvTimeout = fmt.Errorf("zmqlistener: recv timeout")

// recvWithTimeout runs sock.Recv() on its own goroutine and bounds how
// long Run waits on it, so a quiet node connection can't block shutdown
// indefinitely — zmq4's Socket.Recv has no per-call deadline of its own.
func (l *Listener) recvWithTimeout(ctx context.Context, sock zmq4.Socket) (zmq4.Msg, error) {
	type result struct {
		msg zmq4.Msg
		err error
	}
	done := make(chan result, 1)
	go func() {
		msg, err := sock.Recv()
		done <- result{msg: msg, err: err}
	}()

	timer := time.NewTimer(recvTimeout)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return zmq4.Msg{}, ctx.Err()
	case r := <-done:
		return r.msg, r.err
	case <-timer.C:
		return zmq4.Msg{}, errRecvTimeout
	}
}

func (l *Listener) handle(msg zmq4.Msg) {
	if len(msg.Frames) < 2 {
		log.Printf("⚠️ %s received malformed ZMQ message", l.name)
		return
	}
	if string(msg.Frames[0]) != topic {
		return
	}

	blockHashHex := hex.EncodeToString(msg.Frames[1])
	log.Printf("🚀 %s new block notification: %s", l.name, blockHashHex)

	if l.onBlock != nil {
		l.onBlock(blockHashHex)
	}
}
