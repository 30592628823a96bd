package gateway

import (
	"context"
	"time"

	"github.com/rs/zerolog"
)

const (
	flushDebounce  = 50 * time.Millisecond
	flushThreshold = 16
	retryBackoff   = 250 * time.Millisecond
	writeTimeout   = 5 * time.Second
	opQueueSize    = 256
)

type opKind int

const (
	opMessage opKind = iota
	opVideo
	opState
)

type writeOp struct {
	kind  opKind
	msg   Message
	video VideoHistoryEntry
	state VideoState
}

// Queue coalesces a room's persistence writes so rapid admin actions do not
// storm the backend. Appends retain order; state saves are coalesced to the
// latest pending one. A failed flush is retried once after a short backoff
// and otherwise logged; callers never block on durability.
type Queue struct {
	gw      Gateway
	roomID  string
	ops     chan writeOp
	flushCh chan chan struct{}
	closing chan struct{}
	done    chan struct{}
	log     zerolog.Logger
}

func NewQueue(gw Gateway, roomID string, log zerolog.Logger) *Queue {
	q := &Queue{
		gw:      gw,
		roomID:  roomID,
		ops:     make(chan writeOp, opQueueSize),
		flushCh: make(chan chan struct{}),
		closing: make(chan struct{}),
		done:    make(chan struct{}),
		log:     log,
	}
	go q.run()
	return q
}

func (q *Queue) enqueue(op writeOp) {
	select {
	case q.ops <- op:
	case <-q.closing:
	default:
		q.log.Warn().Str("room", q.roomID).Msg("persistence queue full, dropping write")
	}
}

func (q *Queue) AppendMessage(m Message) {
	q.enqueue(writeOp{kind: opMessage, msg: m})
}

func (q *Queue) AppendVideoHistory(e VideoHistoryEntry) {
	q.enqueue(writeOp{kind: opVideo, video: e})
}

func (q *Queue) SaveState(s VideoState) {
	q.enqueue(writeOp{kind: opState, state: s})
}

// Flush blocks until every write enqueued before the call has been attempted.
func (q *Queue) Flush() {
	ack := make(chan struct{})
	select {
	case q.flushCh <- ack:
		<-ack
	case <-q.done:
	}
}

// Close flushes pending writes and stops the queue goroutine.
func (q *Queue) Close() {
	select {
	case <-q.closing:
	default:
		close(q.closing)
	}
	<-q.done
}

func (q *Queue) run() {
	var pending []writeOp
	debounce := time.NewTimer(flushDebounce)
	debounce.Stop()
	defer close(q.done)

	add := func(op writeOp) {
		if op.kind == opState {
			for i := range pending {
				if pending[i].kind == opState {
					pending[i] = op
					return
				}
			}
		}
		if len(pending) == 0 {
			debounce.Reset(flushDebounce)
		}
		pending = append(pending, op)
	}

	drain := func() {
		for {
			select {
			case op := <-q.ops:
				add(op)
			default:
				return
			}
		}
	}

	for {
		select {
		case op := <-q.ops:
			add(op)
			if len(pending) >= flushThreshold {
				q.flushOps(pending)
				pending = nil
			}
		case <-debounce.C:
			q.flushOps(pending)
			pending = nil
		case ack := <-q.flushCh:
			drain()
			q.flushOps(pending)
			pending = nil
			close(ack)
		case <-q.closing:
			drain()
			q.flushOps(pending)
			return
		}
	}
}

func (q *Queue) flushOps(ops []writeOp) {
	for _, op := range ops {
		if err := q.writeOne(op); err != nil {
			time.Sleep(retryBackoff)
			if err := q.writeOne(op); err != nil {
				q.log.Error().Err(err).Str("room", q.roomID).Msg("persistence write dropped after retry")
			}
		}
	}
}

func (q *Queue) writeOne(op writeOp) error {
	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()
	switch op.kind {
	case opMessage:
		return q.gw.AppendMessage(ctx, q.roomID, op.msg)
	case opVideo:
		return q.gw.AppendVideoHistory(ctx, q.roomID, op.video)
	case opState:
		return q.gw.SaveRoomState(ctx, q.roomID, op.state)
	}
	return nil
}
