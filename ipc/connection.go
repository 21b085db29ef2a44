package ipc

import (
	"corvid/defs"
	"corvid/ksync"
)

// Connection is one endpoint of a bidirectional message channel (spec.md
// §3 "Connection"/"Endpoint"). A pair of Connections created together
// share no state except each holding the other as peer: c's own inbound
// queue is what the peer's Send pushes into, and what c's own Receive
// drains — the same crossed-pipe topology a Unix socketpair has.
type Connection struct {
	sp     ksync.Spinlock
	q      *msgQueue
	cond   ksync.WaitQueue // signalled on every push/pop/hangup touching q
	peer   *Connection
	closed bool
}

// newPair allocates two Connections, each other's peer, with capacity
// message slots of queue depth each.
func newPair(capacity int) (a, b *Connection) {
	a = &Connection{q: newMsgQueue(capacity)}
	b = &Connection{q: newMsgQueue(capacity)}
	a.peer = b
	b.peer = a
	return a, b
}

func wakeStatusErr(status ksync.WakeStatus) defs.Err_t {
	switch status {
	case ksync.WakeTimedOut:
		return defs.ETIMEDOUT
	case ksync.WakeInterrupted:
		return defs.EINTR
	default:
		return defs.EOK
	}
}

// Send enqueues msg on the peer's inbound queue, blocking per the
// universal timeout convention (spec.md §5) while that queue is full.
// EDESTUNREACH is returned once the peer has hung up or this end has
// already closed.
func (c *Connection) Send(msg Message, timeoutUsec int64, interrupt <-chan struct{}) defs.Err_t {
	if len(msg.Data) > defs.MessageMax {
		return defs.EINVAL
	}

	c.sp.Lock()
	peer := c.peer
	localClosed := c.closed
	c.sp.Unlock()
	if localClosed || peer == nil {
		return defs.EDESTUNREACH
	}

	peer.sp.Lock()
	for {
		if peer.closed {
			peer.sp.Unlock()
			return defs.EDESTUNREACH
		}
		if peer.q.push(msg) {
			peer.sp.Unlock()
			peer.cond.NotifyOne()
			return defs.EOK
		}
		status := peer.cond.Wait(&peer.sp, timeoutUsec, interrupt)
		if status != ksync.WakeNormal {
			peer.sp.Unlock()
			return wakeStatusErr(status)
		}
		// peer.sp is held again here: Wait re-acquires it before
		// returning, so the loop re-checks the full/closed condition
		// under the lock exactly as a Mesa-style monitor requires.
	}
}

// Receive blocks until a message is available, this end is closed, or
// the wait times out/is interrupted. Once the peer has hung up and the
// queue has drained, Receive reports EDESTUNREACH: there will never be
// another message.
func (c *Connection) Receive(timeoutUsec int64, interrupt <-chan struct{}) (Message, defs.Err_t) {
	c.sp.Lock()
	for {
		if m, ok := c.q.pop(); ok {
			c.sp.Unlock()
			c.cond.NotifyOne() // room freed up; wake a blocked sender
			return m, defs.EOK
		}
		if c.closed {
			c.sp.Unlock()
			return Message{}, defs.EDESTUNREACH
		}
		status := c.cond.Wait(&c.sp, timeoutUsec, interrupt)
		if status != ksync.WakeNormal {
			c.sp.Unlock()
			return Message{}, wakeStatusErr(status)
		}
	}
}

// Peek returns the oldest pending message without dequeuing it, never
// blocking: ENOTFOUND if nothing is queued yet, EDESTUNREACH if the
// queue is drained and closed.
func (c *Connection) Peek() (Message, defs.Err_t) {
	c.sp.Lock()
	defer c.sp.Unlock()
	if m, ok := c.q.peek(); ok {
		return m, defs.EOK
	}
	if c.closed {
		return Message{}, defs.EDESTUNREACH
	}
	return Message{}, defs.ENOTFOUND
}

// Hangup marks this end and its peer closed: pending and future Receives
// on either end drain whatever is queued and then report EDESTUNREACH,
// Sends from either end fail with EDESTUNREACH, and any sender blocked
// waiting for room wakes with the same error.
func (c *Connection) Hangup() {
	c.sp.Lock()
	if c.closed {
		c.sp.Unlock()
		return
	}
	c.closed = true
	peer := c.peer
	c.sp.Unlock()
	c.cond.Broadcast()

	// The peer's Receive/Peek/Wait only consult the peer's own flag, so
	// mark it too and wake whatever is blocked on the peer's queue.
	if peer != nil {
		peer.sp.Lock()
		peer.closed = true
		peer.sp.Unlock()
		peer.cond.Broadcast()
	}
}

// Close implements corvid/kobject.Object: closing the handle hangs up the
// connection.
func (c *Connection) Close() defs.Err_t {
	c.Hangup()
	return defs.EOK
}

// Wait implements corvid/kobject.Object: a connection is "ready" once it
// has data to receive or has been hung up, satisfying both a plain
// readability check and a select-style multi-object wait.
func (c *Connection) Wait(timeoutUsec int64, interrupt <-chan struct{}) (ksync.WakeStatus, defs.Err_t) {
	c.sp.Lock()
	for {
		if !c.q.empty() || c.closed {
			c.sp.Unlock()
			return ksync.WakeNormal, defs.EOK
		}
		status := c.cond.Wait(&c.sp, timeoutUsec, interrupt)
		if status != ksync.WakeNormal {
			c.sp.Unlock()
			return status, defs.EOK
		}
	}
}
