package registry

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/webitel/relay-service/internal/domain/model"
)

// Connection is a single client session within a tenant. It owns a
// bounded mailbox that decouples the relay from the transport: the
// transport adapter drains Recv(), the router pushes via Deliver.
type Connection struct {
	id          string
	tenantID    string
	connectedAt time.Time

	// lastMessageAt is unix nanos; zero means no message ever relayed.
	lastMessageAt   atomic.Int64
	messagesRelayed atomic.Uint64
	bytesRelayed    atomic.Uint64

	mailbox   chan model.Delivery
	done      chan struct{}
	closeOnce sync.Once
}

// newConnectionID returns a process-unique id. ULIDs are
// monotone-sortable (deterministic iteration order on tenant removal)
// and carry 80 bits of entropy (non-guessable).
func newConnectionID() string {
	return ulid.Make().String()
}

func newConnection(id, tenantID string, mailboxSize int, now time.Time) *Connection {
	return &Connection{
		id:          id,
		tenantID:    tenantID,
		connectedAt: now,
		mailbox:     make(chan model.Delivery, mailboxSize),
		done:        make(chan struct{}),
	}
}

func (c *Connection) ID() string       { return c.id }
func (c *Connection) TenantID() string { return c.tenantID }

// Deliver hands a payload to the transport mailbox without blocking.
// Returns false when the mailbox is saturated or the connection is
// closed; the router then counts the message as deferred.
func (c *Connection) Deliver(d model.Delivery) bool {
	select {
	case <-c.done:
		return false
	default:
	}
	select {
	case c.mailbox <- d:
		return true
	default:
		return false
	}
}

// Recv exposes the mailbox to the transport adapter. The channel is
// never closed; select on Done to detect termination.
func (c *Connection) Recv() <-chan model.Delivery { return c.mailbox }

// Done is closed when the connection is terminated.
func (c *Connection) Done() <-chan struct{} { return c.done }

// Close terminates the connection. Idempotent and safe under
// concurrent Deliver calls.
func (c *Connection) Close() {
	c.closeOnce.Do(func() {
		close(c.done)
	})
}

func (c *Connection) touch(now time.Time) {
	c.lastMessageAt.Store(now.UnixNano())
}

func (c *Connection) credit(bytes int, now time.Time) {
	c.messagesRelayed.Add(1)
	c.bytesRelayed.Add(uint64(bytes))
	c.touch(now)
}

// lastActivity falls back to connectedAt for connections that never
// received a message.
func (c *Connection) lastActivity() time.Time {
	if ns := c.lastMessageAt.Load(); ns != 0 {
		return time.Unix(0, ns)
	}
	return c.connectedAt
}

// Info returns a point-in-time view of the connection.
func (c *Connection) Info() model.ConnectionInfo {
	info := model.ConnectionInfo{
		ID:              c.id,
		TenantID:        c.tenantID,
		ConnectedAt:     c.connectedAt,
		MessagesRelayed: c.messagesRelayed.Load(),
		BytesRelayed:    c.bytesRelayed.Load(),
	}
	if ns := c.lastMessageAt.Load(); ns != 0 {
		info.LastMessageAt = time.Unix(0, ns)
	}
	return info
}
