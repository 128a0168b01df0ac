package replica

import (
	"slices"
	"time"

	"github.com/QYUbit/replica/pkg/transport"
)

// Conn is the server's record of one approved client connection.
type Conn struct {
	server     *Server
	id         transport.ConnID
	remoteAddr string
	local      bool
	owned      []*Entity
	data       any
}

func (c *Conn) ID() transport.ConnID { return c.id }

// IDHex formats the ID as XXXX:XXXX:XXXX:XXXX.
func (c *Conn) IDHex() string { return c.id.Hex() }

func (c *Conn) RemoteAddr() string { return c.remoteAddr }

// IsLocal reports whether this is the co-located host client.
func (c *Conn) IsLocal() bool { return c.local }

// OwnedEntities returns a copy of the entities owned by the connection.
func (c *Conn) OwnedEntities() []*Entity { return slices.Clone(c.owned) }

func (c *Conn) Owns(e *Entity) bool { return slices.Contains(c.owned, e) }

// Data returns the value stored with SetData.
func (c *Conn) Data() any { return c.data }

func (c *Conn) SetData(v any) { c.data = v }

// RTT is the transport's current round-trip estimate.
func (c *Conn) RTT() time.Duration { return c.server.tr.RTT(c.id) }

func (c *Conn) addOwned(e *Entity) {
	if !slices.Contains(c.owned, e) {
		c.owned = append(c.owned, e)
	}
}

func (c *Conn) removeOwned(e *Entity) {
	if i := slices.Index(c.owned, e); i >= 0 {
		c.owned = slices.Delete(c.owned, i, i+1)
	}
}

// ConnData returns the user data of c as T.
func ConnData[T any](c *Conn) (T, bool) {
	v, ok := c.data.(T)
	return v, ok
}
