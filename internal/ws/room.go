package ws

// room is the local part of a broadcast group. Hub.mu guards it.
type room struct {
	conns map[string]*clientConn
}

func newRoom() *room { return &room{conns: map[string]*clientConn{}} }

// add reports whether c was not yet in the room.
func (r *room) add(c *clientConn) bool {
	if _, ok := r.conns[c.id]; ok {
		return false
	}
	r.conns[c.id] = c
	return true
}

// remove reports whether connID was in the room.
func (r *room) remove(connID string) bool {
	if _, ok := r.conns[connID]; !ok {
		return false
	}
	delete(r.conns, connID)
	return true
}

func (r *room) empty() bool { return len(r.conns) == 0 }

// snapshot copies the members so I/O can happen outside the lock.
func (r *room) snapshot(except string) []*clientConn {
	conns := make([]*clientConn, 0, len(r.conns))
	for id, c := range r.conns {
		if id != except {
			conns = append(conns, c)
		}
	}
	return conns
}
