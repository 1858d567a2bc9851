package client

import "github.com/calder/rpcfire/internal/conn"

// table is an arena of connections indexed by stable integer slots. A slot
// is owned by at most one live connection and is reused only after an
// explicit remove.
type table struct {
	conns []*conn.Conn
	free  []int
}

// insert allocates a slot and stores the connection built for it.
func (t *table) insert(build func(slot int) *conn.Conn) int {
	var slot int
	if n := len(t.free); n > 0 {
		slot = t.free[n-1]
		t.free = t.free[:n-1]
	} else {
		slot = len(t.conns)
		t.conns = append(t.conns, nil)
	}
	t.conns[slot] = build(slot)
	return slot
}

// get returns the connection at slot, or nil for an empty or stale slot.
func (t *table) get(slot int) *conn.Conn {
	if slot < 0 || slot >= len(t.conns) {
		return nil
	}
	return t.conns[slot]
}

// remove frees the slot for reuse.
func (t *table) remove(slot int) {
	if slot < 0 || slot >= len(t.conns) || t.conns[slot] == nil {
		return
	}
	t.conns[slot] = nil
	t.free = append(t.free, slot)
}

// live counts occupied slots.
func (t *table) live() int {
	n := 0
	for _, c := range t.conns {
		if c != nil {
			n++
		}
	}
	return n
}
