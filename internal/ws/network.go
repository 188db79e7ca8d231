package ws

import "sync/atomic"

// Network reports the connectivity the orchestrator adapts to.
type Network interface {
	// IsOnline reports whether calls can reach the server.
	IsOnline() bool

	// IsMetered reports a limited connection. Cache entries then live
	// longer to save data.
	IsMetered() bool
}

// StaticNetwork is a Network whose state is set explicitly.
type StaticNetwork struct {
	online  atomic.Bool
	metered atomic.Bool
}

// NewStaticNetwork returns a network in the given state.
func NewStaticNetwork(online, metered bool) *StaticNetwork {
	n := &StaticNetwork{}
	n.online.Store(online)
	n.metered.Store(metered)
	return n
}

func (n *StaticNetwork) IsOnline() bool  { return n.online.Load() }
func (n *StaticNetwork) IsMetered() bool { return n.metered.Load() }

func (n *StaticNetwork) SetOnline(v bool)  { n.online.Store(v) }
func (n *StaticNetwork) SetMetered(v bool) { n.metered.Store(v) }
