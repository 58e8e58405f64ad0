package process

import "sync/atomic"

// NodeStatus is the operational flag consumed by the quoting gate.
type NodeStatus uint32

const (
	NodeOffline NodeStatus = iota
	NodeInactive
	NodeActive
)

func (s NodeStatus) String() string {
	switch s {
	case NodeOffline:
		return "offline"
	case NodeInactive:
		return "inactive"
	case NodeActive:
		return "active"
	default:
		return "unknown"
	}
}

// ResetStatistic is the Reset hint that clears node statistics.
const ResetStatistic uint32 = 1

// NodeStats counts the events seen by the unit.
type NodeStats struct {
	Quotes      uint64 `json:"quotes"`
	Trades      uint64 `json:"trades"`
	Acks        uint64 `json:"acks"`
	Connects    uint64 `json:"connects"`
	Disconnects uint64 `json:"disconnects"`
}

// Node holds the unit's operational flag and statistics. It is created before the supervisor,
// handed to it at construction, and may be read from any goroutine.
type Node struct {
	status      atomic.Uint32
	quotes      atomic.Uint64
	trades      atomic.Uint64
	acks        atomic.Uint64
	connects    atomic.Uint64
	disconnects atomic.Uint64
}

// NewNode creates an offline node.
func NewNode() *Node {
	return &Node{}
}

func (n *Node) Status() NodeStatus {
	return NodeStatus(n.status.Load())
}

func (n *Node) SetStatus(s NodeStatus) {
	n.status.Store(uint32(s))
}

// Active implements quoter.Gate.
func (n *Node) Active() bool {
	return n.Status() == NodeActive
}

func (n *Node) Stats() NodeStats {
	return NodeStats{
		Quotes:      n.quotes.Load(),
		Trades:      n.trades.Load(),
		Acks:        n.acks.Load(),
		Connects:    n.connects.Load(),
		Disconnects: n.disconnects.Load(),
	}
}

func (n *Node) ResetStats() {
	n.quotes.Store(0)
	n.trades.Store(0)
	n.acks.Store(0)
	n.connects.Store(0)
	n.disconnects.Store(0)
}
