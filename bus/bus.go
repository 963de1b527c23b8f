// bus.go
package bus

import (
	"strings"
	"sync"

	"ade7880-go/x/timex"
)

// -----------------------------------------------------------------------------
// Topics
// -----------------------------------------------------------------------------

// Wildcards usable in subscription filters. "+" matches one level, "#" matches
// the remaining levels (including none) and must be last.
const (
	SingleLevel = "+"
	MultiLevel  = "#"
)

// Topic is a sequence of path levels, e.g. {"meter", "main", "status"}.
type Topic []string

// T builds a topic from levels.
func T(levels ...string) Topic { return Topic(levels) }

// ParseTopic splits a slash separated topic string.
func ParseTopic(s string) Topic {
	if s == "" {
		return nil
	}
	return Topic(strings.Split(s, "/"))
}

func (t Topic) String() string { return strings.Join(t, "/") }

// Append returns a new topic with extra levels.
func (t Topic) Append(levels ...string) Topic {
	out := make(Topic, 0, len(t)+len(levels))
	out = append(out, t...)
	return append(out, levels...)
}

// Match reports whether the concrete topic t matches filter f.
func (t Topic) Match(f Topic) bool {
	for i, lv := range f {
		if lv == MultiLevel {
			return true
		}
		if i >= len(t) {
			return false
		}
		if lv != SingleLevel && lv != t[i] {
			return false
		}
	}
	return len(t) == len(f)
}

// -----------------------------------------------------------------------------
// Message
// -----------------------------------------------------------------------------

type Message struct {
	Topic    Topic
	Payload  any
	Retained bool
	TS       int64 // unix ms, stamped by NewMessage
}

// -----------------------------------------------------------------------------
// Subscription
// -----------------------------------------------------------------------------

type Subscription struct {
	filter Topic
	ch     chan *Message
	conn   *Connection // owning connection
}

func (s *Subscription) Topic() Topic             { return s.filter }
func (s *Subscription) Channel() <-chan *Message { return s.ch }
func (s *Subscription) Unsubscribe()             { s.conn.Unsubscribe(s) }

// deliver never blocks; on a full queue the oldest message is dropped.
func (s *Subscription) deliver(m *Message) {
	for {
		select {
		case s.ch <- m:
			return
		default:
		}
		select {
		case <-s.ch:
		default:
		}
	}
}

// -----------------------------------------------------------------------------
// Trie node
// -----------------------------------------------------------------------------

// Subscriptions and retained messages share one trie. Filter levels
// (including wildcards) are stored literally; publishing walks every
// branch that can match.
type node struct {
	children map[string]*node
	subs     []*Subscription
	retained *Message
}

func (n *node) child(level string, create bool) *node {
	if c, ok := n.children[level]; ok || !create {
		return c
	}
	if n.children == nil {
		n.children = make(map[string]*node)
	}
	c := &node{}
	n.children[level] = c
	return c
}

func (n *node) empty() bool {
	return len(n.subs) == 0 && len(n.children) == 0 && n.retained == nil
}

// collectSubs appends subscribers whose filters match t[i:].
func (n *node) collectSubs(t Topic, i int, out []*Subscription) []*Subscription {
	if c := n.children[MultiLevel]; c != nil {
		out = append(out, c.subs...)
	}
	if i == len(t) {
		return append(out, n.subs...)
	}
	if c := n.children[t[i]]; c != nil {
		out = c.collectSubs(t, i+1, out)
	}
	if c := n.children[SingleLevel]; c != nil {
		out = c.collectSubs(t, i+1, out)
	}
	return out
}

// collectRetained appends retained messages under n matching f[i:].
func (n *node) collectRetained(f Topic, i int, out []*Message) []*Message {
	if i == len(f) {
		if n.retained != nil {
			out = append(out, n.retained)
		}
		return out
	}
	switch f[i] {
	case MultiLevel:
		if n.retained != nil {
			out = append(out, n.retained)
		}
		for _, c := range n.children {
			out = c.collectRetained(f, i, out)
		}
	case SingleLevel:
		for _, c := range n.children {
			out = c.collectRetained(f, i+1, out)
		}
	default:
		if c := n.children[f[i]]; c != nil {
			out = c.collectRetained(f, i+1, out)
		}
	}
	return out
}

// -----------------------------------------------------------------------------
// Bus
// -----------------------------------------------------------------------------

type Bus struct {
	mu   sync.Mutex
	subs *node
	ret  *node
	qLen int
}

// NewBus creates a new bus with the given subscription queue length.
func NewBus(queueLen int) *Bus {
	if queueLen <= 0 {
		queueLen = 8 // safe default
	}
	return &Bus{subs: &node{}, ret: &node{}, qLen: queueLen}
}

func (b *Bus) addSubscription(sub *Subscription) {
	b.mu.Lock()
	defer b.mu.Unlock()

	n := b.subs
	for _, lv := range sub.filter {
		n = n.child(lv, true)
	}
	n.subs = append(n.subs, sub)

	for _, m := range b.ret.collectRetained(sub.filter, 0, nil) {
		sub.deliver(m)
	}
}

// Publish delivers a message to all matching subscribers. A retained message
// replaces the stored one for its topic; a retained nil payload clears it.
func (b *Bus) Publish(msg *Message) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for _, sub := range b.subs.collectSubs(msg.Topic, 0, nil) {
		sub.deliver(msg)
	}
	if !msg.Retained {
		return
	}
	if msg.Payload == nil {
		prune(b.ret, msg.Topic, func(n *node) { n.retained = nil })
		return
	}
	n := b.ret
	for _, lv := range msg.Topic {
		n = n.child(lv, true)
	}
	n.retained = msg
}

// Retained returns the retained message stored at topic, if any.
func (b *Bus) Retained(topic Topic) (*Message, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	n := b.ret
	for _, lv := range topic {
		if n = n.child(lv, false); n == nil {
			return nil, false
		}
	}
	return n.retained, n.retained != nil
}

func (b *Bus) unsubscribe(sub *Subscription) {
	b.mu.Lock()
	defer b.mu.Unlock()
	prune(b.subs, sub.filter, func(n *node) {
		for i, s := range n.subs {
			if s == sub {
				n.subs = append(n.subs[:i], n.subs[i+1:]...)
				break
			}
		}
	})
}

// prune applies fn to the node at path and removes nodes left empty.
func prune(root *node, path Topic, fn func(*node)) {
	stack := []*node{root}
	n := root
	for _, lv := range path {
		if n = n.child(lv, false); n == nil {
			return
		}
		stack = append(stack, n)
	}
	fn(n)
	for i := len(path) - 1; i >= 0; i-- {
		child := stack[i+1]
		if !child.empty() {
			break
		}
		delete(stack[i].children, path[i])
	}
}

// -----------------------------------------------------------------------------
// Connection
// -----------------------------------------------------------------------------

type Connection struct {
	bus  *Bus
	subs []*Subscription
	mu   sync.Mutex
	id   string
}

// NewConnection creates a new connection bound to this bus.
func (b *Bus) NewConnection(id string) *Connection {
	return &Connection{bus: b, id: id}
}

func (c *Connection) ID() string { return c.id }
func (c *Connection) Bus() *Bus  { return c.bus }

// NewMessage builds a timestamped message.
func (c *Connection) NewMessage(topic Topic, payload any, retained bool) *Message {
	return &Message{Topic: topic, Payload: payload, Retained: retained, TS: timex.NowMs()}
}

// Publish sends a message via the bus.
func (c *Connection) Publish(msg *Message) { c.bus.Publish(msg) }

// Subscribe registers a subscription owned by this connection. Retained
// messages matching the filter are queued immediately.
func (c *Connection) Subscribe(filter Topic) *Subscription {
	sub := &Subscription{
		filter: filter,
		ch:     make(chan *Message, c.bus.qLen),
		conn:   c,
	}
	c.mu.Lock()
	c.subs = append(c.subs, sub)
	c.mu.Unlock()
	c.bus.addSubscription(sub)
	return sub
}

// Unsubscribe removes a subscription owned by this connection and closes
// its channel.
func (c *Connection) Unsubscribe(sub *Subscription) {
	c.mu.Lock()
	found := false
	for i, s := range c.subs {
		if s == sub {
			c.subs = append(c.subs[:i], c.subs[i+1:]...)
			found = true
			break
		}
	}
	c.mu.Unlock()
	if !found {
		return
	}
	c.bus.unsubscribe(sub)
	close(sub.ch)
}

// Disconnect closes all subscriptions and clears them.
func (c *Connection) Disconnect() {
	c.mu.Lock()
	subs := c.subs
	c.subs = nil
	c.mu.Unlock()

	for _, sub := range subs {
		c.bus.unsubscribe(sub)
		close(sub.ch)
	}
}
