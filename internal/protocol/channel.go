package protocol

import (
	"sync"
)

// ChannelState is the lifecycle state of a channel.
type ChannelState int

const (
	ChannelClosed ChannelState = iota
	ChannelJoining
	ChannelJoined
	ChannelLeaving
	ChannelErrored
)

func (s ChannelState) String() string {
	switch s {
	case ChannelClosed:
		return "closed"
	case ChannelJoining:
		return "joining"
	case ChannelJoined:
		return "joined"
	case ChannelLeaving:
		return "leaving"
	case ChannelErrored:
		return "errored"
	}
	return "unknown"
}

// Channel is one topic subscription owned by a Socket. Created on first
// reference, it moves to joining on a join attempt, joined on a successful
// reply, leaving/closed on an explicit leave, and errored on a failed join
// or runtime error.
type Channel struct {
	Topic string

	mu          sync.Mutex
	state       ChannelState
	joinRef     string
	joinPayload JoinPayload // replayed on automatic rejoin

	onMessage func(Message)
	onError   func(reason string)
}

// State returns the channel's current lifecycle state.
func (c *Channel) State() ChannelState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// JoinRef returns the ref of the join request that owns this channel's
// membership; replies carrying it transition the channel.
func (c *Channel) JoinRef() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.joinRef
}

// OnMessage registers the handler for non-reply messages on this topic
// (diff, redirect, push_event).
func (c *Channel) OnMessage(fn func(Message)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onMessage = fn
}

// OnError registers the handler invoked when the channel enters errored.
func (c *Channel) OnError(fn func(reason string)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onError = fn
}

func (c *Channel) setState(s ChannelState) {
	c.mu.Lock()
	c.state = s
	c.mu.Unlock()
}

// markJoining records a new join attempt under ref.
func (c *Channel) markJoining(ref string) {
	c.mu.Lock()
	c.state = ChannelJoining
	c.joinRef = ref
	c.mu.Unlock()
}

// resolveJoin transitions the channel from a join reply. The error callback
// fires exactly once per failed attempt.
func (c *Channel) resolveJoin(status, reason string) {
	c.mu.Lock()
	var onError func(string)
	if status == StatusOK {
		c.state = ChannelJoined
	} else {
		c.state = ChannelErrored
		onError = c.onError
	}
	c.mu.Unlock()

	if onError != nil {
		onError(reason)
	}
}

// deliver routes a non-reply message to the registered handler.
func (c *Channel) deliver(msg Message) {
	c.mu.Lock()
	fn := c.onMessage
	c.mu.Unlock()
	if fn != nil {
		fn(msg)
	}
}
