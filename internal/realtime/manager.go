// Package realtime wires one logged-in session: it dispatches channel events
// in arrival order, polls the open conversation and runs user commands
// against the REST API.
package realtime

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	logging "github.com/ipfs/go-log/v2"

	"github.com/petervdpas/goopchat/internal/call"
	"github.com/petervdpas/goopchat/internal/chat"
	"github.com/petervdpas/goopchat/internal/dedup"
	"github.com/petervdpas/goopchat/internal/metrics"
	"github.com/petervdpas/goopchat/internal/mq"
	"github.com/petervdpas/goopchat/internal/notify"
	"github.com/petervdpas/goopchat/internal/util"
)

var log = logging.Logger("realtime")

// DefaultPollInterval is the history refresh period of the open conversation.
const DefaultPollInterval = 2500 * time.Millisecond

// Options wires a Client. Channel and API are required; Peers and Media are
// needed only for calls.
type Options struct {
	SelfID   string
	SelfName string

	Channel mq.Channel
	API     chat.API

	Peers call.PeerFactory
	Media call.MediaSource
	Sink  call.RemoteSink

	Alerter notify.Alerter
	Focus   notify.Focus
	Roster  *Roster
	Metrics *metrics.Metrics

	PollInterval  time.Duration
	DedupCapacity int
	CallErrorTTL  time.Duration
}

// Client is the session core of one logged-in user.
type Client struct {
	selfID   string
	ch       mq.Channel
	api      chat.API
	interval time.Duration
	metrics  *metrics.Metrics

	seen   *dedup.Cache
	stream *chat.Manager
	router *notify.Router
	call   *call.Machine
	roster *Roster

	events      <-chan mq.Event
	unsubscribe func()

	mu         sync.Mutex
	open       chat.Target
	pollCancel context.CancelFunc
	pollDone   chan struct{}
}

// New builds the components and subscribes to the channel, so no event sent
// after New returns is missed.
func New(o Options) (*Client, error) {
	if o.SelfID == "" {
		return nil, errors.New("realtime: self id is required")
	}
	if o.Channel == nil || o.API == nil {
		return nil, errors.New("realtime: channel and api are required")
	}
	capacity := o.DedupCapacity
	if capacity <= 0 {
		capacity = dedup.DefaultCapacity
	}
	seen, err := dedup.New(capacity)
	if err != nil {
		return nil, fmt.Errorf("realtime: %w", err)
	}
	interval := o.PollInterval
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	roster := o.Roster
	if roster == nil {
		roster = NewRoster(nil)
	}

	c := &Client{
		selfID:   o.SelfID,
		ch:       o.Channel,
		api:      o.API,
		interval: interval,
		metrics:  o.Metrics,
		seen:     seen,
		stream:   chat.New(),
		roster:   roster,
	}
	c.router = notify.NewRouter(notify.Options{
		SelfID:  o.SelfID,
		Seen:    seen,
		Stream:  c.stream,
		Alerter: o.Alerter,
		Focus:   o.Focus,
		Names:   roster,
	})
	c.router.OnDeselect(func(was chat.Target) {
		log.Infof("REALTIME: %s %s no longer available", was.Kind, was.ID)
		c.Open(chat.Target{})
	})

	var onTransition func(from, to call.Status)
	if c.metrics != nil {
		onTransition = func(_, to call.Status) { c.metrics.CallTransition(string(to)) }
	}
	c.call = call.New(call.Options{
		SelfName:     o.SelfName,
		Signaler:     o.Channel,
		Peers:        o.Peers,
		Media:        o.Media,
		Roster:       roster,
		Sink:         o.Sink,
		ErrorTTL:     o.CallErrorTTL,
		OnTransition: onTransition,
	})

	c.events, c.unsubscribe = o.Channel.Subscribe()
	return c, nil
}

func (c *Client) Stream() *chat.Manager  { return c.stream }
func (c *Client) Router() *notify.Router { return c.router }
func (c *Client) Call() *call.Machine    { return c.call }
func (c *Client) Roster() *Roster        { return c.roster }
func (c *Client) SelfID() string         { return c.selfID }

// Run dispatches channel events one at a time until ctx ends or the channel
// closes. Either way the session state is torn down before it returns.
func (c *Client) Run(ctx context.Context) error {
	defer c.unsubscribe()
	log.Infof("REALTIME: session %s running", c.selfID)
	for {
		select {
		case <-ctx.Done():
			c.Close()
			return ctx.Err()
		case evt, ok := <-c.events:
			if !ok {
				log.Warnf("REALTIME: channel closed, resetting session")
				c.Close()
				return mq.ErrClosed
			}
			c.Dispatch(evt)
		}
	}
}

// Dispatch handles one inbound event. Malformed payloads are logged and
// dropped.
func (c *Client) Dispatch(evt mq.Event) {
	if c.metrics != nil {
		c.metrics.Event(evt.Name)
	}
	if err := c.dispatch(evt); err != nil {
		log.Warnf("REALTIME: %s: %v", evt.Name, err)
	}
	if c.metrics != nil {
		c.metrics.SetUnread(c.router.Unread().Total())
	}
}

func (c *Client) dispatch(evt mq.Event) error {
	switch evt.Name {
	case mq.EventMessageNew:
		var p mq.MessageNewPayload
		if err := evt.Decode(&p); err != nil {
			return err
		}
		out := c.router.HandleMessage(p.Message)
		if out == notify.Duplicate && c.metrics != nil {
			c.metrics.Duplicate()
		}
		log.Debugf("REALTIME: message %s %s", p.Message.ID, out)

	case mq.EventMessageDeleted:
		var p mq.MessageDeletedPayload
		if err := evt.Decode(&p); err != nil {
			return err
		}
		c.stream.ApplyDeletion(p.MessageID)

	case mq.EventReactionUpdated:
		var p mq.ReactionUpdatedPayload
		if err := evt.Decode(&p); err != nil {
			return err
		}
		c.stream.ApplyReactions(p.MessageID, p.Reactions)

	case mq.EventConversationCleared:
		var p mq.ConversationClearedPayload
		if err := evt.Decode(&p); err != nil {
			return err
		}
		c.stream.ApplyClear(p.Target)
		c.router.HandleCleared(p.Target)

	case mq.EventRoomMembership:
		var p mq.RoomMembershipPayload
		if err := evt.Decode(&p); err != nil {
			return err
		}
		c.router.HandleRoomUpdate(p.Room)

	case mq.EventRoomRemoved:
		var p mq.RoomRemovedPayload
		if err := evt.Decode(&p); err != nil {
			return err
		}
		if id := p.ID(); id != "" {
			c.router.HandleRoomRemoved(id)
		}

	case mq.EventCallOffer:
		var p mq.CallOfferPayload
		if err := evt.Decode(&p); err != nil {
			return err
		}
		c.call.HandleOffer(p)

	case mq.EventCallAnswer:
		var p mq.CallAnswerPayload
		if err := evt.Decode(&p); err != nil {
			return err
		}
		c.call.HandleAnswer(p)

	case mq.EventCallICE:
		var p mq.CallICEPayload
		if err := evt.Decode(&p); err != nil {
			return err
		}
		c.call.HandleICE(p)

	case mq.EventCallEnd:
		var p mq.CallEndPayload
		if err := evt.Decode(&p); err != nil {
			return err
		}
		c.call.HandleEnd(p)

	default:
		log.Debugf("REALTIME: ignoring event %q", evt.Name)
	}
	return nil
}

// Open switches the active conversation. The previous poller is stopped
// and its conversation left before the new one is joined. The first history
// fetch runs before Open returns; a zero target just closes the current one.
func (c *Client) Open(t chat.Target) {
	c.mu.Lock()
	prev := c.open
	c.open = t
	stopped := c.stopPollLocked()
	c.mu.Unlock()
	if stopped != nil {
		<-stopped
	}

	if !prev.IsZero() && prev != t {
		c.publish(mq.EventConversationLeave, mq.ConversationPayload{ConversationID: string(prev.Key(c.selfID))})
	}
	c.stream.Open(t)
	c.router.SetActive(t)
	if t.IsZero() {
		return
	}
	if prev != t {
		c.publish(mq.EventConversationJoin, mq.ConversationPayload{ConversationID: string(t.Key(c.selfID))})
	}

	c.mu.Lock()
	if c.open != t || c.pollCancel != nil {
		c.mu.Unlock()
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	c.pollCancel, c.pollDone = cancel, done
	c.mu.Unlock()

	log.Infof("REALTIME: opened %s %s", t.Kind, t.ID)
	c.fetch(ctx, t)
	go c.poll(ctx, t, done)
}

// Active returns the open conversation.
func (c *Client) Active() chat.Target {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.open
}

func (c *Client) stopPollLocked() chan struct{} {
	if c.pollCancel == nil {
		return nil
	}
	c.pollCancel()
	done := c.pollDone
	c.pollCancel, c.pollDone = nil, nil
	return done
}

func (c *Client) poll(ctx context.Context, t chat.Target, done chan struct{}) {
	defer close(done)
	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.fetch(ctx, t)
		}
	}
}

// fetch merges one history snapshot of t. Failures are retried by the next
// tick.
func (c *Client) fetch(ctx context.Context, t chat.Target) {
	fctx, cancel := context.WithTimeout(ctx, util.DefaultFetchTimeout)
	msgs, err := c.api.FetchMessages(fctx, t)
	cancel()
	if err != nil {
		if ctx.Err() == nil {
			log.Warnf("REALTIME: fetch %s %s: %v", t.Kind, t.ID, err)
			if c.metrics != nil {
				c.metrics.PollError()
			}
		}
		return
	}
	c.stream.Merge(t, msgs)
}

// Refresh fetches the open conversation now.
func (c *Client) Refresh(ctx context.Context) {
	if t := c.Active(); !t.IsZero() {
		c.fetch(ctx, t)
	}
}

// Send posts a message to the open conversation, quoting the composer's
// reply target if one is set.
func (c *Client) Send(ctx context.Context, body string, typ chat.MessageType) error {
	t := c.Active()
	if t.IsZero() {
		return chat.ErrNoConversation
	}
	if typ == "" {
		typ = chat.TypeText
	}
	req := chat.SendRequest{SenderID: c.selfID, ReceiverID: t.ID, Kind: t.Kind, Body: body, Type: typ}
	if r := c.stream.Reply(); r != nil {
		req.ReplyToID = r.ID
	}
	if err := c.api.SendMessage(ctx, req); err != nil {
		return fmt.Errorf("send message: %w", err)
	}
	c.stream.ClearReply()
	c.fetch(ctx, t)
	return nil
}

// React sets the current user's emoji on a message.
func (c *Client) React(ctx context.Context, messageID, emoji string) error {
	rs, err := c.api.UpdateReaction(ctx, messageID, c.selfID, emoji)
	if err != nil {
		return fmt.Errorf("update reaction: %w", err)
	}
	c.stream.ApplyReactions(messageID, rs)
	return nil
}

// Delete removes a message.
func (c *Client) Delete(ctx context.Context, messageID string) error {
	if err := c.api.DeleteMessage(ctx, messageID, c.selfID); err != nil {
		return fmt.Errorf("delete message: %w", err)
	}
	c.stream.ApplyDeletion(messageID)
	return nil
}

// Clear empties the open conversation for everyone.
func (c *Client) Clear(ctx context.Context) error {
	t := c.Active()
	if t.IsZero() {
		return chat.ErrNoConversation
	}
	if err := c.api.ClearConversation(ctx, c.selfID, t); err != nil {
		return fmt.Errorf("clear conversation: %w", err)
	}
	c.stream.ApplyClear(t.ID)
	c.router.HandleCleared(t.ID)
	return nil
}

// StartCall calls the peer of the open direct conversation.
func (c *Client) StartCall(ctx context.Context, t call.CallType) error {
	open := c.Active()
	if open.IsZero() || open.Kind != chat.KindDirect {
		return call.ErrNoPeer
	}
	return c.call.Start(ctx, open.ID, t)
}

// Close ends the session: the poller stops, the open conversation is left,
// any call is torn down silently and the dedup and unread state is cleared.
func (c *Client) Close() {
	c.mu.Lock()
	prev := c.open
	c.open = chat.Target{}
	done := c.stopPollLocked()
	c.mu.Unlock()
	if done != nil {
		<-done
	}
	if !prev.IsZero() {
		c.publish(mq.EventConversationLeave, mq.ConversationPayload{ConversationID: string(prev.Key(c.selfID))})
	}
	c.call.Close()
	c.stream.Open(chat.Target{})
	c.router.Reset()
	if c.metrics != nil {
		c.metrics.SetUnread(0)
	}
}

func (c *Client) publish(name string, payload any) {
	if err := c.ch.Publish(name, payload); err != nil {
		log.Debugf("REALTIME: publish %s: %v", name, err)
	}
}
