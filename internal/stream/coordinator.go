// Package stream consumes the leader account's order update feed, normalizes
// it, and drives the replicator through a bounded queue. Reconnects trigger a
// gap recovery pass that replays order book changes missed while offline.
package stream

import (
	"context"
	"hash/fnv"
	"sync"
	"time"

	"copytrader/internal/config"
	"copytrader/internal/core"
	apperrors "copytrader/pkg/errors"
	"copytrader/pkg/telemetry"
	"copytrader/pkg/websocket"
)

// loginRequest authenticates the order update feed for one client.
type loginRequest struct {
	LoginReq loginPayload `json:"LoginReq"`
	UserType string       `json:"UserType"`
}

type loginPayload struct {
	MsgCode  int    `json:"MsgCode"`
	ClientID string `json:"ClientId"`
	Token    string `json:"Token"`
}

// Coordinator owns the stream connection lifecycle and the event queue.
type Coordinator struct {
	cfg        config.StreamConfig
	acct       config.AccountConfig
	ws         *websocket.Client
	store      core.IStore
	replicator core.IReplicator
	leader     core.IBrokerClient
	queue      chan *core.NormalizedEvent
	log        core.ILogger

	mu    sync.RWMutex
	state core.StreamState

	// Consumer-loop state, touched only from Run.
	lastSeq  map[string]int64
	lastHash map[string]uint64

	ctx context.Context
}

// New creates a Coordinator for the leader order feed at url.
func New(url string, acct config.AccountConfig, cfg config.StreamConfig, store core.IStore, replicator core.IReplicator, leader core.IBrokerClient, log core.ILogger) *Coordinator {
	c := &Coordinator{
		cfg:        cfg,
		acct:       acct,
		store:      store,
		replicator: replicator,
		leader:     leader,
		queue:      make(chan *core.NormalizedEvent, cfg.EventQueueSize),
		log:        log.WithField("component", "stream"),
		state:      core.StreamDisconnected,
		lastSeq:    make(map[string]int64),
		lastHash:   make(map[string]uint64),
	}

	c.ws = websocket.NewClient(websocket.Config{
		URL:                  url,
		ReconnectBase:        time.Duration(cfg.ReconnectBaseMS) * time.Millisecond,
		ReconnectMax:         time.Duration(cfg.ReconnectMaxMS) * time.Millisecond,
		MaxReconnectAttempts: cfg.MaxReconnectAttempts,
		ReadTimeout:          time.Duration(cfg.HeartbeatTimeoutSec) * time.Second,
	}, c.onMessage, log)

	c.ws.SetOnConnected(c.onConnected)
	c.ws.SetOnDisconnected(c.onDisconnected)
	return c
}

// State returns the current connection state.
func (c *Coordinator) State() core.StreamState {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state
}

func (c *Coordinator) setState(s core.StreamState) {
	c.mu.Lock()
	c.state = s
	c.mu.Unlock()
	telemetry.GetGlobalMetrics().SetStreamConnected(s == core.StreamLive)
	c.log.Info("stream state changed", "state", string(s))
}

// Run connects and processes events until ctx is cancelled or a fatal error
// occurs. Store failures and exhausted reconnects both return an error.
func (c *Coordinator) Run(ctx context.Context) error {
	c.ctx = ctx
	c.setState(core.StreamConnecting)
	c.ws.Start()
	defer c.ws.Stop()

	metrics := telemetry.GetGlobalMetrics()
	for {
		select {
		case <-ctx.Done():
			c.setState(core.StreamStopped)
			return nil

		case err := <-c.ws.Fatal():
			c.setState(core.StreamStopped)
			return apperrors.Wrap(apperrors.KindStream, "stream connection lost", err)

		case ev := <-c.queue:
			metrics.SetEventQueueDepth(int64(len(c.queue)))

			if c.isDuplicate(ev) {
				c.log.Debug("duplicate stream delivery dropped", "order_id", ev.OrderID)
				continue
			}

			seq, err := c.store.NextSequence(ctx, ev.OrderID)
			if err != nil {
				return err
			}
			// The journal only advances when the replicator records the
			// decision; the in-memory counter keeps numbering monotonic
			// in between.
			if last := c.lastSeq[ev.OrderID]; last >= seq {
				seq = last + 1
			}
			c.lastSeq[ev.OrderID] = seq
			ev.Sequence = seq

			if err := c.replicator.HandleEvent(ctx, ev); err != nil {
				if apperrors.KindOf(err) == apperrors.KindStore {
					c.setState(core.StreamStopped)
					return err
				}
				c.log.Error("event handling failed", "order_id", ev.OrderID, "error", err)
			}
			metrics.SetWatermarkLag(time.Since(time.UnixMilli(ev.TS)).Seconds())
		}
	}
}

// isDuplicate drops a redelivered frame: an identical raw payload for the
// same order as the one last seen. Replayed events carry no payload and are
// never dropped here.
func (c *Coordinator) isDuplicate(ev *core.NormalizedEvent) bool {
	if len(ev.Payload) == 0 {
		return false
	}
	h := fnv.New64a()
	h.Write(ev.Payload)
	sum := h.Sum64()
	if c.lastHash[ev.OrderID] == sum {
		return true
	}
	c.lastHash[ev.OrderID] = sum
	return false
}

// onMessage runs on the websocket read goroutine. Enqueueing blocks when the
// queue is full; that backpressure stalls the socket rather than dropping
// events.
func (c *Coordinator) onMessage(msg []byte) {
	ev, err := parse(msg)
	if err != nil {
		c.log.Warn("unparseable stream message", "error", err)
		return
	}
	if ev == nil {
		return
	}
	telemetry.GetGlobalMetrics().AddEventsReceived(c.ctx, 1)
	c.enqueue(ev)
}

func (c *Coordinator) enqueue(ev *core.NormalizedEvent) {
	select {
	case c.queue <- ev:
	case <-c.ctx.Done():
		return
	}
	telemetry.GetGlobalMetrics().SetEventQueueDepth(int64(len(c.queue)))
}

func (c *Coordinator) onConnected(reconnect bool) {
	if err := c.ws.Send(loginRequest{
		LoginReq: loginPayload{
			MsgCode:  42,
			ClientID: c.acct.ClientID,
			Token:    c.acct.AccessToken.Reveal(),
		},
		UserType: "SELF",
	}); err != nil {
		c.log.Error("stream login failed", "error", err)
	}

	c.setState(core.StreamLive)
	// The first connect reconciles against the order book too, so changes
	// from before startup are not lost.
	go c.recoverGaps()
}

func (c *Coordinator) onDisconnected(err error) {
	c.log.Warn("stream disconnected", "error", err)
	c.setState(core.StreamReconnecting)
}

// recoverGaps replays leader order book changes that postdate the durable
// watermark. Replayed events flow through the same queue as live ones.
func (c *Coordinator) recoverGaps() {
	ctx, cancel := context.WithTimeout(c.ctx, 60*time.Second)
	defer cancel()

	watermark, err := c.store.GetWatermark(ctx)
	if err != nil {
		c.log.Error("gap recovery: watermark read failed", "error", err)
		c.setState(core.StreamDegraded)
		return
	}

	orders, err := c.leader.OrderList(ctx)
	if err != nil {
		// Live events still flow, but offline changes were not reconciled.
		c.log.Error("gap recovery: order list fetch failed", "error", err)
		c.setState(core.StreamDegraded)
		return
	}

	replayed := 0
	for i := range orders {
		o := orders[i]
		stored, err := c.store.GetOrder(ctx, o.ID)
		if err != nil {
			c.log.Error("gap recovery: order read failed", "order_id", o.ID, "error", err)
			c.setState(core.StreamDegraded)
			return
		}
		if stored != nil && stored.Status == o.Status {
			continue
		}

		ts := o.UpdatedAt
		if ts == 0 {
			ts = o.CreatedAt
		}
		if stored == nil {
			if watermark == 0 {
				// First run: do not replicate history from before the
				// journal existed.
				if o.Status.IsTerminal() {
					continue
				}
			} else if ts > 0 && ts <= watermark {
				// Predates the watermark: already accounted for.
				continue
			}
		}
		if ts == 0 {
			ts = time.Now().UnixMilli()
		}

		ev := &core.NormalizedEvent{
			OrderID:  o.ID,
			Status:   o.Status,
			Order:    o,
			Leg:      o.Leg,
			TS:       ts,
			Replayed: true,
		}
		c.enqueue(ev)
		replayed++
	}

	if replayed > 0 {
		telemetry.GetGlobalMetrics().AddEventsReplayed(ctx, int64(replayed))
	}
	c.log.Info("gap recovery complete", "watermark", watermark, "replayed", replayed)
}
