// Package orchestrator wires identity, storage, transport, gossip, sync,
// and DM into a running node: a single multi-protocol Accept loop, startup
// sync, the drip-sync and DM-outbox background loops, and cooperative
// shutdown. It plays the role of cmd/klistr/main.go's wiring section, moved
// into a package of its own because a p2p node has considerably more
// concurrent machinery to start and stop than a bridge server's one HTTP
// listener.
package orchestrator

import (
	"fmt"

	"github.com/klppl/socialnode/internal/config"
	"github.com/klppl/socialnode/internal/dm"
	"github.com/klppl/socialnode/internal/gossip"
	"github.com/klppl/socialnode/internal/identity"
	"github.com/klppl/socialnode/internal/moderation"
	"github.com/klppl/socialnode/internal/notify"
	"github.com/klppl/socialnode/internal/store"
	"github.com/klppl/socialnode/internal/sync"
	"github.com/klppl/socialnode/internal/transport"
	"github.com/klppl/socialnode/internal/wire"
)

// Node is a fully wired instance of the application: one bound transport
// Endpoint multiplexing sync, gossip, and DM traffic, plus the background
// loops that keep a follow graph converged and DMs flowing.
type Node struct {
	cfg   *config.Config
	self  *identity.Identity
	store *store.Store

	filter   *moderation.Filter
	notifier *notify.Generator

	ep        *transport.Endpoint
	publisher *gossip.Publisher
	bridge    *gossip.Bridge
	dmEngine  *dm.Engine

	syncBounds sync.Bounds
	onUIEvent  func(kind string, payload any)
}

// New constructs a Node bound to cfg.BindAddr. onUIEvent receives a stream
// of best-effort UI events ("gossip", "dm", "notification", "sync") for
// whatever front end is attached; it may be nil.
func New(cfg *config.Config, self *identity.Identity, st *store.Store, onUIEvent func(string, any)) (*Node, error) {
	if onUIEvent == nil {
		onUIEvent = func(string, any) {}
	}

	filter, err := moderation.New(st)
	if err != nil {
		return nil, fmt.Errorf("load moderation filter: %w", err)
	}

	ep, err := transport.Listen(cfg.BindAddr, []string{transport.ALPNSync, transport.ALPNGossip, transport.ALPNDM})
	if err != nil {
		return nil, fmt.Errorf("bind transport: %w", err)
	}

	n := &Node{
		cfg:    cfg,
		self:   self,
		store:  st,
		filter: filter,
		ep:     ep,
		syncBounds: sync.Bounds{
			BatchSize:       cfg.SyncBatchSize,
			MaxFrameBytes:   cfg.SyncMaxFrameBytes,
			MaxKnownIDBytes: cfg.SyncMaxKnownIDsBytes,
		},
		onUIEvent: onUIEvent,
	}

	n.notifier = notify.New(st, self.Pubkey, filter.SuppressNotification, func(note wire.Notification) {
		onUIEvent("notification", note)
	})

	n.publisher = gossip.NewPublisher()
	n.bridge = gossip.NewBridge(self, st, n.publisher, filter.IsBlocked, filter.ShouldDrop, n.onGossipEvent)
	n.dmEngine = dm.NewEngine(self, st, filter.IsBlocked, n.onDMMessage)

	return n, nil
}

// Addr returns the node's bound transport address, suitable for sharing
// with followers/followees out of band.
func (n *Node) Addr() string {
	return n.ep.Addr().String()
}

// onGossipEvent is the Bridge's receipt hook: it feeds newly persisted
// content into notification generation before forwarding a UI event.
func (n *Node) onGossipEvent(fromTopic string, msg *wire.GossipMessage) {
	switch msg.Type {
	case wire.GossipNewPost:
		if msg.Post != nil {
			_ = n.notifier.FromPost(*msg.Post)
		}
	case wire.GossipNewInteraction:
		if msg.Interaction != nil {
			_ = n.notifier.FromInteraction(*msg.Interaction)
		}
	}
	n.onUIEvent("gossip", msg)
}

// onDMMessage is the DM Engine's decrypt hook.
func (n *Node) onDMMessage(peer string, payload *wire.DMPayload) {
	n.onUIEvent("dm", payload)
}
