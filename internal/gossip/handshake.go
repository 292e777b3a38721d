package gossip

// subscribeRequest is the first frame a follower sends after dialing an
// author's gossip ALPN stream: it names the topic (so a single endpoint can
// multiplex several authors in the future) and the subscriber's own pubkey,
// which the author records as a NeighborUp event.
type subscribeRequest struct {
	Topic           string `json:"topic"`
	SubscriberPubkey string `json:"subscriber_pubkey"`
}

// subscribeAck is the author's reply: ok=false with a reason means the
// subscriber is blocked or the topic is unknown.
type subscribeAck struct {
	OK     bool   `json:"ok"`
	Reason string `json:"reason,omitempty"`
}
