package diag

import (
	"net/http"
	"time"
)

type statusResponse struct {
	Pubkey    string `json:"pubkey"`
	StartedAt int64  `json:"started_at"`
	UptimeSec int64  `json:"uptime_seconds"`
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	jsonResponse(w, statusResponse{
		Pubkey:    s.self.Pubkey,
		StartedAt: s.startedAt.Unix(),
		UptimeSec: int64(time.Since(s.startedAt).Seconds()),
	}, http.StatusOK)
}

type statsResponse struct {
	FollowingCount    int `json:"following_count"`
	FollowerCount     int `json:"follower_count"`
	OnlineFollowers   int `json:"online_followers"`
	ActiveSubscribers int `json:"active_subscribers"`
	OutboxPeerCount   int `json:"outbox_peer_count"`
	OutboxDepth       int `json:"outbox_depth"`
	UnreadNotify      int `json:"unread_notifications"`
	MutedCount        int `json:"muted_count"`
	BlockedCount      int `json:"blocked_count"`
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	resp := statsResponse{}

	if following, err := s.store.Following(s.self.Pubkey); err == nil {
		resp.FollowingCount = len(following)
	}
	if followers, err := s.store.Followers(); err == nil {
		resp.FollowerCount = len(followers)
		for _, f := range followers {
			if f.Online {
				resp.OnlineFollowers++
			}
		}
	}
	if s.publisher != nil {
		resp.ActiveSubscribers = s.publisher.FollowerCount()
	}
	if peers, err := s.store.OutboxPeers(); err == nil {
		resp.OutboxPeerCount = len(peers)
		for _, p := range peers {
			entries, err := s.store.OutboxForPeer(p)
			if err == nil {
				resp.OutboxDepth += len(entries)
			}
		}
	}
	if notes, err := s.store.Notifications(1000); err == nil {
		for _, n := range notes {
			if !n.Read {
				resp.UnreadNotify++
			}
		}
	}
	if muted, err := s.store.Mutes(); err == nil {
		resp.MutedCount = len(muted)
	}
	if blocked, err := s.store.Blocks(); err == nil {
		resp.BlockedCount = len(blocked)
	}

	jsonResponse(w, resp, http.StatusOK)
}

func (s *Server) handleFollowers(w http.ResponseWriter, r *http.Request) {
	followers, err := s.store.Followers()
	if err != nil {
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	jsonResponse(w, followers, http.StatusOK)
}

type outboxPeerDepth struct {
	Peer  string `json:"peer"`
	Depth int    `json:"depth"`
}

func (s *Server) handleOutbox(w http.ResponseWriter, r *http.Request) {
	peers, err := s.store.OutboxPeers()
	if err != nil {
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	out := make([]outboxPeerDepth, 0, len(peers))
	for _, p := range peers {
		entries, err := s.store.OutboxForPeer(p)
		if err != nil {
			continue
		}
		out = append(out, outboxPeerDepth{Peer: p, Depth: len(entries)})
	}
	jsonResponse(w, out, http.StatusOK)
}

func (s *Server) handleNotifications(w http.ResponseWriter, r *http.Request) {
	notes, err := s.store.Notifications(50)
	if err != nil {
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	jsonResponse(w, notes, http.StatusOK)
}
