// Package config loads node configuration from environment variables.
package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all runtime configuration for a socialnode instance.
type Config struct {
	IdentityPath string // IDENTITY_PATH — Ed25519 seed file (generated if missing)
	DatabasePath string // DATABASE_URL — SQLite file path
	BindAddr     string // BIND_ADDR — UDP address the transport endpoint listens on
	DiagAddr     string // DIAG_ADDR — optional read-only diagnostics HTTP listener; disabled if empty

	// Sync tunables.
	SyncTimeout          time.Duration // per-attempt sync timeout, default 30s
	SyncRetryAttempts    int           // startup sync retry attempts, default 3
	SyncRetryBaseDelay   time.Duration // linear backoff base, default 5s
	StartupConcurrency   int           // bounded concurrency for startup sync, default 5
	PeerReadinessPause   time.Duration // pause before startup sync begins, default 5s
	DripSyncPeerPace     time.Duration // pace between peers in drip sync, default 5s
	DripSyncActiveRound  time.Duration // round cadence when work was done, default 30s
	DripSyncIdleRound    time.Duration // round cadence when no work was done, default 120s
	SyncBatchSize        int           // post/interaction page size, default 200
	SyncMaxFrameBytes    int           // default 10MB
	SyncMaxKnownIDsBytes int           // default 5MB

	// DM tunables. Only DMOutboxInterval is consulted; internal/dm uses its
	// own constants for the connect timeout, ack timeout, frame cap and MaxSkip.
	DMConnectTimeout time.Duration // default 10s
	DMAckTimeout     time.Duration // default 5s
	DMOutboxInterval time.Duration // outbox flush pace, default 15s
	DMMaxFrameBytes  int           // default 1MiB
	DMMaxSkip        int           // default 100

	// Bounds. These are loaded but not consulted; gossip and sync validate
	// against wire.DefaultBounds, and nothing checks MaxBlobBytes.
	MaxPostContentBytes int           // default 10000
	MaxMediaPerPost     int           // default 10
	MaxFutureDrift      time.Duration // default 5m
	MaxBlobBytes        int64         // default 50MiB (blob transfer is out of scope)
}

// Load reads configuration from environment variables, falling back to
// sensible production defaults for any tunable left unset.
func Load() *Config {
	return &Config{
		IdentityPath: getEnv("IDENTITY_PATH", "identity.key"),
		DatabasePath: getEnv("DATABASE_URL", "socialnode.db"),
		BindAddr:     getEnv("BIND_ADDR", "0.0.0.0:0"),
		DiagAddr:     os.Getenv("DIAG_ADDR"),

		SyncTimeout:          parseDuration(os.Getenv("SYNC_TIMEOUT"), 30*time.Second),
		SyncRetryAttempts:    parseInt(os.Getenv("SYNC_RETRY_ATTEMPTS"), 3),
		SyncRetryBaseDelay:   parseDuration(os.Getenv("SYNC_RETRY_BASE_DELAY"), 5*time.Second),
		StartupConcurrency:   parseInt(os.Getenv("SYNC_STARTUP_CONCURRENCY"), 5),
		PeerReadinessPause:   parseDuration(os.Getenv("SYNC_PEER_READINESS_PAUSE"), 5*time.Second),
		DripSyncPeerPace:     parseDuration(os.Getenv("DRIP_SYNC_PEER_PACE"), 5*time.Second),
		DripSyncActiveRound:  parseDuration(os.Getenv("DRIP_SYNC_ACTIVE_ROUND"), 30*time.Second),
		DripSyncIdleRound:    parseDuration(os.Getenv("DRIP_SYNC_IDLE_ROUND"), 120*time.Second),
		SyncBatchSize:        parseInt(os.Getenv("SYNC_BATCH_SIZE"), 200),
		SyncMaxFrameBytes:    parseInt(os.Getenv("SYNC_MAX_FRAME_BYTES"), 10*1024*1024),
		SyncMaxKnownIDsBytes: parseInt(os.Getenv("SYNC_MAX_KNOWN_IDS_BYTES"), 5*1024*1024),

		DMConnectTimeout: parseDuration(os.Getenv("DM_CONNECT_TIMEOUT"), 10*time.Second),
		DMAckTimeout:     parseDuration(os.Getenv("DM_ACK_TIMEOUT"), 5*time.Second),
		DMOutboxInterval: parseDuration(os.Getenv("DM_OUTBOX_INTERVAL"), 15*time.Second),
		DMMaxFrameBytes:  parseInt(os.Getenv("DM_MAX_FRAME_BYTES"), 1024*1024),
		DMMaxSkip:        parseInt(os.Getenv("DM_MAX_SKIP"), 100),

		MaxPostContentBytes: parseInt(os.Getenv("MAX_POST_CONTENT_BYTES"), 10000),
		MaxMediaPerPost:     parseInt(os.Getenv("MAX_MEDIA_PER_POST"), 10),
		MaxFutureDrift:      parseDuration(os.Getenv("MAX_FUTURE_DRIFT"), 5*time.Minute),
		MaxBlobBytes:        int64(parseInt(os.Getenv("MAX_BLOB_BYTES"), 50*1024*1024)),
	}
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func parseDuration(s string, fallback time.Duration) time.Duration {
	if s == "" {
		return fallback
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return fallback
	}
	return d
}

func parseInt(s string, fallback int) int {
	if s == "" {
		return fallback
	}
	i, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil {
		return fallback
	}
	return i
}
