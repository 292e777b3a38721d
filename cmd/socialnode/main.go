// socialnode is a peer-to-peer social networking node: Ed25519 identity,
// signed posts/interactions/profiles reconciled over a direct sync
// protocol, near-real-time propagation via a per-author gossip overlay, and
// Noise/Double-Ratchet direct messages — all over a single QUIC transport
// endpoint, backed by a local SQLite store.
//
// Usage:
//
//	export IDENTITY_PATH=identity.key
//	export DATABASE_URL=socialnode.db
//	export BIND_ADDR=0.0.0.0:7777
//	export DIAG_ADDR=127.0.0.1:7778
//	./socialnode
package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/klppl/socialnode/internal/config"
	"github.com/klppl/socialnode/internal/identity"
	"github.com/klppl/socialnode/internal/orchestrator"
	"github.com/klppl/socialnode/internal/store"
)

func main() {
	logLevel := slog.LevelInfo
	if os.Getenv("LOG_LEVEL") == "debug" {
		logLevel = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel,
	})))

	slog.Info("starting socialnode")

	// ─── Configuration ──────────────────────────────────────────────────────
	cfg := config.Load()
	slog.Info("config loaded", "bind_addr", cfg.BindAddr, "database", cfg.DatabasePath)

	// ─── Identity (auto-generated if missing) ──────────────────────────────
	self, err := identity.LoadOrGenerate(cfg.IdentityPath)
	if err != nil {
		slog.Error("failed to load/generate identity", "error", err)
		os.Exit(1)
	}
	slog.Info("identity ready", "pubkey", self.Pubkey)

	// ─── Database ───────────────────────────────────────────────────────────
	st, err := store.Open(cfg.DatabasePath)
	if err != nil {
		slog.Error("failed to open database", "error", err, "path", cfg.DatabasePath)
		os.Exit(1)
	}
	defer st.Close()

	if err := st.Migrate(); err != nil {
		slog.Error("database migration failed", "error", err)
		os.Exit(1)
	}

	// ─── Node (transport, gossip, sync, DM, moderation, notify) ────────────
	node, err := orchestrator.New(cfg, self, st, func(kind string, payload any) {
		slog.Debug("node event", "kind", kind)
	})
	if err != nil {
		slog.Error("failed to construct node", "error", err)
		os.Exit(1)
	}

	// ─── Graceful shutdown ──────────────────────────────────────────────────
	ctx, cancel := signal.NotifyContext(context.Background(),
		syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := node.Run(ctx); err != nil {
		slog.Error("node run error", "error", err)
		os.Exit(1)
	}

	slog.Info("socialnode stopped")
}
