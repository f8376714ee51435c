package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"settings_sync/internal/config"
	"settings_sync/internal/server"
	"settings_sync/internal/settings"
	"settings_sync/internal/transport"
	"settings_sync/internal/utils"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

func addPeerFlags(cmd *cobra.Command) {
	f := cmd.Flags()
	f.String("id", "", "peer id, random when empty")
	f.String("title", "", "descriptive title announced to other peers")
	f.String("user-agent", "", "user agent summarised into peer metadata")
	f.String("channel", "", "channel name")
	f.String("transport", "", "auto, websocket or sqlite")
	f.String("hub-url", "", "websocket hub channel endpoint")
	f.String("fallback-path", "", "sqlite file shared by peers on this host")
	f.String("settings-path", "", "TOML settings file, in memory when empty")
	f.String("conflict-strategy", "", "local-wins, remote-wins, leader-wins or timestamp-wins")
	f.String("shared-secret", "", "sign and verify every message with this secret")
	f.Duration("heartbeat-interval", 0, "heartbeat interval")
	f.Duration("peer-timeout", 0, "silence after which a peer is evicted")
}

func newRunCmd(v *viper.Viper) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Join a channel as a peer",
		Long: `Join a channel as a peer and keep the local settings in sync.

Commands are read from stdin, one per line:
  set <key> <json>   write a setting
  unset <key>        delete a setting
  get <key>          print a setting
  dump               print every setting
  peers              list known peers
  leader             print the current leader
  conflicts          list pending conflicts
  active on|off      mark this peer foreground or background
  event <kind> [json] publish a domain event
  quit               leave the channel`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(cmd, v)
			if err != nil {
				return err
			}
			id, _ := cmd.Flags().GetString("id")
			return runPeer(cmd.Context(), cmd, cfg, id)
		},
	}
	addPeerFlags(cmd)
	return cmd
}

func openStore(cfg *config.MainConfig) (*settings.MemoryStore, error) {
	if cfg.SettingsPath == "" {
		return settings.NewMemoryStore(), nil
	}
	fs, err := settings.OpenFileStore(cfg.SettingsPath)
	if err != nil {
		return nil, err
	}
	return fs.MemoryStore, nil
}

func peerMetadata(cfg *config.MainConfig) map[string]string {
	md := utils.DescribeUserAgent(cfg.UserAgent)
	if cfg.PeerTitle != "" {
		if md == nil {
			md = make(map[string]string)
		}
		md["title"] = cfg.PeerTitle
	}
	return md
}

func runPeer(parent context.Context, cmd *cobra.Command, cfg *config.MainConfig, id string) error {
	if parent == nil {
		parent = context.Background()
	}
	if id == "" {
		id = utils.NewPeerID()
	}
	logs := utils.NewManager(cfg.LogPath, cfg.LogLevel)
	defer logs.Sync()
	logger := logs.Logger(id)

	store, err := openStore(cfg)
	if err != nil {
		return err
	}
	tr, err := transport.Open(cfg, id, nil, logger)
	if err != nil {
		return fmt.Errorf("open transport: %w", err)
	}
	m, err := server.NewSyncManager(server.Options{
		Config:    cfg,
		PeerID:    id,
		Transport: tr,
		Store:     store,
		Logger:    logger,
		Metadata:  peerMetadata(cfg),
	})
	if err != nil {
		_ = tr.Shutdown()
		return err
	}
	node := server.NewNode(m, nil)
	store.OnChange(node.OnLocalChange)

	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "peer %s joined channel %s via %s\n", id, cfg.ChannelName, cfg.Transport)
	go printEvents(ctx, out, m.Events())
	go func() {
		quit, err := runConsole(ctx, cmd.InOrStdin(), out, node, store)
		if err != nil {
			logger.Warn("console stopped", zap.Error(err))
		}
		if quit {
			stop()
		}
	}()

	return node.Run(ctx)
}
