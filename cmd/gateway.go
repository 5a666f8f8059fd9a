package cmd

import (
	"context"
	"log/slog"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/jesspig/micro-agent/internal/bus"
	"github.com/jesspig/micro-agent/internal/channels"
	"github.com/jesspig/micro-agent/internal/channels/console"
	"github.com/jesspig/micro-agent/internal/telemetry"
)

var gatewayCmd = &cobra.Command{
	Use:   "gateway",
	Short: "Run the assistant runtime",
	Long: `Starts the full runtime: channels feed the message bus, one executor
drains it, and background workers handle summarization and embedding
migration. Stops cleanly on SIGINT/SIGTERM.`,
	RunE: runGateway,
}

func init() {
	rootCmd.AddCommand(gatewayCmd)
}

func runGateway(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTelemetry, err := telemetry.Setup(ctx, cfg.Telemetry)
	if err != nil {
		return err
	}

	rt, err := buildRuntime(cfg)
	if err != nil {
		return err
	}

	rt.mcp.Start(ctx)
	if cfg.Skills.HotReload {
		go func() {
			if err := rt.skills.Watch(ctx); err != nil {
				slog.Warn("skills watch failed", "error", err)
			}
		}()
	}
	rt.startMigration(ctx)
	if rt.summarize != nil {
		go rt.summarize.Run(ctx)
	}

	chanMgr := channels.NewManager(rt.bus, cfg.Channels.RateLimitPerSec)
	if cfg.Channels.Console.Enabled {
		chanMgr.Register(console.New(rt.bus))
	}
	chanMgr.StartAll(ctx)
	go chanMgr.Dispatch(ctx)

	go consumeLoop(ctx, rt)

	slog.Info("gateway running", "workspace", cfg.WorkspacePath())
	<-ctx.Done()

	slog.Info("shutting down")
	chanMgr.StopAll()
	rt.shutdown()

	flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := shutdownTelemetry(flushCtx); err != nil {
		slog.Warn("telemetry shutdown failed", "error", err)
	}
	return nil
}

// consumeLoop drains inbound messages one at a time. Processing is serial,
// so turn N+1 of a session never starts before turn N finished.
func consumeLoop(ctx context.Context, rt *runtime) {
	for {
		msg, ok := rt.bus.ConsumeInbound(ctx)
		if !ok {
			return
		}
		reply := rt.executor.Run(ctx, msg)
		rt.bus.PublishOutbound(bus.OutboundMessage{
			Channel: msg.Channel,
			ChatID:  msg.ChatID,
			Content: reply,
		})
	}
}
