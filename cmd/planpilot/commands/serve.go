package commands

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rahul/planpilot/cmd/planpilot/internal/clierr"
	"github.com/rahul/planpilot/internal/gateway"
	"github.com/rahul/planpilot/internal/observability"
	"github.com/rahul/planpilot/internal/plan"
	"github.com/rahul/planpilot/internal/store"
	"github.com/spf13/cobra"
)

// chatGateway is a messenger whose inbound handler is set after construction.
type chatGateway struct {
	name      string
	messenger gateway.Messenger
	bind      func(gateway.Handler)
}

func newServeCmd() *cobra.Command {
	var noDashboard bool

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve plan sessions over the configured chat gateways",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return serve(cmd, noDashboard)
		},
	}
	cmd.Flags().BoolVar(&noDashboard, "no-dashboard", false, "disable the live terminal status line")
	return cmd
}

func serve(cmd *cobra.Command, noDashboard bool) error {
	dashboard := !noDashboard && observability.IsInteractive()
	logOut := stderr()
	if dashboard {
		observability.PrintBanner()
		observability.InitializeTerminal()
		// Route all log output through the terminal mutex so it never
		// interrupts the dashboard's cursor save/restore sequence.
		log.SetOutput(observability.NewTermWriter())
		logOut = observability.NewTermWriter()
	}

	a, err := loadApp(cmd, logOut)
	if err != nil {
		return err
	}
	defer a.Close()

	gateways, err := openGateways(a)
	if err != nil {
		return err
	}

	runner, err := a.runner("")
	if err != nil {
		return err
	}
	planner, err := a.planner()
	if err != nil {
		return err
	}
	mode, err := a.defaultMode("")
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	status := observability.NewStatusTracker()
	var dispatchers []*gateway.Dispatcher
	for _, gw := range gateways {
		opts := []gateway.DispatcherOption{
			gateway.WithPlanner(planner),
			gateway.WithNotifier(gw.messenger),
			gateway.WithListeners(a.logger, status),
			gateway.WithSessionLog(a.logSink()),
			gateway.WithCommandLogger(a.logger),
			gateway.WithDefaultMode(mode),
			gateway.WithSessionAutoDelay(a.cfg.AutoDelay()),
		}
		if a.store != nil {
			opts = append(opts,
				gateway.WithPlanStore(a.store),
				gateway.WithSessionArchive(a.store),
				gateway.WithChatListener(func(chatID string) plan.Listener { return store.NewRecorder(a.store, chatID) }),
			)
		}
		d, err := gateway.NewDispatcher(ctx, runner, opts...)
		if err != nil {
			return err
		}
		gw.bind(d)
		dispatchers = append(dispatchers, d)
	}

	if dashboard {
		go tick(ctx, time.Second, observability.PrintLiveStatus)
	}
	go tick(ctx, 30*time.Second, func() {
		observability.Heartbeat()
		a.logger.LogHeartbeat()
	})

	for _, gw := range gateways {
		gw := gw
		go func() {
			if err := gw.messenger.Start(); err != nil {
				log.Printf("\033[91m[ FAIL ] %s GATEWAY ERROR: %v\033[0m", gw.name, err)
				stop()
			}
		}()
	}

	<-ctx.Done()

	// Drivers deliver their final events to the store before it is closed.
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	for _, d := range dispatchers {
		if err := d.Shutdown(shutdownCtx); err != nil {
			log.Printf("Warning: %v", err)
		}
	}
	for _, gw := range gateways {
		if err := gw.messenger.Stop(); err != nil {
			log.Printf("Warning: stopping %s: %v", gw.name, err)
		}
	}
	if dashboard {
		observability.CleanupTerminal()
	}
	log.Println("planpilot stopped")
	return nil
}

func openGateways(a *app) ([]chatGateway, error) {
	var out []chatGateway
	if tgCfg, ok := a.cfg.GetTelegramConfig(); ok {
		tg, err := gateway.NewTelegramGateway(tgCfg.Token, nil)
		if err != nil {
			return nil, err
		}
		out = append(out, chatGateway{name: "TELEGRAM", messenger: tg, bind: func(h gateway.Handler) { tg.Handler = h }})
	}
	if dcCfg, ok := a.cfg.GetDiscordConfig(); ok {
		dc, err := gateway.NewDiscordGateway(dcCfg.Token, dcCfg.Channel, nil)
		if err != nil {
			return nil, err
		}
		out = append(out, chatGateway{name: "DISCORD", messenger: dc, bind: func(h gateway.Handler) { dc.Handler = h }})
	}
	if len(out) == 0 {
		return nil, clierr.New(clierr.ExitUsage, "no gateway is enabled; configure gateways.telegram or gateways.discord")
	}
	return out, nil
}

func tick(ctx context.Context, every time.Duration, fn func()) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			fn()
		}
	}
}
