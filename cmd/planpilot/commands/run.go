package commands

import (
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/rahul/planpilot/cmd/planpilot/internal/clierr"
	"github.com/rahul/planpilot/internal/gateway"
	"github.com/rahul/planpilot/internal/plan"
	"github.com/rahul/planpilot/internal/store"
	"github.com/spf13/cobra"
)

const consoleChat = "console"

func newRunCmd() *cobra.Command {
	var mode string

	cmd := &cobra.Command{
		Use:   "run <plan-file>",
		Short: "Execute a plan file from the terminal",
		Long: `Execute a JSON or YAML plan file. Session events are printed as they
happen and operator commands (/pause, /continue, /retry, /skip, /stop,
/status, /log) are read from standard input. When input ends the session
runs until it finishes or needs the operator, and is then stopped.

Exit status is 0 when every step completed, 3 when any step failed or was
skipped, 2 for invalid input and 1 for runtime errors.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPlan(cmd, args[0], mode)
		},
	}
	cmd.Flags().StringVarP(&mode, "mode", "m", "", "execution mode: manual, auto or full-auto (default from config)")
	return cmd
}

func runPlan(cmd *cobra.Command, path, modeFlag string) error {
	p, err := plan.LoadFile(path)
	if err != nil {
		return clierr.Usage("cannot load plan", err)
	}
	if err := p.Validate(); err != nil {
		return clierr.Usage("invalid plan", err)
	}

	a, err := loadApp(cmd, stderr())
	if err != nil {
		return err
	}
	defer a.Close()

	mode, err := a.defaultMode(modeFlag)
	if err != nil {
		return err
	}
	runner, err := a.runner(p.ProjectID)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	out := cmd.OutOrStdout()
	console := gateway.NewConsoleGateway(cmd.InOrStdin(), out, consoleChat, nil)
	opts := []gateway.DispatcherOption{
		gateway.WithNotifier(console),
		gateway.WithListeners(a.logger),
		gateway.WithSessionLog(a.logSink()),
		gateway.WithCommandLogger(a.logger),
		gateway.WithDefaultMode(mode),
		gateway.WithSessionAutoDelay(a.cfg.AutoDelay()),
	}
	if a.store != nil {
		if err := a.store.SavePlan(p); err != nil {
			return fmt.Errorf("save plan: %w", err)
		}
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
	console.Handler = d

	if err := d.SetPlan(consoleChat, p); err != nil {
		return err
	}
	fmt.Fprintln(out, gateway.RenderPlan(p))
	reply, err := d.Handle(ctx, consoleChat, "/start "+string(mode))
	if err != nil {
		return err
	}
	fmt.Fprintln(out, reply)

	drv := d.Driver(consoleChat)
	input := make(chan error, 1)
	go func() { input <- console.Start() }()

	select {
	case <-drv.Done():
	case <-ctx.Done():
		_ = drv.Stop()
	case err := <-input:
		if err != nil {
			log.Printf("Warning: reading commands: %v", err)
		}
		snap, _ := drv.WaitFor(ctx, plan.Settled)
		if !snap.State.Terminal() {
			_ = drv.Stop()
		}
	}
	<-drv.Done()
	_ = console.Stop()

	return summarize(out, drv.Snapshot())
}

func summarize(out io.Writer, snap plan.Snapshot) error {
	pr := snap.Progress()
	fmt.Fprintf(out, "\n%s\n%s\n", gateway.RenderSteps(snap.Steps, -1), pr)

	switch {
	case snap.State == plan.StateStopped:
		return clierr.Newf(clierr.ExitRuntime, "session stopped: %s", pr)
	case pr.Failed > 0 || pr.Skipped > 0:
		return clierr.Newf(clierr.ExitStepsFailed, "plan finished with %d failed and %d skipped steps", pr.Failed, pr.Skipped)
	}
	return nil
}
