package main

import (
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/nzlov/carewire/internal/app"
	"github.com/nzlov/carewire/internal/notify"
	"github.com/nzlov/carewire/internal/signaling"
	"github.com/nzlov/carewire/internal/transport"
)

func buildListenCmd(configPath *string) *cobra.Command {
	var bell bool
	cmd := &cobra.Command{
		Use:   "listen",
		Short: "Stay connected and print calls and notifications",
		Long: `Connect the signaling and pub/sub sockets, install the default
reminders and print every incoming call event and notification until
interrupted.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runListen(cmd, *configPath, bell)
		},
	}
	cmd.Flags().BoolVar(&bell, "bell", true, "Ring the terminal bell on notifications")
	return cmd
}

func runListen(cmd *cobra.Command, configPath string, bell bool) error {
	cfg, log, restore, err := setup(configPath)
	if err != nil {
		return err
	}
	defer restore()

	out := cmd.OutOrStdout()
	deps := app.Deps{Logger: log}
	if bell {
		deps.Sound = &notify.BellPlayer{W: os.Stdout}
	}
	svc, err := app.New(cfg, deps)
	if err != nil {
		return err
	}
	defer svc.Close()

	printEvents(out, svc)

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := svc.Start(ctx); err != nil {
		return err
	}
	fmt.Fprintf(out, "listening as %s (%s)\n", cfg.Identity.UserID, cfg.Identity.Role)
	<-ctx.Done()
	return nil
}

func printEvents(out io.Writer, svc *app.Services) {
	sig := svc.Signaling
	sig.OnStatus(func(s transport.Status) { fmt.Fprintf(out, "signaling: %s\n", s) })
	sig.OnOffer(func(e signaling.OfferEvent) {
		fmt.Fprintf(out, "incoming %s call from %s\n", e.CallType, e.UserID)
	})
	sig.OnHangup(func(e signaling.HangupEvent) { fmt.Fprintf(out, "%s hung up %s\n", e.UserID, e.Reason) })
	sig.OnReject(func(e signaling.RejectEvent) { fmt.Fprintf(out, "%s rejected %s\n", e.UserID, e.Reason) })
	sig.OnReconnect(func(e signaling.ReconnectEvent) { fmt.Fprintf(out, "%s asks to reconnect\n", e.UserID) })

	svc.PubSub.AddConnectionHandler(func(up bool) { fmt.Fprintf(out, "pubsub connected: %v\n", up) })
	svc.Notifications.AddHandler(func(n notify.Notification) {
		fmt.Fprintf(out, "[%s] %s: %s\n", n.Kind, n.Title, n.Body)
	})
}
