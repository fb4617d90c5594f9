package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/iot-for-tillgenglighet/iot-dashboard/internal/pkg/application"
	"github.com/iot-for-tillgenglighet/iot-dashboard/internal/pkg/application/alerts"
	"github.com/iot-for-tillgenglighet/iot-dashboard/internal/pkg/application/auth"
	"github.com/iot-for-tillgenglighet/iot-dashboard/internal/pkg/application/dashboard"
	"github.com/iot-for-tillgenglighet/iot-dashboard/internal/pkg/application/relay"
	"github.com/iot-for-tillgenglighet/iot-dashboard/internal/pkg/application/reports"
	"github.com/iot-for-tillgenglighet/iot-dashboard/internal/pkg/domain"
	"github.com/iot-for-tillgenglighet/iot-dashboard/internal/pkg/infrastructure/backend"
	"github.com/iot-for-tillgenglighet/iot-dashboard/internal/pkg/infrastructure/config"
	"github.com/iot-for-tillgenglighet/iot-dashboard/internal/pkg/infrastructure/logging"
	"github.com/iot-for-tillgenglighet/iot-dashboard/internal/pkg/infrastructure/repositories/database"
	"github.com/iot-for-tillgenglighet/messaging-golang/pkg/messaging"
	"github.com/spf13/cobra"
)

const serviceName = "iot-dashboard"

func main() {
	if err := newRootCommand().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	var configFile string

	root := &cobra.Command{
		Use:          serviceName,
		Short:        "Dashboard service for the IoT platform",
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVar(&configFile, "config", "", "optional config file (yaml, json or toml)")

	root.AddCommand(
		newServeCommand(&configFile),
		newWatchCommand(&configFile),
		newReportCommand(&configFile),
	)

	return root
}

type app struct {
	cfg      *config.Config
	log      logging.Logger
	session  *auth.Session
	client   *backend.Client
	alerts   *alerts.Center
	registry *dashboard.Registry
	closers  []func()
}

func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
}

func newApp(configFile string, withMessaging bool) (*app, error) {
	cfg, err := config.LoadConfiguration(serviceName, configFile)
	if err != nil {
		return nil, err
	}

	log := logging.NewLoggerWithLevel(cfg.Log.Level)
	log.Infof("Starting up %s ...", serviceName)

	connector, err := database.NewConnector(cfg.Session.Driver, cfg.Session.DSN, log)
	if err != nil {
		return nil, err
	}

	db, err := database.NewDatabaseConnection(connector, log)
	if err != nil {
		return nil, fmt.Errorf("failed to open session store: %w", err)
	}

	session := auth.NewSession(serviceName, db, log)
	if err := session.Restore(); err != nil {
		log.Warnf("continuing signed out: %s", err.Error())
	}

	a := &app{
		cfg:     cfg,
		log:     log,
		session: session,
		client:  backend.NewClient(cfg.Backend.URL, cfg.Backend.Timeout, session, log),
		alerts:  alerts.NewCenter(50, log),
	}

	var decorate dashboard.SinkDecorator
	if withMessaging && cfg.Messaging.Enabled {
		messenger, err := messaging.Initialize(messaging.LoadConfiguration(serviceName))
		if err != nil {
			return nil, fmt.Errorf("failed to connect to the message bus: %w", err)
		}
		a.closers = append(a.closers, func() { messenger.Close() })
		decorate = relay.Decorator(messenger, log)
	}

	a.registry = dashboard.NewRegistry(a.client, a.alerts, cfg.Live, decorate, log)
	a.closers = append(a.closers, a.registry.Close)

	return a, nil
}

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

func newServeCommand(configFile *string) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Serve the dashboard API and live feed to browsers",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(*configFile, true)
			if err != nil {
				return err
			}
			defer a.Close()

			ctx, stop := signalContext()
			defer stop()

			router := application.NewRouter(a.log, a.cfg.Service.CORSOrigins, a.registry, a.session, a.client, a.alerts)
			return application.CreateRouterAndStartServing(ctx, a.cfg.Service.Port, router, a.log)
		},
	}
}

//signIn uses identity and password when given and otherwise relies on a restored session
func signIn(ctx context.Context, a *app, identity, password string) error {
	if identity != "" {
		return a.session.Login(ctx, a.client, identity, password)
	}
	if !a.session.SignedIn() {
		return fmt.Errorf("%w: pass --identity and --password", auth.ErrSignedOut)
	}
	return nil
}

func formatValue(w domain.Widget) string {
	if w.RealTimeValue == nil {
		return "-"
	}

	value := fmt.Sprintf("%g", *w.RealTimeValue)
	if w.Unit != nil {
		value += " " + *w.Unit
	}
	return value
}

func newWatchCommand(configFile *string) *cobra.Command {
	var org, identity, password string

	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Log the widgets of an organization as live values arrive",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(*configFile, false)
			if err != nil {
				return err
			}
			defer a.Close()

			ctx, stop := signalContext()
			defer stop()

			if err := signIn(ctx, a, identity, password); err != nil {
				return err
			}

			board, err := a.registry.Mount(ctx, org)
			if err != nil {
				return err
			}

			for _, w := range board.Widgets() {
				a.log.Infof("widget %s %q on %s/%s: %s", w.ID, w.Name, w.DeviceName, w.Pin, formatValue(w))
			}

			remove := board.Listen(func(w domain.Widget) {
				a.log.Infof("%q on %s/%s: %s", w.Name, w.DeviceName, w.Pin, formatValue(w))
			})
			defer remove()

			<-ctx.Done()
			return nil
		},
	}

	cmd.Flags().StringVar(&org, "org", "", "organization id")
	cmd.Flags().StringVar(&identity, "identity", "", "username or email to sign in with")
	cmd.Flags().StringVar(&password, "password", "", "password to sign in with")
	cmd.MarkFlagRequired("org")

	return cmd
}

func newReportCommand(configFile *string) *cobra.Command {
	var org, device, pin, out, identity, password string
	var since time.Duration

	cmd := &cobra.Command{
		Use:   "report",
		Short: "Fetch the stored values of a device pin, optionally as a PNG chart",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(*configFile, false)
			if err != nil {
				return err
			}
			defer a.Close()

			ctx, stop := signalContext()
			defer stop()

			if err := signIn(ctx, a, identity, password); err != nil {
				return err
			}

			now := time.Now().UTC()
			query := domain.LastHour(pin, now)
			if since != time.Hour {
				start := now.Add(-since)
				query.Start = &start
			}

			points, err := a.client.Report(ctx, org, device, query)
			if err != nil {
				return fmt.Errorf("%s: %w", backend.UserMessage(err, "Fetching the report failed."), err)
			}

			if out == "" {
				for _, p := range points {
					fmt.Fprintf(cmd.OutOrStdout(), "%s\t%g\n", p.Time.Format(time.RFC3339), float64(p.Value))
				}
				return nil
			}

			f, err := os.Create(out)
			if err != nil {
				return err
			}
			defer f.Close()

			return reports.RenderPNG(f, device+" "+pin, "", points)
		},
	}

	cmd.Flags().StringVar(&org, "org", "", "organization id")
	cmd.Flags().StringVar(&device, "device", "", "device id")
	cmd.Flags().StringVar(&pin, "pin", "", "pin, e.g. V1")
	cmd.Flags().DurationVar(&since, "since", time.Hour, "how far back to fetch")
	cmd.Flags().StringVar(&out, "out", "", "write a PNG chart to this file instead of printing values")
	cmd.Flags().StringVar(&identity, "identity", "", "username or email to sign in with")
	cmd.Flags().StringVar(&password, "password", "", "password to sign in with")
	cmd.MarkFlagRequired("org")
	cmd.MarkFlagRequired("device")
	cmd.MarkFlagRequired("pin")

	return cmd
}
