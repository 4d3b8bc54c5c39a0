package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/jonboulle/clockwork"
	"github.com/spf13/cobra"

	"github.com/BioHazard786/Lockstep/internal/config"
	"github.com/BioHazard786/Lockstep/internal/observer"
	"github.com/BioHazard786/Lockstep/internal/player"
	"github.com/BioHazard786/Lockstep/internal/session"
	"github.com/BioHazard786/Lockstep/internal/signaling"
	"github.com/BioHazard786/Lockstep/internal/ui"
	"github.com/BioHazard786/Lockstep/internal/webrtc"
)

var (
	flagWatchServer   string
	flagWatchSTUN     string
	flagWatchTURN     string
	flagWatchTURNUser string
	flagWatchTURNPass string
	flagWatchRelay    bool
	flagWatchObserver string
)

var watchCmd = &cobra.Command{
	Use:     "watch [peer-id]",
	Aliases: []string{"w"},
	Short:   "Join the rendezvous server and watch in lock-step with a peer",
	Long: `Connect to the rendezvous server, show your id and wait for a peer.

Give a peer id to connect to it right away and become the master, or share
your id and let the other side connect to you.

Examples:
  lockstep watch
  lockstep watch brave-lynx-taco
  lockstep watch --server wss://lockstep.example.com/ws --observer 127.0.0.1:3001`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var peerID string
		if len(args) == 1 {
			peerID = args[0]
		}
		return watch(cmd.Context(), peerID)
	},
}

// watchContext bundles the components of one watch client.
type watchContext struct {
	Config     *config.Config
	Client     *signaling.Client
	Handler    *signaling.Handler
	Negotiator *session.Negotiator
	Registry   *observer.Registry
	Player     *player.Virtual
	logger     *slog.Logger
}

func newWatchContext(cfg *config.Config, logger *slog.Logger) *watchContext {
	clock := clockwork.NewRealClock()
	media := player.NewVirtual(clock)
	registry := observer.NewRegistry(logger.With("component", "observer"))

	client := signaling.NewClient(cfg.ServerURL,
		signaling.WithClock(clock),
		signaling.WithRetryDelay(cfg.RetryDelay),
		signaling.WithLogger(logger.With("component", "signaling")),
	)

	negotiator := session.New(session.Options{
		Factory:          webrtc.NewPionFactory(cfg, logger.With("component", "webrtc")),
		Signaler:         client,
		Player:           media,
		Notifier:         registry,
		Clock:            clock,
		Logger:           logger.With("component", "session"),
		PingInterval:     cfg.PingInterval,
		StartDelay:       cfg.StartDelay,
		OffsetEstimation: cfg.OffsetEstimation,
	})

	return &watchContext{
		Config:     cfg,
		Client:     client,
		Handler:    signaling.NewHandler(client, negotiator, logger.With("component", "signaling")),
		Negotiator: negotiator,
		Registry:   registry,
		Player:     media,
		logger:     logger,
	}
}

// start runs the rendezvous client, the dispatcher and the optional observer
// endpoint until ctx is cancelled.
func (w *watchContext) start(ctx context.Context) {
	go func() {
		if err := w.Client.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			w.logger.Error("rendezvous client stopped", "error", err)
		}
	}()
	go w.Handler.Start()

	if w.Config.ObserverAddr != "" {
		ep := observer.NewEndpoint(w.Registry, observer.NewCommandHandler(w.Negotiator), w.logger.With("component", "observer"))
		go func() {
			if err := observer.Serve(ctx, w.Config.ObserverAddr, ep); err != nil {
				w.logger.Error("observer endpoint stopped", "error", err)
			}
		}()
	}
}

// waitForID blocks until the rendezvous server assigned an id.
func (w *watchContext) waitForID(ctx context.Context) (string, error) {
	ready := make(chan string, 1)
	remove := w.Registry.Add(observer.Func(func(e observer.Event) error {
		if e.Type == observer.EventClientID {
			select {
			case ready <- e.ID:
			default:
			}
		}
		return nil
	}))
	defer remove()

	select {
	case id := <-ready:
		return id, nil
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

func watch(ctx context.Context, peerID string) error {
	cfg, err := loadConfig(config.Options{
		ServerURL:    flagWatchServer,
		STUNServer:   flagWatchSTUN,
		TURNServer:   flagWatchTURN,
		TURNUser:     flagWatchTURNUser,
		TURNPass:     flagWatchTURNPass,
		ForceRelay:   flagWatchRelay,
		ObserverAddr: flagWatchObserver,
	})
	if err != nil {
		return err
	}

	// The terminal UI owns the screen, so logs go to a file.
	if cfg.LogFile == "" {
		cfg.LogFile = filepath.Join(os.TempDir(), "lockstep.log")
	}
	closeLog, err := initLogging(cfg, "info")
	if err != nil {
		return err
	}
	defer closeLog()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	w := newWatchContext(cfg, slog.Default())
	w.start(ctx)

	fmt.Println()
	sp := ui.NewConnectionSpinner(fmt.Sprintf("Connecting to %s...", cfg.ServerURL))
	sp.Start()
	id, err := w.waitForID(ctx)
	if err != nil {
		sp.Error("Cancelled before the rendezvous server answered")
		return nil
	}
	sp.Success(fmt.Sprintf("Connected to rendezvous server as %s", ui.SelfStyle.Render(id)))
	ui.PrintInfof("Logs are written to %s", cfg.LogFile)

	model := ui.NewWatchModel(w.Negotiator, w.Player)
	if peerID != "" {
		model.Connect(peerID)
	}
	remove := w.Registry.Add(model)
	runErr := model.Run(ctx)
	remove()

	w.Negotiator.Close()
	cancel()

	ui.RenderSessionReport(w.Negotiator.Summaries())
	return runErr
}

func init() {
	rootCmd.AddCommand(watchCmd)

	watchCmd.Flags().StringVar(&flagWatchServer, "server", "", "Rendezvous server URL (default \"ws://localhost:3000/ws\")")
	watchCmd.Flags().StringVarP(&flagWatchSTUN, "stun", "s", "", "Custom STUN server")
	watchCmd.Flags().StringVarP(&flagWatchTURN, "turn", "t", "", "Custom TURN server")
	watchCmd.Flags().StringVar(&flagWatchTURNUser, "turn-user", "", "TURN username")
	watchCmd.Flags().StringVar(&flagWatchTURNPass, "turn-pass", "", "TURN password")
	watchCmd.Flags().BoolVarP(&flagWatchRelay, "relay", "r", false, "Force relay mode")
	watchCmd.Flags().StringVarP(&flagWatchObserver, "observer", "o", "", "Serve the local observer WebSocket on this address")
}
