// Package api assembles Paradiso and serves its HTTP API.
//
// Run wires the store, the chat transport, the conversational components and
// the housekeeping jobs, then supervises the HTTP server, the transport and
// the action dispatcher until the context ends.
package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/ssm"
	"golang.org/x/sync/errgroup"

	"github.com/BTreeMap/Paradiso/internal/bot"
	"github.com/BTreeMap/Paradiso/internal/flow"
	"github.com/BTreeMap/Paradiso/internal/genai"
	"github.com/BTreeMap/Paradiso/internal/lockfile"
	"github.com/BTreeMap/Paradiso/internal/messaging"
	"github.com/BTreeMap/Paradiso/internal/scheduler"
	"github.com/BTreeMap/Paradiso/internal/selection"
	"github.com/BTreeMap/Paradiso/internal/store"
	"github.com/BTreeMap/Paradiso/internal/twiliowhatsapp"
	"github.com/BTreeMap/Paradiso/internal/vote"
	"github.com/BTreeMap/Paradiso/internal/whatsapp"
)

// Default configuration constants
const (
	DefaultAddr          = ":8080"
	DefaultStateDir      = "/var/lib/paradiso"
	DefaultDedupSchedule = "@every 1h"
	// DefaultDedupRetention is how long inbound message ids are remembered.
	DefaultDedupRetention = 7 * 24 * time.Hour

	shutdownTimeout   = 15 * time.Second
	readHeaderTimeout = 10 * time.Second
)

// Store backends.
const (
	StoreMemory = "memory"
	StoreSQL    = "sql"
	StoreDynamo = "dynamodb"
)

// Chat transports.
const (
	TransportWhatsApp = "whatsapp"
	TransportTwilio   = "twilio"
)

// Opts holds configuration for the server and its components.
type Opts struct {
	Addr          string
	StateDir      string
	StoreKind     string
	Transport     string
	SSMPrefix     string
	VoteWait      time.Duration
	SessionTTL    time.Duration
	SweepSchedule string
	DirectReplies bool
	Describer     flow.Describer
}

// Option defines a configuration option for the API server.
type Option func(*Opts)

// WithAddr sets the HTTP listen address.
func WithAddr(addr string) Option {
	return func(o *Opts) { o.Addr = addr }
}

// WithStateDir sets the directory holding the instance lock.
func WithStateDir(dir string) Option {
	return func(o *Opts) { o.StateDir = dir }
}

// WithStore selects the store backend: memory, sql or dynamodb.
func WithStore(kind string) Option {
	return func(o *Opts) { o.StoreKind = kind }
}

// WithTransport selects the chat transport: whatsapp or twilio.
func WithTransport(kind string) Option {
	return func(o *Opts) { o.Transport = kind }
}

// WithSSMPrefix reads missing secrets from SSM Parameter Store under prefix.
func WithSSMPrefix(prefix string) Option {
	return func(o *Opts) { o.SSMPrefix = prefix }
}

// WithVoteWait bounds how long a vote waits for its increment to land.
func WithVoteWait(d time.Duration) Option {
	return func(o *Opts) { o.VoteWait = d }
}

// WithSessionTTL sets the idle lifetime of guided-add dialogues.
func WithSessionTTL(d time.Duration) Option {
	return func(o *Opts) { o.SessionTTL = d }
}

// WithSweepSchedule sets the cron expression of the idle-session sweep.
// An empty schedule disables housekeeping jobs.
func WithSweepSchedule(expr string) Option {
	return func(o *Opts) { o.SweepSchedule = expr }
}

// WithDirectReplies also confirms guided-add results to the origin chat.
func WithDirectReplies(enabled bool) Option {
	return func(o *Opts) { o.DirectReplies = enabled }
}

// WithDescriber sets the description generator for new items.
func WithDescriber(d flow.Describer) Option {
	return func(o *Opts) { o.Describer = d }
}

func newOpts(opts []Option) Opts {
	cfg := Opts{
		Addr:          DefaultAddr,
		StateDir:      DefaultStateDir,
		Transport:     TransportWhatsApp,
		SweepSchedule: scheduler.DefaultSweepSchedule,
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	return cfg
}

// Server holds the assembled components behind the HTTP API.
type Server struct {
	msgService  messaging.Service
	st          store.Store
	voter       *vote.Coordinator
	flows       *flow.Orchestrator
	selections  *selection.Controller
	respHandler *messaging.ResponseHandler
	sched       *scheduler.Scheduler
	closeOnce   sync.Once
}

// NewServer assembles the conversational components over msgService and st
// and registers the chat hooks. Close releases what it started.
func NewServer(msgService messaging.Service, st store.Store, opts ...Option) (*Server, error) {
	cfg := newOpts(opts)

	var voteOpts []vote.Option
	if cfg.VoteWait > 0 {
		voteOpts = append(voteOpts, vote.WithWaitTimeout(cfg.VoteWait))
	}
	voter := vote.NewCoordinator(st, voteOpts...)

	flowOpts := []flow.Option{flow.WithDirectReplies(cfg.DirectReplies)}
	if cfg.SessionTTL > 0 {
		flowOpts = append(flowOpts, flow.WithSessionTTL(cfg.SessionTTL))
	}
	if cfg.Describer != nil {
		flowOpts = append(flowOpts, flow.WithDescriber(cfg.Describer))
	}

	s := &Server{
		msgService:  msgService,
		st:          st,
		voter:       voter,
		flows:       flow.NewOrchestrator(msgService, st, flowOpts...),
		selections:  selection.NewController(msgService, voter),
		respHandler: messaging.NewResponseHandler(msgService),
	}
	if dedup, ok := st.(store.DedupRepo); ok {
		s.respHandler.SetDeduplicator(dedup)
	} else {
		slog.Debug("NewServer: store keeps no inbound receipts, redelivery dedup disabled")
	}
	bot.New(msgService, st, voter, s.selections, s.flows).Register(s.respHandler)

	if cfg.SweepSchedule != "" {
		s.sched = scheduler.NewScheduler()
		if err := s.scheduleHousekeeping(cfg.SweepSchedule); err != nil {
			s.Close()
			return nil, err
		}
	}
	slog.Debug("NewServer: assembled", "hooks", s.respHandler.HookNames(), "sweep", cfg.SweepSchedule)
	return s, nil
}

func (s *Server) scheduleHousekeeping(sweep string) error {
	if err := s.sched.AddSweep(sweep, "idle-sessions", s.flows, scheduler.DefaultSweepTimeout); err != nil {
		return fmt.Errorf("invalid sweep schedule %q: %w", sweep, err)
	}
	dedup, ok := s.st.(store.DedupRepo)
	if !ok {
		return nil
	}
	return s.sched.AddJob(DefaultDedupSchedule, "inbound-receipts", func() {
		ctx, cancel := context.WithTimeout(context.Background(), scheduler.DefaultSweepTimeout)
		defer cancel()
		n, err := dedup.PruneInbound(ctx, time.Now().Add(-DefaultDedupRetention))
		if err != nil {
			slog.Error("Server.pruneInbound: failed", "error", err)
			return
		}
		if n > 0 {
			slog.Info("Server.pruneInbound: removed old receipts", "count", n)
		}
	})
}

// Handler returns the HTTP routes.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", s.healthHandler)
	mux.HandleFunc("/items", s.itemsHandler)
	mux.HandleFunc("/search", s.searchHandler)
	mux.HandleFunc("/votes", s.votesHandler)
	mux.HandleFunc("/sessions", s.sessionsHandler)
	if tw, ok := s.msgService.(*messaging.TwilioService); ok {
		mux.HandleFunc("/twilio/webhook", tw.TwilioWebhookHandler)
		slog.Debug("Server.Handler: Twilio webhook mounted", "path", "/twilio/webhook")
	}
	return mux
}

// Serve runs the transport, the dispatcher and the HTTP server until ctx
// ends or one of them fails, then shuts all of them down.
func (s *Server) Serve(ctx context.Context, addr string) error {
	g, gctx := errgroup.WithContext(ctx)

	if err := s.msgService.Start(gctx); err != nil {
		return fmt.Errorf("failed to start messaging service: %w", err)
	}
	s.respHandler.Start(gctx)

	httpSrv := &http.Server{Addr: addr, Handler: s.Handler(), ReadHeaderTimeout: readHeaderTimeout}
	g.Go(func() error {
		slog.Info("Paradiso API listening", "addr", addr)
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		slog.Info("Server.Serve: shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		err := httpSrv.Shutdown(shutdownCtx)
		if stopErr := s.msgService.Stop(); stopErr != nil {
			slog.Error("Server.Serve: failed to stop messaging service", "error", stopErr)
		}
		s.respHandler.Wait()
		return err
	})
	return g.Wait()
}

// Close stops housekeeping and releases selection and session timers.
func (s *Server) Close() {
	s.closeOnce.Do(func() {
		if s.sched != nil {
			ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			if err := s.sched.Stop(ctx); err != nil {
				slog.Warn("Server.Close: scheduler did not stop cleanly", "error", err)
			}
			cancel()
		}
		s.selections.Close()
		s.flows.Close()
	})
}

// Run assembles Paradiso from options and serves until SIGINT or SIGTERM.
func Run(ctx context.Context, waOpts []whatsapp.Option, twOpts []twiliowhatsapp.Option, storeOpts []store.Option, genaiOpts []genai.Option, apiOpts []Option) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg := newOpts(apiOpts)
	lock, err := lockfile.AcquireLock(cfg.StateDir)
	if err != nil {
		return err
	}
	defer lock.Release()

	awsConfig := sync.OnceValues(func() (aws.Config, error) {
		return config.LoadDefaultConfig(ctx)
	})

	if cfg.SSMPrefix != "" {
		awsCfg, err := awsConfig()
		if err != nil {
			return fmt.Errorf("failed to load AWS config: %w", err)
		}
		secrets, err := FetchSecrets(ctx, ssm.NewFromConfig(awsCfg), cfg.SSMPrefix, missingSecrets())
		if err != nil {
			return err
		}
		twOpts, genaiOpts = applySecrets(secrets, twOpts, genaiOpts)
	}

	st, err := buildStore(ctx, cfg.StoreKind, storeOpts, awsConfig)
	if err != nil {
		return err
	}
	defer st.Close()

	msgService, closeTransport, err := buildTransport(ctx, cfg.Transport, waOpts, twOpts)
	if err != nil {
		return err
	}
	defer closeTransport()

	if cfg.Describer == nil {
		if gc, err := genai.NewClient(genaiOpts...); err != nil {
			slog.Info("Run: item descriptions disabled", "reason", err)
		} else {
			apiOpts = append(apiOpts, WithDescriber(gc))
		}
	}

	srv, err := NewServer(msgService, st, apiOpts...)
	if err != nil {
		return err
	}
	defer srv.Close()
	return srv.Serve(ctx, cfg.Addr)
}

// buildStore opens the configured backend. Without an explicit kind, a DSN
// selects the SQL store and its absence the in-memory one.
func buildStore(ctx context.Context, kind string, storeOpts []store.Option, awsConfig func() (aws.Config, error)) (store.Store, error) {
	var so store.Opts
	for _, opt := range storeOpts {
		opt(&so)
	}
	if kind == "" {
		kind = StoreMemory
		if so.DSN != "" {
			kind = StoreSQL
		}
	}
	slog.Debug("buildStore: selecting backend", "kind", kind, "dsn_set", so.DSN != "")

	switch kind {
	case StoreMemory:
		return store.NewInMemoryStore(storeOpts...), nil
	case StoreSQL:
		if store.DetectDSNType(so.DSN) == "postgres" {
			return store.NewPostgresStore(storeOpts...)
		}
		return store.NewSQLiteStore(storeOpts...)
	case StoreDynamo:
		if so.Dynamo == nil {
			awsCfg, err := awsConfig()
			if err != nil {
				return nil, fmt.Errorf("failed to load AWS config: %w", err)
			}
			storeOpts = append(storeOpts, store.WithDynamoAPI(dynamodb.NewFromConfig(awsCfg)))
		}
		return store.NewDynamoStore(storeOpts...)
	}
	return nil, fmt.Errorf("unknown store backend %q", kind)
}

func buildTransport(ctx context.Context, kind string, waOpts []whatsapp.Option, twOpts []twiliowhatsapp.Option) (messaging.Service, func(), error) {
	switch kind {
	case TransportTwilio:
		client, err := twiliowhatsapp.NewClient(twOpts...)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to create Twilio client: %w", err)
		}
		return messaging.NewTwilioService(client), func() {}, nil
	case TransportWhatsApp, "":
		client, err := whatsapp.NewClient(ctx, waOpts...)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to create WhatsApp client: %w", err)
		}
		return messaging.NewWhatsAppService(client), client.Close, nil
	}
	return nil, nil, fmt.Errorf("unknown transport %q", kind)
}
