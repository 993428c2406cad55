// Package app wires configuration, channels, the reconciliation engine, the
// lifecycle controller and the local API into one runnable agent.
package app

import (
	"context"
	"fmt"
	stdhttp "net/http"
	"time"

	"github.com/rs/zerolog"

	"notetalk/internal/call"
	"notetalk/internal/channel"
	"notetalk/internal/channel/sfu"
	"notetalk/internal/config"
	"notetalk/internal/dialog"
	"notetalk/internal/media"
	"notetalk/internal/presence"
	"notetalk/internal/token"
	transporthttp "notetalk/internal/transport/http"
)

// App owns the agent's long-lived pieces.
type App struct {
	cfg config.Config
	log *zerolog.Logger

	store      *presence.Store
	engine     *presence.Engine
	controller *call.Controller
	bus        channel.Presence
	prompts    *dialog.Broker
	events     *transporthttp.EventHub
	server     *stdhttp.Server
}

// New constructs the application with provided configuration.
func New(cfg config.Config, logger *zerolog.Logger) (*App, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}

	var tokens token.Provider
	if cfg.APISecret != "" {
		tokens = token.NewLocalProvider(cfg.APIKey, cfg.APISecret, cfg.Username)
		logger.Info().Msg("minting access tokens locally")
	} else {
		tokens = token.NewHTTPProvider(cfg.TokenURL, cfg.APIKey)
		logger.Info().Str("token_url", cfg.TokenURL).Msg("fetching access tokens from issuer")
	}

	factory := sfu.NewFactory(cfg.SignalingURL, cfg.ChannelIDPrefix, cfg.ChannelIDSuffix, tokens, logger)
	bus := factory.Presence()

	store := presence.NewStore(cfg.Username)
	engine := presence.NewEngine(store, bus, logger)
	prompts := dialog.NewBroker()
	events := transporthttp.NewEventHub()

	notify := func(n call.Notice) {
		logger.Info().Str("kind", n.Kind).Msg(n.Message)
		events.Publish(transporthttp.Event{Type: "notice", Notice: &n})
	}

	controller := call.NewController(
		store,
		engine,
		factory.Room(),
		media.StaticProvider{},
		prompts,
		notify,
		cfg.ShareCurrentTabOnly,
		logger,
	)

	server := transporthttp.NewServer(cfg, store, controller, prompts, events, logger)

	return &App{
		cfg:        cfg,
		log:        logger,
		store:      store,
		engine:     engine,
		controller: controller,
		bus:        bus,
		prompts:    prompts,
		events:     events,
		server:     server,
	}, nil
}

// Run connects the presence channel, starts the engine and the local API,
// and blocks until context cancellation or a fatal server error.
func (a *App) Run(ctx context.Context) error {
	a.engine.Start(ctx)
	a.controller.Start(ctx)

	waitingID, err := a.bus.Connect(ctx, channel.PresenceHandlers{
		OnPeerJoined: a.engine.HandlePeerJoined,
		OnPeerLeft:   a.engine.HandlePeerLeft,
		OnMessage:    a.engine.HandlePresenceMessage,
	})
	if err != nil {
		return fmt.Errorf("connect presence channel: %w", err)
	}
	a.log.Info().Str("waiting_client_id", waitingID).Msg("connected to presence channel")
	a.store.SetOwnWaitingID(waitingID)

	// Announce ourselves; everyone replies with their own contact.
	a.engine.SendContact(true)

	a.pumpEvents(ctx)

	serverErr := make(chan error, 1)
	go func() {
		a.log.Info().Str("addr", a.cfg.Addr).Msg("local api listening")
		if err := a.server.ListenAndServe(); err != nil && err != stdhttp.ErrServerClosed {
			serverErr <- err
			return
		}
		serverErr <- nil
	}()

	select {
	case err := <-serverErr:
		a.cleanup()
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), a.cfg.ShutdownTimeout)
		defer cancel()

		a.log.Info().Msg("shutting down local api")
		if err := a.server.Shutdown(shutdownCtx); err != nil {
			a.cleanup()
			return err
		}
		a.cleanup()
		return <-serverErr
	}
}

// pumpEvents forwards store and prompt pulses to API event subscribers.
func (a *App) pumpEvents(ctx context.Context) {
	stateCh, cancelState := a.store.Subscribe()
	promptCh, cancelPrompts := a.prompts.Subscribe()
	go func() {
		defer cancelState()
		defer cancelPrompts()
		for {
			select {
			case <-ctx.Done():
				return
			case <-stateCh:
				a.events.Publish(transporthttp.Event{Type: "state"})
			case <-promptCh:
				a.events.Publish(transporthttp.Event{Type: "prompts"})
			}
		}
	}()
}

// cleanup tears down the call and the presence connection.
func (a *App) cleanup() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	a.controller.Shutdown(ctx)
	if err := a.bus.Close(ctx); err != nil {
		a.log.Warn().Err(err).Msg("failed to close presence channel")
	} else {
		a.log.Info().Msg("presence channel closed")
	}
}
