package cli

import (
	"context"
	"errors"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/soyeahso/dialtask/internal/audio"
	"github.com/soyeahso/dialtask/internal/call"
	"github.com/soyeahso/dialtask/internal/calllog"
	"github.com/soyeahso/dialtask/internal/config"
	"github.com/soyeahso/dialtask/internal/gateway"
	"github.com/soyeahso/dialtask/internal/hooks"
	"github.com/soyeahso/dialtask/internal/store"
	"github.com/soyeahso/dialtask/internal/tasks"
	"github.com/soyeahso/dialtask/internal/tools"
	"github.com/soyeahso/dialtask/internal/twilio"
	"github.com/spf13/cobra"
	twilioclient "github.com/twilio/twilio-go/client"
)

func newServeCmd() *cobra.Command {
	var (
		port int
		bind string
	)

	cmd := &cobra.Command{
		Use:     "serve",
		Aliases: []string{"gateway"},
		Short:   "Run the gateway Twilio connects calls to",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if port != 0 {
				cfg.Gateway.Port = port
			}
			if bind != "" {
				cfg.Gateway.Bind = bind
			}

			if issues := config.ValidateServe(&cfg); len(issues) > 0 {
				for _, issue := range issues {
					log.Error().Str("path", issue.Path).Msg(issue.Message)
				}
				return fmt.Errorf("config validation failed with %d issue(s)", len(issues))
			}
			if err := paths.EnsureDirs(); err != nil {
				return err
			}

			// Block until SIGINT/SIGTERM
			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			return serve(ctx, cfg)
		},
	}

	cmd.Flags().IntVar(&port, "port", 0, "override gateway port")
	cmd.Flags().StringVar(&bind, "bind", "", "override bind mode (auto, lan, loopback, custom)")

	return cmd
}

func serve(ctx context.Context, cfg config.Config) error {
	db, err := store.Open(paths.StorePath(&cfg), log)
	if err != nil {
		return fmt.Errorf("opening task store: %w", err)
	}
	defer db.Close()

	taskSvc := tasks.NewService(db.Todos())
	registry := tools.NewRegistry(log)
	if err := taskSvc.Register(registry); err != nil {
		return err
	}

	cache, closeCache, err := openAudioCache(ctx, cfg.Audio)
	if err != nil {
		return err
	}
	defer closeCache()

	speech := audio.NewOpenAISpeech(audio.OpenAIOptions{
		APIKey:         cfg.OpenAI.APIKey,
		OrganizationID: cfg.OpenAI.OrganizationID,
		Model:          cfg.OpenAI.TTSModel,
		BaseURL:        cfg.OpenAI.BaseURL,
	})
	transcoder := audio.NewTranscoder(speech, cache, log, audio.WithSourceRate(cfg.Audio.SourceSampleRate))

	hookMgr := hooks.NewManager(log)
	calllog.RegisterLogSink(hookMgr, log)
	if cfg.CallLog.IRC != nil {
		sink := calllog.NewIRCSink(*cfg.CallLog.IRC, log)
		sink.Register(hookMgr)
		go func() {
			if err := sink.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
				log.Warn().Err(err).Msg("IRC call log mirror stopped")
			}
		}()
		defer sink.Close()
	}
	recorder := calllog.NewRecorder(hookMgr)

	twilioSvc := twilio.NewService(cfg.Twilio, log)

	streamCfg := twilio.StreamConfig{
		AccountSID: cfg.Twilio.AccountSID,
		AI: call.AIConfig{
			Enabled: cfg.OpenAI.Realtime(),
			APIKey:  cfg.OpenAI.APIKey,
			Prompt:  cfg.OpenAI.Prompt,
		},
		RealtimeURL:   cfg.OpenAI.RealtimeURL,
		RealtimeModel: cfg.OpenAI.RealtimeModel,
	}
	deps := twilio.StreamDeps{
		Speaker:  transcoder,
		Tasks:    taskSvc,
		Tools:    registry,
		Notifier: recorder,
	}

	opts := []gateway.ServerOption{
		gateway.WithHooks(hookMgr),
		gateway.WithCaller(twilioSvc),
		gateway.WithStatusBroadcaster(recorder),
	}
	if cfg.Twilio.AuthToken != "" && cfg.Twilio.StatusCallback != "" {
		validator := twilioclient.NewRequestValidator(cfg.Twilio.AuthToken)
		opts = append(opts, gateway.WithWebhookValidation(&validator, cfg.Twilio.StatusCallback))
	} else {
		log.Warn().Msg("twilio.authToken or twilio.statusCallback unset, status callbacks are not signature checked")
	}

	log.Info().
		Bool("realtime", streamCfg.AI.Enabled).
		Str("cache", cfg.Audio.Cache).
		Strs("tools", registry.Names()).
		Msg("call bridge configured")

	srv := gateway.New(cfg.Gateway, streamCfg, deps, log, opts...)
	err = srv.Start(ctx)
	hookMgr.Wait()
	return err
}

// openAudioCache builds the configured synthesis cache. The returned func
// releases it.
func openAudioCache(ctx context.Context, cfg config.AudioConfig) (audio.Cache, func(), error) {
	if cfg.Cache != "redis" {
		return audio.NewMemoryCache(), func() {}, nil
	}
	client, err := audio.DialRedis(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
	if err != nil {
		return nil, nil, err
	}
	cache := audio.NewRedisCache(client, cfg.Redis.TTL)
	log.Info().Str("addr", cfg.Redis.Addr).Dur("ttl", cfg.Redis.TTL).Msg("using redis audio cache")
	return cache, func() { _ = cache.Close() }, nil
}

// openStore opens the task database for one-shot commands.
func openStore() (*store.DB, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	if err := paths.EnsureDirs(); err != nil {
		return nil, err
	}
	return store.Open(paths.StorePath(&cfg), log)
}
