// Package app wires the linegpt processes: the webhook receiver, which
// verifies and enqueues LINE events, and the worker, which drains the queue
// through the dispatcher. Both can run in one process.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/bdobrica/linegpt/internal/linegpt/config"
	"github.com/bdobrica/linegpt/internal/linegpt/dispatch"
	"github.com/bdobrica/linegpt/internal/linegpt/line"
	"github.com/bdobrica/linegpt/internal/linegpt/llm"
	"github.com/bdobrica/linegpt/internal/linegpt/matrix"
	"github.com/bdobrica/linegpt/internal/linegpt/notify"
	"github.com/bdobrica/linegpt/internal/linegpt/pipeline"
	"github.com/bdobrica/linegpt/internal/linegpt/queue"
	"github.com/bdobrica/linegpt/internal/linegpt/store"
	"github.com/bdobrica/linegpt/internal/linegpt/tokenizer"
	"github.com/bdobrica/linegpt/internal/linegpt/webhook"
)

// Components selects what an App runs.
type Components struct {
	Webhook bool
	Worker  bool
}

// App is a configured linegpt process.
type App struct {
	store   *store.Store
	queue   *queue.Queue
	http    *HealthServer
	worker  *Worker
	janitor *Janitor
}

// New builds an App from cfg. Configuration problems are reported as
// *config.ConfigurationError before anything is opened.
func New(cfg *config.Config, c Components) (*App, error) {
	if !c.Webhook && !c.Worker {
		return nil, errors.New("app: nothing to run")
	}
	if c.Webhook {
		if err := cfg.ValidateWebhook(); err != nil {
			return nil, err
		}
	}
	tok := tokenizer.New()
	if c.Worker {
		if err := cfg.ValidateWorker(); err != nil {
			return nil, err
		}
		// An unknown model would otherwise fail every request at assembly time.
		if _, err := tok.Count(cfg.LLM.Model, "x"); err != nil {
			return nil, err
		}
	}

	st, err := store.New(cfg.DatabasePath)
	if err != nil {
		return nil, err
	}
	q := queue.New(st.DB(), queue.Options{
		VisibilityTimeout: cfg.Queue.VisibilityTimeout,
		MaxReceives:       cfg.Queue.MaxReceives,
	})
	a := &App{store: st, queue: q}

	var replier *line.Client
	if cfg.LINE.ChannelAccessToken != "" {
		replier, err = line.New(line.Config{
			ChannelAccessToken: cfg.LINE.ChannelAccessToken,
			APIBaseURL:         cfg.LINE.APIBaseURL,
			QuickReply:         cfg.LINE.QuickReply,
		})
		if err != nil {
			st.Close()
			return nil, err
		}
	}

	if c.Webhook {
		a.http = NewHealthServer(cfg.HTTP.Addr, st, q)
		var pr webhook.Replier
		if replier != nil {
			pr = replier
		}
		webhook.New(q, pr, webhook.Config{
			ChannelSecret: cfg.LINE.ChannelSecret,
			RateLimit:     cfg.HTTP.RateLimit,
		}).RegisterRoutes(a.http)
	}

	if c.Worker {
		notifier, err := newNotifier(cfg.Matrix)
		if err != nil {
			st.Close()
			return nil, err
		}
		p := pipeline.New(st, tok, llm.NewGateway(newProvider(cfg.LLM)), pipeline.Config{
			Model:          cfg.LLM.Model,
			MaxTokens:      cfg.LLM.MaxTokens,
			SystemPrompt:   cfg.LLM.SystemMessage,
			Timeout:        cfg.LLM.Timeout,
			TimeoutMessage: cfg.LLM.TimeoutErrorMessage,
			Horizon:        cfg.RequestKeep,
		})
		d := dispatch.New(p, replier, notifier, dispatch.Config{StickerDelay: cfg.Worker.StickerDelay})
		a.worker = NewWorker(q, d, notifier, WorkerConfig{
			Concurrency:  cfg.Worker.Concurrency,
			PollInterval: cfg.Queue.PollInterval,
			MaxReceives:  cfg.Queue.MaxReceives,
		})
		a.janitor = NewJanitor(st, q, cfg.RequestKeep, time.Hour)
	}

	return a, nil
}

func newProvider(cfg config.LLMConfig) llm.Provider {
	if cfg.Provider == config.ProviderAnthropic {
		return llm.NewAnthropic(llm.AnthropicConfig{
			APIKey:    cfg.AnthropicAPIKey,
			MaxTokens: cfg.ResponseMaxTokens,
		})
	}
	return llm.NewOpenAI(llm.OpenAIConfig{
		APIKey:  cfg.OpenAIAPIKey,
		BaseURL: cfg.OpenAIBaseURL,
	})
}

func newNotifier(cfg config.MatrixConfig) (notify.Notifier, error) {
	if !cfg.Enabled() {
		return notify.Noop{}, nil
	}
	mc, err := matrix.New(matrix.Config{
		Homeserver:  cfg.Homeserver,
		UserID:      cfg.UserID,
		AccessToken: cfg.AccessToken,
	})
	if err != nil {
		return nil, err
	}
	slog.Info("operator notices enabled", "room", cfg.RoomID)
	return notify.NewMatrixNotifier(mc, cfg.RoomID), nil
}

// Run starts the selected components and blocks until ctx is cancelled.
func (a *App) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	if a.http != nil {
		if err := a.http.Start(ctx); err != nil {
			return fmt.Errorf("app: %w", err)
		}
	}

	var wg sync.WaitGroup
	if a.janitor != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			a.janitor.Run(ctx)
		}()
	}

	var err error
	if a.worker != nil {
		err = a.worker.Run(ctx)
	} else {
		<-ctx.Done()
	}

	cancel()
	wg.Wait()
	if a.http != nil {
		a.http.Stop()
	}
	slog.Info("shutting down")
	return err
}

// Close releases the database.
func (a *App) Close() error {
	return a.store.Close()
}
