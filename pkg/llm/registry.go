package llm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
)

// Factory builds a client for the given credential.
type Factory func(apiKey string) (Client, error)

type RegistryConfig struct {
	Logger  *slog.Logger
	Factory Factory

	// CheckClient checks a freshly built client before it is committed. Defaults to
	// calling Validator when the client implements it.
	CheckClient func(ctx context.Context, c Client) error
}

func (cfg *RegistryConfig) Validate() error {
	if cfg.Logger == nil {
		return errors.New("logger is required")
	}
	if cfg.Factory == nil {
		return errors.New("client factory is required")
	}
	if cfg.CheckClient == nil {
		cfg.CheckClient = func(ctx context.Context, c Client) error {
			if v, ok := c.(Validator); ok {
				return v.Validate(ctx)
			}
			return nil
		}
	}
	return nil
}

// Registry owns the process-wide model client. Activations are serialized by activateMu
// so a credential is built and checked once; mu only guards the compare-and-swap of the
// active client, so completions are never blocked behind a credential check.
type Registry struct {
	log *slog.Logger
	cfg RegistryConfig

	activateMu sync.Mutex

	mu        sync.RWMutex
	activeKey string
	active    Client
}

func NewRegistry(cfg RegistryConfig) (*Registry, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("failed to validate registry config: %w", err)
	}
	return &Registry{log: cfg.Logger, cfg: cfg}, nil
}

// NewStaticRegistry wraps an already constructed client, e.g. a local model that has no
// credential to swap.
func NewStaticRegistry(log *slog.Logger, c Client) *Registry {
	return &Registry{
		log: log,
		cfg: RegistryConfig{
			Logger: log,
			Factory: func(string) (Client, error) {
				return nil, errors.New("static registry does not accept credentials")
			},
			CheckClient: func(context.Context, Client) error { return nil },
		},
		active: c,
	}
}

// Activate makes apiKey the active credential. It is a no-op when the key is already
// active. The new client is validated before the swap; on failure the previous client
// stays active and ErrCredentialInvalid is returned.
func (r *Registry) Activate(ctx context.Context, apiKey string) error {
	if apiKey == "" {
		return fmt.Errorf("%w: empty credential", ErrCredentialInvalid)
	}

	r.activateMu.Lock()
	defer r.activateMu.Unlock()

	if r.isActive(apiKey) {
		return nil
	}

	c, err := r.cfg.Factory(apiKey)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrCredentialInvalid, err)
	}
	if err := r.cfg.CheckClient(ctx, c); err != nil {
		r.log.Warn("llm: credential rejected", "error", err)
		if errors.Is(err, ErrCredentialInvalid) {
			return err
		}
		return fmt.Errorf("%w: %w", ErrCredentialInvalid, err)
	}

	r.mu.Lock()
	r.active = c
	r.activeKey = apiKey
	r.mu.Unlock()
	r.log.Info("llm: active client replaced")
	return nil
}

func (r *Registry) isActive(apiKey string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.active != nil && apiKey == r.activeKey
}

func (r *Registry) HasActive() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.active != nil
}

func (r *Registry) current() Client {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.active
}

// Complete delegates to the active client.
func (r *Registry) Complete(ctx context.Context, systemPrompt, userPrompt string, opts ...CompleteOption) (string, error) {
	c := r.current()
	if c == nil {
		return "", ErrNoActiveClient
	}
	return c.Complete(ctx, systemPrompt, userPrompt, opts...)
}
