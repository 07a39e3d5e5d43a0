// Package provider holds the per-stream configuration and the registry that
// runs one named stream cycle at a time.
package provider

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"gridprice/internal/models"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Config represents the configuration for one stream
type Config struct {
	// Name is the stream name, e.g. rtm_lmp
	Name string `toml:"-" validate:"required"`
	// Kind selects the normalization and primary table
	Kind models.StreamKind `toml:"-" validate:"required"`
	// Enabled determines if the stream may run
	Enabled bool `toml:"enabled"`
	// Lookback bounds the first run when the primary table is empty
	Lookback time.Duration `toml:"-" validate:"gt=0"`
	// PageSize is the number of records per upstream page
	PageSize int `toml:"page_size" validate:"gte=0"`
	// MaxPages stops a cycle after that many pages; zero means no limit
	MaxPages int `toml:"max_pages" validate:"gte=0"`
	// Measurement is the derived store series name
	Measurement string `toml:"measurement" validate:"required"`
	// AllowList is the set of settlement points sent to the derived store
	AllowList []string `toml:"allow_list"`
}

// RunOptions represents the options for a manual run
type RunOptions struct {
	// Since overrides the resolved cursor, for backfills
	Since *time.Time
	// MaxPages overrides the configured page limit when positive
	MaxPages int
}

// Provider is the interface that every stream implements
type Provider interface {
	// Name returns the unique name of the stream
	Name() string
	// Run executes one fetch-normalize-write cycle from the resolved cursor
	Run(ctx context.Context) (*models.CycleSummary, error)
	// RunWithOptions executes one cycle with overrides (for manual runs)
	RunWithOptions(ctx context.Context, opts RunOptions) (*models.CycleSummary, error)
	// GetConfig returns the stream's configuration
	GetConfig() Config
	// SupportsPoint reports whether a settlement point goes to the derived store
	SupportsPoint(settlementPoint string) bool
}

// BaseProvider contains common functionality for all providers
type BaseProvider struct {
	config Config
	allow  map[string]struct{}
}

// NewBaseProvider creates a new BaseProvider
func NewBaseProvider(config Config) BaseProvider {
	allow := make(map[string]struct{}, len(config.AllowList))
	for _, p := range config.AllowList {
		allow[strings.ToUpper(strings.TrimSpace(p))] = struct{}{}
	}
	return BaseProvider{
		config: config,
		allow:  allow,
	}
}

// GetConfig returns the provider's configuration
func (p *BaseProvider) GetConfig() Config {
	return p.config
}

// SupportsPoint checks the settlement point against the allow-list
func (p *BaseProvider) SupportsPoint(settlementPoint string) bool {
	_, ok := p.allow[strings.ToUpper(strings.TrimSpace(settlementPoint))]
	return ok
}

// Manager holds the registered streams and runs them by name
type Manager struct {
	providers []Provider
	logger    zerolog.Logger
}

// NewManager creates a new provider manager
func NewManager() *Manager {
	return &Manager{
		providers: make([]Provider, 0),
		logger:    log.With().Str("component", "provider_manager").Logger(),
	}
}

// RegisterProvider adds a provider to the manager
func (m *Manager) RegisterProvider(p Provider) {
	m.providers = append(m.providers, p)
}

// GetProvider returns a provider by name
func (m *Manager) GetProvider(name string) (Provider, bool) {
	for _, p := range m.providers {
		if p.Name() == name {
			return p, true
		}
	}
	return nil, false
}

// Providers returns the registered providers ordered by name
func (m *Manager) Providers() []Provider {
	out := append([]Provider(nil), m.providers...)
	sort.Slice(out, func(i, j int) bool { return out[i].Name() < out[j].Name() })
	return out
}

// RunProvider executes a specific provider by name
func (m *Manager) RunProvider(ctx context.Context, name string, opts *RunOptions) (*models.CycleSummary, error) {
	provider, found := m.GetProvider(name)
	if !found {
		return nil, fmt.Errorf("%w: %s", ErrProviderNotFound, name)
	}

	if !provider.GetConfig().Enabled {
		return nil, fmt.Errorf("%w: %s", ErrProviderDisabled, name)
	}

	m.logger.Debug().Str("stream", name).Msg("running stream")
	if opts != nil {
		return provider.RunWithOptions(ctx, *opts)
	}
	return provider.Run(ctx)
}
