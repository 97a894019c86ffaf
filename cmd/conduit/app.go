package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"

	"mercator-hq/conduit/pkg/cli"
	"mercator-hq/conduit/pkg/config"
	"mercator-hq/conduit/pkg/credentials"
	"mercator-hq/conduit/pkg/limits/budget"
	"mercator-hq/conduit/pkg/limits/circuit"
	"mercator-hq/conduit/pkg/orchestrator"
	"mercator-hq/conduit/pkg/processing/costs"
	"mercator-hq/conduit/pkg/providerfactory"
	"mercator-hq/conduit/pkg/providers"
	"mercator-hq/conduit/pkg/registry"
	"mercator-hq/conduit/pkg/settings"
	"mercator-hq/conduit/pkg/telemetry"
	"mercator-hq/conduit/pkg/telemetry/health"
	"mercator-hq/conduit/pkg/telemetry/tracing"
	"mercator-hq/conduit/pkg/usage"
	"mercator-hq/conduit/pkg/usage/retention"
	"mercator-hq/conduit/pkg/usage/storage"
)

const instrumentation = "mercator-hq/conduit"

// app holds every long-lived component of one conduit process.
type app struct {
	cfg     *config.Config
	cfgPath string
	logger  *slog.Logger

	tel       *telemetry.Telemetry
	settings  *settings.Manager
	store     settings.Store
	fileCreds *credentials.FileStore
	creds     credentials.Chain
	calc      *costs.Calculator
	factory   *providerfactory.Factory
	registry  *registry.Registry
	ledger    *usage.Ledger
	enforcer  *budget.Enforcer
	pruner    *retention.Pruner
	desktop   budget.Alerter
}

type appOptions struct {
	configPath string
	verbose    bool

	// watch enables fsnotify on the credential directory. Only long-running
	// commands need it.
	watch bool
}

// newApp loads configuration and wires the components. Nothing talks to a
// provider until restore is called.
func newApp(ctx context.Context, opts appOptions) (a *app, err error) {
	path := opts.configPath
	if path == "" {
		path = config.DefaultConfigPath()
	}
	cfg, err := config.LoadOrDefault(path)
	if err != nil {
		return nil, cli.NewConfigError("", err.Error())
	}
	if opts.verbose {
		cfg.Telemetry.Logging.Level = "debug"
	}

	tel, err := telemetry.New(&cfg.Telemetry, os.Stderr)
	if err != nil {
		return nil, cli.NewConfigError("telemetry", err.Error())
	}

	a = &app{
		cfg:     cfg,
		cfgPath: path,
		logger:  tel.Logger().With("component", "app"),
		tel:     tel,
		desktop: budget.NewDesktopAlerter(),
	}
	defer func() {
		if err != nil {
			a.Close()
		}
	}()

	if err := os.MkdirAll(cfg.DataDir, 0o700); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	if err := a.openSettings(); err != nil {
		return nil, err
	}
	if err := a.openCredentials(opts.watch); err != nil {
		return nil, err
	}
	if err := a.openUsage(ctx); err != nil {
		return nil, err
	}
	if err := a.buildProviders(ctx); err != nil {
		return nil, err
	}

	tel.Health().RegisterCheck("provider", health.ActiveProviderCheck(a.registry))
	tel.Health().RegisterCheck("usage_ledger", a.ledger.Flush)
	return a, nil
}

func (a *app) openSettings() error {
	store, err := settings.NewSQLiteStore(a.cfg.Settings.SQLitePath)
	if err != nil {
		return fmt.Errorf("failed to open settings: %w", err)
	}
	a.store = store
	a.settings = settings.NewManager(store, settingDefinitions(a.cfg)...)
	return nil
}

func (a *app) openCredentials(watch bool) error {
	c := a.cfg.Credentials
	files, err := credentials.NewFileStore(c.Dir, watch && !c.DisableWatch)
	if err != nil {
		return fmt.Errorf("failed to open credential store: %w", err)
	}
	a.fileCreds = files

	env, err := credentials.NewEnvStore(c.EnvPrefix, c.DotenvFiles...)
	if err != nil {
		return fmt.Errorf("failed to read credential environment: %w", err)
	}
	a.creds = credentials.Chain{files, env}
	return nil
}

func (a *app) openUsage(ctx context.Context) error {
	db, err := storage.NewSQLiteStorage(storage.DefaultSQLiteConfig(a.cfg.Usage.SQLitePath))
	if err != nil {
		return fmt.Errorf("failed to open usage database: %w", err)
	}
	a.ledger = usage.NewLedger(db)
	if err := a.ledger.Load(ctx); err != nil {
		return fmt.Errorf("failed to load usage history: %w", err)
	}

	a.enforcer = budget.NewEnforcer(a.ledger, budget.NewSettingsStore(a.store),
		budget.WithAlerter(budget.MultiAlerter{
			budget.AlerterFunc(a.routeAlert),
			budget.AlerterFunc(a.tel.Metrics().AlertBudget),
		}))
	if err := a.enforcer.Load(ctx); err != nil {
		return fmt.Errorf("failed to load budgets: %w", err)
	}
	a.enforcer.Seed(a.cfg.Budgets)

	a.pruner = retention.NewPruner(a.ledger, &retention.Config{
		RetentionDays: a.cfg.Usage.RetentionDays,
		PruneSchedule: a.cfg.Usage.PruneSchedule,
	}, retention.WithRetentionSource(func(ctx context.Context) int {
		return a.settings.Int(ctx, settings.KeyRetentionDays, a.cfg.Usage.RetentionDays)
	}))
	return nil
}

func (a *app) buildProviders(ctx context.Context) error {
	metrics := a.tel.Metrics()
	tp := a.tel.Tracer().Provider()
	a.calc = costs.NewCalculator(&a.cfg.Costs)

	breaker := circuit.New(circuit.Config{
		FailureThreshold: a.cfg.Resilience.FailureThreshold,
		Cooldown:         a.cfg.Resilience.Cooldown,
	}, circuit.WithListener(func(provider string, open bool) {
		metrics.CircuitChanged(provider, open)
		if open {
			a.logger.Warn("circuit opened", "provider", provider, "cooldown", a.cfg.Resilience.Cooldown)
		} else {
			a.logger.Info("circuit closed", "provider", provider)
		}
	}))

	a.factory = providerfactory.New(a.cfg,
		providerfactory.WithCredentials(a.creds),
		providerfactory.WithBreaker(breaker),
		providerfactory.WithCalculator(a.calc),
		providerfactory.WithOutcomeObserver(providers.MultiOutcomeObserver(
			usage.NewRecorder(a.ledger, a.enforcer),
			metrics,
		)),
		providerfactory.WithRequestObserver(metrics),
		providerfactory.WithTracer(tp.Tracer(instrumentation+"/providers")),
		providerfactory.WithExecutorOptions(
			providers.WithHTTPClient(&http.Client{Transport: tracing.Transport(nil)}),
		),
	)

	local, err := a.localProvider()
	if err != nil {
		return err
	}
	a.registry = registry.New(local, a.settings)

	built, errs := a.factory.NewProviders(a.cfg.Providers)
	for _, err := range errs {
		a.logger.Warn("provider not available", "error", err)
	}
	for _, p := range built {
		if p.ID() == local.ID() {
			continue
		}
		if !a.hasCredential(ctx, p.ID()) {
			a.logger.Debug("provider has no key, not registered", "provider", p.ID())
			continue
		}
		if err := a.registry.Add(p); err != nil {
			a.logger.Warn("failed to register provider", "provider", p.ID(), "error", err)
		}
	}
	return nil
}

func (a *app) localProvider() (providers.Provider, error) {
	pc, ok := a.cfg.Providers[config.LocalProviderID]
	if !ok || pc.Disabled {
		pc = config.DefaultProviders()[config.LocalProviderID]
	}
	p, err := a.factory.NewProvider(config.LocalProviderID, pc)
	if err != nil {
		return nil, cli.NewConfigError("providers."+config.LocalProviderID, err.Error())
	}
	return p, nil
}

// hasCredential reports whether a provider can be registered: it has a
// key, or its configuration says it needs none.
func (a *app) hasCredential(ctx context.Context, id string) bool {
	pc := a.cfg.Providers[id]
	switch providerfactory.ResolveType(id, pc) {
	case providerfactory.TypeOllama:
		return true
	case providerfactory.TypeGeneric:
		if pc.RequiresKey != nil && !*pc.RequiresKey {
			return true
		}
	}
	ok, err := a.creds.Has(ctx, id)
	if err != nil {
		a.logger.Warn("failed to check credential", "provider", id, "error", err)
	}
	return ok
}

// buildProvider creates the provider for a credential that appeared at
// runtime.
func (a *app) buildProvider(id string) (providers.Provider, error) {
	pc, ok := a.cfg.Providers[id]
	if !ok || pc.Disabled {
		return nil, fmt.Errorf("%w: %s", registry.ErrUnknownProvider, id)
	}
	return a.factory.NewProvider(id, pc)
}

// restore activates the persisted or best available provider.
func (a *app) restore(ctx context.Context) error {
	if err := a.registry.Restore(ctx); err != nil {
		return cli.NewCommandError("restore", err)
	}
	return nil
}

// runBackground starts the work a long-running command needs: metrics,
// credential and configuration watching and the retention schedule. All of
// it stops when ctx is cancelled.
func (a *app) runBackground(ctx context.Context) {
	a.tel.Start(ctx)

	go a.registry.WatchCredentials(ctx, a.fileCreds.Events(), a.buildProvider)

	if err := a.pruner.Start(ctx); err != nil {
		a.logger.Warn("retention schedule not started", "error", err)
	}

	if _, err := os.Stat(a.cfgPath); err != nil {
		return
	}
	w, err := config.NewWatcher(a.cfgPath, a.reload)
	if err != nil {
		a.logger.Warn("configuration changes will not be picked up", "error", err)
		return
	}
	go w.Run(ctx)
}

// reload applies the parts of a changed configuration that can change at
// runtime.
func (a *app) reload(cfg *config.Config) {
	a.calc.UpdatePricing(&cfg.Costs)
	a.enforcer.Seed(cfg.Budgets)
	a.logger.Info("configuration reloaded", "budgets", len(cfg.Budgets))
}

// newOrchestrator creates a conversation over the active provider.
// extractor may be nil.
func (a *app) newOrchestrator(extractor orchestrator.ContextExtractor) *orchestrator.Orchestrator {
	opts := []orchestrator.Option{
		orchestrator.WithBudget(a.enforcer, a.calc),
		orchestrator.WithPreferences(a.settings),
		orchestrator.WithTracer(a.tel.Tracer().Provider().Tracer(instrumentation + "/orchestrator")),
	}
	if extractor != nil {
		opts = append(opts, orchestrator.WithContextExtractor(extractor))
	}
	return orchestrator.New(a.registry, a.cfg.Conversation, opts...)
}

// routeAlert delivers a budget alert to the channel chosen in settings.
func (a *app) routeAlert(ctx context.Context, alert budget.Alert) error {
	fallback := settings.AlertChannelLog
	if a.cfg.Alerts.Desktop {
		fallback = settings.AlertChannelDesktop
	}

	switch a.settings.Text(ctx, settings.KeyAlertChannel, fallback) {
	case settings.AlertChannelOff:
		return nil
	case settings.AlertChannelDesktop:
		if err := a.desktop.Alert(ctx, alert); err != nil {
			a.logger.Debug("desktop notification failed, logging instead", "error", err)
			return budget.NewLogAlerter().Alert(ctx, alert)
		}
		return nil
	default:
		return budget.NewLogAlerter().Alert(ctx, alert)
	}
}

// Close releases every resource. It is safe on a partially built app.
func (a *app) Close() {
	var errs []error
	if a.registry != nil {
		a.registry.Close()
	}
	if a.ledger != nil {
		errs = append(errs, a.ledger.Close())
	}
	if a.store != nil {
		errs = append(errs, a.store.Close())
	}
	if a.fileCreds != nil {
		errs = append(errs, a.fileCreds.Close())
	}
	if a.tel != nil {
		errs = append(errs, a.tel.Shutdown(context.Background()))
	}
	if err := errors.Join(errs...); err != nil && a.logger != nil {
		a.logger.Warn("shutdown incomplete", "error", err)
	}
}

// settingDefinitions returns the built-in settings with defaults taken from
// the configuration file.
func settingDefinitions(cfg *config.Config) []settings.Definition {
	defs := settings.Defaults()
	for i := range defs {
		switch defs[i].Key {
		case settings.KeyHistoryWindow:
			defs[i].Default = settings.Number(float64(min(cfg.Conversation.HistoryWindow, 100)))
		case settings.KeyIncludeContext:
			defs[i].Default = settings.Bool(!cfg.Conversation.ExcludeContext)
		case settings.KeySystemPrompt:
			defs[i].Default = settings.String(cfg.Conversation.SystemPrompt)
		case settings.KeyRetentionDays:
			defs[i].Default = settings.Number(float64(cfg.Usage.RetentionDays))
		case settings.KeyAlertChannel:
			if cfg.Alerts.Desktop {
				defs[i].Default = settings.Choice(settings.AlertChannelDesktop, defs[i].Default.Options()...)
			}
		}
	}
	return defs
}
