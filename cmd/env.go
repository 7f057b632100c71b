package main

import (
	"context"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/outbound-cli/internal/advisor"
	"github.com/sells-group/outbound-cli/internal/aggregate"
	"github.com/sells-group/outbound-cli/internal/cadence"
	"github.com/sells-group/outbound-cli/internal/config"
	"github.com/sells-group/outbound-cli/internal/enrich"
	"github.com/sells-group/outbound-cli/internal/health"
	"github.com/sells-group/outbound-cli/internal/intel"
	"github.com/sells-group/outbound-cli/internal/linkedin"
	"github.com/sells-group/outbound-cli/internal/model"
	"github.com/sells-group/outbound-cli/internal/notify"
	"github.com/sells-group/outbound-cli/internal/orchestrator"
	"github.com/sells-group/outbound-cli/internal/publish"
	"github.com/sells-group/outbound-cli/internal/report"
	"github.com/sells-group/outbound-cli/internal/store"
	"github.com/sells-group/outbound-cli/internal/syncer"
	anthropicpkg "github.com/sells-group/outbound-cli/pkg/anthropic"
	"github.com/sells-group/outbound-cli/pkg/apollo"
	"github.com/sells-group/outbound-cli/pkg/hubspot"
)

func initStore(ctx context.Context) (store.Store, error) {
	switch cfg.Store.Driver {
	case "sqlite":
		dsn := cfg.Store.DatabaseURL
		if dsn == "" {
			dsn = "outbound.db"
		}
		return store.NewSQLite(dsn)
	case "postgres":
		return store.NewPostgres(ctx, cfg.Store.DatabaseURL, cfg.Store.MaxConns)
	default:
		return nil, eris.Errorf("unsupported store driver: %s", cfg.Store.Driver)
	}
}

// openStore opens and migrates the configured store.
func openStore(ctx context.Context) (store.Store, error) {
	st, err := initStore(ctx)
	if err != nil {
		return nil, err
	}
	if err := st.Migrate(ctx); err != nil {
		st.Close() //nolint:errcheck
		return nil, eris.Wrap(err, "migrate store")
	}
	return st, nil
}

func newCalendar() (*model.Calendar, error) {
	return model.NewCalendar(cfg.Campaign.StartDate, cfg.Campaign.Timezone)
}

// env holds everything the stages share.
type env struct {
	cfg      *config.Config
	store    store.Store
	cal      *model.Calendar
	notifier *notify.Notifier
	intel    *intel.Service
}

func newEnv(c *config.Config, st store.Store, cal *model.Calendar) *env {
	e := &env{cfg: c, store: st, cal: cal, notifier: notify.New(c.Notify.WebhookURL)}
	if c.Anthropic.Key != "" {
		e.intel = intel.New(anthropicpkg.NewClient(c.Anthropic.Key), c.Anthropic.Model)
	}
	return e
}

func (e *env) hubspot() hubspot.Client {
	opts := []hubspot.Option{hubspot.WithRateLimit(e.cfg.HubSpot.RatePerSec)}
	if e.cfg.HubSpot.BaseURL != "" {
		opts = append(opts, hubspot.WithBaseURL(e.cfg.HubSpot.BaseURL))
	}
	return hubspot.NewClient(e.cfg.HubSpot.Token, opts...)
}

func (e *env) callSync() *syncer.CallSync {
	src := &syncer.HubSpotCalls{Client: e.hubspot(), OwnerID: e.cfg.HubSpot.OwnerID, Concurrency: e.cfg.HubSpot.Concurrency}
	opts := []syncer.CallOption{syncer.WithLookback(time.Duration(e.cfg.HubSpot.LookbackDays) * 24 * time.Hour)}
	if e.intel != nil {
		opts = append(opts, syncer.WithIntel(e.intel, e.cfg.Anthropic.MaxPerRun))
	}
	return syncer.NewCallSync(src, e.store, e.cal, opts...)
}

func (e *env) emailSync() *syncer.EmailSync {
	opts := []apollo.Option{apollo.WithRateLimit(e.cfg.Apollo.RatePerSec)}
	if e.cfg.Apollo.BaseURL != "" {
		opts = append(opts, apollo.WithBaseURL(e.cfg.Apollo.BaseURL))
	}
	client := apollo.NewClient(e.cfg.Apollo.Key, opts...)
	return syncer.NewEmailSync(&syncer.ApolloSequences{Client: client}, e.store, e.cal, nil)
}

func (e *env) linkedInSync() *syncer.LinkedInSync {
	src := &syncer.LinkedInExport{Export: linkedin.NewExport(e.cfg.LinkedIn.ExportPath)}
	if e.intel == nil {
		return syncer.NewLinkedInSync(src, e.store, e.cal, nil, 0)
	}
	return syncer.NewLinkedInSync(src, e.store, e.cal, e.intel, e.cfg.Anthropic.MaxPerRun)
}

func (e *env) dealSync() *syncer.DealSync {
	src := &syncer.HubSpotDeals{Client: e.hubspot(), OwnerID: e.cfg.HubSpot.OwnerID, Concurrency: e.cfg.HubSpot.Concurrency}
	return syncer.NewDealSync(src, e.store, e.cfg.HubSpot.StageLabels)
}

func (e *env) publisher() *publish.Stage {
	var pub publish.Publisher
	if e.cfg.Publish.Enabled {
		pub = publish.NewGit(e.cfg.Publish.RepoDir, e.cfg.Publish.Remote, e.cfg.Publish.Branch)
	}
	return publish.New(e.store, pub, e.cfg.Report.Path, e.cfg.Publish.Enabled)
}

func (e *env) checker() *health.Checker {
	return health.NewChecker(e.store, e.notifier, e.cfg.Health)
}

// registry registers every stage the schedule may name: the built-in
// stages plus one exec stage per configured command.
func (e *env) registry() (*orchestrator.Registry, error) {
	calls := e.callSync()
	email := e.emailSync()
	inmails := e.linkedInSync()
	deals := e.dealSync()
	agg := aggregate.New(e.store, e.cal)
	adv := advisor.New(e.store, e.cal, e.cfg.Advisor)
	enr := enrich.New(e.store)
	cl := cadence.New(e.store, e.cal, e.cfg.Cadence)
	rep := report.New(e.store, e.cfg.Campaign, e.cfg.Report)
	pub := e.publisher()
	digest := notify.NewDigest(e.store, e.cal, e.notifier)
	chk := e.checker()

	stages := []orchestrator.Stage{
		orchestrator.Adapt(calls.Name(), calls.Run),
		orchestrator.Adapt(email.Name(), email.Run),
		orchestrator.Adapt(inmails.Name(), inmails.Run),
		orchestrator.Adapt(deals.Name(), deals.Run),
		orchestrator.Adapt(agg.Name(), agg.Run),
		orchestrator.Adapt(adv.Name(), adv.Run),
		orchestrator.Adapt(enr.Name(), enr.Run),
		orchestrator.Adapt(cl.Name(), cl.Run),
		orchestrator.Adapt(rep.Name(), rep.Run),
		orchestrator.Adapt(pub.Name(), pub.Run),
		orchestrator.Adapt(digest.Name(), digest.Run),
		orchestrator.Adapt(chk.Name(), chk.Run),
	}
	for name, cc := range e.cfg.Commands {
		s, err := orchestrator.NewExecStage(name, cc)
		if err != nil {
			return nil, err
		}
		stages = append(stages, s)
	}

	reg := orchestrator.NewRegistry()
	for _, s := range stages {
		if err := reg.Register(s); err != nil {
			return nil, err
		}
	}
	return reg, nil
}
