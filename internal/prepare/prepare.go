// Package prepare runs the time-of-day scenario preparation: area type
// classification and link attribute derivation on the all-day highway
// scenario, the per-period highway slices, the transit pass and its slices,
// then a single commit to the store.
package prepare

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/netprep/internal/areatype"
	"github.com/sells-group/netprep/internal/config"
	"github.com/sells-group/netprep/internal/errs"
	"github.com/sells-group/netprep/internal/fetcher"
	"github.com/sells-group/netprep/internal/landuse"
	"github.com/sells-group/netprep/internal/linkattr"
	"github.com/sells-group/netprep/internal/memo"
	"github.com/sells-group/netprep/internal/model"
	"github.com/sells-group/netprep/internal/network"
	"github.com/sells-group/netprep/internal/spatial"
	"github.com/sells-group/netprep/internal/store"
	"github.com/sells-group/netprep/internal/todslice"
	"github.com/sells-group/netprep/internal/transit"
)

// Stage names recorded in the run ledger.
const (
	StageClassify     = "classify"
	StageDerive       = "derive"
	StageSliceHighway = "slice:highway"
	StageTransit      = "transit"
	StageSliceTransit = "slice:transit"
	StageCommit       = "commit"
)

// Options are per-run switches.
type Options struct {
	DryRun      bool
	SkipTransit bool
}

// Runner prepares period scenarios for the configured banks.
type Runner struct {
	cfg         *config.Config
	store       store.Store
	resolver    *fetcher.Resolver
	concurrency int
}

// New creates a Runner. cfg must have passed Validate("prepare").
func New(cfg *config.Config, st store.Store, resolver *fetcher.Resolver) (*Runner, error) {
	n, err := config.ParseConcurrency(cfg.Run.Concurrency)
	if err != nil {
		return nil, errs.Wrap(err, errs.KindConfiguration, "run.concurrency")
	}
	return &Runner{cfg: cfg, store: st, resolver: resolver, concurrency: n}, nil
}

// state carries the scenarios built by earlier stages.
type state struct {
	table     landuse.Table
	highway   *network.MemoryBank
	reference *network.Scenario
	hwNet     *network.Network
	hwSlices  []*network.Scenario

	transit  *network.MemoryBank
	trRef    *network.Scenario
	trSlices []*network.Scenario
}

// Run executes one preparation run and records it in the store ledger. On
// failure the returned error carries the failing stage, and the run's
// result names the stage, error kind and entity.
func (r *Runner) Run(ctx context.Context, opts Options) (*model.Run, error) {
	req := r.request(opts)
	log := zap.L().With(zap.String("component", "prepare"), zap.String("bank", req.HighwayBank))

	run, err := r.store.CreateRun(ctx, req)
	if err != nil {
		return nil, eris.Wrap(err, "prepare: create run")
	}
	log = log.With(zap.String("run_id", run.ID))
	log.Info("prepare: starting run", zap.Strings("periods", req.Periods), zap.Bool("dry_run", opts.DryRun))

	result := &model.RunResult{}
	setStatus := func(status model.RunStatus) {
		if statusErr := r.store.UpdateRunStatus(ctx, run.ID, status); statusErr != nil {
			log.Warn("prepare: failed to update status", zap.Error(statusErr))
		}
	}

	trackPhase := func(name string, fn func() (map[string]any, error)) error {
		phase, phaseErr := r.store.CreatePhase(ctx, run.ID, name)
		if phaseErr != nil {
			log.Warn("prepare: failed to create phase", zap.String("phase", name), zap.Error(phaseErr))
		}

		start := time.Now()
		meta, fnErr := fn()
		duration := time.Since(start).Milliseconds()

		pr := &model.PhaseResult{Name: name, Duration: duration, Metadata: meta}
		if fnErr != nil {
			fnErr = errs.WithStage(fnErr, name)
			pr.Status = model.PhaseStatusFailed
			pr.Error = fnErr.Error()
			log.Error("prepare: phase failed",
				zap.String("phase", name),
				zap.Int64("duration_ms", duration),
				zap.Error(fnErr),
			)
		} else {
			pr.Status = model.PhaseStatusComplete
			log.Info("prepare: phase complete",
				zap.String("phase", name),
				zap.Int64("duration_ms", duration),
			)
		}

		if phase != nil {
			// Recorded even when ctx is cancelled.
			if err := r.store.CompletePhase(context.WithoutCancel(ctx), phase.ID, pr); err != nil {
				log.Warn("prepare: failed to complete phase", zap.String("phase", name), zap.Error(err))
			}
		}
		result.Phases = append(result.Phases, *pr)
		return fnErr
	}
	skipPhase := func(name, reason string) {
		result.Phases = append(result.Phases, model.PhaseResult{
			Name:     name,
			Status:   model.PhaseStatusSkipped,
			Metadata: map[string]any{"reason": reason},
		})
		log.Info("prepare: phase skipped", zap.String("phase", name), zap.String("reason", reason))
	}

	st := &state{}
	stages := []struct {
		name   string
		status model.RunStatus
		skip   string
		fn     func() (map[string]any, error)
	}{
		{StageClassify, model.RunStatusClassifying, "", func() (map[string]any, error) { return r.classify(ctx, st, result) }},
		{StageDerive, model.RunStatusDeriving, "", func() (map[string]any, error) { return r.derive(st) }},
		{StageSliceHighway, model.RunStatusSlicing, "", func() (map[string]any, error) { return r.sliceHighway(ctx, st) }},
		{StageTransit, model.RunStatusTransit, r.transitSkipReason(opts), func() (map[string]any, error) { return r.prepareTransit(ctx, st) }},
		{StageSliceTransit, model.RunStatusTransit, r.transitSkipReason(opts), func() (map[string]any, error) { return r.sliceTransit(ctx, st) }},
		{StageCommit, model.RunStatusCommitting, dryRunReason(opts), func() (map[string]any, error) { return r.commit(ctx, st) }},
	}

	for _, stage := range stages {
		if stage.skip != "" {
			skipPhase(stage.name, stage.skip)
			continue
		}
		setStatus(stage.status)
		if err := trackPhase(stage.name, stage.fn); err != nil {
			result.FailedStage = errs.StageOf(err)
			result.FailedKind = string(errs.KindOf(err))
			result.FailedEntity = errs.EntityOf(err)
			result.Error = err.Error()
			_ = r.finish(run, result, log)
			return run, err
		}
	}

	result.Scenarios = scenarioRefs(st, req)
	if err := r.finish(run, result, log); err != nil {
		return run, err
	}
	log.Info("prepare: run complete",
		zap.Int("scenarios", len(result.Scenarios)),
		zap.Int("links", result.Links),
	)
	return run, nil
}

// finish stores the final result and mirrors it onto run.
func (r *Runner) finish(run *model.Run, result *model.RunResult, log *zap.Logger) error {
	run.Result = result
	run.Status = model.RunStatusComplete
	if result.Failed() {
		run.Status = model.RunStatusFailed
	}
	run.UpdatedAt = time.Now().UTC()
	if err := r.store.UpdateRunResult(context.Background(), run.ID, result); err != nil {
		log.Error("prepare: failed to record run result", zap.Error(err))
		return eris.Wrap(err, "prepare: record run result")
	}
	return nil
}

func (r *Runner) request(opts Options) model.RunRequest {
	periods := make([]string, len(r.cfg.TimePeriods))
	for i, p := range r.cfg.TimePeriods {
		periods[i] = p.Name
	}
	req := model.RunRequest{
		HighwayBank: r.cfg.Emme.HighwayBank,
		ReferenceID: r.cfg.Emme.AllDayScenarioID,
		LandUse:     r.cfg.Scenario.MAZLandUseFile,
		Periods:     periods,
		BufferMiles: r.cfg.Highway.AreaTypeBufferDistMiles,
		SkipTransit: opts.SkipTransit,
		DryRun:      opts.DryRun,
	}
	if r.cfg.Transit.Enabled {
		req.TransitBank = r.cfg.Emme.TransitBank
	}
	return req
}

func (r *Runner) transitSkipReason(opts Options) string {
	switch {
	case !r.cfg.Transit.Enabled:
		return "transit disabled"
	case opts.SkipTransit:
		return "skip requested"
	}
	return ""
}

func dryRunReason(opts Options) string {
	if opts.DryRun {
		return "dry run"
	}
	return ""
}

func (r *Runner) periods() []todslice.Period {
	return todslice.PeriodsFromConfig(r.cfg.TimePeriods)
}

// loadReference loads a bank and its all-day scenario.
func (r *Runner) loadReference(ctx context.Context, bankName string) (*network.MemoryBank, *network.Scenario, error) {
	bank, err := store.LoadBank(ctx, r.store, bankName)
	if err != nil {
		return nil, nil, err
	}
	id := r.cfg.Emme.AllDayScenarioID
	ref, err := bank.Scenario(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	if ref == nil {
		return nil, nil, errs.New(errs.KindConsistency, fmt.Sprintf("scenario %d", id),
			"prepare: bank %s has no all-day scenario", bankName)
	}
	return bank, ref, nil
}

func (r *Runner) classify(ctx context.Context, st *state, result *model.RunResult) (map[string]any, error) {
	table, err := landuse.Load(ctx, r.resolver, r.cfg.Scenario.MAZLandUseFile)
	if err != nil {
		return nil, err
	}
	st.table = table

	st.highway, st.reference, err = r.loadReference(ctx, r.cfg.Emme.HighwayBank)
	if err != nil {
		return nil, err
	}

	nearest := memo.New[spatial.Point, int]()
	classifier, err := areatype.New(table, r.cfg.Highway.AreaTypeBufferDistMiles*network.FeetPerMile,
		areatype.WithConcurrency(r.concurrency),
		areatype.WithNearestCache(nearest),
	)
	if err != nil {
		return nil, err
	}

	st.hwNet = st.reference.Network()
	sum, err := classifier.ClassifyNetwork(ctx, st.hwNet)
	if err != nil {
		return nil, err
	}
	result.ZonesLocated = sum.ZonesLocated
	result.Links = sum.Links
	result.LinksByAreaType = sum.LinksByAreaType

	hits, misses := nearest.Stats()
	return map[string]any{
		"zones":          len(table),
		"zones_located":  sum.ZonesLocated,
		"zones_skipped":  sum.ZonesSkipped,
		"links":          sum.Links,
		"nearest_hits":   hits,
		"nearest_misses": misses,
	}, nil
}

func (r *Runner) derive(st *state) (map[string]any, error) {
	table, err := linkattr.NewSpeedTable(r.cfg.Highway.CapclassLookup)
	if err != nil {
		return nil, err
	}
	sum, err := linkattr.Apply(st.hwNet, table)
	if err != nil {
		return nil, err
	}
	st.reference.PublishNetwork(st.hwNet)
	return map[string]any{
		"links":        sum.Links,
		"unclassified": sum.Unclassified,
		"defaulted":    sum.Defaulted,
		"capclasses":   table.Len(),
	}, nil
}

func (r *Runner) sliceHighway(ctx context.Context, st *state) (map[string]any, error) {
	b, err := todslice.NewBuilder(st.highway, r.periods(), todslice.WithConcurrency(r.concurrency))
	if err != nil {
		return nil, err
	}
	st.hwSlices, err = b.Build(ctx, st.reference)
	if err != nil {
		return nil, err
	}
	return map[string]any{"scenarios": len(st.hwSlices)}, nil
}

func (r *Runner) prepareTransit(ctx context.Context, st *state) (map[string]any, error) {
	var err error
	st.transit, st.trRef, err = r.loadReference(ctx, r.cfg.Emme.TransitBank)
	if err != nil {
		return nil, err
	}
	net := st.trRef.Network()
	sum, err := transit.Prepare(net, st.hwNet, transit.OptionsFromConfig(r.cfg.Transit))
	if err != nil {
		return nil, err
	}
	st.trRef.PublishNetwork(net)
	return map[string]any{
		"links":          sum.Links,
		"copied":         sum.Copied,
		"unmatched":      sum.Unmatched,
		"guideway_links": sum.GuidewayLinks,
		"connectors":     sum.Connectors,
		"lines_bound":    sum.LinesBound,
	}, nil
}

func (r *Runner) sliceTransit(ctx context.Context, st *state) (map[string]any, error) {
	var mu sync.Mutex
	removed := 0
	keepLines := func(_ context.Context, sc *network.Scenario, p todslice.Period) error {
		net := sc.Network()
		n, err := transit.KeepPeriodLines(net, p.Name)
		if err != nil {
			return err
		}
		sc.PublishNetwork(net)
		mu.Lock()
		removed += n
		mu.Unlock()
		return nil
	}

	b, err := todslice.NewBuilder(st.transit, r.periods(),
		todslice.WithConcurrency(r.concurrency),
		todslice.WithFinalizer(keepLines),
	)
	if err != nil {
		return nil, err
	}
	st.trSlices, err = b.Build(ctx, st.trRef)
	if err != nil {
		return nil, err
	}
	return map[string]any{"scenarios": len(st.trSlices), "lines_removed": removed}, nil
}

func (r *Runner) commit(ctx context.Context, st *state) (map[string]any, error) {
	hw := append([]*network.Scenario{st.reference}, st.hwSlices...)
	if err := r.store.SaveScenarios(ctx, st.highway.Name(), hw); err != nil {
		return nil, errs.Wrap(err, errs.KindExternalStore, "bank "+st.highway.Name())
	}
	saved := len(hw)
	if st.trRef != nil {
		tr := append([]*network.Scenario{st.trRef}, st.trSlices...)
		if err := r.store.SaveScenarios(ctx, st.transit.Name(), tr); err != nil {
			return nil, errs.Wrap(err, errs.KindExternalStore, "bank "+st.transit.Name())
		}
		saved += len(tr)
	}
	return map[string]any{"scenarios": saved}, nil
}

// scenarioRefs lists the period scenarios built by the run.
func scenarioRefs(st *state, req model.RunRequest) []model.ScenarioRef {
	var refs []model.ScenarioRef
	add := func(bank string, scs []*network.Scenario) {
		for i, sc := range scs {
			refs = append(refs, model.ScenarioRef{Bank: bank, ID: sc.ID, Title: sc.Title, Period: req.Periods[i]})
		}
	}
	add(req.HighwayBank, st.hwSlices)
	add(req.TransitBank, st.trSlices)
	return refs
}
