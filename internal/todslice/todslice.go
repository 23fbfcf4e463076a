// Package todslice builds one scenario per time period from an all-day
// reference scenario.
//
// Attributes whose name ends in a period name (for example @volAM or
// @ff_time_PM) are grouped by the remaining root. In the scenario for period
// P each group collapses to a single attribute named by the root, holding the
// values of root+P. A trailing underscore on the root is dropped.
package todslice

import (
	"context"
	"runtime"
	"slices"
	"strings"
	"unicode/utf8"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/netprep/internal/config"
	"github.com/sells-group/netprep/internal/errs"
	"github.com/sells-group/netprep/internal/network"
)

// MaxTitleLen is the longest scenario title the bank stores.
const MaxTitleLen = 60

// Period is a time-of-day period and the scenario slot it is written to.
type Period struct {
	Name       string `json:"name"`
	ScenarioID int    `json:"scenario_id"`
}

// PeriodsFromConfig converts configured periods, keeping their order.
func PeriodsFromConfig(cfgs []config.TimePeriodConfig) []Period {
	out := make([]Period, len(cfgs))
	for i, c := range cfgs {
		out[i] = Period{Name: c.Name, ScenarioID: c.EmmeScenarioID}
	}
	return out
}

// Groups maps domain → root → the period-suffixed attribute names found for
// that root.
type Groups map[network.Domain]map[string][]string

// Roots returns the roots of one domain in ascending order.
func (g Groups) Roots(domain network.Domain) []string {
	out := make([]string, 0, len(g[domain]))
	for root := range g[domain] {
		out = append(out, root)
	}
	slices.Sort(out)
	return out
}

// Len returns the number of roots across all domains.
func (g Groups) Len() int {
	n := 0
	for _, roots := range g {
		n += len(roots)
	}
	return n
}

// Discover groups period-suffixed attributes by root. An attribute whose
// name ends in more than one period name is a configuration error, as are
// two roots that collapse to the same canonical name.
func Discover(attrs []network.ExtraAttribute, periods []Period) (Groups, error) {
	groups := make(Groups)
	for _, a := range attrs {
		var matched []Period
		for _, p := range periods {
			// The root must keep at least "@" plus one character.
			if len(a.Name) > len(p.Name)+1 && strings.HasSuffix(a.Name, p.Name) {
				matched = append(matched, p)
			}
		}
		switch len(matched) {
		case 0:
			continue
		case 1:
		default:
			names := make([]string, len(matched))
			for i, p := range matched {
				names[i] = p.Name
			}
			return nil, errs.New(errs.KindConfiguration, "attribute "+a.Name,
				"todslice: name matches periods %s", strings.Join(names, ", "))
		}

		root := strings.TrimSuffix(a.Name, matched[0].Name)
		if groups[a.Domain] == nil {
			groups[a.Domain] = make(map[string][]string)
		}
		groups[a.Domain][root] = append(groups[a.Domain][root], a.Name)
	}
	for _, roots := range groups {
		for root := range roots {
			slices.Sort(roots[root])
		}
	}

	// Attribute names are shared across domains.
	owners := make(map[string]string)
	for _, domain := range network.Domains {
		for _, root := range groups.Roots(domain) {
			canonical := CanonicalName(root)
			if prev, dup := owners[canonical]; dup {
				return nil, errs.New(errs.KindConfiguration, "attribute "+canonical,
					"todslice: roots %s and %s both collapse to %s", prev, root, canonical)
			}
			owners[canonical] = root
		}
	}
	return groups, nil
}

// CanonicalName returns the attribute name a root collapses to.
func CanonicalName(root string) string {
	return strings.TrimSuffix(root, "_")
}

// Title returns the period scenario title for a reference title.
func Title(p Period, refTitle string) string {
	title := p.Name + " " + refTitle
	if utf8.RuneCountInString(title) <= MaxTitleLen {
		return title
	}
	return string([]rune(title)[:MaxTitleLen])
}

// Reduce collapses every group in sc to the values for period p. The
// scenario network is rewritten in one publish.
func Reduce(sc *network.Scenario, groups Groups, p Period) error {
	net := sc.Network()
	if err := ReduceNetwork(net, groups, p); err != nil {
		return err
	}
	sc.PublishNetwork(net)
	return nil
}

// ReduceNetwork collapses every group in n to the values for period p.
func ReduceNetwork(n *network.Network, groups Groups, p Period) error {
	for _, domain := range network.Domains {
		for _, root := range groups.Roots(domain) {
			if err := reduceRoot(n, domain, root, groups[domain][root], p); err != nil {
				return err
			}
		}
	}
	return nil
}

func reduceRoot(n *network.Network, domain network.Domain, root string, names []string, p Period) error {
	srcName := root + p.Name
	src, ok := n.ExtraAttribute(srcName)
	if !ok {
		return errs.New(errs.KindConsistency, "attribute "+srcName,
			"todslice: period %s has no %s attribute", p.Name, srcName)
	}
	values, err := n.AttributeValues(srcName)
	if err != nil {
		return err
	}

	for _, name := range names {
		if name == srcName {
			continue
		}
		if err := n.DeleteExtraAttribute(name); err != nil {
			return err
		}
	}

	canonical := CanonicalName(root)
	if _, err := n.CreateExtraAttribute(domain, canonical, src.Default); err != nil {
		return err
	}
	if err := n.SetDescription(canonical, src.Description); err != nil {
		return err
	}
	if err := n.SetAttributeValues(canonical, values); err != nil {
		return err
	}
	return n.DeleteExtraAttribute(srcName)
}

// Finalizer runs on each period scenario after reduction.
type Finalizer func(ctx context.Context, sc *network.Scenario, p Period) error

// Option configures a Builder.
type Option func(*Builder)

// WithConcurrency bounds the number of periods built in parallel.
func WithConcurrency(n int) Option {
	return func(b *Builder) {
		if n > 0 {
			b.concurrency = n
		}
	}
}

// WithFinalizer sets a per-period step run after reduction.
func WithFinalizer(f Finalizer) Option {
	return func(b *Builder) {
		b.finalize = f
	}
}

// Builder writes period scenarios into a bank.
type Builder struct {
	bank        network.Bank
	periods     []Period
	concurrency int
	finalize    Finalizer
}

// NewBuilder creates a builder for the given ordered periods.
func NewBuilder(bank network.Bank, periods []Period, opts ...Option) (*Builder, error) {
	if len(periods) == 0 {
		return nil, errs.New(errs.KindConfiguration, "time_periods", "todslice: no periods configured")
	}
	names := make(map[string]bool, len(periods))
	slots := make(map[int]bool, len(periods))
	for _, p := range periods {
		if p.Name == "" || names[p.Name] {
			return nil, errs.New(errs.KindConfiguration, "time_periods", "todslice: period name %q empty or repeated", p.Name)
		}
		if slots[p.ScenarioID] {
			return nil, errs.New(errs.KindConfiguration, "time_periods", "todslice: scenario %d used by two periods", p.ScenarioID)
		}
		names[p.Name] = true
		slots[p.ScenarioID] = true
	}
	b := &Builder{
		bank:        bank,
		periods:     slices.Clone(periods),
		concurrency: runtime.NumCPU(),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b, nil
}

// Periods returns the configured periods.
func (b *Builder) Periods() []Period { return slices.Clone(b.periods) }

// Build replaces every period slot with a reduced copy of ref. Results are
// in configured period order. Any failure fails the whole build.
func (b *Builder) Build(ctx context.Context, ref *network.Scenario) ([]*network.Scenario, error) {
	log := zap.L().With(zap.String("component", "todslice"), zap.String("bank", b.bank.Name()))
	if ref == nil {
		return nil, errs.New(errs.KindConsistency, "reference", "todslice: no reference scenario")
	}
	for _, p := range b.periods {
		if p.ScenarioID == ref.ID {
			return nil, errs.New(errs.KindConfiguration, "period "+p.Name,
				"todslice: period slot %d is the reference scenario", p.ScenarioID)
		}
	}

	groups, err := Discover(ref.ExtraAttributes(), b.periods)
	if err != nil {
		return nil, err
	}
	log.Info("discovered period attributes", zap.Int("roots", groups.Len()), zap.Int("periods", len(b.periods)))

	out := make([]*network.Scenario, len(b.periods))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(b.concurrency)
	for i, p := range b.periods {
		g.Go(func() error {
			sc, err := b.buildPeriod(gctx, ref, groups, p)
			if err != nil {
				if errs.KindOf(err) == "" {
					return errs.Wrap(err, errs.KindExternalStore, "period "+p.Name)
				}
				return err
			}
			out[i] = sc
			log.Debug("built period scenario", zap.String("period", p.Name), zap.Int("scenario", sc.ID))
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

func (b *Builder) buildPeriod(ctx context.Context, ref *network.Scenario, groups Groups, p Period) (*network.Scenario, error) {
	existing, err := b.bank.Scenario(ctx, p.ScenarioID)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		if err := b.bank.DeleteScenario(ctx, p.ScenarioID); err != nil {
			return nil, err
		}
	}
	sc, err := b.bank.CopyScenario(ctx, ref, p.ScenarioID)
	if err != nil {
		return nil, err
	}
	sc.Title = Title(p, ref.Title)

	if err := Reduce(sc, groups, p); err != nil {
		return nil, err
	}
	if b.finalize != nil {
		if err := b.finalize(ctx, sc, p); err != nil {
			return nil, err
		}
	}
	return sc, nil
}
