// Package transit prepares the all-day transit network from the processed
// highway network: derived link attributes, transit times, connector
// lengths and mode assignments.
package transit

import (
	"strings"

	"go.uber.org/zap"

	"github.com/sells-group/netprep/internal/config"
	"github.com/sells-group/netprep/internal/errs"
	"github.com/sells-group/netprep/internal/network"
)

// NonFreewayMinutesPerMile is added per mile on links that are not freeways.
const NonFreewayMinutesPerMile = 5 * 0.33

// CopiedAttributes are taken from the highway link with the same #link_id.
var CopiedAttributes = []string{
	network.AttrAreaType,
	network.AttrCapclass,
	network.AttrFreeFlowSpeed,
	network.AttrFreeFlowTime,
}

// Mode types.
const (
	ModeWalk    = "WALK"
	ModeAccess  = "ACCESS"
	ModeEgress  = "EGRESS"
	ModeTransit = "TRANSIT"
)

// Options configures Prepare.
type Options struct {
	// GuidewaySpeeds maps #cntype to a fixed speed in mph, keyed by
	// config.GuidewayKey.
	GuidewaySpeeds map[string]float64
	// ConnectorLength replaces the length of links touching a centroid. Zero
	// keeps the imported length.
	ConnectorLength float64
	Modes           []config.TransitMode
	Vehicles        []config.TransitVehicle
}

// OptionsFromConfig builds Options from the transit config section.
func OptionsFromConfig(cfg config.TransitConfig) Options {
	return Options{
		GuidewaySpeeds:  cfg.Speeds(),
		ConnectorLength: cfg.ConnectorLengthMiles,
		Modes:           cfg.Modes,
		Vehicles:        cfg.Vehicles,
	}
}

// Summary reports what Prepare changed.
type Summary struct {
	Links         int
	Copied        int
	Unmatched     int
	GuidewayLinks int
	Connectors    int
	LinesBound    int
}

// Prepare rewrites n, the transit reference network, using highway for the
// derived link attributes.
func Prepare(n, highway *network.Network, opts Options) (Summary, error) {
	var sum Summary
	for _, name := range append([]string{network.AttrTransitTime}, CopiedAttributes...) {
		if _, err := n.CreateExtraAttribute(network.DomainLink, name, 0); err != nil {
			return sum, err
		}
	}

	byID := make(map[string]*network.Link)
	for _, l := range highway.Links() {
		if id := l.Label(network.LabelLinkID); id != "" {
			byID[id] = l
		}
	}

	for _, link := range n.Links() {
		sum.Links++
		if hw, ok := byID[link.Label(network.LabelLinkID)]; ok {
			for _, name := range CopiedAttributes {
				link.Data[name] = hw.Data[name]
			}
			sum.Copied++
		} else {
			sum.Unmatched++
		}

		if speed, ok := opts.GuidewaySpeeds[config.GuidewayKey(link.Label(network.LabelConnectorType))]; ok {
			link.Data[network.AttrTransitTime] = 60 * link.Length / speed
			sum.GuidewayLinks++
		} else if speed := link.Data[network.AttrFreeFlowSpeed]; speed > 0 {
			t := 60 * link.Length / speed
			if link.Data[network.AttrFacilityType] != 1 {
				t += link.Length * NonFreewayMinutesPerMile
			}
			link.Data[network.AttrTransitTime] = t
		}

		if opts.ConnectorLength > 0 && (n.Node(link.I).IsCentroid || n.Node(link.J).IsCentroid) {
			link.Length = opts.ConnectorLength
			sum.Connectors++
		}
	}

	bound, err := bindLines(n, opts)
	if err != nil {
		return sum, err
	}
	sum.LinesBound = bound
	assignAuxModes(n, opts.Modes)

	zap.L().Info("transit: prepared reference network",
		zap.Int("links", sum.Links),
		zap.Int("copied", sum.Copied),
		zap.Int("unmatched", sum.Unmatched),
		zap.Int("guideway_links", sum.GuidewayLinks),
		zap.Int("connectors", sum.Connectors),
		zap.Int("lines_bound", sum.LinesBound),
	)
	return sum, nil
}

// bindLines opens each line's links to its vehicle's mode. Without a
// vehicle table lines are left as imported.
func bindLines(n *network.Network, opts Options) (int, error) {
	if len(opts.Vehicles) == 0 {
		return 0, nil
	}
	modeOf := make(map[string]string, len(opts.Vehicles))
	for _, v := range opts.Vehicles {
		modeOf[v.ID] = v.Mode
	}

	bound := 0
	for _, line := range n.TransitLines() {
		mode, ok := modeOf[line.Vehicle]
		if !ok {
			return bound, errs.New(errs.KindConsistency, "line "+line.ID,
				"transit: line requires vehicle %q which is not configured", line.Vehicle)
		}
		for _, seg := range line.Segments {
			n.Link(seg.I, seg.J).AddModes(mode)
		}
		bound++
	}
	return bound, nil
}

// assignAuxModes resets walk, access and egress modes: links leaving a
// centroid get egress modes, links entering one get access modes, and
// other links flagged @walk_link get walk modes.
func assignAuxModes(n *network.Network, modes []config.TransitMode) {
	var walk, access, egress []string
	for _, m := range modes {
		switch strings.ToUpper(m.Type) {
		case ModeWalk:
			walk = append(walk, m.ID)
		case ModeAccess:
			access = append(access, m.ID)
		case ModeEgress:
			egress = append(egress, m.ID)
		}
	}
	if len(walk)+len(access)+len(egress) == 0 {
		return
	}
	aux := append(append(append([]string{}, walk...), access...), egress...)

	for _, link := range n.Links() {
		link.RemoveModes(aux...)
		switch {
		case n.Node(link.I).IsCentroid:
			link.AddModes(egress...)
		case n.Node(link.J).IsCentroid:
			link.AddModes(access...)
		case link.Data[network.AttrWalkLink] != 0:
			link.AddModes(walk...)
		}
	}
}

// KeepPeriodLines deletes transit lines whose time period is not period,
// compared case-insensitively. It returns the number deleted.
func KeepPeriodLines(n *network.Network, period string) (int, error) {
	removed := 0
	for _, line := range n.TransitLines() {
		if strings.EqualFold(line.TimePeriod, period) {
			continue
		}
		if err := n.DeleteTransitLine(line.ID); err != nil {
			return removed, err
		}
		removed++
	}
	return removed, nil
}
