// Package linkattr derives capacity class, free-flow speed and free-flow
// time for highway links.
package linkattr

import (
	"fmt"
	"slices"

	"go.uber.org/zap"

	"github.com/sells-group/netprep/internal/config"
	"github.com/sells-group/netprep/internal/errs"
	"github.com/sells-group/netprep/internal/network"
)

// DefaultSpeed is the free-flow speed in mph for classes without a speed.
const DefaultSpeed = 25.0

// Capclass combines area type and facility type. Links without an area
// type get -1.
func Capclass(areaType, facilityType int) int {
	if areaType < 0 {
		return -1
	}
	return 10*areaType + facilityType
}

// SpeedTable maps capacity classes to free-flow speeds.
type SpeedTable struct {
	speeds map[int]float64
}

// NewSpeedTable builds a table from configured rows. Rows without a speed
// are skipped; a capclass listed twice is a configuration error.
func NewSpeedTable(rows []config.CapclassSpeed) (*SpeedTable, error) {
	t := &SpeedTable{speeds: make(map[int]float64, len(rows))}
	seen := make(map[int]bool, len(rows))
	for _, row := range rows {
		if seen[row.Capclass] {
			return nil, errs.New(errs.KindConfiguration, fmt.Sprintf("capclass %d", row.Capclass),
				"linkattr: capclass listed twice in capclass_lookup")
		}
		seen[row.Capclass] = true
		if row.FreeFlowSpeed == nil {
			continue
		}
		t.speeds[row.Capclass] = *row.FreeFlowSpeed
	}
	return t, nil
}

// Len returns the number of classes with a speed.
func (t *SpeedTable) Len() int { return len(t.speeds) }

// Classes returns the classes with a speed in ascending order.
func (t *SpeedTable) Classes() []int {
	out := make([]int, 0, len(t.speeds))
	for c := range t.speeds {
		out = append(out, c)
	}
	slices.Sort(out)
	return out
}

// FreeFlowSpeed returns the configured speed for capclass, or DefaultSpeed
// when the class is absent or its speed is zero.
func (t *SpeedTable) FreeFlowSpeed(capclass int) float64 {
	if s := t.speeds[capclass]; s != 0 {
		return s
	}
	return DefaultSpeed
}

// FreeFlowTime returns minutes to traverse lengthMiles at speedMPH. A zero
// speed is treated as DefaultSpeed.
func FreeFlowTime(lengthMiles, speedMPH float64) float64 {
	if speedMPH == 0 {
		speedMPH = DefaultSpeed
	}
	return 60 * lengthMiles / speedMPH
}

// Summary reports what Apply did.
type Summary struct {
	Links        int
	Unclassified int
	Defaulted    int
}

// LinkAttributes lists the attributes Apply writes.
var LinkAttributes = []string{
	network.AttrCapclass,
	network.AttrFreeFlowSpeed,
	network.AttrFreeFlowTime,
}

// Apply stamps @capclass, @free_flow_speed and @free_flow_time on every link
// of n, reading @area_type and @ft. Missing output attributes are created.
func Apply(n *network.Network, t *SpeedTable) (Summary, error) {
	var sum Summary
	for _, name := range []string{network.AttrAreaType, network.AttrFacilityType} {
		if _, ok := n.ExtraAttribute(name); !ok {
			return sum, errs.New(errs.KindConfiguration, "attribute "+name,
				"linkattr: network has no %s attribute", name)
		}
	}
	for _, name := range LinkAttributes {
		if _, err := n.CreateExtraAttribute(network.DomainLink, name, 0); err != nil {
			return sum, err
		}
	}

	for _, link := range n.Links() {
		cc := Capclass(int(link.Data[network.AttrAreaType]), int(link.Data[network.AttrFacilityType]))
		speed := t.FreeFlowSpeed(cc)
		link.Data[network.AttrCapclass] = float64(cc)
		link.Data[network.AttrFreeFlowSpeed] = speed
		link.Data[network.AttrFreeFlowTime] = FreeFlowTime(link.Length, speed)

		sum.Links++
		if cc < 0 {
			sum.Unclassified++
		}
		if t.speeds[cc] == 0 {
			sum.Defaulted++
		}
	}

	zap.L().Info("linkattr: derived link attributes",
		zap.Int("links", sum.Links),
		zap.Int("unclassified", sum.Unclassified),
		zap.Int("default_speed", sum.Defaulted),
		zap.Int("speed_classes", t.Len()),
	)
	return sum, nil
}
