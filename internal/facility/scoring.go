package facility

import (
	"math"
	"sort"
	"strings"

	"github.com/example/emergency-dispatch/internal/eta"
	"github.com/example/emergency-dispatch/internal/geo"
	"github.com/example/emergency-dispatch/internal/models"
)

// Score weights.
const (
	specialtyExactPts   = 40.0
	specialtyGeneralPts = 20.0
	equipmentPts        = 30.0
	bedPts              = 20.0
	noBedPenalty        = 50.0
	distancePts         = 10.0
	distanceHorizonKm   = 20.0
	ratingPts           = 5.0
	emergencyPts        = 5.0

	generalSpecialty = "general"
)

type keywordRule struct {
	keywords  []string
	specialty string
	equipment []string
}

// Checked in order; the first rule whose keyword appears in the need picks the specialty.
// Equipment is the union over every matching rule.
var needRules = []keywordRule{
	{[]string{"cardiac", "heart"}, "cardiac", []string{"cath_lab", "icu", "ventilators"}},
	{[]string{"stroke"}, "neurology", []string{"ct_scanner", "icu"}},
	{[]string{"accident", "trauma"}, "trauma", []string{"ct_scanner", "operating_theatre", "blood_bank"}},
	{[]string{"respiratory", "breath"}, "respiratory", []string{"ventilators", "icu"}},
	{[]string{"burn"}, "burns", []string{"burn_unit", "icu"}},
	{[]string{"maternity", "pregnan", "labor", "labour"}, "maternity", []string{"labour_ward", "nicu"}},
	{[]string{"pediatric", "paediatric", "child"}, "pediatric", []string{"picu"}},
	{[]string{"orthopedic", "orthopaedic", "fracture"}, "orthopedic", []string{"x_ray", "operating_theatre"}},
}

var criticalEquipment = []string{"icu", "ventilators"}

// RequiredSpecialty resolves the canonical specialty for a free-text need.
func RequiredSpecialty(need string) string {
	n := strings.ToLower(need)
	for _, r := range needRules {
		if containsAny(n, r.keywords) {
			return r.specialty
		}
	}
	return generalSpecialty
}

// RequiredEquipment resolves the de-duplicated, sorted equipment tags for a need.
func RequiredEquipment(need string, p models.Priority) []string {
	n := strings.ToLower(need)
	set := make(map[string]struct{})
	for _, r := range needRules {
		if containsAny(n, r.keywords) {
			for _, e := range r.equipment {
				set[e] = struct{}{}
			}
		}
	}
	if p == models.PriorityCritical {
		for _, e := range criticalEquipment {
			set[e] = struct{}{}
		}
	}
	out := make([]string, 0, len(set))
	for e := range set {
		out = append(out, e)
	}
	sort.Strings(out)
	return out
}

// SelectBedType picks the pool scored for a query: ICU for critical patients, else the hint.
func SelectBedType(p models.Priority, hint models.BedType) models.BedType {
	if p == models.PriorityCritical {
		return models.BedICU
	}
	if hint.Valid() {
		return hint
	}
	return models.BedEmergency
}

type scoreInput struct {
	specialty string
	equipment []string
	bedType   models.BedType
	origin    models.Coord
	speedKmh  float64
}

func scoreFacility(f models.Facility, in scoreInput) models.ScoredFacility {
	sf := models.ScoredFacility{Facility: f, BedType: in.bedType}
	sf.DistanceKm = geo.DistanceKm(in.origin, f.Loc)
	sf.ETAMinutes = eta.Minutes(sf.DistanceKm, in.speedKmh)

	var score float64
	specs := lowerSet(f.Specialties)
	switch {
	case specs[in.specialty]:
		score += specialtyExactPts
		sf.MatchedSpecialty = in.specialty
	case specs[generalSpecialty]:
		score += specialtyGeneralPts
		sf.MatchedSpecialty = generalSpecialty
	}

	equip := lowerSet(f.Equipment)
	for _, e := range in.equipment {
		if equip[e] {
			sf.MatchedEquipment = append(sf.MatchedEquipment, e)
		}
	}
	ratio := 1.0
	if len(in.equipment) > 0 {
		ratio = float64(len(sf.MatchedEquipment)) / float64(len(in.equipment))
	}
	score += ratio * equipmentPts

	pool := f.Beds[in.bedType]
	if pool.Total > 0 {
		score += float64(pool.Available) / float64(pool.Total) * bedPts
	}
	if pool.Available <= 0 {
		score -= noBedPenalty
	}

	score += math.Max(0, 1-sf.DistanceKm/distanceHorizonKm) * distancePts
	score += f.Rating / 5 * ratingPts
	if f.AcceptsEmergency {
		score += emergencyPts
	}
	sf.Score = int(math.Round(score))
	return sf
}

// rank sorts descending by score, keeping enumeration order on ties, and marks the winner.
func rank(c []models.ScoredFacility) {
	sort.SliceStable(c, func(i, j int) bool { return c[i].Score > c[j].Score })
	if len(c) > 0 {
		c[0].Recommended = true
	}
}

func lowerSet(in []string) map[string]bool {
	out := make(map[string]bool, len(in))
	for _, s := range in {
		out[strings.ToLower(strings.TrimSpace(s))] = true
	}
	return out
}

func containsAny(s string, words []string) bool {
	for _, w := range words {
		if strings.Contains(s, w) {
			return true
		}
	}
	return false
}
