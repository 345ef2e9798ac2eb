package triage

import (
	"errors"
	"math"
	"regexp"
	"strconv"
	"strings"
)

const (
	defaultSystolic = 120
	criticalBonus   = 10
)

var systolicPattern = regexp.MustCompile(`(\d+)/\d+`)

// criticalSymptoms add criticalBonus once, however many of them appear.
var criticalSymptoms = []string{
	"chest pain",
	"shortness of breath",
	"difficulty breathing",
	"unconscious",
	"severe bleeding",
	"stroke",
	"seizure",
}

// Score converts vitals into an urgency score. Higher is more urgent. The
// result is deterministic and has no upper bound.
func Score(v Vitals) int {
	score := v.PainLevel * 2

	if v.HeartRate > 100 || v.HeartRate < 50 {
		score += 3
	}

	systolic := Systolic(v.BloodPressure)
	switch {
	case systolic > 140:
		score += 3
	case systolic < 90:
		score += 4
	}

	if HasCriticalSymptom(v.Symptoms) {
		score += criticalBonus
	}
	return score
}

// Systolic returns the systolic reading of a "systolic/diastolic" string,
// or 120 when none can be found. Readings too large for an int saturate at
// math.MaxInt.
func Systolic(bp string) int {
	m := systolicPattern.FindStringSubmatch(bp)
	if m == nil {
		return defaultSystolic
	}
	n, err := strconv.Atoi(m[1])
	if errors.Is(err, strconv.ErrRange) {
		return math.MaxInt
	}
	if err != nil {
		return defaultSystolic
	}
	return n
}

func HasCriticalSymptom(symptoms string) bool {
	s := strings.ToLower(symptoms)
	for _, kw := range criticalSymptoms {
		if strings.Contains(s, kw) {
			return true
		}
	}
	return false
}
