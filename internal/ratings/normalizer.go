package ratings

import (
	"encoding/json"
	"math"
	"strconv"
	"strings"

	"github.com/MarcoPoloResearchLab/shipmate/backend/internal/catalog"
	"github.com/MarcoPoloResearchLab/shipmate/backend/internal/ships"
)

// RawCriterionEntry carries one criterion's untrusted form input. Score and
// note arrive as whatever JSON produced; normalization is total over them.
type RawCriterionEntry struct {
	Score interface{} `json:"score"`
	Note  interface{} `json:"note"`
}

// RawShipInfo carries the untrusted ship-info snapshot from the form.
type RawShipInfo struct {
	CrewNationality interface{} `json:"crewNationality"`
	CabinCount      interface{} `json:"cabinCount"`
	HasMinibar      interface{} `json:"hasMinibar"`
	HasSink         interface{} `json:"hasSink"`
}

// NormalizeItems converts raw per-criterion input into a complete map over
// every catalog criterion. Missing criteria get the unrated sentinel (score 0,
// empty note); scores outside [1, 5] and unparseable values also collapse to
// the sentinel so downstream aggregation never sees malformed data. Raw keys
// outside the catalog are dropped.
func NormalizeItems(raw map[string]RawCriterionEntry) map[string]CriterionEntry {
	normalized := make(map[string]CriterionEntry, len(catalog.All()))
	for _, criterion := range catalog.All() {
		entry, present := raw[string(criterion)]
		if !present {
			normalized[string(criterion)] = CriterionEntry{}
			continue
		}
		normalized[string(criterion)] = CriterionEntry{
			Score: coerceScore(entry.Score),
			Note:  coerceNote(entry.Note),
		}
	}
	return normalized
}

// NormalizeShipInfo coerces the raw snapshot into typed optional fields.
// A blank nationality is treated as absent; cabin counts clamp to zero;
// minibar and sink are true only on an exact boolean true.
func NormalizeShipInfo(raw RawShipInfo) ships.Info {
	info := ships.Info{}
	if nationality, ok := raw.CrewNationality.(string); ok {
		if trimmed := strings.TrimSpace(nationality); trimmed != "" {
			info.CrewNationality = &trimmed
		}
	}
	if raw.CabinCount != nil {
		count := coerceCabinCount(raw.CabinCount)
		info.CabinCount = &count
	}
	if raw.HasMinibar != nil {
		minibar := coerceBool(raw.HasMinibar)
		info.HasMinibar = &minibar
	}
	if raw.HasSink != nil {
		sink := coerceBool(raw.HasSink)
		info.HasSink = &sink
	}
	return info
}

// coerceScore accepts numeric or numeric-string input with either decimal
// separator. Anything unparseable, non-finite, or outside [1, 5] becomes the
// unrated sentinel.
func coerceScore(value interface{}) float64 {
	score := 0.0
	switch typed := value.(type) {
	case float64:
		score = typed
	case float32:
		score = float64(typed)
	case int:
		score = float64(typed)
	case int64:
		score = float64(typed)
	case json.Number:
		parsed, err := typed.Float64()
		if err != nil {
			return 0
		}
		score = parsed
	case string:
		cleaned := strings.ReplaceAll(strings.TrimSpace(typed), ",", ".")
		parsed, err := strconv.ParseFloat(cleaned, 64)
		if err != nil {
			return 0
		}
		score = parsed
	default:
		return 0
	}
	if math.IsNaN(score) || math.IsInf(score, 0) {
		return 0
	}
	if score < 1.0 || score > 5.0 {
		return 0
	}
	return score
}

func coerceNote(value interface{}) string {
	note, ok := value.(string)
	if !ok {
		return ""
	}
	return strings.TrimSpace(note)
}

func coerceCabinCount(value interface{}) int {
	count := 0
	switch typed := value.(type) {
	case float64:
		count = int(typed)
	case int:
		count = typed
	case int64:
		count = int(typed)
	case json.Number:
		parsed, err := typed.Int64()
		if err != nil {
			return 0
		}
		count = int(parsed)
	case string:
		parsed, err := strconv.Atoi(strings.TrimSpace(typed))
		if err != nil {
			return 0
		}
		count = parsed
	default:
		return 0
	}
	if count < 0 {
		return 0
	}
	return count
}

func coerceBool(value interface{}) bool {
	typed, ok := value.(bool)
	return ok && typed
}
