package ships

import (
	"encoding/json"
	"strings"
	"time"
)

// Ship models a rated vessel. The means column caches per-criterion averages
// keyed by aggregate key; it is always recomputable from the ship's ratings
// and is replaced wholesale, never patched.
type Ship struct {
	ID              string    `gorm:"column:ship_id;primaryKey;size:190;not null"`
	Name            string    `gorm:"column:name;size:320;not null;index"`
	IMO             *string   `gorm:"column:imo;size:32;uniqueIndex"`
	CrewNationality *string   `gorm:"column:crew_nationality;size:190"`
	CabinCount      *int      `gorm:"column:cabin_count"`
	HasMinibar      *bool     `gorm:"column:has_minibar"`
	HasSink         *bool     `gorm:"column:has_sink"`
	MeansJSON       string    `gorm:"column:means_json;type:text;not null;default:'{}'"`
	CreatedAt       time.Time `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt       time.Time `gorm:"column:updated_at;autoUpdateTime"`
}

// TableName provides the explicit table binding for GORM.
func (Ship) TableName() string {
	return "ships"
}

// Info carries the optional ship attributes a submitter may report. A nil
// field means the submitter said nothing about it; merge semantics overwrite
// only the fields that are present.
type Info struct {
	CrewNationality *string `json:"crewNationality,omitempty"`
	CabinCount      *int    `json:"cabinCount,omitempty"`
	HasMinibar      *bool   `json:"hasMinibar,omitempty"`
	HasSink         *bool   `json:"hasSink,omitempty"`
}

// ColumnUpdates maps the snapshot's present fields to their ship columns.
// Fields absent from the snapshot are absent from the map, so a merge built
// from it never rewrites a column the submitter said nothing about. An empty
// form yields an empty map.
func (i Info) ColumnUpdates() map[string]interface{} {
	updates := map[string]interface{}{}
	if i.CrewNationality != nil {
		if trimmed := strings.TrimSpace(*i.CrewNationality); trimmed != "" {
			updates["crew_nationality"] = trimmed
		}
	}
	if i.CabinCount != nil {
		count := *i.CabinCount
		if count < 0 {
			count = 0
		}
		updates["cabin_count"] = count
	}
	if i.HasMinibar != nil {
		updates["has_minibar"] = *i.HasMinibar
	}
	if i.HasSink != nil {
		updates["has_sink"] = *i.HasSink
	}
	return updates
}

// EncodeMeans serializes a means map for storage. An empty or nil map encodes
// as the canonical empty object so a reset never leaves stale keys behind.
func EncodeMeans(means map[string]float64) (string, error) {
	if len(means) == 0 {
		return "{}", nil
	}
	encoded, err := json.Marshal(means)
	if err != nil {
		return "", err
	}
	return string(encoded), nil
}

// DecodeMeans parses a stored means column. Blank columns decode as empty.
func DecodeMeans(stored string) (map[string]float64, error) {
	if strings.TrimSpace(stored) == "" {
		return map[string]float64{}, nil
	}
	means := map[string]float64{}
	if err := json.Unmarshal([]byte(stored), &means); err != nil {
		return nil, err
	}
	return means, nil
}
