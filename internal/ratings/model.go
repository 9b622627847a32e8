package ratings

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/MarcoPoloResearchLab/shipmate/backend/internal/ships"
)

// CabinType enumerates the cabin arrangements a submitter can report.
type CabinType string

const (
	CabinTypeSingle CabinType = "single"
	CabinTypeDouble CabinType = "double"
	CabinTypeShared CabinType = "shared"
	CabinTypeNone   CabinType = "none"
)

// ParseCabinType maps raw form input onto the fixed enumeration. Anything
// unrecognized collapses to CabinTypeNone.
func ParseCabinType(value string) CabinType {
	switch CabinType(strings.ToLower(strings.TrimSpace(value))) {
	case CabinTypeSingle:
		return CabinTypeSingle
	case CabinTypeDouble:
		return CabinTypeDouble
	case CabinTypeShared:
		return CabinTypeShared
	default:
		return CabinTypeNone
	}
}

// CriterionEntry is one criterion's normalized score and note on a rating.
// Score 0 is the unrated sentinel and never contributes to a mean.
type CriterionEntry struct {
	Score float64 `json:"score"`
	Note  string  `json:"note"`
}

// Rating models one user's submitted evaluation of a ship. Rows are written
// once and never updated; created_at is assigned by the store at write time
// and is authoritative for ordering. A rating belongs to exactly one ship for
// its entire lifetime.
type Rating struct {
	ID                   string    `gorm:"column:rating_id;primaryKey;size:190;not null"`
	ShipID               string    `gorm:"column:ship_id;size:190;not null;index"`
	SubmitterUserID      string    `gorm:"column:submitter_user_id;size:190;not null"`
	SubmitterDisplayName string    `gorm:"column:submitter_display_name;size:320;not null;default:''"`
	DisembarkationDate   time.Time `gorm:"column:disembarkation_date"`
	CreatedAt            time.Time `gorm:"column:created_at"`
	CabinType            CabinType `gorm:"column:cabin_type;size:32;not null;default:'none'"`
	GeneralObservation   string    `gorm:"column:general_observation;type:text;not null;default:''"`
	ItemsJSON            string    `gorm:"column:items_json;type:text;not null"`
	SnapshotJSON         string    `gorm:"column:snapshot_json;type:text;not null;default:'{}'"`
}

// TableName provides the explicit table binding for GORM.
func (Rating) TableName() string {
	return "ratings"
}

// EncodeItems serializes the per-criterion map for storage.
func EncodeItems(items map[string]CriterionEntry) (string, error) {
	encoded, err := json.Marshal(items)
	if err != nil {
		return "", err
	}
	return string(encoded), nil
}

// DecodeItems parses a stored items column.
func DecodeItems(stored string) (map[string]CriterionEntry, error) {
	items := map[string]CriterionEntry{}
	if strings.TrimSpace(stored) == "" {
		return items, nil
	}
	if err := json.Unmarshal([]byte(stored), &items); err != nil {
		return nil, err
	}
	return items, nil
}

// EncodeSnapshot serializes the submitter's ship-info snapshot.
func EncodeSnapshot(info ships.Info) (string, error) {
	encoded, err := json.Marshal(info)
	if err != nil {
		return "", err
	}
	return string(encoded), nil
}

// DecodeSnapshot parses a stored snapshot column.
func DecodeSnapshot(stored string) (ships.Info, error) {
	if strings.TrimSpace(stored) == "" {
		return ships.Info{}, nil
	}
	var info ships.Info
	if err := json.Unmarshal([]byte(stored), &info); err != nil {
		return ships.Info{}, err
	}
	return info, nil
}

// EffectiveTimestamp returns the ordering timestamp for a rating: the
// server-assigned creation time when present, falling back to the
// user-supplied disembarkation date for rows that predate the created_at
// column.
func (r Rating) EffectiveTimestamp() time.Time {
	if !r.CreatedAt.IsZero() {
		return r.CreatedAt
	}
	return r.DisembarkationDate
}
