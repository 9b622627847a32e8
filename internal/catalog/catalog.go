// Package catalog holds the fixed set of rating criteria and their stable
// aggregate keys. The name-to-key mapping is a storage contract: renaming a
// shipped pair would orphan every previously stored aggregate key, so the
// table is append-only and guarded by a fingerprint check at startup.
package catalog

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
)

// Criterion names one axis of evaluation as it appears on rating records.
type Criterion string

const (
	CriterionDevice       Criterion = "embarkation/disembarkation device"
	CriterionCabinTemp    Criterion = "cabin temperature"
	CriterionCabinClean   Criterion = "cabin cleanliness"
	CriterionBridgeEquip  Criterion = "bridge equipment"
	CriterionBridgeTemp   Criterion = "bridge temperature"
	CriterionFood         Criterion = "food"
	CriterionRelationship Criterion = "relationship with command/crew"
)

// mappingEntry binds a criterion name to its aggregate storage key.
type mappingEntry struct {
	Name Criterion
	Key  string
}

// mappingTable is the single authoritative criterion-to-key table, in display
// order. Append new criteria at the end; never edit an existing row.
var mappingTable = []mappingEntry{
	{Name: CriterionDevice, Key: "device"},
	{Name: CriterionCabinTemp, Key: "cabin_temp"},
	{Name: CriterionCabinClean, Key: "cabin_clean"},
	{Name: CriterionBridgeEquip, Key: "bridge_equip"},
	{Name: CriterionBridgeTemp, Key: "bridge_temp"},
	{Name: CriterionFood, Key: "food"},
	{Name: CriterionRelationship, Key: "relationship"},
}

const (
	// shippedMappingCount covers the rows that have reached production
	// storage. Rows past this index are staged additions.
	shippedMappingCount = 7
	// shippedMappingDigest is the fingerprint of the shipped rows.
	shippedMappingDigest = "07e14ac918534700b81e67d2e5f292ddf1aad1cf1ce6d288eafa548b404a15e5"
)

// ErrMappingAltered indicates a shipped criterion-to-key row was changed.
var ErrMappingAltered = errors.New("catalog: shipped criterion mapping altered")

// All returns every catalog criterion in display order.
func All() []Criterion {
	criteria := make([]Criterion, 0, len(mappingTable))
	for _, entry := range mappingTable {
		criteria = append(criteria, entry.Name)
	}
	return criteria
}

// Keys returns every aggregate key in display order.
func Keys() []string {
	keys := make([]string, 0, len(mappingTable))
	for _, entry := range mappingTable {
		keys = append(keys, entry.Key)
	}
	return keys
}

// AggregateKey translates a criterion name to its aggregate key. Unrecognized
// names return ok=false; callers skip them to tolerate schema drift between
// writers running different catalog versions.
func AggregateKey(name string) (string, bool) {
	for _, entry := range mappingTable {
		if string(entry.Name) == name {
			return entry.Key, true
		}
	}
	return "", false
}

// VerifyMapping recomputes the fingerprint of the shipped mapping rows and
// fails when any of them was renamed or reordered. Invoked once at startup.
func VerifyMapping() error {
	if len(mappingTable) < shippedMappingCount {
		return fmt.Errorf("%w: %d shipped rows expected, %d present", ErrMappingAltered, shippedMappingCount, len(mappingTable))
	}
	if digest := fingerprint(mappingTable[:shippedMappingCount]); digest != shippedMappingDigest {
		return fmt.Errorf("%w: fingerprint %s", ErrMappingAltered, digest)
	}
	return nil
}

func fingerprint(entries []mappingEntry) string {
	lines := make([]string, 0, len(entries))
	for _, entry := range entries {
		lines = append(lines, string(entry.Name)+"="+entry.Key)
	}
	sum := sha256.Sum256([]byte(strings.Join(lines, "\n")))
	return hex.EncodeToString(sum[:])
}
