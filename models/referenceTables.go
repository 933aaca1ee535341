package models

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
)

// ReferenceTables holds the static vial mapping and NIP figures.
// Keys are lower-cased, trimmed vaccine names. Treat a loaded value as read-only.
type ReferenceTables struct {
	VialMapping      map[string]int `json:"vial_mapping"`
	NIPVialsNeeded   map[string]int `json:"nip_vials_needed"`
	NIPMaxAllocation map[string]int `json:"nip_max_allocation"`
}

func NormalizeVaccineName(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

// DefaultReferenceTables returns the built-in NIP tables.
func DefaultReferenceTables() ReferenceTables {
	return ReferenceTables{
		VialMapping: map[string]int{
			"bcg":                20,
			"hepatitis b":        1,
			"pentavalent":        1,
			"oral polio vaccine": 20,
			"opv":                20,
			"inactivated polio":  5,
			"ipv":                5,
			"pneumococcal":       4,
			"pcv":                4,
			"measles":            10,
			"mmr":                10,
			"measles & rubella":  10,
			"tetanus diphtheria": 10,
			"td":                 10,
			"tetanus toxoid":     10,
			"hpv":                1,
		},
		NIPVialsNeeded: map[string]int{
			"bcg":                3,
			"hepatitis b":        20,
			"pentavalent":        60,
			"oral polio vaccine": 5,
			"opv":                5,
			"inactivated polio":  8,
			"ipv":                8,
			"pneumococcal":       15,
			"pcv":                15,
			"measles":            4,
			"mmr":                4,
			"measles & rubella":  4,
			"tetanus diphtheria": 6,
			"td":                 6,
			"tetanus toxoid":     6,
			"hpv":                20,
		},
		NIPMaxAllocation: map[string]int{
			"bcg":                120,
			"hepatitis b":        40,
			"pentavalent":        120,
			"oral polio vaccine": 200,
			"opv":                200,
			"inactivated polio":  80,
			"ipv":                80,
			"pneumococcal":       120,
			"pcv":                120,
			"measles":            80,
			"mmr":                80,
			"measles & rubella":  80,
			"tetanus diphtheria": 120,
			"td":                 120,
			"tetanus toxoid":     120,
			"hpv":                40,
		},
	}
}

// LoadReferenceTables starts from the defaults and overlays the JSON file at path.
// An empty path returns the defaults.
func LoadReferenceTables(path string) (ReferenceTables, error) {
	tables := DefaultReferenceTables()
	if path == "" {
		return tables, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return tables, fmt.Errorf("read reference tables %s: %w", path, err)
	}
	var override ReferenceTables
	if err := json.Unmarshal(data, &override); err != nil {
		return tables, fmt.Errorf("parse reference tables %s: %w", path, err)
	}
	mergeTable(tables.VialMapping, override.VialMapping)
	mergeTable(tables.NIPVialsNeeded, override.NIPVialsNeeded)
	mergeTable(tables.NIPMaxAllocation, override.NIPMaxAllocation)
	return tables, nil
}

func mergeTable(dst map[string]int, src map[string]int) {
	for name, v := range src {
		dst[NormalizeVaccineName(name)] = v
	}
}

// DosesPerVial defaults to 1 for unmapped vaccines.
func (r ReferenceTables) DosesPerVial(vaccineName string) int {
	if v, ok := r.VialMapping[NormalizeVaccineName(vaccineName)]; ok && v > 0 {
		return v
	}
	return 1
}

func (r ReferenceTables) VialsNeeded(vaccineName string) int {
	return r.NIPVialsNeeded[NormalizeVaccineName(vaccineName)]
}

func (r ReferenceTables) MaxAllocation(vaccineName string) int {
	return r.NIPMaxAllocation[NormalizeVaccineName(vaccineName)]
}
