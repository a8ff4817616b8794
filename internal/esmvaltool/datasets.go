package esmvaltool

import (
	"maps"
	"slices"
)

var datasets = map[string]Dataset{
	"ERA5": {
		Dataset: "ERA5",
		Project: "OBS6",
		Tier:    3,
		Type:    "reanaly",
		Version: 1,
	},
	"ERA-Interim": {
		Dataset: "ERA-Interim",
		Project: "OBS6",
		Tier:    3,
		Type:    "reanaly",
		Version: 1,
	},
}

// LookupDataset returns a predefined forcing dataset by name.
func LookupDataset(name string) (Dataset, bool) {
	d, ok := datasets[name]
	if ok && d.Extra != nil {
		d.Extra = maps.Clone(d.Extra)
	}
	return d, ok
}

// DatasetNames lists the predefined forcing datasets.
func DatasetNames() []string {
	return slices.Sorted(maps.Keys(datasets))
}
