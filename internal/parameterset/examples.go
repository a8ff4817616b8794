package parameterset

// Examples returns the example parameter sets of the bundled model plugins.
func Examples() []ParameterSet {
	return []ParameterSet{
		{
			Name:                   "wflow_rhine_sbm_nc",
			Directory:              "wflow_rhine_sbm_nc",
			Config:                 "wflow_sbm_NC.ini",
			DOI:                    "N/A",
			TargetModel:            "wflow",
			SupportedModelVersions: []string{"2020.1.1", "2020.1.2", "2020.1.3"},
			Downloader: GitHubDownloader{
				Org:       "openstreams",
				Repo:      "wflow",
				Branch:    "master",
				Subfolder: "examples/wflow_rhine_sbm_nc",
			},
		},
		{
			Name:                   "pcrglobwb_rhinemeuse_30min",
			Directory:              "pcrglobwb_rhinemeuse_30min",
			Config:                 "ini_and_batch_files/deltares_laptop/setup_natural_test.ini",
			DOI:                    "https://doi.org/10.5281/zenodo.1045339",
			TargetModel:            "pcrglobwb",
			SupportedModelVersions: []string{"setters"},
			Downloader: GitHubDownloader{
				Org:       "UU-Hydro",
				Repo:      "PCR-GLOBWB_input_example",
				Branch:    "master",
				Subfolder: "RhineMeuse30min",
			},
		},
		{
			Name:                   "lisflood_fraser",
			Directory:              "lisflood_fraser",
			Config:                 "settings_lat_lon-Run.xml",
			DOI:                    "N/A",
			TargetModel:            "lisflood",
			SupportedModelVersions: []string{"20.10"},
			Downloader: GitHubDownloader{
				Org:       "ec-jrc",
				Repo:      "lisflood-usecases",
				Branch:    "master",
				Subfolder: "LF_lat_lon_UseCase",
			},
		},
	}
}

// Example returns the example with the given name.
func Example(name string) (ParameterSet, bool) {
	for _, ps := range Examples() {
		if ps.Name == name {
			return ps, true
		}
	}
	return ParameterSet{}, false
}
