package sourcecfg

func qcResultConfig() *SourceConfig {
	return &SourceConfig{
		SourceID:    "qc-result",
		Version:     "1.0.0",
		DisplayName: "QC results",
		Enabled:     true,
		Ingestion: Ingestion{
			Mode:             ModeEventTriggered,
			LandingContainer: "qc-landing",
			PathPattern: PathPattern{
				Template: "results/{farmer_id}/{batch_id}.json",
				Fields:   []string{"farmer_id", "batch_id"},
			},
		},
		Transformation: Transformation{
			Strategy:      StrategyDirect,
			FieldMappings: map[string]string{"grade": "result.grade", "factory_id": "factory"},
		},
		Linkage: []LinkageField{{Kind: LinkFarmer}, {Kind: LinkFactory}},
	}
}

func weatherConfig() *SourceConfig {
	return &SourceConfig{
		SourceID: "weather-daily",
		Enabled:  true,
		Ingestion: Ingestion{
			Mode:      ModeScheduledPull,
			Schedule:  "0 6 * * *",
			Request:   &Request{Method: "GET", URL: "https://api.weather.example.com/v1/daily?region={region_id}"},
			Iteration: &Iteration{Resolver: "active_regions", Param: "region_id"},
		},
		Transformation: Transformation{Strategy: StrategyAgent, AgentID: "weather-extractor"},
		Linkage:        []LinkageField{{Kind: LinkRegion}},
	}
}
