package content

import (
	"github.com/teranos/croplink/sourcecfg"
)

func qcSource() *sourcecfg.Source {
	return &sourcecfg.Source{Config: &sourcecfg.SourceConfig{
		SourceID: "qc-result",
		Enabled:  true,
		Ingestion: sourcecfg.Ingestion{
			Mode:             sourcecfg.ModeEventTriggered,
			LandingContainer: "qc-landing",
			PathPattern: sourcecfg.PathPattern{
				Template: "results/{farmer_id}/{batch_id}.json",
				Fields:   []string{"farmer_id", "batch_id"},
			},
		},
		Transformation: sourcecfg.Transformation{
			Strategy: sourcecfg.StrategyDirect,
			FieldMappings: map[string]string{
				"grade":      "result.grade",
				"factory_id": "factory",
				"moisture":   "result.readings.0.value",
			},
		},
	}}
}

func weatherSource() *sourcecfg.Source {
	return &sourcecfg.Source{Config: &sourcecfg.SourceConfig{
		SourceID: "weather-daily",
		Enabled:  true,
		Ingestion: sourcecfg.Ingestion{
			Mode:      sourcecfg.ModeScheduledPull,
			Schedule:  "0 6 * * *",
			Request:   &sourcecfg.Request{URL: "https://api.weather.example.com/v1/daily?region={region_id}"},
			Iteration: &sourcecfg.Iteration{Resolver: "active_regions", Param: "region_id"},
		},
		Transformation: sourcecfg.Transformation{Strategy: sourcecfg.StrategyAgent, AgentID: "weather-extractor"},
	}}
}

const qcBody = `{"factory": "FAC-9", "result": {"grade": "A", "readings": [{"value": 13.2}]}}`

func qcRef() Ref {
	return Ref{
		SourceID:  "qc-result",
		Container: "qc-landing",
		Path:      "results/FRM-001/B-77.json",
		Metadata:  map[string]string{"farmer_id": "FRM-001", "batch_id": "B-77"},
	}
}
