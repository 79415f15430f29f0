package am

import (
	"encoding/json"

	"github.com/pelletier/go-toml/v2"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/teranos/croplink/errors"
)

// Output formats supported by Render
const (
	FormatTOML = "toml"
	FormatJSON = "json"
	FormatYAML = "yaml"
)

// redactedKeys are masked in rendered output
var redactedKeys = map[string]bool{
	"agent.api_key": true,
}

// Render serializes the effective settings of v in the given format.
// Secrets are masked.
func Render(v *viper.Viper, format string) ([]byte, error) {
	settings := redact(v.AllSettings(), "")

	switch format {
	case FormatTOML, "":
		out, err := toml.Marshal(settings)
		return out, errors.Wrap(err, "failed to render config as toml")
	case FormatJSON:
		out, err := json.MarshalIndent(settings, "", "  ")
		return out, errors.Wrap(err, "failed to render config as json")
	case FormatYAML:
		out, err := yaml.Marshal(settings)
		return out, errors.Wrap(err, "failed to render config as yaml")
	default:
		return nil, errors.NewInvalidRequestError("unknown format %q (want toml, json or yaml)", format)
	}
}

func redact(settings map[string]interface{}, prefix string) map[string]interface{} {
	out := make(map[string]interface{}, len(settings))
	for key, value := range settings {
		full := key
		if prefix != "" {
			full = prefix + "." + key
		}
		switch typed := value.(type) {
		case map[string]interface{}:
			out[key] = redact(typed, full)
		default:
			if redactedKeys[full] && value != "" && value != nil {
				out[key] = "********"
			} else {
				out[key] = value
			}
		}
	}
	return out
}
