package classifier

import (
	"os"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"
)

// LoadConfig reads classification thresholds from a YAML file. Fields left
// at zero fall back to the defaults, so a partial override file is valid.
func LoadConfig(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, eris.Wrapf(err, "classifier: read config %s", path)
	}

	// The YAML has a top-level "classifier" key.
	var wrapper struct {
		Classifier Config `yaml:"classifier"`
	}
	if err := yaml.Unmarshal(data, &wrapper); err != nil {
		return Config{}, eris.Wrapf(err, "classifier: parse config %s", path)
	}

	cfg := wrapper.Classifier
	def := DefaultConfig()
	if cfg.DeviationTolerance == 0 {
		cfg.DeviationTolerance = def.DeviationTolerance
	}
	if cfg.HighConfidence == 0 {
		cfg.HighConfidence = def.HighConfidence
	}
	if cfg.AutoApplyConfidence == 0 {
		cfg.AutoApplyConfidence = def.AutoApplyConfidence
	}
	if cfg.ValidationMismatch == 0 {
		cfg.ValidationMismatch = def.ValidationMismatch
	}
	return cfg, nil
}
