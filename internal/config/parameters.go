package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// LoadParameters reads extra stack set template parameters from the YAML
// file named by STACKSET_PARAMETERS_FILE. The file is a flat mapping of
// parameter key to value. An empty path yields no parameters.
func (c *Config) LoadParameters() (map[string]string, error) {
	if c.ParametersFile == "" {
		return nil, nil
	}

	data, err := os.ReadFile(c.ParametersFile)
	if err != nil {
		return nil, fmt.Errorf("read parameters file: %w", err)
	}

	params := map[string]string{}
	if err := yaml.Unmarshal(data, &params); err != nil {
		return nil, fmt.Errorf("parse parameters file %s: %w", c.ParametersFile, err)
	}
	return params, nil
}
