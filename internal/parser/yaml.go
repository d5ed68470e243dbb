package parser

import (
	"fmt"
	"io"

	"gopkg.in/yaml.v3"

	"github.com/stepscope/stepscope/internal/models"
)

func ParseYAMLHyperparameters(reader io.Reader) (map[string]string, error) {
	var data models.HyperparametersFile
	decoder := yaml.NewDecoder(reader)

	if err := decoder.Decode(&data); err != nil {
		return nil, fmt.Errorf("failed to parse YAML hyperparameters: %w", err)
	}

	return data.Hyperparameters, nil
}

func ParseYAMLJobSpec(reader io.Reader) (*models.JobSpec, error) {
	var data models.JobSpecFile
	decoder := yaml.NewDecoder(reader)

	if err := decoder.Decode(&data); err != nil {
		return nil, fmt.Errorf("failed to parse YAML job spec: %w", err)
	}

	return &data.Job, nil
}
