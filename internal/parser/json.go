package parser

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/stepscope/stepscope/internal/models"
)

func ParseJSONHyperparameters(reader io.Reader) (map[string]string, error) {
	var data models.HyperparametersFile
	decoder := json.NewDecoder(reader)

	if err := decoder.Decode(&data); err != nil {
		return nil, fmt.Errorf("failed to parse JSON hyperparameters: %w", err)
	}

	return data.Hyperparameters, nil
}

func ParseJSONJobSpec(reader io.Reader) (*models.JobSpec, error) {
	var data models.JobSpecFile
	decoder := json.NewDecoder(reader)

	if err := decoder.Decode(&data); err != nil {
		return nil, fmt.Errorf("failed to parse JSON job spec: %w", err)
	}

	return &data.Job, nil
}
