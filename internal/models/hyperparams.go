package models

// HyperparametersFile is the on-disk shape accepted by --from-file flags.
type HyperparametersFile struct {
	Hyperparameters map[string]string `json:"hyperparameters" yaml:"hyperparameters"`
}

// JobSpecFile wraps a JobSpec for file-based submission.
type JobSpecFile struct {
	Job JobSpec `json:"job" yaml:"job"`
}
