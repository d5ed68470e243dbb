// Package dataset prepares the local training corpus profiling jobs
// consume: deterministic synthetic records encoded as gzip-compressed JSON
// Lines shards, described by a manifest uploaded alongside them.
package dataset

import (
	"compress/gzip"
	"encoding/json"
	"fmt"
	"math"
	"math/rand"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/stepscope/stepscope/internal/models"
)

const (
	ManifestFileName = "manifest.yaml"

	shardPattern = "shard-%05d.jsonl.gz"

	defaultName       = "synthetic-vision"
	defaultRecords    = 10000
	defaultShardSize  = 2500
	defaultFeatureDim = 8
	defaultSeed       = int64(42)
)

// Record is one synthetic training example.
type Record struct {
	ID       int       `json:"id"`
	Features []float64 `json:"features"`
	Label    int       `json:"label"`
}

type Options struct {
	Name       string
	Records    int
	ShardSize  int
	FeatureDim int
	Seed       int64
}

func (o Options) withDefaults() Options {
	if o.Name == "" {
		o.Name = defaultName
	}
	if o.Records <= 0 {
		o.Records = defaultRecords
	}
	if o.ShardSize <= 0 {
		o.ShardSize = defaultShardSize
	}
	if o.FeatureDim <= 0 {
		o.FeatureDim = defaultFeatureDim
	}
	if o.Seed == 0 {
		o.Seed = defaultSeed
	}
	return o
}

// Prepare writes the encoded shards and their manifest into dataDir. The
// same seed always produces byte-identical shards, so re-preparing an
// existing directory is idempotent apart from the manifest timestamp.
func Prepare(dataDir string, opts Options) (*models.DatasetManifest, error) {
	opts = opts.withDefaults()

	if err := os.MkdirAll(dataDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data dir: %w", err)
	}

	rng := rand.New(rand.NewSource(opts.Seed))
	var shards []string
	for first := 0; first < opts.Records; first += opts.ShardSize {
		count := opts.ShardSize
		if first+count > opts.Records {
			count = opts.Records - first
		}

		name := fmt.Sprintf(shardPattern, len(shards))
		if err := writeShard(filepath.Join(dataDir, name), first, count, opts.FeatureDim, rng); err != nil {
			return nil, fmt.Errorf("failed to write shard %s: %w", name, err)
		}
		shards = append(shards, name)
	}

	manifest := &models.DatasetManifest{
		Name:      opts.Name,
		Format:    "jsonl.gz",
		Shards:    shards,
		Records:   opts.Records,
		Seed:      opts.Seed,
		CreatedAt: time.Now().UTC(),
	}
	if err := writeManifest(filepath.Join(dataDir, ManifestFileName), manifest); err != nil {
		return nil, err
	}
	return manifest, nil
}

func writeShard(path string, first, count, featureDim int, rng *rand.Rand) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	// Default gzip headers carry no timestamp, keeping shards
	// byte-identical across runs.
	zw := gzip.NewWriter(f)
	enc := json.NewEncoder(zw)
	for i := 0; i < count; i++ {
		rec := Record{
			ID:       first + i,
			Features: make([]float64, featureDim),
			Label:    rng.Intn(10),
		}
		for d := range rec.Features {
			rec.Features[d] = math.Round(rng.NormFloat64()*1000) / 1000
		}
		if err := enc.Encode(rec); err != nil {
			return err
		}
	}
	if err := zw.Close(); err != nil {
		return err
	}
	return f.Close()
}

func writeManifest(path string, manifest *models.DatasetManifest) error {
	data, err := yaml.Marshal(manifest)
	if err != nil {
		return fmt.Errorf("failed to encode manifest: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write manifest: %w", err)
	}
	return nil
}

// LoadManifest reads the manifest of a prepared dataset directory.
func LoadManifest(dataDir string) (*models.DatasetManifest, error) {
	data, err := os.ReadFile(filepath.Join(dataDir, ManifestFileName))
	if err != nil {
		return nil, fmt.Errorf("failed to read manifest: %w", err)
	}
	var manifest models.DatasetManifest
	if err := yaml.Unmarshal(data, &manifest); err != nil {
		return nil, fmt.Errorf("failed to parse manifest: %w", err)
	}
	return &manifest, nil
}
