package models

import "time"

// DatasetManifest describes the encoded shards a prepared dataset consists
// of. It is written next to the shards and uploaded with them.
type DatasetManifest struct {
	Name      string    `json:"name" yaml:"name"`
	Format    string    `json:"format" yaml:"format"`
	Shards    []string  `json:"shards" yaml:"shards"`
	Records   int       `json:"records" yaml:"records"`
	Seed      int64     `json:"seed" yaml:"seed"`
	CreatedAt time.Time `json:"created_at" yaml:"created_at"`
}
