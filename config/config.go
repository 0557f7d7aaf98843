// Package config loads YAML configuration for the Precacher and Writer
// engines, in the shape of yanet2's controlplane config loading
// (gopkg.in/yaml.v3 decode with byte-size fields typed as
// datasize.ByteSize, and a Default*/Load pair per component).
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/c2h5oh/datasize"
	"gopkg.in/yaml.v3"

	"github.com/evalpipe/evalpipe/precache"
)

// Precacher holds the configuration recognised by the precache engine
// (§6 "Configuration: Precacher").
type Precacher struct {
	// BufferBytes is the scratch buffer capacity C, clamped when the
	// Precacher starts to the system ceiling (6 GiB on 64-bit, 2 GiB on
	// 32-bit, §6).
	BufferBytes datasize.ByteSize `yaml:"buffer_bytes"`

	// RequestTimeout, QueryTimeout and PrefillTimeout feed precache.WithTimeouts
	// at construction time; a zero value here leaves that engine's own
	// default in place rather than forcing a busy-poll.
	RequestTimeout time.Duration `yaml:"request_timeout"`
	QueryTimeout   time.Duration `yaml:"query_timeout"`
	PrefillTimeout time.Duration `yaml:"prefill_timeout"`
}

// Writer holds the configuration recognised by the writer engine
// (§6 "Configuration: Writer").
type Writer struct {
	QueueBytes datasize.ByteSize `yaml:"queue_bytes"`
	DropOnFull bool              `yaml:"drop_on_full"`
	NWorkers   int               `yaml:"n_workers"`
}

// Config is the top-level document a pipeline deployment decodes.
type Config struct {
	Precacher Precacher `yaml:"precacher"`
	Writer    Writer    `yaml:"writer"`
}

// DefaultPrecacher returns the documented defaults: 1 ms request polling,
// 10 ms query polling, 5 s best-effort prefill, 6 GiB scratch (§4.1, §6).
func DefaultPrecacher() Precacher {
	return Precacher{
		BufferBytes:    6 * datasize.GB,
		RequestTimeout: precache.DefaultRequestTimeout,
		QueryTimeout:   precache.DefaultQueryTimeout,
		PrefillTimeout: precache.DefaultPrefillTimeout,
	}
}

// DefaultWriter returns the documented defaults: 256 MiB queue, blocking
// backpressure, a single drain worker.
func DefaultWriter() Writer {
	return Writer{
		QueueBytes: 256 * datasize.MB,
		DropOnFull: false,
		NWorkers:   1,
	}
}

// Default returns a Config populated with DefaultPrecacher/DefaultWriter.
func Default() *Config {
	return &Config{Precacher: DefaultPrecacher(), Writer: DefaultWriter()}
}

// Load reads and decodes a YAML document at path, starting from Default
// and overriding whatever fields the document sets.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}
	return cfg, nil
}
