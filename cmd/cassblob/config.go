package main

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Settings from the optional config file. Flags take precedence.
type fileConfig struct {
	Hosts          []string      `yaml:"hosts"`
	Port           int           `yaml:"port"`
	LocalDC        string        `yaml:"local_dc"`
	Username       string        `yaml:"username"`
	Password       string        `yaml:"password"`
	Sqlite         string        `yaml:"sqlite"`
	SqliteJournal  string        `yaml:"sqlite_journal_mode"`
	SqliteMmapSize *int64        `yaml:"sqlite_mmap_size"`
	Keyspace       string        `yaml:"keyspace"`
	Timeout        time.Duration `yaml:"timeout"`
	MaxRetries     *int          `yaml:"max_retries"`
	LargeThreshold int64         `yaml:"large_threshold"`
	ChunkSize      int64         `yaml:"chunk_size"`
	Breaker        bool          `yaml:"breaker"`
}

func loadFileConfig(path string) (ret fileConfig, err error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return
	}
	err = yaml.Unmarshal(b, &ret)
	if err != nil {
		err = fmt.Errorf("parsing %q: %w", path, err)
	}
	return
}

// Fills unset args from the file config.
func (args *globalArgs) merge(fc fileConfig) {
	if len(args.Hosts) == 0 {
		args.Hosts = fc.Hosts
	}
	if args.Port == 0 {
		args.Port = fc.Port
	}
	if args.LocalDC == "" {
		args.LocalDC = fc.LocalDC
	}
	if args.Username == "" {
		args.Username = fc.Username
	}
	if args.Password == "" {
		args.Password = fc.Password
	}
	if args.Sqlite == "" {
		args.Sqlite = fc.Sqlite
	}
	if args.SqliteJournal == "" {
		args.SqliteJournal = fc.SqliteJournal
	}
	if args.SqliteMmapSize == nil {
		args.SqliteMmapSize = fc.SqliteMmapSize
	}
	if args.Keyspace == "" {
		args.Keyspace = fc.Keyspace
	}
	if args.Timeout == 0 {
		args.Timeout = fc.Timeout
	}
	if args.MaxRetries == nil {
		args.MaxRetries = fc.MaxRetries
	}
	if args.LargeThreshold == 0 {
		args.LargeThreshold = fc.LargeThreshold
	}
	if args.ChunkSize == 0 {
		args.ChunkSize = fc.ChunkSize
	}
	args.Breaker = args.Breaker || fc.Breaker
}
