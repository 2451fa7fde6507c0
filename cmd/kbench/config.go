package main

import (
	"encoding/json"
	"fmt"
	"time"
)

// duration is a time.Duration that reads "10s"-style strings from both the
// command line and JSON config files.
type duration struct{ time.Duration }

func (d *duration) String() string { return d.Duration.String() }
func (d *duration) Type() string   { return "duration" }

func (d *duration) Set(s string) error {
	v, err := time.ParseDuration(s)
	if err != nil {
		return err
	}
	d.Duration = v
	return nil
}

func (d *duration) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return fmt.Errorf("duration must be a string like \"10s\": %w", err)
	}
	return d.Set(s)
}

// benchConfig holds every tunable. Defaults come from the flags; a --config
// file overrides them, and flags given explicitly override the file.
type benchConfig struct {
	LogLevel string   `json:"log_level"`
	HTTP     string   `json:"http"`
	Pprof    string   `json:"pprof"`
	Duration duration `json:"duration"`
	Workers  int      `json:"workers"`
	Seed     int64    `json:"seed"`

	Alloc allocConfig `json:"alloc"`
	Cache cacheConfig `json:"bcache"`
}

type allocConfig struct {
	Pages int `json:"pages"`
	Batch int `json:"batch"`
}

type cacheConfig struct {
	Entries   int    `json:"entries"`
	Buckets   int    `json:"buckets"`
	BlockSize int    `json:"block_size"`
	Devices   int    `json:"devices"`
	Blocks    int    `json:"blocks"`
	WritePct  int    `json:"write_pct"`
	Dir       string `json:"dir"`
}
