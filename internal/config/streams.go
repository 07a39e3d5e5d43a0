package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

// streamsFile is the TOML layout of the optional stream tuning file:
//
//	[streams.rtm_lmp]
//	enabled = true
//	lookback = "72h"
//	page_size = 25000
//	allow_list = ["HB_NORTH", "LZ_WEST"]
type streamsFile struct {
	Streams map[string]streamOverride `toml:"streams"`
}

type streamOverride struct {
	Enabled     *bool     `toml:"enabled"`
	Lookback    string    `toml:"lookback"`
	PageSize    *int      `toml:"page_size"`
	MaxPages    *int      `toml:"max_pages"`
	Measurement string    `toml:"measurement"`
	AllowList   *[]string `toml:"allow_list"`
}

// ApplyStreamsFile overlays the TOML file at path on the loaded streams. Only
// keys present in the file change; unknown stream names are an error.
func (c *Config) ApplyStreamsFile(path string) error {
	var f streamsFile
	md, err := toml.DecodeFile(path, &f)
	if err != nil {
		return fmt.Errorf("failed to read streams file: %w", err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, len(undecoded))
		for i, k := range undecoded {
			keys[i] = k.String()
		}
		return fmt.Errorf("unknown keys in streams file: %s", strings.Join(keys, ", "))
	}

	for name, o := range f.Streams {
		s, ok := c.Streams[name]
		if !ok {
			return fmt.Errorf("streams file: unknown stream %q", name)
		}
		if err := checkOverride(&o); err != nil {
			return fmt.Errorf("streams file: %s: %w", name, err)
		}

		if o.Enabled != nil {
			s.Enabled = *o.Enabled
		}
		if o.Lookback != "" {
			s.Lookback, _ = time.ParseDuration(o.Lookback)
		}
		if o.PageSize != nil {
			s.PageSize = *o.PageSize
		}
		if o.MaxPages != nil {
			s.MaxPages = *o.MaxPages
		}
		if o.Measurement != "" {
			s.Measurement = o.Measurement
		}
		if o.AllowList != nil {
			s.AllowList = normalizePoints(*o.AllowList)
		}
		c.Streams[name] = s
	}
	return nil
}

// checkOverride rejects values that would leave a stream unusable
func checkOverride(o *streamOverride) error {
	if o.Lookback != "" {
		d, err := time.ParseDuration(o.Lookback)
		if err != nil {
			return fmt.Errorf("lookback: %w", err)
		}
		if d <= 0 {
			return errors.New("lookback must be positive")
		}
	}
	if o.PageSize != nil && *o.PageSize < 0 {
		return errors.New("page_size must not be negative")
	}
	if o.MaxPages != nil && *o.MaxPages < 0 {
		return errors.New("max_pages must not be negative")
	}
	o.Measurement = strings.TrimSpace(o.Measurement)
	return nil
}
