// Package pagecacheconf loads cache construction parameters from an INI
// file: an ini.File wrapped by a typed struct, with duration fields kept
// as strings next to a parsed time.Duration field — the core pagecache
// package itself never parses text configuration.
package pagecacheconf

import (
	"strings"
	"time"

	jerrors "github.com/juju/errors"
	"gopkg.in/ini.v1"

	"github.com/zhukovaskychina/pagecache"
)

// Config holds everything needed to construct a pagecache.Cache.
type Config struct {
	Raw *ini.File

	PageSize  uint64
	TotalSize uint64
	PageTypes []string // raw page-type names from [cache].page_type_mask

	ValidatorKind string `default:"timed"` // timed | always | checksum
	TTL           string `default:"100s"`
	TTLDuration   time.Duration
}

var pageTypeNames = map[string]pagecache.PageType{
	"page_table": pagecache.PagePageTable,
	"read_only":  pagecache.PageReadOnly,
	"writeable":  pagecache.PageWriteable,
	"unknown":    pagecache.PageUnknown,
}

// Load reads an INI file shaped like:
//
//	[cache]
//	page_size = 4096
//	total_size = 2097152
//	page_type_mask = page_table,read_only
//
//	[validator]
//	kind = timed
//	ttl = 100s
func Load(path string) (*Config, error) {
	raw, err := ini.Load(path)
	if err != nil {
		return nil, jerrors.Annotatef(err, "pagecacheconf: load %q", path)
	}

	cacheSec := raw.Section("cache")
	validatorSec := raw.Section("validator")

	cfg := &Config{
		Raw:           raw,
		PageSize:      cacheSec.Key("page_size").MustUint64(4096),
		TotalSize:     cacheSec.Key("total_size").MustUint64(2 << 20),
		PageTypes:     splitList(cacheSec.Key("page_type_mask").MustString("page_table,read_only")),
		ValidatorKind: validatorSec.Key("kind").MustString("timed"),
		TTL:           validatorSec.Key("ttl").MustString("100s"),
	}

	ttl, err := time.ParseDuration(cfg.TTL)
	if err != nil {
		return nil, jerrors.Annotatef(err, "pagecacheconf: parse ttl %q", cfg.TTL)
	}
	cfg.TTLDuration = ttl

	return cfg, nil
}

func splitList(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

// PageTypeMask parses cfg.PageTypes into a pagecache.PageType bitmask.
// Unknown names are ignored (logged by the caller if it cares).
func (cfg *Config) PageTypeMask() pagecache.PageType {
	var mask pagecache.PageType
	for _, name := range cfg.PageTypes {
		if pt, ok := pageTypeNames[strings.ToLower(name)]; ok {
			mask |= pt
		}
	}
	return mask
}

// NewValidator constructs the CacheValidator named by cfg.ValidatorKind.
func (cfg *Config) NewValidator() pagecache.CacheValidator {
	switch cfg.ValidatorKind {
	case "always":
		return pagecache.NewAlwaysValidValidator()
	case "checksum":
		return pagecache.NewChecksumCacheValidator()
	default:
		return pagecache.NewTimedCacheValidator(cfg.TTLDuration)
	}
}
