package engine

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/pelletier/go-toml/v2"
)

// Config holds the engine's root directories. Values may reference each
// other with {name} placeholders, e.g. the default cas_root is
// "{db_root}/cas".
type Config struct {
	DBRoot  string `toml:"db_root"`
	CasRoot string `toml:"cas_root"`
	GenRoot string `toml:"gen_root"`
	OutRoot string `toml:"out_root"`
	SrcRoot string `toml:"src_root"`
}

// DefaultConfig returns the development defaults: the working directory
// is the source root, and everything else lives under a build-files
// directory inside it.
func DefaultConfig() Config {
	return Config{
		DBRoot:  "build-files",
		CasRoot: "{db_root}/cas",
		GenRoot: "{db_root}/gen",
		OutRoot: "{db_root}/out",
		SrcRoot: ".",
	}
}

// LoadConfig reads a muninn.toml file over the defaults. A missing file
// just yields the defaults.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return Config{}, err
	}
	if err := toml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("failed to parse %s: %w", path, err)
	}
	return cfg, nil
}

// expand resolves {name} placeholders between the fields and makes every
// root absolute.
func (c Config) expand() (Config, error) {
	fields := map[string]*string{
		"db_root":  &c.DBRoot,
		"cas_root": &c.CasRoot,
		"gen_root": &c.GenRoot,
		"out_root": &c.OutRoot,
		"src_root": &c.SrcRoot,
	}
	// Two passes resolve references to referencing fields.
	for pass := 0; pass < 2; pass++ {
		for _, p := range fields {
			for name, val := range fields {
				*p = strings.ReplaceAll(*p, "{"+name+"}", *val)
			}
		}
	}
	for name, p := range fields {
		if strings.Contains(*p, "{") {
			return Config{}, fmt.Errorf("unresolved placeholder in %s: %q", name, *p)
		}
		abs, err := filepath.Abs(*p)
		if err != nil {
			return Config{}, err
		}
		*p = abs
	}
	return c, nil
}
