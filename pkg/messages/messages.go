// Package messages resolves human readable message templates by key.
//
// Templates are stored in a TOML catalog where each table groups related keys:
//
//	[operation]
//	failed = "Operation \"%s\" failed."
//
// The key "operation.failed" then resolves to that template and is formatted with fmt.Sprintf.
// A default catalog is embedded in the binary; LoadFile overlays a user supplied catalog on top of it.
package messages

import (
	_ "embed"
	"fmt"
	"os"
	"sort"
	"strings"
	"sync"

	"github.com/pelletier/go-toml/v2"
)

//go:embed default.toml
var defaultCatalog []byte

// Resolver resolves a message key into a formatted, human readable string.
type Resolver interface {
	Resolve(key string, args ...any) string
}

// Catalog is a Resolver backed by a flat map of "<table>.<key>" templates.
// A Catalog is immutable once built and safe for concurrent use.
type Catalog struct {
	templates map[string]string
}

var _ Resolver = (*Catalog)(nil)

// Default returns the catalog embedded in the binary. The catalog is parsed once and shared.
// It panics if the embedded catalog cannot be parsed, which is a programmer error.
func Default() *Catalog {
	return loadDefault()
}

var loadDefault = sync.OnceValue(func() *Catalog {
	c, err := Parse(defaultCatalog)
	if err != nil {
		panic(fmt.Sprintf("messages: embedded catalog is invalid: %v", err))
	}

	return c
})

// Parse builds a Catalog from TOML data.
func Parse(data []byte) (*Catalog, error) {
	var tables map[string]map[string]string
	if err := toml.Unmarshal(data, &tables); err != nil {
		return nil, fmt.Errorf("failed to parse message catalog: %w", err)
	}

	templates := make(map[string]string)
	for table, keys := range tables {
		for key, tmpl := range keys {
			templates[table+"."+key] = tmpl
		}
	}

	return &Catalog{templates: templates}, nil
}

// LoadFile reads a TOML catalog from path and overlays it on top of the default catalog, so a
// partial catalog only needs to contain the keys it overrides.
func LoadFile(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read message catalog %s: %w", path, err)
	}

	override, err := Parse(data)
	if err != nil {
		return nil, err
	}

	return Default().Merge(override), nil
}

// Merge returns a new Catalog containing the templates of c overridden by those of other.
func (c *Catalog) Merge(other *Catalog) *Catalog {
	templates := make(map[string]string, len(c.templates)+len(other.templates))
	for k, v := range c.templates {
		templates[k] = v
	}
	for k, v := range other.templates {
		templates[k] = v
	}

	return &Catalog{templates: templates}
}

// Resolve formats the template registered for key with args. Unknown keys resolve to the key
// itself followed by the arguments, so a missing translation never hides information.
func (c *Catalog) Resolve(key string, args ...any) string {
	tmpl, ok := c.templates[key]
	if !ok {
		if len(args) == 0 {
			return key
		}

		parts := make([]string, 0, len(args))
		for _, a := range args {
			parts = append(parts, fmt.Sprint(a))
		}

		return key + ": " + strings.Join(parts, ", ")
	}
	if len(args) == 0 {
		return tmpl
	}

	return fmt.Sprintf(tmpl, args...)
}

// Has reports whether key is present in the catalog.
func (c *Catalog) Has(key string) bool {
	_, ok := c.templates[key]
	return ok
}

// Keys returns the sorted list of keys in the catalog.
func (c *Catalog) Keys() []string {
	keys := make([]string, 0, len(c.templates))
	for k := range c.templates {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	return keys
}
