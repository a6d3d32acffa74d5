package planner

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"gopkg.in/yaml.v3"

	dragonscale "github.com/ZanzyTHEbar/dragonscale-orchestrator"
)

// Catalog is a declarative routing table with per-unit planning metadata.
type Catalog struct {
	Name        string                 `yaml:"name"`
	Description string                 `yaml:"description"`
	Routes      map[string][]string    `yaml:"routes"`
	Units       map[string]CatalogUnit `yaml:"units"`
}

// CatalogUnit overrides the planning metadata of one registered unit.
type CatalogUnit struct {
	DependsOn            []string `yaml:"depends_on"`
	OptionalDependencies bool     `yaml:"optional_dependencies"`
	Timeout              string   `yaml:"timeout"`
	When                 string   `yaml:"when"`
}

// CatalogLoader loads a Catalog from a source path.
type CatalogLoader interface {
	Load(source string) (*Catalog, error)
	Format() string // e.g. "yaml"
}

var (
	loaderRegistry = make(map[string]CatalogLoader)
	loaderMutex    sync.RWMutex
)

// RegisterCatalogLoader registers a loader for its format name.
func RegisterCatalogLoader(loader CatalogLoader) {
	loaderMutex.Lock()
	defer loaderMutex.Unlock()
	loaderRegistry[loader.Format()] = loader
}

// GetCatalogLoader retrieves a loader by format name.
func GetCatalogLoader(format string) (CatalogLoader, bool) {
	loaderMutex.RLock()
	defer loaderMutex.RUnlock()
	loader, ok := loaderRegistry[format]
	return loader, ok
}

// YAMLLoader implements CatalogLoader for YAML files.
type YAMLLoader struct{}

func (YAMLLoader) Load(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open catalog file: %w", err)
	}
	return ParseCatalog(data)
}

func (YAMLLoader) Format() string { return "yaml" }

func init() {
	RegisterCatalogLoader(YAMLLoader{})
}

// ParseCatalog decodes a YAML catalog. Unknown fields are rejected.
func ParseCatalog(data []byte) (*Catalog, error) {
	var catalog Catalog
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&catalog); err != nil {
		return nil, fmt.Errorf("failed to parse catalog YAML: %w", err)
	}
	return &catalog, nil
}

// LoadCatalog loads and validates the catalog at path. The format is taken
// from the file extension and defaults to yaml.
func LoadCatalog(path string, registry *dragonscale.Registry) (*Catalog, error) {
	format := strings.TrimPrefix(strings.ToLower(filepath.Ext(path)), ".")
	if format == "yml" || format == "" {
		format = "yaml"
	}
	loader, ok := GetCatalogLoader(format)
	if !ok {
		return nil, dragonscale.NewConfigurationError(fmt.Sprintf("no catalog loader registered for format '%s'", format), nil)
	}

	catalog, err := loader.Load(path)
	if err != nil {
		return nil, dragonscale.NewConfigurationError("failed to load catalog", err)
	}
	if err := catalog.Validate(registry); err != nil {
		return nil, err
	}
	return catalog, nil
}

// Validate checks intents, dependency references, cycles, timeouts and rule
// syntax. A nil registry limits reference checks to the catalog itself.
func (c *Catalog) Validate(registry *dragonscale.Registry) error {
	seenIntents := make(map[dragonscale.IntentType]string, len(c.Routes))
	for raw := range c.Routes {
		intent, ok := dragonscale.ParseIntentType(raw)
		if !ok {
			return dragonscale.NewPlanValidationError(fmt.Sprintf("catalog routes unknown intent '%s'", raw), nil)
		}
		if prev, dup := seenIntents[intent]; dup {
			return dragonscale.NewPlanValidationError(fmt.Sprintf("catalog routes intent '%s' twice ('%s' and '%s')", intent, prev, raw), nil)
		}
		seenIntents[intent] = raw
	}

	known := func(name string) bool {
		if _, ok := c.Units[name]; ok {
			return true
		}
		if registry != nil {
			_, ok := registry.Lookup(name)
			return ok
		}
		return false
	}

	for _, name := range c.unitNames() {
		unit := c.Units[name]
		if registry != nil {
			if _, ok := registry.Lookup(name); !ok {
				return dragonscale.NewPlanValidationError(fmt.Sprintf("catalog configures unregistered unit '%s'", name), nil)
			}
		}
		for _, dep := range unit.DependsOn {
			if !known(dep) {
				return dragonscale.NewPlanValidationError(fmt.Sprintf("unit '%s' depends on missing unit '%s'", name, dep), nil)
			}
		}
		if _, err := unit.timeout(); err != nil {
			return dragonscale.NewPlanValidationError(fmt.Sprintf("unit '%s' has invalid timeout '%s'", name, unit.Timeout), err)
		}
		if unit.When != "" {
			if err := ValidateExpression(unit.When); err != nil {
				return dragonscale.NewPlanValidationError(fmt.Sprintf("unit '%s' has invalid rule '%s'", name, unit.When), err)
			}
		}
	}

	visited := make(map[string]bool, len(c.Units))
	stack := make(map[string]bool, len(c.Units))
	var hasCycle func(name string) bool
	hasCycle = func(name string) bool {
		if stack[name] {
			return true
		}
		if visited[name] {
			return false
		}
		visited[name] = true
		stack[name] = true
		for _, dep := range c.dependenciesOf(name, registry) {
			if hasCycle(dep) {
				return true
			}
		}
		stack[name] = false
		return false
	}
	for _, name := range c.unitNames() {
		if hasCycle(name) {
			return dragonscale.NewPlanValidationError(fmt.Sprintf("cycle detected in catalog at unit '%s'", name), nil)
		}
	}
	return nil
}

// dependenciesOf prefers the catalog's declaration and falls back to the registry's.
func (c *Catalog) dependenciesOf(name string, registry *dragonscale.Registry) []string {
	if unit, ok := c.Units[name]; ok {
		return unit.DependsOn
	}
	if registry != nil {
		if spec, ok := registry.Spec(name); ok {
			return spec.DependsOn
		}
	}
	return nil
}

func (c *Catalog) unitNames() []string {
	names := make([]string, 0, len(c.Units))
	for name := range c.Units {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (u CatalogUnit) timeout() (time.Duration, error) {
	if u.Timeout == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(u.Timeout)
	if err != nil {
		return 0, err
	}
	if d < 0 {
		return 0, fmt.Errorf("negative timeout")
	}
	return d, nil
}

// Apply installs the catalog's routes on b and overrides the metadata of the
// units it configures in b's registry.
func (c *Catalog) Apply(b *Builder) error {
	if err := c.Validate(b.Registry()); err != nil {
		return err
	}
	for raw, tags := range c.Routes {
		intent, _ := dragonscale.ParseIntentType(raw)
		b.SetRoute(intent, tags)
	}
	for _, name := range c.unitNames() {
		unit := c.Units[name]
		timeout, _ := unit.timeout()
		spec := dragonscale.UnitSpec{
			DependsOn:            append([]string(nil), unit.DependsOn...),
			OptionalDependencies: unit.OptionalDependencies,
			Timeout:              timeout,
			When:                 unit.When,
		}
		if err := b.Registry().SetSpec(name, spec); err != nil {
			return err
		}
	}
	return nil
}
