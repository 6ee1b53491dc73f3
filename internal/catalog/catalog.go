// Package catalog loads the static reference data the deployment ships
// with: the material catalog presented to approving authorities and the
// registry of checkpoint locations.
package catalog

import (
	"fmt"
	"os"
	"strings"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"

	"github.com/Vysion-Technology/MountAbu-DigitalToken-Backend/internal/domain/model"
)

// Material is one catalog entry an authority can grant on a token. The
// default quantity is kept as a string in the file and parsed on use so
// fractional values survive the YAML round trip exactly.
type Material struct {
	Type            string `yaml:"type"`
	Name            string `yaml:"name"`
	Unit            string `yaml:"unit"`
	DefaultQuantity string `yaml:"default_quantity"`
}

// Quantity parses the material's default quantity.
func (m Material) Quantity() (decimal.Decimal, error) {
	return decimal.NewFromString(m.DefaultQuantity)
}

// Naka is one registered checkpoint location.
type Naka struct {
	Code      string  `yaml:"code"`
	Name      string  `yaml:"name"`
	Latitude  float64 `yaml:"latitude"`
	Longitude float64 `yaml:"longitude"`
}

// Catalog is the parsed reference data file.
type Catalog struct {
	Materials []Material `yaml:"materials"`
	Nakas     []Naka     `yaml:"nakas"`
}

// Load reads and validates the catalog file.
func Load(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read catalog: %w", err)
	}
	return Parse(data)
}

// Parse decodes catalog YAML and validates it.
func Parse(data []byte) (*Catalog, error) {
	var c Catalog
	if err := yaml.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("parse catalog: %w", err)
	}
	if err := c.validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

func (c *Catalog) validate() error {
	if len(c.Materials) == 0 {
		return fmt.Errorf("catalog has no materials")
	}
	seen := make(map[string]bool, len(c.Materials))
	for _, m := range c.Materials {
		t := strings.ToUpper(strings.TrimSpace(m.Type))
		if t == "" {
			return fmt.Errorf("material with empty type")
		}
		if seen[t] {
			return fmt.Errorf("duplicate material type %q", t)
		}
		seen[t] = true
		if m.Unit == "" {
			return fmt.Errorf("material %s: unit is empty", t)
		}
		q, err := m.Quantity()
		if err != nil {
			return fmt.Errorf("material %s: bad default quantity %q", t, m.DefaultQuantity)
		}
		if q.IsNegative() {
			return fmt.Errorf("material %s: default quantity is negative", t)
		}
	}
	nakaSeen := make(map[string]bool, len(c.Nakas))
	for _, n := range c.Nakas {
		if n.Code == "" {
			return fmt.Errorf("naka with empty code")
		}
		if nakaSeen[n.Code] {
			return fmt.Errorf("duplicate naka code %q", n.Code)
		}
		nakaSeen[n.Code] = true
	}
	return nil
}

// FindMaterial looks up a material by type, case-insensitively.
func (c *Catalog) FindMaterial(materialType string) (Material, bool) {
	for _, m := range c.Materials {
		if strings.EqualFold(m.Type, materialType) {
			return m, true
		}
	}
	return Material{}, false
}

// FindNaka looks up a checkpoint by code.
func (c *Catalog) FindNaka(code string) (Naka, bool) {
	for _, n := range c.Nakas {
		if n.Code == code {
			return n, true
		}
	}
	return Naka{}, false
}

// DefaultQuotas builds quota lines from catalog defaults for the given
// material types, used when an approval names materials without
// quantities.
func (c *Catalog) DefaultQuotas(types []string) ([]model.MaterialQuota, error) {
	quotas := make([]model.MaterialQuota, 0, len(types))
	for _, t := range types {
		m, ok := c.FindMaterial(t)
		if !ok {
			return nil, fmt.Errorf("unknown material type %q", t)
		}
		q, err := m.Quantity()
		if err != nil {
			return nil, fmt.Errorf("material %s: bad default quantity %q", m.Type, m.DefaultQuantity)
		}
		quotas = append(quotas, model.MaterialQuota{
			MaterialType:     strings.ToUpper(m.Type),
			MaterialName:     m.Name,
			ApprovedQuantity: q,
			Unit:             m.Unit,
		})
	}
	return quotas, nil
}
