package eval

import (
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"
)

// Category is the closed set of fixture categories.
type Category int

const (
	CategoryBasic Category = iota + 1
	CategoryAggregation
	CategoryFiltering
	CategoryComplex
)

// Categories lists every category in report order.
var Categories = []Category{CategoryBasic, CategoryAggregation, CategoryFiltering, CategoryComplex}

func ParseCategory(value string) (Category, error) {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "basic":
		return CategoryBasic, nil
	case "aggregation":
		return CategoryAggregation, nil
	case "filtering":
		return CategoryFiltering, nil
	case "complex":
		return CategoryComplex, nil
	default:
		return 0, fmt.Errorf("unknown category %q", value)
	}
}

func (c Category) String() string {
	switch c {
	case CategoryBasic:
		return "basic"
	case CategoryAggregation:
		return "aggregation"
	case CategoryFiltering:
		return "filtering"
	case CategoryComplex:
		return "complex"
	default:
		return fmt.Sprintf("category(%d)", int(c))
	}
}

func (c Category) Valid() bool {
	switch c {
	case CategoryBasic, CategoryAggregation, CategoryFiltering, CategoryComplex:
		return true
	default:
		return false
	}
}

func (c Category) MarshalText() ([]byte, error) {
	if !c.Valid() {
		return nil, fmt.Errorf("invalid category %d", int(c))
	}
	return []byte(c.String()), nil
}

func (c *Category) UnmarshalText(text []byte) error {
	parsed, err := ParseCategory(string(text))
	if err != nil {
		return err
	}
	*c = parsed
	return nil
}

func (c *Category) UnmarshalYAML(value *yaml.Node) error {
	var raw string
	if err := value.Decode(&raw); err != nil {
		return err
	}
	return c.UnmarshalText([]byte(raw))
}

func (c Category) MarshalYAML() (any, error) {
	return c.String(), nil
}
