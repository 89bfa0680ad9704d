package eval

import (
	_ "embed"
	"errors"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

//go:embed fixtures.yaml
var defaultFixtures []byte

type TestCase struct {
	ID                   string   `yaml:"id" json:"id"`
	NaturalLanguageQuery string   `yaml:"natural_language_query" json:"natural_language_query"`
	ExpectedQuery        string   `yaml:"expected_query" json:"expected_query"`
	Category             Category `yaml:"category" json:"category"`
	Description          string   `yaml:"description" json:"description"`
}

// DefaultFixtures returns the built-in battery in file order.
func DefaultFixtures() []TestCase {
	cases, err := ParseFixtures(defaultFixtures)
	if err != nil {
		panic(fmt.Sprintf("embedded fixtures: %v", err))
	}
	return cases
}

func LoadFixtures(path string) ([]TestCase, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read fixtures %s: %w", path, err)
	}
	cases, err := ParseFixtures(data)
	if err != nil {
		return nil, fmt.Errorf("fixtures %s: %w", path, err)
	}
	return cases, nil
}

// LoadFixturesOrDefault loads path, or returns DefaultFixtures when path is empty.
func LoadFixturesOrDefault(path string) ([]TestCase, error) {
	if strings.TrimSpace(path) == "" {
		return DefaultFixtures(), nil
	}
	return LoadFixtures(path)
}

func ParseFixtures(data []byte) ([]TestCase, error) {
	var cases []TestCase
	if err := yaml.Unmarshal(data, &cases); err != nil {
		return nil, fmt.Errorf("decode fixtures: %w", err)
	}
	if err := ValidateFixtures(cases); err != nil {
		return nil, err
	}
	return cases, nil
}

func ValidateFixtures(cases []TestCase) error {
	if len(cases) == 0 {
		return errors.New("no test cases")
	}
	seen := make(map[string]struct{}, len(cases))
	for i, tc := range cases {
		if strings.TrimSpace(tc.ID) == "" {
			return fmt.Errorf("test case %d: id is required", i)
		}
		if _, dup := seen[tc.ID]; dup {
			return fmt.Errorf("test case %q defined twice", tc.ID)
		}
		seen[tc.ID] = struct{}{}
		if strings.TrimSpace(tc.NaturalLanguageQuery) == "" {
			return fmt.Errorf("test case %q: natural_language_query is required", tc.ID)
		}
		if strings.TrimSpace(tc.ExpectedQuery) == "" {
			return fmt.Errorf("test case %q: expected_query is required", tc.ID)
		}
		if !tc.Category.Valid() {
			return fmt.Errorf("test case %q: category is required", tc.ID)
		}
	}
	return nil
}
