package schema

import (
	_ "embed"
	"errors"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/querygate/querygate/internal/grammar"
)

//go:embed default.yaml
var defaultYAML []byte

type Column struct {
	Name string `yaml:"name" json:"name"`
	Type string `yaml:"type" json:"type"`
}

type Table struct {
	Name        string   `yaml:"name" json:"name"`
	Description string   `yaml:"description,omitempty" json:"description,omitempty"`
	Columns     []Column `yaml:"columns" json:"columns"`
}

// Schema is the target database shape generated statements are restricted to.
type Schema struct {
	Tables []Table `yaml:"tables" json:"tables"`
}

// Default returns the sample e-commerce schema (orders, customers, products).
func Default() Schema {
	s, err := Parse(defaultYAML)
	if err != nil {
		panic(fmt.Sprintf("embedded schema: %v", err))
	}
	return s
}

func Load(path string) (Schema, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Schema{}, fmt.Errorf("read schema %s: %w", path, err)
	}
	s, err := Parse(data)
	if err != nil {
		return Schema{}, fmt.Errorf("schema %s: %w", path, err)
	}
	return s, nil
}

// LoadOrDefault loads path, or returns Default when path is empty.
func LoadOrDefault(path string) (Schema, error) {
	if strings.TrimSpace(path) == "" {
		return Default(), nil
	}
	return Load(path)
}

func Parse(data []byte) (Schema, error) {
	var s Schema
	if err := yaml.Unmarshal(data, &s); err != nil {
		return Schema{}, fmt.Errorf("decode schema: %w", err)
	}
	if err := s.Validate(); err != nil {
		return Schema{}, err
	}
	return s, nil
}

func (s Schema) Validate() error {
	if len(s.Tables) == 0 {
		return errors.New("schema has no tables")
	}
	tables := map[string]struct{}{}
	for _, table := range s.Tables {
		if strings.TrimSpace(table.Name) == "" {
			return errors.New("table name is required")
		}
		if _, dup := tables[table.Name]; dup {
			return fmt.Errorf("table %q defined twice", table.Name)
		}
		tables[table.Name] = struct{}{}
		if len(table.Columns) == 0 {
			return fmt.Errorf("table %q has no columns", table.Name)
		}
		columns := map[string]struct{}{}
		for _, column := range table.Columns {
			if strings.TrimSpace(column.Name) == "" {
				return fmt.Errorf("table %q: column name is required", table.Name)
			}
			if _, dup := columns[column.Name]; dup {
				return fmt.Errorf("table %q: column %q defined twice", table.Name, column.Name)
			}
			columns[column.Name] = struct{}{}
		}
	}
	return nil
}

func (s Schema) Table(name string) (Table, bool) {
	for _, table := range s.Tables {
		if table.Name == name {
			return table, true
		}
	}
	return Table{}, false
}

func (s Schema) TableNames() []string {
	out := make([]string, 0, len(s.Tables))
	for _, table := range s.Tables {
		out = append(out, table.Name)
	}
	return out
}

// ColumnNames returns every distinct column name in order of first appearance.
func (s Schema) ColumnNames() []string {
	seen := map[string]struct{}{}
	var out []string
	for _, table := range s.Tables {
		for _, column := range table.Columns {
			if _, ok := seen[column.Name]; ok {
				continue
			}
			seen[column.Name] = struct{}{}
			out = append(out, column.Name)
		}
	}
	return out
}

func (s Schema) Vocabulary() grammar.Vocabulary {
	return grammar.Vocabulary{Tables: s.TableNames(), Columns: s.ColumnNames()}
}

// Grammar builds the statement grammar restricted to this schema's identifiers.
func (s Schema) Grammar() (*grammar.Grammar, error) {
	return grammar.SQL(s.Vocabulary())
}

// Describe renders the schema as prompt context.
func (s Schema) Describe() string {
	var b strings.Builder
	for i, table := range s.Tables {
		if i > 0 {
			b.WriteByte('\n')
		}
		columns := make([]string, 0, len(table.Columns))
		for _, column := range table.Columns {
			if column.Type == "" {
				columns = append(columns, column.Name)
				continue
			}
			columns = append(columns, column.Name+" "+column.Type)
		}
		fmt.Fprintf(&b, "%s(%s)", table.Name, strings.Join(columns, ", "))
		if table.Description != "" {
			fmt.Fprintf(&b, " -- %s", table.Description)
		}
	}
	return b.String()
}
