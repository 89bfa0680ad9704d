package storage

import (
	"fmt"
	"regexp"
)

const datasetRoot = "datasets"

var pathComponentPattern = regexp.MustCompile(`^[a-zA-Z0-9][a-zA-Z0-9._-]{0,127}$`)

// DatasetPrefix is the key prefix under which every Parquet part of table lives.
func DatasetPrefix(table string) (string, error) {
	if err := validatePathComponent(table, "table name"); err != nil {
		return "", err
	}
	return datasetRoot + "/" + table + "/", nil
}

func DatasetObjectPath(table string, sequence int) (string, error) {
	prefix, err := DatasetPrefix(table)
	if err != nil {
		return "", err
	}
	if sequence < 0 {
		return "", fmt.Errorf("sequence must be >= 0")
	}
	return prefix + fmt.Sprintf("part-%05d.parquet", sequence), nil
}

func validatePathComponent(value, field string) error {
	if !pathComponentPattern.MatchString(value) || value == ".." {
		return fmt.Errorf("invalid %s: %q", field, value)
	}
	return nil
}
