package duckdb

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"os"
)

var parquetMagic = []byte("PAR1")

// writeParquetFile copies a dataset object to path. Objects that do not start with the
// Parquet magic are rejected before anything is written.
func writeParquetFile(path string, reader io.Reader) (int64, error) {
	buffered := bufio.NewReader(reader)
	head, err := buffered.Peek(len(parquetMagic))
	if err != nil || !bytes.Equal(head, parquetMagic) {
		return 0, fmt.Errorf("not a parquet file")
	}

	file, err := os.Create(path)
	if err != nil {
		return 0, err
	}
	defer func() { _ = file.Close() }()

	written, err := io.Copy(file, buffered)
	if err != nil {
		return written, err
	}
	return written, file.Sync()
}
