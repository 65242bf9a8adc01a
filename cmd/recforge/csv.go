// Copyright 2025 recforge Project Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
// http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package main

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strconv"

	"github.com/juju/errors"
	"github.com/schollz/progressbar/v3"

	"github.com/recforge/recforge/table"
)

// readTable loads a headered CSV into a MemTable. Integer-looking cells
// become int64, numeric cells float64, everything else stays a string.
func readTable(path, description string) (table.Table, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, errors.Trace(err)
	}
	defer file.Close()
	reader := csv.NewReader(file)
	header, err := reader.Read()
	if err != nil {
		return nil, errors.Annotatef(err, "read header of %s", path)
	}
	t := table.NewMemTable(header...)
	bar := progressbar.Default(-1, description)
	defer bar.Close()
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, errors.Annotatef(err, "read %s", path)
		}
		values := make([]any, len(record))
		for i, cell := range record {
			values[i] = parseCell(cell)
		}
		t.Append(values...)
		_ = bar.Add(1)
	}
	return t, nil
}

func parseCell(cell string) any {
	if v, err := strconv.ParseInt(cell, 10, 64); err == nil {
		return v
	}
	if v, err := strconv.ParseFloat(cell, 64); err == nil {
		return v
	}
	return cell
}

// writeTable writes a table as a headered CSV.
func writeTable(t table.Table, path string) error {
	file, err := os.Create(path)
	if err != nil {
		return errors.Trace(err)
	}
	defer file.Close()
	writer := csv.NewWriter(file)
	if err := writer.Write(t.Columns()); err != nil {
		return errors.Trace(err)
	}
	for _, row := range t.Collect() {
		record := make([]string, len(t.Columns()))
		for i, c := range t.Columns() {
			record[i] = formatCell(row[c])
		}
		if err := writer.Write(record); err != nil {
			return errors.Trace(err)
		}
	}
	writer.Flush()
	return errors.Trace(writer.Error())
}

func formatCell(v any) string {
	switch value := v.(type) {
	case float64:
		return strconv.FormatFloat(value, 'g', -1, 64)
	case int64:
		return strconv.FormatInt(value, 10)
	default:
		return fmt.Sprint(v)
	}
}
