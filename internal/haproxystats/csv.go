// Package haproxystats parses the CSV replies HAProxy's admin socket
// returns for "show stat" commands, the same encoding/csv-over-a-socket
// shape the mackerel-plugin HAProxy collector uses, generalized here to a
// header-name-keyed row instead of fixed column offsets.
package haproxystats

import (
	"bufio"
	"bytes"
	"encoding/csv"
	"fmt"
	"strings"

	"github.com/TritonDataCenter/muppet-sub000/internal/model"
)

// ErrMissingHeader is returned when a stats reply doesn't start with the
// expected "# " header line.
var ErrMissingHeader = fmt.Errorf("haproxystats: reply is missing the \"# \" header line")

// Parse decodes a "show stat" CSV reply into rows keyed by column name.
func Parse(reply []byte) ([]model.LiveRow, error) {
	scanner := bufio.NewScanner(bytes.NewReader(reply))
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	if !scanner.Scan() {
		return nil, ErrMissingHeader
	}
	headerLine := scanner.Text()
	if !strings.HasPrefix(headerLine, "# ") {
		return nil, ErrMissingHeader
	}
	columns, err := splitCSVLine(strings.TrimPrefix(headerLine, "# "))
	if err != nil {
		return nil, fmt.Errorf("haproxystats: parse header: %w", err)
	}

	pxIdx, svIdx, addrIdx, statusIdx, typeIdx := -1, -1, -1, -1, -1
	for i, name := range columns {
		switch name {
		case "pxname":
			pxIdx = i
		case "svname":
			svIdx = i
		case "addr":
			addrIdx = i
		case "status":
			statusIdx = i
		case "type":
			typeIdx = i
		}
	}

	var rows []model.LiveRow
	for scanner.Scan() {
		line := scanner.Text()
		if line == "" {
			continue
		}
		values, err := splitCSVLine(line)
		if err != nil {
			return nil, fmt.Errorf("haproxystats: parse row: %w", err)
		}

		fields := make(map[string]string, len(columns))
		for i, name := range columns {
			if i < len(values) {
				fields[name] = values[i]
			}
		}

		row := model.LiveRow{Fields: fields}
		if pxIdx >= 0 && pxIdx < len(values) {
			row.PxName = values[pxIdx]
		}
		if svIdx >= 0 && svIdx < len(values) {
			row.SvName = values[svIdx]
		}
		if addrIdx >= 0 && addrIdx < len(values) {
			row.Addr = values[addrIdx]
		}
		if statusIdx >= 0 && statusIdx < len(values) {
			row.Status = values[statusIdx]
		}
		if typeIdx >= 0 && typeIdx < len(values) {
			row.Type = values[typeIdx]
		}
		rows = append(rows, row)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("haproxystats: scan reply: %w", err)
	}

	return rows, nil
}

func splitCSVLine(line string) ([]string, error) {
	r := csv.NewReader(strings.NewReader(line))
	r.FieldsPerRecord = -1
	record, err := r.Read()
	if err != nil {
		return nil, err
	}
	return record, nil
}
