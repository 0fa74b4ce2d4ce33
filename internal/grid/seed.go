package grid

import (
	"encoding/csv"
	"io"
	"strconv"
	"strings"

	"github.com/rotisserie/eris"
)

// seedHeader is the expected CSV column order for grid seeds. Subcategory
// and population are optional per row.
var seedHeader = []string{"country", "state", "city", "industry", "subcategory", "population"}

// ReadSeedCSV parses a grid seed file into cells. The first row must be
// the header. New cells start pending with has_more_results set so the
// coverage term treats them as never searched.
func ReadSeedCSV(r io.Reader) ([]Cell, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true

	header, err := cr.Read()
	if err != nil {
		return nil, eris.Wrap(err, "grid: read seed header")
	}
	if err := checkSeedHeader(header); err != nil {
		return nil, err
	}

	var cells []Cell
	line := 1
	for {
		row, err := cr.Read()
		if err == io.EOF {
			break
		}
		line++
		if err != nil {
			return nil, eris.Wrapf(err, "grid: read seed line %d", line)
		}
		cell, err := seedCell(row)
		if err != nil {
			return nil, eris.Wrapf(err, "grid: seed line %d", line)
		}
		cells = append(cells, *cell)
	}
	return cells, nil
}

func checkSeedHeader(header []string) error {
	if len(header) < 4 {
		return eris.Errorf("grid: seed header needs at least %d columns", 4)
	}
	for i, col := range header {
		if i >= len(seedHeader) {
			break
		}
		if !strings.EqualFold(strings.TrimSpace(col), seedHeader[i]) {
			return eris.Errorf("grid: seed header column %d is %q, want %q", i+1, col, seedHeader[i])
		}
	}
	return nil
}

func seedCell(row []string) (*Cell, error) {
	if len(row) < 4 {
		return nil, eris.New("need country, state, city and industry")
	}
	cell := &Cell{
		Country:        strings.TrimSpace(row[0]),
		State:          strings.TrimSpace(row[1]),
		City:           strings.TrimSpace(row[2]),
		Industry:       strings.TrimSpace(row[3]),
		Status:         StatusPending,
		HasMoreResults: true,
	}
	if cell.Country == "" || cell.State == "" || cell.City == "" || cell.Industry == "" {
		return nil, eris.New("country, state, city and industry must be non-empty")
	}
	if len(row) > 4 {
		cell.Subcategory = strings.TrimSpace(row[4])
	}
	if len(row) > 5 && strings.TrimSpace(row[5]) != "" {
		pop, err := strconv.Atoi(strings.TrimSpace(row[5]))
		if err != nil {
			return nil, eris.Wrapf(err, "parse population %q", row[5])
		}
		cell.Population = pop
	}
	return cell, nil
}
