// Package ingest parses work orders and assessments out of the spreadsheet
// and JSON exports customers hand over, producing model records ready for
// the store. Column names are matched case-insensitively; unrecognized work
// order columns are preserved verbatim in RawFields.
package ingest

import (
	"encoding/csv"
	"encoding/json"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"github.com/tealeg/xlsx/v2"

	"github.com/sells-group/womatch-cli/internal/model"
)

// Column names that identify a work order across export formats, checked in
// order.
var workOrderIDColumns = []string{"external_id", "work_order_id", "wo_number", "id"}

// ReadWorkOrders parses the file at path into work orders scoped to the
// given tenant and scenario. Supported formats: .xlsx, .csv, .json.
func ReadWorkOrders(path, tenantID, scenarioID string) ([]model.WorkOrder, error) {
	if strings.EqualFold(filepath.Ext(path), ".json") {
		return workOrdersFromJSON(path, tenantID, scenarioID)
	}

	header, rows, err := readTable(path)
	if err != nil {
		return nil, err
	}
	return workOrdersFromTable(header, rows, tenantID, scenarioID)
}

// ReadAssessments parses the file at path into active assessments scoped to
// the given tenant and scenario. Supported formats: .xlsx, .csv, .json.
// Required columns: asset_client_id, asset_name. Optional: id, component.
func ReadAssessments(path, tenantID, scenarioID string) ([]model.Assessment, error) {
	if strings.EqualFold(filepath.Ext(path), ".json") {
		return assessmentsFromJSON(path, tenantID, scenarioID)
	}

	header, rows, err := readTable(path)
	if err != nil {
		return nil, err
	}
	return assessmentsFromTable(header, rows, tenantID, scenarioID)
}

// readTable reads a header row plus data rows from a CSV or XLSX file.
func readTable(path string) ([]string, [][]string, error) {
	var raw [][]string

	switch strings.ToLower(filepath.Ext(path)) {
	case ".csv":
		f, err := os.Open(path)
		if err != nil {
			return nil, nil, eris.Wrap(err, "ingest: open csv")
		}
		defer f.Close()

		r := csv.NewReader(f)
		r.FieldsPerRecord = -1
		raw, err = r.ReadAll()
		if err != nil {
			return nil, nil, eris.Wrap(err, "ingest: read csv")
		}

	case ".xlsx":
		f, err := xlsx.OpenFile(path)
		if err != nil {
			return nil, nil, eris.Wrap(err, "ingest: open xlsx")
		}
		if len(f.Sheets) == 0 {
			return nil, nil, eris.New("ingest: xlsx file has no sheets")
		}
		for _, row := range f.Sheets[0].Rows {
			cells := make([]string, len(row.Cells))
			for j, cell := range row.Cells {
				cells[j] = cell.String()
			}
			raw = append(raw, cells)
		}

	default:
		return nil, nil, eris.Errorf("ingest: unsupported file format %q", filepath.Ext(path))
	}

	if len(raw) == 0 {
		return nil, nil, eris.New("ingest: file is empty")
	}

	header := make([]string, len(raw[0]))
	for i, h := range raw[0] {
		header[i] = normalizeKey(h)
	}
	return header, raw[1:], nil
}

func workOrdersFromTable(header []string, rows [][]string, tenantID, scenarioID string) ([]model.WorkOrder, error) {
	idCol := -1
	for _, name := range workOrderIDColumns {
		if i := indexOf(header, name); i >= 0 {
			idCol = i
			break
		}
	}

	var out []model.WorkOrder
	for _, row := range rows {
		fields := make(map[string]string)
		for j, cell := range row {
			if j >= len(header) || j == idCol {
				continue
			}
			if v := strings.TrimSpace(cell); v != "" {
				fields[header[j]] = v
			}
		}
		if len(fields) == 0 {
			continue
		}

		externalID := ""
		if idCol >= 0 && idCol < len(row) {
			externalID = strings.TrimSpace(row[idCol])
		}
		if externalID == "" {
			externalID = uuid.NewString()
		}

		out = append(out, model.WorkOrder{
			ExternalID: externalID,
			TenantID:   tenantID,
			ScenarioID: scenarioID,
			RawFields:  fields,
			Status:     model.WorkOrderStatusUnprocessed,
		})
	}
	return out, nil
}

func assessmentsFromTable(header []string, rows [][]string, tenantID, scenarioID string) ([]model.Assessment, error) {
	assetCol := indexOf(header, "asset_client_id")
	nameCol := indexOf(header, "asset_name")
	if assetCol < 0 || nameCol < 0 {
		return nil, eris.New("ingest: assessments require asset_client_id and asset_name columns")
	}
	idCol := indexOf(header, "id")
	componentCol := indexOf(header, "component")

	var out []model.Assessment
	for i, row := range rows {
		a := model.Assessment{
			AssetClientID: cellAt(row, assetCol),
			AssetName:     cellAt(row, nameCol),
			ID:            cellAt(row, idCol),
			Component:     cellAt(row, componentCol),
			TenantID:      tenantID,
			ScenarioID:    scenarioID,
			IsActive:      true,
		}
		if a.AssetClientID == "" && a.AssetName == "" {
			continue
		}
		if a.AssetClientID == "" || a.AssetName == "" {
			return nil, eris.Errorf("ingest: row %d: asset_client_id and asset_name are required", i+2)
		}
		if a.ID == "" {
			a.ID = uuid.NewString()
		}
		out = append(out, a)
	}
	return out, nil
}

func workOrdersFromJSON(path, tenantID, scenarioID string) ([]model.WorkOrder, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrap(err, "ingest: read json")
	}

	var records []map[string]any
	if err := json.Unmarshal(data, &records); err != nil {
		return nil, eris.Wrap(err, "ingest: parse json")
	}

	var out []model.WorkOrder
	for _, rec := range records {
		fields := make(map[string]string)
		externalID := ""
		for k, v := range rec {
			key := normalizeKey(k)
			s := stringify(v)
			if s == "" {
				continue
			}
			if externalID == "" && isIDColumn(key) {
				externalID = s
				continue
			}
			fields[key] = s
		}
		if len(fields) == 0 {
			continue
		}
		if externalID == "" {
			externalID = uuid.NewString()
		}

		out = append(out, model.WorkOrder{
			ExternalID: externalID,
			TenantID:   tenantID,
			ScenarioID: scenarioID,
			RawFields:  fields,
			Status:     model.WorkOrderStatusUnprocessed,
		})
	}
	return out, nil
}

func assessmentsFromJSON(path, tenantID, scenarioID string) ([]model.Assessment, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrap(err, "ingest: read json")
	}

	var records []struct {
		ID            string `json:"id"`
		AssetClientID string `json:"asset_client_id"`
		AssetName     string `json:"asset_name"`
		Component     string `json:"component"`
	}
	if err := json.Unmarshal(data, &records); err != nil {
		return nil, eris.Wrap(err, "ingest: parse json")
	}

	var out []model.Assessment
	for i, rec := range records {
		if rec.AssetClientID == "" || rec.AssetName == "" {
			return nil, eris.Errorf("ingest: record %d: asset_client_id and asset_name are required", i)
		}
		id := rec.ID
		if id == "" {
			id = uuid.NewString()
		}
		out = append(out, model.Assessment{
			ID:            id,
			AssetClientID: rec.AssetClientID,
			AssetName:     rec.AssetName,
			Component:     rec.Component,
			TenantID:      tenantID,
			ScenarioID:    scenarioID,
			IsActive:      true,
		})
	}
	return out, nil
}

func normalizeKey(s string) string {
	s = strings.TrimSpace(strings.ToLower(s))
	return strings.ReplaceAll(s, " ", "_")
}

func isIDColumn(key string) bool {
	for _, name := range workOrderIDColumns {
		if key == name {
			return true
		}
	}
	return false
}

func indexOf(header []string, name string) int {
	for i, h := range header {
		if h == name {
			return i
		}
	}
	return -1
}

func cellAt(row []string, i int) string {
	if i < 0 || i >= len(row) {
		return ""
	}
	return strings.TrimSpace(row[i])
}

func stringify(v any) string {
	switch t := v.(type) {
	case string:
		return strings.TrimSpace(t)
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(t)
	case nil:
		return ""
	default:
		b, err := json.Marshal(t)
		if err != nil {
			return ""
		}
		return string(b)
	}
}
