package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strconv"

	"github.com/Sternrassler/usda-ndb-client/pkg/usda"
	"github.com/olekukonko/tablewriter"
	"gopkg.in/yaml.v3"
)

// Output formats.
const (
	outputTable = "table"
	outputJSON  = "json"
	outputYAML  = "yaml"
)

var (
	foodHeader     = []string{"NDBNO", "Name", "Group", "Source"}
	nutrientHeader = []string{"ID", "Name"}
	idNameHeader   = []string{"ID", "Name"}
)

func foodRow(f usda.Food) []string {
	return []string{f.ID, f.Name, f.Group, f.DataSource}
}

func nutrientRow(n usda.Nutrient) []string {
	return []string{strconv.Itoa(n.ID), n.Name}
}

func foodGroupRow(g usda.FoodGroup) []string {
	return []string{g.ID, g.Name}
}

func derivationCodeRow(d usda.DerivationCode) []string {
	return []string{d.ID, d.Name}
}

// nutrientReportHeader has one column per nutrient of the first food.
func nutrientReportHeader(foods []usda.NutrientReportFood) []string {
	header := []string{"NDBNO", "Name", "Measure"}
	if len(foods) > 0 {
		for _, n := range foods[0].Nutrients {
			header = append(header, fmt.Sprintf("%s (%s)", n.Name, n.Unit))
		}
	}
	return header
}

func nutrientReportRow(f usda.NutrientReportFood) []string {
	row := []string{f.ID, f.Name, f.Measure}
	for _, n := range f.Nutrients {
		row = append(row, formatValue(n.Value))
	}
	return row
}

func formatValue(v *float64) string {
	if v == nil {
		return "--"
	}
	return strconv.FormatFloat(*v, 'f', -1, 64)
}

func renderList[T any](w io.Writer, format string, items []T, header []string, row func(T) []string) error {
	switch format {
	case outputJSON:
		return writeJSON(w, items)
	case outputYAML:
		return writeYAML(w, items)
	}

	table := tablewriter.NewWriter(w)
	table.Header(toAny(header)...)
	for _, item := range items {
		_ = table.Append(row(item))
	}
	return table.Render()
}

// renderReports prints food reports. Tables get one section per food.
func renderReports(w io.Writer, format string, reports []usda.FoodReport, many bool) error {
	switch format {
	case outputJSON:
		if many {
			return writeJSON(w, reports)
		}
		return writeJSON(w, reports[0])
	case outputYAML:
		if many {
			return writeYAML(w, reports)
		}
		return writeYAML(w, reports[0])
	}

	for i, r := range reports {
		if i > 0 {
			fmt.Fprintln(w)
		}
		fmt.Fprintf(w, "%s (%s)\n", r.Food.Name, r.Food.ID)
		if r.FoodGroup != "" {
			fmt.Fprintf(w, "Group: %s\n", r.FoodGroup)
		}

		table := tablewriter.NewWriter(w)
		table.Header("ID", "Nutrient", "Group", "Unit", "Value per 100 g")
		for _, n := range r.Nutrients {
			_ = table.Append([]string{strconv.Itoa(n.ID), n.Name, n.Group, n.Unit, formatValue(n.Value)})
		}
		if err := table.Render(); err != nil {
			return err
		}

		for _, fn := range r.FootNotes {
			fmt.Fprintf(w, "[%s] %s\n", fn.ID, fn.Description)
		}
	}
	return nil
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func writeYAML(w io.Writer, v any) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(v); err != nil {
		return err
	}
	return enc.Close()
}

func toAny(s []string) []any {
	out := make([]any, len(s))
	for i, v := range s {
		out[i] = v
	}
	return out
}
