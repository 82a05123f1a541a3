package usda

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/Sternrassler/usda-ndb-client/pkg/apierr"
)

var (
	errMissing = errors.New("missing")
	errType    = errors.New("unexpected type")
)

// record is one JSON object with lazily validated fields. NDB is loose
// about scalar types: numbers arrive both as 12.5 and "12.5", and "--"
// stands for no data.
type record struct {
	typ    string
	fields map[string]json.RawMessage
}

func decodeRecord(typ string, raw []byte) (record, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil {
		return record{}, &apierr.ConversionError{Type: typ, Err: err}
	}
	if fields == nil {
		return record{}, &apierr.ConversionError{Type: typ, Err: errors.New("record is null")}
	}
	return record{typ: typ, fields: fields}, nil
}

func (r record) fail(field string, err error) error {
	return &apierr.ConversionError{Type: r.typ, Field: field, Err: err}
}

// raw returns the trimmed field value and whether it carries data.
func (r record) raw(field string) (json.RawMessage, bool) {
	v, ok := r.fields[field]
	if !ok {
		return nil, false
	}
	v = bytes.TrimSpace(v)
	if len(v) == 0 || bytes.Equal(v, []byte("null")) {
		return nil, false
	}
	return v, true
}

// require fails on the first of fields that is absent. An explicit null
// counts as present.
func (r record) require(fields ...string) error {
	for _, f := range fields {
		if _, ok := r.fields[f]; !ok {
			return r.fail(f, errMissing)
		}
	}
	return nil
}

// first returns the name of the first present field among names.
func (r record) first(names ...string) string {
	for _, n := range names {
		if _, ok := r.raw(n); ok {
			return n
		}
	}
	return names[0]
}

func (r record) optString(field string) (string, error) {
	v, ok := r.raw(field)
	if !ok {
		return "", nil
	}
	switch v[0] {
	case '"':
		var s string
		if err := json.Unmarshal(v, &s); err != nil {
			return "", r.fail(field, err)
		}
		return s, nil
	case '-', '0', '1', '2', '3', '4', '5', '6', '7', '8', '9':
		return string(v), nil
	}
	return "", r.fail(field, fmt.Errorf("%w: want string, got %s", errType, v))
}

func (r record) requiredString(field string) (string, error) {
	if _, ok := r.raw(field); !ok {
		return "", r.fail(field, errMissing)
	}
	return r.optString(field)
}

func (r record) optFloat(field string) (*float64, error) {
	s, err := r.optString(field)
	if err != nil {
		return nil, err
	}
	s = strings.TrimSpace(s)
	if s == "" || s == "--" {
		return nil, nil
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return nil, r.fail(field, fmt.Errorf("%w: want number, got %q", errType, s))
	}
	return &f, nil
}

func (r record) requiredFloat(field string) (float64, error) {
	if _, ok := r.raw(field); !ok {
		return 0, r.fail(field, errMissing)
	}
	f, err := r.optFloat(field)
	if err != nil {
		return 0, err
	}
	if f == nil {
		return 0, r.fail(field, errMissing)
	}
	return *f, nil
}

func (r record) requiredInt(field string) (int, error) {
	s, err := r.requiredString(field)
	if err != nil {
		return 0, err
	}
	n, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil {
		return 0, r.fail(field, fmt.Errorf("%w: want integer, got %q", errType, s))
	}
	return n, nil
}

func (r record) list(field string) ([]json.RawMessage, error) {
	v, ok := r.raw(field)
	if !ok {
		return nil, nil
	}
	var items []json.RawMessage
	if err := json.Unmarshal(v, &items); err != nil {
		return nil, r.fail(field, err)
	}
	return items, nil
}

func (r record) object(field string) (record, error) {
	v, ok := r.raw(field)
	if !ok {
		return record{}, r.fail(field, errMissing)
	}
	sub, err := decodeRecord(r.typ, v)
	if err != nil {
		return record{}, r.fail(field, err)
	}
	return sub, nil
}

// FoodFromResponse converts a food list or search record. The NDB number
// is read from "id" (list) or "ndbno" (search, reports).
func FoodFromResponse(raw json.RawMessage) (Food, error) {
	r, err := decodeRecord("Food", raw)
	if err != nil {
		return Food{}, err
	}
	return foodFromRecord(r)
}

func foodFromRecord(r record) (Food, error) {
	var (
		f   Food
		err error
	)
	if f.ID, err = r.requiredString(r.first("id", "ndbno")); err != nil {
		return Food{}, err
	}
	if f.Name, err = r.requiredString("name"); err != nil {
		return Food{}, err
	}
	if f.Group, err = r.optString(r.first("group", "fg")); err != nil {
		return Food{}, err
	}
	if f.DataSource, err = r.optString("ds"); err != nil {
		return Food{}, err
	}
	if f.Manufacturer, err = r.optString("manu"); err != nil {
		return Food{}, err
	}
	return f, nil
}

// NutrientFromResponse converts a nutrient list record.
func NutrientFromResponse(raw json.RawMessage) (Nutrient, error) {
	r, err := decodeRecord("Nutrient", raw)
	if err != nil {
		return Nutrient{}, err
	}
	var n Nutrient
	if n.ID, err = r.requiredInt("id"); err != nil {
		return Nutrient{}, err
	}
	if n.Name, err = r.requiredString("name"); err != nil {
		return Nutrient{}, err
	}
	return n, nil
}

// MeasureFromResponse converts a household measure record. All four fields
// are required.
func MeasureFromResponse(raw json.RawMessage) (Measure, error) {
	r, err := decodeRecord("Measure", raw)
	if err != nil {
		return Measure{}, err
	}
	var m Measure
	if m.Label, err = r.requiredString("label"); err != nil {
		return Measure{}, err
	}
	if m.Quantity, err = r.requiredFloat("qty"); err != nil {
		return Measure{}, err
	}
	if m.GramEquivalent, err = r.requiredFloat("eqv"); err != nil {
		return Measure{}, err
	}
	if m.Value, err = r.requiredFloat("value"); err != nil {
		return Measure{}, err
	}
	return m, nil
}

// FoodGroupFromResponse converts a food group list record.
func FoodGroupFromResponse(raw json.RawMessage) (FoodGroup, error) {
	r, err := decodeRecord("FoodGroup", raw)
	if err != nil {
		return FoodGroup{}, err
	}
	var g FoodGroup
	if g.ID, err = r.requiredString("id"); err != nil {
		return FoodGroup{}, err
	}
	if g.Name, err = r.requiredString("name"); err != nil {
		return FoodGroup{}, err
	}
	return g, nil
}

// DerivationCodeFromResponse converts a derivation code list record.
func DerivationCodeFromResponse(raw json.RawMessage) (DerivationCode, error) {
	r, err := decodeRecord("DerivationCode", raw)
	if err != nil {
		return DerivationCode{}, err
	}
	var d DerivationCode
	if d.ID, err = r.requiredString("id"); err != nil {
		return DerivationCode{}, err
	}
	if d.Name, err = r.requiredString("name"); err != nil {
		return DerivationCode{}, err
	}
	return d, nil
}

// reportNutrientFromRecord converts a nutrient entry of a food report,
// which uses nutrient_id instead of id and carries value and measures.
func reportNutrientFromRecord(r record) (Nutrient, error) {
	var (
		n   Nutrient
		err error
	)
	if n.ID, err = r.requiredInt("nutrient_id"); err != nil {
		return Nutrient{}, err
	}
	if n.Name, err = r.requiredString("name"); err != nil {
		return Nutrient{}, err
	}
	if err := r.require("group", "unit", "value", "measures"); err != nil {
		return Nutrient{}, err
	}
	if n.Group, err = r.optString("group"); err != nil {
		return Nutrient{}, err
	}
	if n.Unit, err = r.optString("unit"); err != nil {
		return Nutrient{}, err
	}
	if n.Value, err = r.optFloat("value"); err != nil {
		return Nutrient{}, err
	}

	rawMeasures, err := r.list("measures")
	if err != nil {
		return Nutrient{}, err
	}
	for i, rm := range rawMeasures {
		m, err := MeasureFromResponse(rm)
		if err != nil {
			return Nutrient{}, r.fail(fmt.Sprintf("measures[%d]", i), err)
		}
		n.Measures = append(n.Measures, m)
	}
	return n, nil
}

var reportTypeNames = map[string]string{
	"b": "Basic",
	"f": "Full",
	"s": "Statistics",
}

// FoodReportFromResponse converts a complete food report response:
//
//	{"report": {"type": "Basic", "food": {...}, "footnotes": [...]}}
func FoodReportFromResponse(raw json.RawMessage) (FoodReport, error) {
	env, err := decodeRecord("FoodReport", raw)
	if err != nil {
		return FoodReport{}, err
	}
	report, err := env.object("report")
	if err != nil {
		return FoodReport{}, err
	}
	return foodReportFromRecord(report)
}

// FoodReportV2FromResponse converts one entry of the foods array of a V2
// report response:
//
//	{"food": {"type": "b", "desc": {...}, "nutrients": [...], "footnotes": [...]}}
//
// An entry carrying an "error" field is rejected.
func FoodReportV2FromResponse(raw json.RawMessage) (FoodReport, error) {
	env, err := decodeRecord("FoodReport", raw)
	if err != nil {
		return FoodReport{}, err
	}
	msg, err := env.optString("error")
	if err != nil {
		return FoodReport{}, err
	}
	if msg != "" {
		return FoodReport{}, &apierr.APIError{Message: msg}
	}
	food, err := env.object("food")
	if err != nil {
		return FoodReport{}, err
	}
	return foodReportFromRecord(food)
}

// foodReportFromRecord handles both report layouts: V1 nests the food
// under "food" next to "type"; V2 puts it under "desc" with the nutrients
// alongside.
func foodReportFromRecord(report record) (FoodReport, error) {
	var (
		fr  FoodReport
		err error
	)

	typ, err := report.requiredString("type")
	if err != nil {
		return FoodReport{}, err
	}
	if name, ok := reportTypeNames[typ]; ok {
		typ = name
	}
	fr.ReportType = typ

	descField := report.first("food", "desc")
	desc, err := report.object(descField)
	if err != nil {
		return FoodReport{}, err
	}
	fr.Food, err = foodFromRecord(desc)
	if err != nil {
		return FoodReport{}, err
	}

	// V1 keeps nutrients inside the food object.
	holder := report
	if descField == "food" {
		holder = desc
	}
	if err := holder.require("nutrients"); err != nil {
		return FoodReport{}, err
	}
	rawNutrients, err := holder.list("nutrients")
	if err != nil {
		return FoodReport{}, err
	}
	for i, rn := range rawNutrients {
		nr, err := decodeRecord("Nutrient", rn)
		if err != nil {
			return FoodReport{}, report.fail(fmt.Sprintf("nutrients[%d]", i), err)
		}
		n, err := reportNutrientFromRecord(nr)
		if err != nil {
			return FoodReport{}, report.fail(fmt.Sprintf("nutrients[%d]", i), err)
		}
		fr.Nutrients = append(fr.Nutrients, n)
	}

	if err := report.require("footnotes"); err != nil {
		return FoodReport{}, err
	}
	rawNotes, err := report.list("footnotes")
	if err != nil {
		return FoodReport{}, err
	}
	for i, rn := range rawNotes {
		note, err := footNoteFromResponse(rn)
		if err != nil {
			return FoodReport{}, report.fail(fmt.Sprintf("footnotes[%d]", i), err)
		}
		fr.FootNotes = append(fr.FootNotes, note)
	}

	// Basic and Statistics reports carry no food group.
	if typ != "Basic" && typ != "Statistics" {
		if err := desc.require("fg"); err != nil {
			return FoodReport{}, err
		}
		if fr.FoodGroup, err = desc.optString("fg"); err != nil {
			return FoodReport{}, err
		}
	}
	return fr, nil
}

func footNoteFromResponse(raw json.RawMessage) (FootNote, error) {
	r, err := decodeRecord("FootNote", raw)
	if err != nil {
		return FootNote{}, err
	}
	var n FootNote
	if n.ID, err = r.optString(r.first("idv", "id")); err != nil {
		return FootNote{}, err
	}
	if n.Description, err = r.optString(r.first("desc", "description")); err != nil {
		return FootNote{}, err
	}
	return n, nil
}

// NutrientReportFoodFromResponse converts one food of a nutrient report:
//
//	{"ndbno": "01001", "name": "...", "weight": 227, "measure": "1.0 cup",
//	 "nutrients": [{"nutrient_id": "301", "nutrient": "Calcium", "unit": "mg", "value": "54", "gm": 24}]}
func NutrientReportFoodFromResponse(raw json.RawMessage) (NutrientReportFood, error) {
	r, err := decodeRecord("NutrientReportFood", raw)
	if err != nil {
		return NutrientReportFood{}, err
	}

	var nf NutrientReportFood
	if nf.Food, err = foodFromRecord(r); err != nil {
		return NutrientReportFood{}, err
	}
	if w, err := r.optFloat("weight"); err != nil {
		return NutrientReportFood{}, err
	} else if w != nil {
		nf.Weight = *w
	}
	if nf.Measure, err = r.optString("measure"); err != nil {
		return NutrientReportFood{}, err
	}

	rawNutrients, err := r.list("nutrients")
	if err != nil {
		return NutrientReportFood{}, err
	}
	for i, rn := range rawNutrients {
		nr, err := decodeRecord("NutrientAmount", rn)
		if err != nil {
			return NutrientReportFood{}, r.fail(fmt.Sprintf("nutrients[%d]", i), err)
		}
		var a NutrientAmount
		if a.ID, err = nr.requiredInt("nutrient_id"); err != nil {
			return NutrientReportFood{}, r.fail(fmt.Sprintf("nutrients[%d]", i), err)
		}
		if a.Name, err = nr.optString("nutrient"); err != nil {
			return NutrientReportFood{}, r.fail(fmt.Sprintf("nutrients[%d]", i), err)
		}
		if a.Unit, err = nr.optString("unit"); err != nil {
			return NutrientReportFood{}, r.fail(fmt.Sprintf("nutrients[%d]", i), err)
		}
		if a.Value, err = nr.optFloat("value"); err != nil {
			return NutrientReportFood{}, r.fail(fmt.Sprintf("nutrients[%d]", i), err)
		}
		if a.PerGram, err = nr.optFloat("gm"); err != nil {
			return NutrientReportFood{}, r.fail(fmt.Sprintf("nutrients[%d]", i), err)
		}
		nf.Nutrients = append(nf.Nutrients, a)
	}
	return nf, nil
}
