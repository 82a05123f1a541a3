// Package usda is the typed client for the USDA National Nutrient Database
// (NDB) API.
//
// Every list capability comes as a pair: a *Raw constructor returning a
// pagination.RawPaginator over the upstream JSON records, and a typed
// constructor returning a pagination.ModelPaginator that converts each record
// with one of the FromResponse converters in this package.
package usda

// Report types accepted by the food report endpoints.
const (
	ReportBasic      ReportType = "b"
	ReportFull       ReportType = "f"
	ReportStatistics ReportType = "s"
)

// ReportType selects the level of detail of a food report.
type ReportType string

// Valid reports whether t is one of the known report types.
func (t ReportType) Valid() bool {
	switch t {
	case ReportBasic, ReportFull, ReportStatistics:
		return true
	}
	return false
}

// Food is a single NDB food item.
type Food struct {
	// ID is the NDB number. It is kept as a string because leading zeros
	// are significant ("01001").
	ID           string `json:"id" yaml:"id"`
	Name         string `json:"name" yaml:"name"`
	Group        string `json:"group,omitempty" yaml:"group,omitempty"`
	DataSource   string `json:"data_source,omitempty" yaml:"data_source,omitempty"`
	Manufacturer string `json:"manufacturer,omitempty" yaml:"manufacturer,omitempty"`
}

func (f Food) String() string {
	return f.Name
}

// Measure is a household measure of a nutrient value (e.g. "1 cup").
type Measure struct {
	Label          string  `json:"label" yaml:"label"`
	Quantity       float64 `json:"quantity" yaml:"quantity"`
	GramEquivalent float64 `json:"gram_equivalent" yaml:"gram_equivalent"`
	Value          float64 `json:"value" yaml:"value"`
}

func (m Measure) String() string {
	return m.Label
}

// Nutrient is an NDB nutrient. In list results only ID and Name are set;
// in reports it carries the measured value and its household measures.
type Nutrient struct {
	ID       int       `json:"id" yaml:"id"`
	Name     string    `json:"name" yaml:"name"`
	Group    string    `json:"group,omitempty" yaml:"group,omitempty"`
	Unit     string    `json:"unit,omitempty" yaml:"unit,omitempty"`
	Value    *float64  `json:"value,omitempty" yaml:"value,omitempty"`
	Measures []Measure `json:"measures,omitempty" yaml:"measures,omitempty"`
}

func (n Nutrient) String() string {
	return n.Name
}

// FoodGroup is an NDB food group, e.g. "0100" Dairy and Egg Products.
type FoodGroup struct {
	ID   string `json:"id" yaml:"id"`
	Name string `json:"name" yaml:"name"`
}

// DerivationCode describes how a nutrient value was obtained.
type DerivationCode struct {
	ID   string `json:"id" yaml:"id"`
	Name string `json:"name" yaml:"name"`
}

// FoodReport is the nutrient profile of a single food.
type FoodReport struct {
	Food       Food       `json:"food" yaml:"food"`
	Nutrients  []Nutrient `json:"nutrients" yaml:"nutrients"`
	ReportType string     `json:"report_type" yaml:"report_type"`
	FootNotes  []FootNote `json:"footnotes,omitempty" yaml:"footnotes,omitempty"`
	// FoodGroup is empty for Basic and Statistics reports.
	FoodGroup string `json:"food_group,omitempty" yaml:"food_group,omitempty"`
}

// FootNote annotates a food report.
type FootNote struct {
	ID          string `json:"id" yaml:"id"`
	Description string `json:"description" yaml:"description"`
}

// NutrientReportFood is one food of a nutrient report together with the
// requested nutrient values for it.
type NutrientReportFood struct {
	Food
	Weight    float64          `json:"weight" yaml:"weight"`
	Measure   string           `json:"measure" yaml:"measure"`
	Nutrients []NutrientAmount `json:"nutrients" yaml:"nutrients"`
}

// NutrientAmount is a nutrient value inside a nutrient report.
type NutrientAmount struct {
	ID    int      `json:"id" yaml:"id"`
	Name  string   `json:"name" yaml:"name"`
	Unit  string   `json:"unit" yaml:"unit"`
	Value *float64 `json:"value,omitempty" yaml:"value,omitempty"`
	// PerGram is the value per 100 g, nil when upstream reports "--".
	PerGram *float64 `json:"per_100g,omitempty" yaml:"per_100g,omitempty"`
}
