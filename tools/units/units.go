// Package units converts values between measurement units: length, weight,
// data sizes, and temperature. Linear units convert through a base-unit
// factor; temperature is affine and handled separately.
package units

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	carnet "github.com/carnetd/carnet"
)

// Tool converts between units.
type Tool struct{}

// New creates a units tool.
func New() *Tool { return &Tool{} }

var _ carnet.Tool = (*Tool)(nil)

type unit struct {
	category string
	factor   float64 // multiplier to the category's base unit
}

// Base units: meter, gram, byte.
var units = map[string]unit{
	// length
	"mm": {"length", 0.001},
	"cm": {"length", 0.01},
	"m":  {"length", 1},
	"km": {"length", 1000},
	"in": {"length", 0.0254},
	"ft": {"length", 0.3048},
	"yd": {"length", 0.9144},
	"mi": {"length", 1609.344},

	// weight
	"mg": {"weight", 0.001},
	"g":  {"weight", 1},
	"kg": {"weight", 1000},
	"t":  {"weight", 1e6},
	"oz": {"weight", 28.349523125},
	"lb": {"weight", 453.59237},

	// data (binary multiples)
	"b":  {"data", 1},
	"kb": {"data", 1 << 10},
	"mb": {"data", 1 << 20},
	"gb": {"data", 1 << 30},
	"tb": {"data", 1 << 40},

	// temperature units carry no factor; conversion is affine
	"c": {"temperature", 0},
	"f": {"temperature", 0},
	"k": {"temperature", 0},
}

var aliases = map[string]string{
	"millimeter": "mm", "millimeters": "mm",
	"centimeter": "cm", "centimeters": "cm",
	"meter": "m", "meters": "m",
	"kilometer": "km", "kilometers": "km",
	"inch": "in", "inches": "in",
	"foot": "ft", "feet": "ft",
	"yard": "yd", "yards": "yd",
	"mile": "mi", "miles": "mi",

	"milligram": "mg", "milligrams": "mg",
	"gram": "g", "grams": "g",
	"kilogram": "kg", "kilograms": "kg",
	"tonne": "t", "tonnes": "t", "ton": "t", "tons": "t",
	"ounce": "oz", "ounces": "oz",
	"pound": "lb", "pounds": "lb", "lbs": "lb",

	"byte": "b", "bytes": "b",
	"kilobyte": "kb", "kilobytes": "kb", "kib": "kb",
	"megabyte": "mb", "megabytes": "mb", "mib": "mb",
	"gigabyte": "gb", "gigabytes": "gb", "gib": "gb",
	"terabyte": "tb", "terabytes": "tb", "tib": "tb",

	"celsius": "c", "°c": "c",
	"fahrenheit": "f", "°f": "f",
	"kelvin": "k",
}

func (t *Tool) Definitions() []carnet.ToolDefinition {
	return []carnet.ToolDefinition{{
		Name:        "unit_converter",
		Description: "Convert a value between units. Categories: length (mm cm m km in ft yd mi), weight (mg g kg t oz lb), data (b kb mb gb tb), temperature (c f k). Units in different categories cannot be mixed.",
		Parameters: json.RawMessage(`{"type":"object","properties":{
			"value":{"type":"number","description":"Value to convert"},
			"from":{"type":"string","description":"Source unit, e.g. km or celsius"},
			"to":{"type":"string","description":"Target unit, e.g. mi or fahrenheit"}
		},"required":["value","from","to"]}`),
	}}
}

func (t *Tool) Execute(ctx context.Context, _ string, args json.RawMessage) (carnet.ToolResult, error) {
	var params struct {
		Value float64 `json:"value"`
		From  string  `json:"from"`
		To    string  `json:"to"`
	}
	if err := json.Unmarshal(args, &params); err != nil {
		return carnet.ToolErr(carnet.ErrKindInvalidInput, "invalid args: "+err.Error()), nil
	}

	from, ok := lookup(params.From)
	if !ok {
		return carnet.ToolErr(carnet.ErrKindInvalidInput, fmt.Sprintf("unknown unit %q", params.From)), nil
	}
	to, ok := lookup(params.To)
	if !ok {
		return carnet.ToolErr(carnet.ErrKindInvalidInput, fmt.Sprintf("unknown unit %q", params.To)), nil
	}
	if units[from].category != units[to].category {
		return carnet.ToolErr(carnet.ErrKindInvalidInput,
			fmt.Sprintf("cannot convert %s (%s) to %s (%s)", from, units[from].category, to, units[to].category)), nil
	}

	var result float64
	if units[from].category == "temperature" {
		var err error
		result, err = convertTemperature(params.Value, from, to)
		if err != nil {
			return carnet.ToolErr(carnet.ErrKindInvalidInput, err.Error()), nil
		}
	} else {
		result = params.Value * units[from].factor / units[to].factor
	}

	return carnet.ToolResult{
		Success: true,
		Output:  fmt.Sprintf("%s %s = %s %s", formatNumber(params.Value), from, formatNumber(result), to),
		Data:    map[string]any{"value": params.Value, "from": from, "to": to, "result": result},
	}, nil
}

func lookup(name string) (string, bool) {
	n := strings.ToLower(strings.TrimSpace(name))
	if alias, ok := aliases[n]; ok {
		n = alias
	}
	_, ok := units[n]
	return n, ok
}

func convertTemperature(v float64, from, to string) (float64, error) {
	// Through kelvin.
	var kelvin float64
	switch from {
	case "c":
		kelvin = v + 273.15
	case "f":
		kelvin = (v-32)*5/9 + 273.15
	case "k":
		kelvin = v
	}
	switch to {
	case "c":
		return kelvin - 273.15, nil
	case "f":
		return (kelvin-273.15)*9/5 + 32, nil
	case "k":
		return kelvin, nil
	}
	return 0, fmt.Errorf("unknown temperature unit %q", to)
}

func formatNumber(v float64) string {
	return strconv.FormatFloat(v, 'g', 10, 64)
}
