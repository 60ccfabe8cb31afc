// Package datetime answers date and time questions: current time in a zone,
// date arithmetic, weekday lookup, timestamp conversion, and formatting with
// strftime-style directives.
package datetime

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	carnet "github.com/carnetd/carnet"
)

const defaultFormat = "%Y-%m-%d %H:%M:%S"

// Tool answers date/time queries.
type Tool struct {
	// now is injectable for tests.
	now func() time.Time
}

// New creates a datetime tool.
func New() *Tool { return &Tool{now: time.Now} }

var _ carnet.Tool = (*Tool)(nil)

func (t *Tool) Definitions() []carnet.ToolDefinition {
	return []carnet.ToolDefinition{{
		Name:        "datetime",
		Description: "Date and time operations: current time, today's date, weekday of a date, unix timestamp conversion, and formatting. Dates are ISO 8601 (YYYY-MM-DD or full RFC 3339).",
		Parameters: json.RawMessage(`{"type":"object","properties":{
			"action":{"type":"string","enum":["now","date","weekday","timestamp","format"],"description":"What to compute"},
			"date":{"type":"string","description":"Input date for weekday/format, e.g. 2026-08-24 or 2026-08-24T10:30:00Z"},
			"timestamp":{"type":"number","description":"Unix timestamp in seconds for the timestamp operation"},
			"timezone":{"type":"string","description":"IANA zone name, e.g. Europe/Berlin","default":"UTC"},
			"format":{"type":"string","description":"strftime-style output format","default":"%Y-%m-%d %H:%M:%S"}
		},"required":["action"]}`),
	}}
}

func (t *Tool) Execute(ctx context.Context, _ string, args json.RawMessage) (carnet.ToolResult, error) {
	var params struct {
		Action    string  `json:"action"`
		Date      string  `json:"date"`
		Timestamp float64 `json:"timestamp"`
		Timezone  string  `json:"timezone"`
		Format    string  `json:"format"`
	}
	if err := json.Unmarshal(args, &params); err != nil {
		return carnet.ToolErr(carnet.ErrKindInvalidInput, "invalid args: "+err.Error()), nil
	}
	if params.Timezone == "" {
		params.Timezone = "UTC"
	}
	if params.Format == "" {
		params.Format = defaultFormat
	}

	loc, err := time.LoadLocation(params.Timezone)
	if err != nil {
		return carnet.ToolErr(carnet.ErrKindInvalidInput, fmt.Sprintf("unknown timezone %q", params.Timezone)), nil
	}
	layout, err := strftimeLayout(params.Format)
	if err != nil {
		return carnet.ToolErr(carnet.ErrKindInvalidInput, err.Error()), nil
	}

	switch params.Action {
	case "now":
		now := t.now().In(loc)
		return carnet.ToolResult{
			Success: true,
			Output:  now.Format(layout),
			Data:    map[string]any{"timestamp": now.Unix(), "timezone": params.Timezone},
		}, nil

	case "date":
		now := t.now().In(loc)
		return carnet.ToolResult{
			Success: true,
			Output:  now.Format("2006-01-02"),
			Data:    map[string]any{"weekday": now.Weekday().String(), "timezone": params.Timezone},
		}, nil

	case "weekday":
		d, err := parseDate(params.Date, loc)
		if err != nil {
			return carnet.ToolErr(carnet.ErrKindInvalidInput, err.Error()), nil
		}
		return carnet.ToolOK(d.Weekday().String()), nil

	case "timestamp":
		ts := time.Unix(int64(params.Timestamp), 0).In(loc)
		return carnet.ToolResult{
			Success: true,
			Output:  ts.Format(layout),
			Data:    map[string]any{"timestamp": int64(params.Timestamp), "timezone": params.Timezone},
		}, nil

	case "format":
		d, err := parseDate(params.Date, loc)
		if err != nil {
			return carnet.ToolErr(carnet.ErrKindInvalidInput, err.Error()), nil
		}
		return carnet.ToolOK(d.In(loc).Format(layout)), nil
	}

	return carnet.ToolErr(carnet.ErrKindInvalidInput,
		fmt.Sprintf("unknown action %q, expected now, date, weekday, timestamp, or format", params.Action)), nil
}

func parseDate(s string, loc *time.Location) (time.Time, error) {
	if s == "" {
		return time.Time{}, fmt.Errorf("date is required for this action")
	}
	for _, layout := range []string{time.RFC3339, "2006-01-02T15:04:05", "2006-01-02 15:04:05", "2006-01-02"} {
		if d, err := time.ParseInLocation(layout, s, loc); err == nil {
			return d, nil
		}
	}
	return time.Time{}, fmt.Errorf("cannot parse date %q, use YYYY-MM-DD or RFC 3339", s)
}

// strftimeLayout translates strftime directives into a Go time layout.
func strftimeLayout(format string) (string, error) {
	var b strings.Builder
	for i := 0; i < len(format); i++ {
		c := format[i]
		if c != '%' {
			b.WriteByte(c)
			continue
		}
		i++
		if i >= len(format) {
			return "", fmt.Errorf("trailing %% in format")
		}
		switch format[i] {
		case 'Y':
			b.WriteString("2006")
		case 'y':
			b.WriteString("06")
		case 'm':
			b.WriteString("01")
		case 'd':
			b.WriteString("02")
		case 'H':
			b.WriteString("15")
		case 'I':
			b.WriteString("03")
		case 'M':
			b.WriteString("04")
		case 'S':
			b.WriteString("05")
		case 'p':
			b.WriteString("PM")
		case 'a':
			b.WriteString("Mon")
		case 'A':
			b.WriteString("Monday")
		case 'b':
			b.WriteString("Jan")
		case 'B':
			b.WriteString("January")
		case 'Z':
			b.WriteString("MST")
		case 'z':
			b.WriteString("-0700")
		case 'j':
			b.WriteString("002")
		case '%':
			b.WriteByte('%')
		default:
			return "", fmt.Errorf("unsupported format directive %%%c", format[i])
		}
	}
	return b.String(), nil
}
