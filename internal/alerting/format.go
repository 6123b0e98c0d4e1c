package alerting

import (
	"fmt"
	"strings"
	"text/template"
	"time"

	"procodus.dev/sewer-monitor/internal/model"
)

// DefaultMessageTemplate is the notification body sent to operators.
const DefaultMessageTemplate = `{{.SeverityIcon}} *SEWER MONITORING ALERT* {{.CategoryIcon}}

*Sensor:* {{.SensorID}}
*Location:* {{.Location}}
*Type:* {{.CategoryLabel}}
*Severity:* {{.SeverityLabel}}

*Description:*
{{.Message}}

*Date/Time:* {{.CreatedAt}}

_Sewer Monitoring System_
_Reply "OK" to confirm receipt_`

const (
	locationFallback = "not informed"
	timestampLayout  = "02/01/2006 15:04:05 MST"
)

var severityIcons = map[model.Severity]string{
	model.SeverityCritical: "🚨",
	model.SeverityHigh:     "⚠️",
	model.SeverityMedium:   "🔶",
	model.SeverityLow:      "🔵",
}

var severityLabels = map[model.Severity]string{
	model.SeverityCritical: "CRITICAL",
	model.SeverityHigh:     "HIGH",
	model.SeverityMedium:   "MEDIUM",
	model.SeverityLow:      "LOW",
}

var categoryIcons = map[model.Category]string{
	model.CategoryFloodRisk:           "🌊",
	model.CategoryToxicGas:            "☠️",
	model.CategoryMaintenanceRequired: "🔧",
	model.CategorySensorOffline:       "📡",
}

var categoryLabels = map[model.Category]string{
	model.CategoryFloodRisk:           "Flood Risk",
	model.CategoryToxicGas:            "Toxic Gas Detected",
	model.CategoryMaintenanceRequired: "Maintenance Required",
	model.CategorySensorOffline:       "Sensor Offline",
}

// SeverityLabel returns the display label of a severity.
func SeverityLabel(s model.Severity) string {
	if label, ok := severityLabels[s]; ok {
		return label
	}
	return strings.ToUpper(string(s))
}

// CategoryLabel returns the display label of a category.
func CategoryLabel(c model.Category) string {
	if label, ok := categoryLabels[c]; ok {
		return label
	}
	return string(c)
}

// MessageFields is the data passed to the notification template.
type MessageFields struct {
	SeverityIcon  string
	SeverityLabel string
	CategoryIcon  string
	CategoryLabel string
	SensorID      string
	Location      string
	Message       string
	CreatedAt     string
}

// Formatter renders alerts into notification text.
type Formatter struct {
	tmpl     *template.Template
	location *time.Location
}

// NewFormatter parses body (DefaultMessageTemplate when empty) and renders
// timestamps in loc (UTC when nil).
func NewFormatter(body string, loc *time.Location) (*Formatter, error) {
	if strings.TrimSpace(body) == "" {
		body = DefaultMessageTemplate
	}
	tmpl, err := template.New("alert").Option("missingkey=error").Parse(body)
	if err != nil {
		return nil, fmt.Errorf("parse message template: %w", err)
	}
	if loc == nil {
		loc = time.UTC
	}
	return &Formatter{tmpl: tmpl, location: loc}, nil
}

// Fields builds the template data for alert.
func (f *Formatter) Fields(alert *model.Alert) MessageFields {
	icon, ok := severityIcons[alert.Severity]
	if !ok {
		icon = "⚠️"
	}
	typeIcon, ok := categoryIcons[alert.Category]
	if !ok {
		typeIcon = "📊"
	}
	location := strings.TrimSpace(alert.LocationName)
	if location == "" {
		location = locationFallback
	}

	return MessageFields{
		SeverityIcon:  icon,
		SeverityLabel: SeverityLabel(alert.Severity),
		CategoryIcon:  typeIcon,
		CategoryLabel: CategoryLabel(alert.Category),
		SensorID:      alert.SensorID,
		Location:      location,
		Message:       alert.Message,
		CreatedAt:     alert.CreatedAt.In(f.location).Format(timestampLayout),
	}
}

// Format renders alert.
func (f *Formatter) Format(alert *model.Alert) (string, error) {
	var b strings.Builder
	if err := f.tmpl.Execute(&b, f.Fields(alert)); err != nil {
		return "", fmt.Errorf("render alert %d: %w", alert.ID, err)
	}
	return b.String(), nil
}
