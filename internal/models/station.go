package models

import (
	"encoding/json"
	"strconv"
	"strings"
	"time"
)

// Station represents a meteorological station of the open data network
type Station struct {
	Code         string    `json:"code" db:"code"`
	Name         string    `json:"name" db:"name"`
	Department   string    `json:"department" db:"department"`
	Municipality string    `json:"municipality" db:"municipality"`
	Latitude     float64   `json:"latitude" db:"latitude"`
	Longitude    float64   `json:"longitude" db:"longitude"`
	Elevation    *float64  `json:"elevation,omitempty" db:"elevation"`
	Location     string    `json:"location_wkt,omitempty" db:"location_wkt"`
	CreatedAt    time.Time `json:"created_at" db:"created_at"`
	UpdatedAt    time.Time `json:"updated_at" db:"updated_at"`
}

// RawObservation is one sensor reading as delivered by the open data API.
// Socrata returns every field as a string.
type RawObservation struct {
	StationCode       string `json:"codigoestacion"`
	SensorCode        string `json:"codigosensor"`
	ObservedAt        string `json:"fechaobservacion"`
	Value             string `json:"valorobservado"`
	StationName       string `json:"nombreestacion"`
	Department        string `json:"departamento"`
	Municipality      string `json:"municipio"`
	HydrographicZone  string `json:"zonahidrografica"`
	Latitude          string `json:"latitud"`
	Longitude         string `json:"longitud"`
	SensorDescription string `json:"descripcionsensor"`
	Unit              string `json:"unidadmedida"`
}

// Reading is a parsed RawObservation
type Reading struct {
	ID          int64     `json:"id" db:"id"`
	StationCode string    `json:"station_code" db:"station_code"`
	ObservedAt  time.Time `json:"observed_at" db:"observed_at"`
	Variable    string    `json:"variable" db:"variable"`
	Sensor      string    `json:"sensor" db:"sensor"`
	Value       float64   `json:"value" db:"value"`
	Unit        string    `json:"unit" db:"unit"`
	CreatedAt   time.Time `json:"created_at" db:"created_at"`
}

var observationLayouts = []string{
	"2006-01-02T15:04:05.000",
	"2006-01-02T15:04:05",
	time.RFC3339,
	"2006-01-02 15:04:05",
	"2006-01-02",
}

// ToReading converts the raw record, failing with a ValidationError on bad
// dates, unparseable values or unknown sensors.
func (r *RawObservation) ToReading() (*Reading, error) {
	var observedAt time.Time
	var err error
	for _, layout := range observationLayouts {
		observedAt, err = time.Parse(layout, strings.TrimSpace(r.ObservedAt))
		if err == nil {
			break
		}
	}
	if err != nil {
		return nil, &ValidationError{
			Field:   "fechaobservacion",
			Value:   r.ObservedAt,
			Message: "invalid observation timestamp",
		}
	}

	value, err := strconv.ParseFloat(strings.TrimSpace(r.Value), 64)
	if err != nil {
		return nil, &ValidationError{
			Field:   "valorobservado",
			Value:   r.Value,
			Message: "observed value is not numeric",
		}
	}

	variable, ok := VariableForSensor(r.SensorDescription)
	if !ok {
		return nil, &ValidationError{
			Field:   "descripcionsensor",
			Value:   r.SensorDescription,
			Message: "unknown sensor description",
		}
	}

	return &Reading{
		StationCode: strings.TrimSpace(r.StationCode),
		ObservedAt:  observedAt,
		Variable:    variable,
		Sensor:      r.SensorDescription,
		Value:       value,
		Unit:        r.Unit,
		CreatedAt:   time.Now().UTC(),
	}, nil
}

// ToStation extracts station metadata; missing coordinates become zero
func (r *RawObservation) ToStation() Station {
	lat, _ := strconv.ParseFloat(strings.TrimSpace(r.Latitude), 64)
	lon, _ := strconv.ParseFloat(strings.TrimSpace(r.Longitude), 64)
	now := time.Now().UTC()
	return Station{
		Code:         strings.TrimSpace(r.StationCode),
		Name:         r.StationName,
		Department:   r.Department,
		Municipality: r.Municipality,
		Latitude:     lat,
		Longitude:    lon,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
}

// AnalysisRecord is a persisted analysis result
type AnalysisRecord struct {
	ID           string          `json:"id" db:"id"`
	AnalysisType string          `json:"analysis_type" db:"analysis_type"`
	Parameters   json.RawMessage `json:"parameters" db:"parameters"`
	Result       json.RawMessage `json:"result" db:"result_data"`
	Metadata     json.RawMessage `json:"metadata,omitempty" db:"metadata"`
	CreatedAt    time.Time       `json:"created_at" db:"created_at"`
}

// Processing log statuses
const (
	StatusInProgress = "in_progress"
	StatusSuccess    = "success"
	StatusError      = "error"
)

// ProcessingLog tracks one extraction, cleaning or analysis run
type ProcessingLog struct {
	ID               int64      `json:"id" db:"id"`
	ProcessType      string     `json:"process_type" db:"process_type"`
	Status           string     `json:"status" db:"status"`
	RecordsProcessed int        `json:"records_processed" db:"records_processed"`
	ErrorMessage     *string    `json:"error_message,omitempty" db:"error_message"`
	StartTime        time.Time  `json:"start_time" db:"start_time"`
	EndTime          *time.Time `json:"end_time,omitempty" db:"end_time"`
}
