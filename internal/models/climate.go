package models

import (
	"strings"
)

// Canonical column names of the observation table
const (
	ColDate      = "fecha"
	ColStation   = "estacion"
	ColLatitude  = "latitud"
	ColLongitude = "longitud"

	ColTempMax        = "temperatura_maxima"
	ColTempMin        = "temperatura_minima"
	ColTempAvg        = "temperatura_promedio"
	ColHumidity       = "humedad_relativa"
	ColPrecipitation  = "precipitacion"
	ColPressure       = "presion_atmosferica"
	ColWindSpeed      = "velocidad_viento"
	ColWindDirection  = "direccion_viento"
	ColSolarRadiation = "radiacion_solar"
)

// Variable is a climate measurement with a fixed physically plausible interval
type Variable struct {
	Name string  `json:"name"`
	Unit string  `json:"unit"`
	Min  float64 `json:"min"`
	Max  float64 `json:"max"`
}

// InRange reports whether v lies inside the closed interval [Min, Max]
func (v Variable) InRange(x float64) bool {
	return x >= v.Min && x <= v.Max
}

var variables = []Variable{
	{Name: ColTempMax, Unit: "°C", Min: -10, Max: 45},
	{Name: ColTempMin, Unit: "°C", Min: -15, Max: 35},
	{Name: ColTempAvg, Unit: "°C", Min: -10, Max: 40},
	{Name: ColHumidity, Unit: "%", Min: 0, Max: 100},
	{Name: ColPrecipitation, Unit: "mm", Min: 0, Max: 1000},
	{Name: ColPressure, Unit: "hPa", Min: 800, Max: 1100},
	{Name: ColWindSpeed, Unit: "m/s", Min: 0, Max: 100},
	{Name: ColWindDirection, Unit: "°", Min: 0, Max: 360},
	{Name: ColSolarRadiation, Unit: "W/m²", Min: 0, Max: 1200},
}

var variablesByName = func() map[string]Variable {
	m := make(map[string]Variable, len(variables))
	for _, v := range variables {
		m[v.Name] = v
	}
	return m
}()

// Variables returns the known climate variables in canonical order.
// The returned slice is a copy.
func Variables() []Variable {
	out := make([]Variable, len(variables))
	copy(out, variables)
	return out
}

// LookupVariable returns the known variable named name
func LookupVariable(name string) (Variable, bool) {
	v, ok := variablesByName[name]
	return v, ok
}

// climateKeywords mark a column as carrying some climate measurement even
// when it is not one of the canonical names.
var climateKeywords = []string{"temperatura", "precipitacion", "humedad", "presion", "viento"}

// IsClimateColumn reports whether a column name refers to a climate variable
func IsClimateColumn(name string) bool {
	for _, kw := range climateKeywords {
		if strings.Contains(name, kw) {
			return true
		}
	}
	return false
}

// NormalizeColumnName trims, lowercases and replaces spaces with underscores
func NormalizeColumnName(name string) string {
	return strings.ReplaceAll(strings.ToLower(strings.TrimSpace(name)), " ", "_")
}

var accentFolder = strings.NewReplacer(
	"á", "a", "é", "e", "í", "i", "ó", "o", "ú", "u", "ñ", "n",
	"Á", "a", "É", "e", "Í", "i", "Ó", "o", "Ú", "u", "Ñ", "n",
)

// VariableForSensor maps an open data sensor description such as
// "Temp Max Aire 2 m" or "Precipitación" onto a canonical column name.
func VariableForSensor(description string) (string, bool) {
	d := strings.ToLower(accentFolder.Replace(description))
	switch {
	case strings.Contains(d, "temp") && strings.Contains(d, "max"):
		return ColTempMax, true
	case strings.Contains(d, "temp") && strings.Contains(d, "min"):
		return ColTempMin, true
	case strings.Contains(d, "temp"):
		return ColTempAvg, true
	case strings.Contains(d, "humedad"):
		return ColHumidity, true
	case strings.Contains(d, "precipitac"):
		return ColPrecipitation, true
	case strings.Contains(d, "presion"):
		return ColPressure, true
	case strings.Contains(d, "velocidad"):
		return ColWindSpeed, true
	case strings.Contains(d, "direccion"):
		return ColWindDirection, true
	case strings.Contains(d, "radiacion"):
		return ColSolarRadiation, true
	}
	return "", false
}
