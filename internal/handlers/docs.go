package handlers

import (
	"encoding/json"
	"net/http"
)

type object = map[string]interface{}

func queryParam(name, description string, required bool, schema object) object {
	return object{
		"name":        name,
		"in":          "query",
		"description": description,
		"required":    required,
		"schema":      schema,
	}
}

func pathParam(name, description string) object {
	return object{
		"name":        name,
		"in":          "path",
		"description": description,
		"required":    true,
		"schema":      object{"type": "string"},
	}
}

// csvUpload accepts the table as a multipart "file" field or a raw text/csv body
var csvUpload = object{
	"required": true,
	"content": object{
		"multipart/form-data": object{
			"schema": object{
				"type":       "object",
				"properties": object{"file": object{"type": "string", "format": "binary"}},
			},
		},
		"text/csv": object{"schema": object{"type": "string"}},
	},
}

func jsonResponse(description string) object {
	return object{
		"description": description,
		"content": object{
			"application/json": object{"schema": object{"type": "object"}},
		},
	}
}

var errorResponses = object{
	"400": object{"description": "Invalid input", "content": object{"application/json": object{"schema": object{"$ref": "#/components/schemas/ErrorResponse"}}}},
	"404": object{"description": "Not found", "content": object{"application/json": object{"schema": object{"$ref": "#/components/schemas/ErrorResponse"}}}},
	"500": object{"description": "Internal error", "content": object{"application/json": object{"schema": object{"$ref": "#/components/schemas/ErrorResponse"}}}},
}

func operation(summary, description string, params []object, body object, ok string) object {
	responses := object{"200": jsonResponse(ok)}
	for code, r := range errorResponses {
		responses[code] = r
	}
	op := object{
		"summary":     summary,
		"description": description,
		"responses":   responses,
	}
	if len(params) > 0 {
		op["parameters"] = params
	}
	if body != nil {
		op["requestBody"] = body
	}
	return op
}

// OpenAPISpec returns the OpenAPI 3.0 specification of the climate analysis API
func OpenAPISpec(w http.ResponseWriter, r *http.Request) {
	variable := queryParam("variable", "Climate variable column, e.g. temperatura_promedio", false, object{"type": "string"})

	doc := object{
		"openapi": "3.0.0",
		"info": object{
			"title":       "Cundinamarca Climate Analysis API",
			"description": "Validation, cleaning, statistical, spatial and exploratory analysis of IDEAM climate observations",
			"version":     "1.0.0",
		},
		"servers": []map[string]string{
			{"url": "http://localhost:8080", "description": "Local development server"},
		},
		"paths": object{
			"/health": object{
				"get": operation("Health check", "Service and database status", nil, nil, "Service is healthy"),
			},
			"/api/v1/validate": object{
				"post": operation("Validate data", "Structure, range, temporal and consistency checks with a quality score", nil, csvUpload, "Validation results and text report"),
			},
			"/api/v1/process": object{
				"post": operation("Process data", "Validate, clean and store the cleaned table as a data artifact", nil, csvUpload, "Processing summary"),
			},
			"/api/v1/analyze": object{
				"post": operation("Exploratory analysis", "Full exploratory analysis with report and optional charts",
					[]object{queryParam("charts", "Render charts (default true)", false, object{"type": "boolean", "default": true})},
					csvUpload, "Exploratory analysis results"),
			},
			"/api/v1/trend": object{
				"post": operation("Trend analysis", "Linear trend, Mann-Kendall test and monthly seasonality of one variable",
					[]object{queryParam("variable", "Climate variable column", true, object{"type": "string"})},
					csvUpload, "Trend analysis"),
			},
			"/api/v1/spatial": object{
				"post": operation("Spatial analysis", "Region enrichment, coverage summary, spatial statistics and GeoJSON export",
					[]object{variable}, csvUpload, "Spatial analysis"),
			},
			"/api/v1/extract": object{
				"post": operation("Extract data", "Download IDEAM observations from datos.gov.co and pivot them into a table", nil,
					object{
						"required": true,
						"content": object{
							"application/json": object{
								"schema": object{
									"type":     "object",
									"required": []string{"start_date", "end_date"},
									"properties": object{
										"start_date": object{"type": "string", "format": "date"},
										"end_date":   object{"type": "string", "format": "date"},
										"department": object{"type": "string", "default": "CUNDINAMARCA"},
										"batch_size": object{"type": "integer"},
									},
								},
							},
						},
					}, "Extraction summary"),
			},
			"/api/v1/stations": object{
				"get": operation("List stations", "Stored stations, or those discovered through the open data API",
					[]object{queryParam("department", "Department filter", false, object{"type": "string"})}, nil, "Stations"),
			},
			"/api/v1/stations/{code}": object{
				"get": operation("Get station", "Station metadata with coordinate validation",
					[]object{pathParam("code", "Station code")}, nil, "Station"),
			},
			"/api/v1/stations/{code}/report": object{
				"post": operation("Station report", "Per-station statistics, temporal and quality report",
					[]object{pathParam("code", "Station code")}, csvUpload, "Station report"),
			},
			"/api/v1/analyses": object{
				"get": operation("List analyses", "Persisted analysis results, newest first",
					[]object{
						queryParam("type", "Analysis type (eda, trend, spatial)", false, object{"type": "string"}),
						queryParam("limit", "Maximum results (default 50)", false, object{"type": "integer", "default": 50}),
					}, nil, "Analysis records"),
			},
			"/api/v1/analyses/{id}": object{
				"get": operation("Get analysis", "One persisted analysis result",
					[]object{pathParam("id", "Analysis id")}, nil, "Analysis record"),
			},
			"/api/v1/download/{type}/{filename}": object{
				"get": object{
					"summary":    "Download artifact",
					"parameters": []object{pathParam("type", "data, analysis or visualizations"), pathParam("filename", "File name")},
					"responses": object{
						"200": object{"description": "File contents", "content": object{"application/octet-stream": object{"schema": object{"type": "string", "format": "binary"}}}},
						"400": errorResponses["400"],
						"404": errorResponses["404"],
					},
				},
			},
			"/metrics": object{
				"get": object{
					"summary":     "Prometheus metrics",
					"description": "Prometheus metrics endpoint for monitoring",
					"responses": object{
						"200": object{
							"description": "Prometheus metrics in text format",
							"content":     object{"text/plain": object{"schema": object{"type": "string"}}},
						},
					},
				},
			},
		},
		"components": object{
			"schemas": object{
				"ErrorResponse": object{
					"type": "object",
					"properties": object{
						"error":   object{"type": "string"},
						"message": object{"type": "string"},
						"code":    object{"type": "integer"},
					},
				},
			},
		},
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(doc)
}
