package app

import (
	"strconv"

	"github.com/samber/lo"

	"github.com/LeonardoBeccarini/synlab/internal/model/entities"
)

const absent = "—"

type tileSpec struct {
	id, name, unit string
	value          func(entities.SensorReading) float64
}

var sensorTiles = []tileSpec{
	{"temperature", "Temperature (DHT11)", " °C", func(r entities.SensorReading) float64 { return r.Temperature }},
	{"humidity", "Humidity (DHT11)", " %", func(r entities.SensorReading) float64 { return r.Humidity }},
	{"gas", "Gas / AQI (MQ135)", "", func(r entities.SensorReading) float64 { return r.Gas }},
	{"water", "Water Level", "", func(r entities.SensorReading) float64 { return r.Water }},
	{"distance", "Ultrasonic Distance", " cm", func(r entities.SensorReading) float64 { return r.Distance }},
}

// BuildTiles derives the sensor overview from a snapshot. A stale reading still shows
// its values as active; only the header and microscope follow Online.
func BuildTiles(s entities.Snapshot) TilesResponse {
	status := TileNotConnected
	switch {
	case s.Latest != nil:
		status = TileActive
	case s.Online:
		status = TileInactive
	}

	tiles := lo.Map(sensorTiles, func(spec tileSpec, _ int) Tile {
		value := absent
		if s.Latest != nil {
			value = formatNumber(spec.value(*s.Latest)) + spec.unit
		}
		return Tile{ID: spec.id, Name: spec.name, Status: status, StatusLabel: status.Label(), Value: value}
	})

	scope := lo.Ternary(s.Online, TileActive, TileNotConnected)
	tiles = append(tiles, Tile{
		ID:          "microscope",
		Name:        "USB Microscope",
		Status:      scope,
		StatusLabel: scope.Label(),
		Value:       lo.Ternary(s.Online, "Connected", absent),
	})

	return TilesResponse{
		Header: lo.Ternary(s.Online, "Live data from ESP32", "ESP32 not connected"),
		Online: s.Online,
		Tiles:  tiles,
	}
}

// formatNumber prints the shortest representation, so 22 renders as "22" and 22.5 as "22.5".
func formatNumber(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
