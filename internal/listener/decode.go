package listener

import (
	"fmt"
	"strconv"
)

type positionEntry struct {
	latitude  float64
	longitude float64
	accuracy  uint32
	course    *uint16
}

// parsePositionEntry decodes a position stream entry's field map. Redis
// returns every stream field value as a string regardless of the type
// originally appended.
func parsePositionEntry(values map[string]interface{}) (positionEntry, error) {
	lat, err := parseFloatField(values, "lat")
	if err != nil {
		return positionEntry{}, err
	}
	lon, err := parseFloatField(values, "lon")
	if err != nil {
		return positionEntry{}, err
	}
	accuracy, err := parseUintField(values, "accuracy")
	if err != nil {
		return positionEntry{}, err
	}

	entry := positionEntry{latitude: lat, longitude: lon, accuracy: uint32(accuracy)}
	if raw, ok := values["course"]; ok {
		course, err := parseUint(raw)
		if err != nil {
			return positionEntry{}, fmt.Errorf("failed to parse course: %w", err)
		}
		c := uint16(course)
		entry.course = &c
	}
	return entry, nil
}

// parseBatteryLevel decodes a hardware stream entry's battery field.
func parseBatteryLevel(values map[string]interface{}) (int, error) {
	raw, ok := values["battery"]
	if !ok {
		return 0, fmt.Errorf("hardware entry missing battery field")
	}
	v, err := parseUint(raw)
	if err != nil {
		return 0, fmt.Errorf("failed to parse battery level: %w", err)
	}
	return int(v), nil
}

func parseFloatField(values map[string]interface{}, field string) (float64, error) {
	raw, ok := values[field]
	if !ok {
		return 0, fmt.Errorf("entry missing %s field", field)
	}
	return parseFloat(raw)
}

func parseUintField(values map[string]interface{}, field string) (uint64, error) {
	raw, ok := values[field]
	if !ok {
		return 0, fmt.Errorf("entry missing %s field", field)
	}
	return parseUint(raw)
}

func parseFloat(raw interface{}) (float64, error) {
	switch v := raw.(type) {
	case string:
		return strconv.ParseFloat(v, 64)
	case float64:
		return v, nil
	default:
		return strconv.ParseFloat(fmt.Sprint(v), 64)
	}
}

func parseUint(raw interface{}) (uint64, error) {
	switch v := raw.(type) {
	case string:
		return strconv.ParseUint(v, 10, 64)
	case int64:
		return uint64(v), nil
	default:
		return strconv.ParseUint(fmt.Sprint(v), 10, 64)
	}
}
