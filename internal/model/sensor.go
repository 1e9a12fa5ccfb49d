package model

import "strconv"

// SensorID identifies one logical plant sensor for the whole process lifetime.
type SensorID string

const sensorIDPrefix = "plant_"

// GenerateSensorIDs returns n distinct IDs plant_1..plant_n in order.
func GenerateSensorIDs(n int) []SensorID {
	if n <= 0 {
		return []SensorID{}
	}
	ids := make([]SensorID, 0, n)
	for i := 1; i <= n; i++ {
		ids = append(ids, SensorID(sensorIDPrefix+strconv.Itoa(i)))
	}
	return ids
}

func (id SensorID) String() string { return string(id) }
