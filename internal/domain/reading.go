// Package domain holds the meter reading records shared by the service and the controller.
package domain

import "time"

// ElectricityReading is one sample of a smart meter, Reading is in kW
type ElectricityReading struct {
	Time    time.Time `json:"time" toml:"time" yaml:"time"`
	Reading float64   `json:"reading" toml:"reading" yaml:"reading"`
}

// MeterReadings is a batch of readings submitted for one meter
type MeterReadings struct {
	SmartMeterID        string               `json:"smartMeterId" toml:"smartMeterId" yaml:"smartMeterId"`
	ElectricityReadings []ElectricityReading `json:"electricityReadings" toml:"electricityReadings" yaml:"electricityReadings"`
}
