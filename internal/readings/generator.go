package readings

import (
	"fmt"
	"math"
	"math/rand/v2"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/goccy/go-json"
	"gopkg.in/yaml.v3"

	"github.com/kfcemployee/joyofenergy/internal/domain"
)

const readingInterval = 10 * time.Second

// Generate returns n readings ending at now, 10 seconds apart, oldest first,
// with values in [0, 1) rounded to 4 decimals
func Generate(n int, now time.Time, rnd *rand.Rand) []domain.ElectricityReading {
	out := make([]domain.ElectricityReading, n)
	for i := range n {
		v := math.Round(rnd.Float64()*10000) / 10000
		if v >= 1 {
			v = 0.9999
		}
		out[i] = domain.ElectricityReading{
			Time:    now.Add(-time.Duration(n-1-i) * readingInterval).UTC(),
			Reading: v,
		}
	}
	return out
}

// MeterID names the i-th demo meter
func MeterID(i int) string {
	return fmt.Sprintf("smart-meter-%d", i)
}

// Seed fills meters smart-meter-0..n-1 with generated readings
func Seed(svc *Service, meters, perMeter int, now time.Time, rnd *rand.Rand) error {
	if perMeter <= 0 {
		return nil
	}
	for i := range meters {
		if err := svc.Store(MeterID(i), Generate(perMeter, now, rnd)); err != nil {
			return fmt.Errorf("seed %s: %w", MeterID(i), err)
		}
	}
	return nil
}

// fixtureFile is the document layout of fixture files
type fixtureFile struct {
	Meters []domain.MeterReadings `json:"meters" toml:"meters" yaml:"meters"`
}

// LoadFixtures reads meter batches from a .json, .toml, .yaml or .yml file
func LoadFixtures(path string) ([]domain.MeterReadings, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var f fixtureFile
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".json":
		err = json.Unmarshal(data, &f)
	case ".toml":
		_, err = toml.Decode(string(data), &f)
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, &f)
	default:
		return nil, fmt.Errorf("unsupported fixture format %q", ext)
	}
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", path, err)
	}
	return f.Meters, nil
}

// StoreFixtures stores every batch in file order
func StoreFixtures(svc *Service, batches []domain.MeterReadings) error {
	for _, b := range batches {
		if err := svc.Store(b.SmartMeterID, b.ElectricityReadings); err != nil {
			return fmt.Errorf("fixture %q: %w", b.SmartMeterID, err)
		}
	}
	return nil
}
