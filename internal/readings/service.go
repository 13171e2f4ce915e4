// Package readings stores electricity readings per smart meter in memory.
package readings

import (
	"slices"
	"sync"

	"github.com/kfcemployee/joyofenergy/internal/domain"
	apperrors "github.com/kfcemployee/joyofenergy/internal/errors"
)

var (
	ErrMeterNotFound  = apperrors.New(apperrors.MeterNotFound, "meter not found")
	ErrMissingMeterID = apperrors.New(apperrors.MissingMeterID, "smartMeterId is required")
	ErrNoReadings     = apperrors.New(apperrors.MissingReadings, "electricityReadings must not be empty")
)

// meterLog is the append-only list of one meter, it has its own lock
// so writers of different meters never wait for each other
type meterLog struct {
	mu       sync.RWMutex
	readings []domain.ElectricityReading
}

// Service keeps readings keyed by meter id in arrival order.
// Values are stored as submitted, no unit conversion happens here.
type Service struct {
	mu     sync.RWMutex // guards the map only
	meters map[string]*meterLog
}

func NewService() *Service {
	return &Service{meters: make(map[string]*meterLog)}
}

// Store appends readings to the meter, creating it on first use.
// Nothing is stored when the id is empty or there are no readings.
func (s *Service) Store(meterID string, readings []domain.ElectricityReading) error {
	if meterID == "" {
		return ErrMissingMeterID
	}
	if len(readings) == 0 {
		return ErrNoReadings
	}

	l := s.log(meterID)
	l.mu.Lock()
	l.readings = append(l.readings, readings...)
	l.mu.Unlock()
	return nil
}

// GetReadings returns a copy of everything stored for the meter
func (s *Service) GetReadings(meterID string) ([]domain.ElectricityReading, error) {
	s.mu.RLock()
	l, ok := s.meters[meterID]
	s.mu.RUnlock()
	if !ok {
		return nil, ErrMeterNotFound
	}

	l.mu.RLock()
	defer l.mu.RUnlock()
	return slices.Clone(l.readings), nil
}

// Meters lists known meter ids, sorted
func (s *Service) Meters() []string {
	s.mu.RLock()
	ids := make([]string, 0, len(s.meters))
	for id := range s.meters {
		ids = append(ids, id)
	}
	s.mu.RUnlock()

	slices.Sort(ids)
	return ids
}

func (s *Service) log(meterID string) *meterLog {
	s.mu.RLock()
	l, ok := s.meters[meterID]
	s.mu.RUnlock()
	if ok {
		return l
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if l, ok = s.meters[meterID]; !ok {
		l = &meterLog{}
		s.meters[meterID] = l
	}
	return l
}
