// Package controller maps the meter readings HTTP routes onto the readings service.
package controller

import (
	stderrors "errors"

	"github.com/goccy/go-json"
	"github.com/rs/zerolog"

	"github.com/kfcemployee/joyofenergy/internal/domain"
	apperrors "github.com/kfcemployee/joyofenergy/internal/errors"
	"github.com/kfcemployee/joyofenergy/internal/readings"
	"github.com/kfcemployee/joyofenergy/server/router"
)

const (
	StorePath = "/readings/store"
	ReadPath  = "/readings/read/{meterId}"
)

// Store is the subset of readings.Service the controller needs
type Store interface {
	Store(meterID string, readings []domain.ElectricityReading) error
	GetReadings(meterID string) ([]domain.ElectricityReading, error)
}

type MeterReadingController struct {
	svc Store
	log zerolog.Logger
}

func NewMeterReadingController(svc Store, logger zerolog.Logger) *MeterReadingController {
	return &MeterReadingController{
		svc: svc,
		log: logger.With().Str("component", "readings").Logger(),
	}
}

// Register adds the controller routes to r
func (c *MeterReadingController) Register(r *router.Router) {
	r.Post(StorePath, c.Store)
	r.Get(ReadPath, c.Read)
}

type readingsResponse struct {
	Readings []domain.ElectricityReading `json:"readings"`
}

// Store handles POST /readings/store
func (c *MeterReadingController) Store(req *router.Request, _ []string) router.Response {
	var body domain.MeterReadings
	if err := json.Unmarshal(req.Body, &body); err != nil {
		return errorResponse(400, apperrors.Wrap(apperrors.InvalidRequest, "malformed request body", err))
	}

	if err := c.svc.Store(body.SmartMeterID, body.ElectricityReadings); err != nil {
		c.log.Debug().Str("request_id", req.RequestID).Err(err).Msg("store rejected")
		return errorResponse(statusFor(err), err)
	}

	c.log.Debug().
		Str("request_id", req.RequestID).
		Str("meter", body.SmartMeterID).
		Int("count", len(body.ElectricityReadings)).
		Msg("readings stored")
	return router.Status(200)
}

// Read handles GET /readings/read/{meterId}
func (c *MeterReadingController) Read(req *router.Request, params []string) router.Response {
	if len(params) == 0 || params[0] == "" {
		return errorResponse(404, readings.ErrMeterNotFound)
	}

	rs, err := c.svc.GetReadings(params[0])
	if err != nil {
		return errorResponse(statusFor(err), err)
	}
	return router.JSON(200, readingsResponse{Readings: rs})
}

// statusFor maps service errors; missing id or readings are answered with 500
func statusFor(err error) int {
	if stderrors.Is(err, readings.ErrMeterNotFound) {
		return 404
	}
	return 500
}

func errorResponse(status int, err error) router.Response {
	var e *apperrors.Error
	if !stderrors.As(err, &e) {
		e = apperrors.Wrap(apperrors.InternalError, "internal server error", err)
	}
	// only code and message are encoded, the cause stays in the logs
	return router.JSON(status, e)
}
