package httpapi

import (
	"bytes"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/i474232898/commute-telemetry/internal/commute"
)

var validate = validator.New()

// RegisterRoutes wires the HTTP handlers into the Fiber app.
func RegisterRoutes(app *fiber.App, service *commute.Service) {
	v1 := app.Group("/api/v1")

	v1.Get("/commute", func(c *fiber.Ctx) error {
		return respond(c, service.Current())
	})

	v1.Get("/commute/route", func(c *fiber.Ctx) error {
		route, ok := service.Route()
		if !ok {
			return fiber.NewError(fiber.StatusNotFound, "no commute route is being tracked")
		}
		return respond(c, route)
	})

	v1.Put("/commute/route", func(c *fiber.Ctx) error {
		var req routeRequest
		if err := c.BodyParser(&req); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
		}
		if err := validate.Struct(req); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, err.Error())
		}

		origin, destination := req.Origin.toCoordinate(), req.Destination.toCoordinate()
		if err := service.Track(&origin, &destination); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, err.Error())
		}

		return c.Status(fiber.StatusAccepted).JSON(service.Current())
	})

	v1.Delete("/commute/route", func(c *fiber.Ctx) error {
		service.Untrack()
		return c.SendStatus(fiber.StatusNoContent)
	})
}

// pointRequest uses pointers so that a zero latitude or longitude is not
// mistaken for a missing one.
type pointRequest struct {
	Lat *float64 `json:"lat" validate:"required,gte=-90,lte=90"`
	Lon *float64 `json:"lon" validate:"required,gte=-180,lte=180"`
}

func (p pointRequest) toCoordinate() commute.Coordinate {
	return commute.Coordinate{Lat: *p.Lat, Lon: *p.Lon}
}

// routeRequest is the body of PUT /commute/route.
type routeRequest struct {
	Origin      *pointRequest `json:"origin" validate:"required"`
	Destination *pointRequest `json:"destination" validate:"required"`
}

// respond writes data as JSON, or as MessagePack when format=msgpack is given.
func respond(c *fiber.Ctx, data any) error {
	if c.Query("format") != "msgpack" {
		return c.JSON(data)
	}

	var buf bytes.Buffer
	enc := msgpack.NewEncoder(&buf)
	enc.SetCustomStructTag("json") // Use json tags for MessagePack
	if err := enc.Encode(data); err != nil {
		return fiber.NewError(fiber.StatusInternalServerError, "failed to encode response")
	}
	c.Set(fiber.HeaderContentType, "application/x-msgpack")
	return c.Send(buf.Bytes())
}
