package converter

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/kylycht/currencycalc/calculator"
	"github.com/kylycht/currencycalc/conversion"
	"github.com/kylycht/currencycalc/model"
	"github.com/kylycht/currencycalc/session"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
)

// Refresher schedules background rate fetches
type Refresher interface {
	Trigger(ctx context.Context) bool
}

func New(engine *conversion.Engine, sess *session.Session, refresher Refresher, catalog []model.Currency, maxAge time.Duration) *Converter {
	byCode := make(map[string]model.Currency, len(catalog))
	for _, c := range catalog {
		byCode[model.NormalizeCode(c.Code)] = c
	}

	return &Converter{
		engine:    engine,
		session:   sess,
		refresher: refresher,
		catalog:   byCode,
		maxAge:    maxAge,
	}
}

type Converter struct {
	engine    *conversion.Engine        // rates and conversion
	session   *session.Session          // the calculator session served over http
	refresher Refresher                 // background refresh, may be nil
	catalog   map[string]model.Currency // currencies that can be tracked
	maxAge    time.Duration             // staleness window reported by /rates
}

// Register mounts the handlers on router
func (c *Converter) Register(router fiber.Router) {
	router.Get("/convert", c.Convert)
	router.Get("/rates", c.Rates)
	router.Post("/rates/refresh", c.Refresh)
	router.Get("/session", c.Session)
	router.Post("/session/keys", c.Keys)
	router.Put("/session/active/:code", c.SetActive)
	router.Post("/session/currencies/:code", c.AddCurrency)
	router.Delete("/session/currencies/:code", c.RemoveCurrency)
}

// Convert converts amount between two currencies
//
//	GET /convert?from=USD&to=EUR&amount=3.1
func (c *Converter) Convert(ctx *fiber.Ctx) error {
	from := ctx.Query("from")
	to := ctx.Query("to")

	amount := decimal.NewFromInt(1)
	if raw := ctx.Query("amount"); raw != "" {
		v, err := decimal.NewFromString(raw)
		if err != nil {
			return fiber.NewError(http.StatusBadRequest, "invalid amount: "+raw)
		}
		amount = v
	}

	if from == "" || to == "" {
		return fiber.NewError(http.StatusBadRequest, "from and to are required")
	}

	log.Debug().Str("from", from).Str("to", to).Str("amount", amount.String()).Msg("converting")

	result := c.engine.Convert(amount, from, to)

	_, err := ctx.WriteString(result.StringFixed(2))
	if err != nil {
		log.Error().Err(err).Msg("error occurred during result write op")
		return err
	}

	return nil
}

type ratesResponse struct {
	Base        string             `json:"base"`
	Rates       map[string]float64 `json:"rates"`
	LastUpdated *time.Time         `json:"lastUpdated,omitempty"`
	Stale       bool               `json:"stale"`
}

// Rates returns the snapshot in force
//
//	GET /rates
func (c *Converter) Rates(ctx *fiber.Ctx) error {
	resp := ratesResponse{
		Rates: map[string]float64{},
		Stale: c.engine.NeedsRefresh(c.maxAge),
	}

	if snapshot, ok := c.engine.Snapshot(); ok {
		updated := snapshot.FetchedTime().UTC()
		resp.Base = snapshot.Base
		resp.Rates = snapshot.Rates
		resp.LastUpdated = &updated
	}

	return ctx.JSON(resp)
}

// Refresh schedules a background fetch
//
//	POST /rates/refresh
func (c *Converter) Refresh(ctx *fiber.Ctx) error {
	if c.refresher == nil {
		return fiber.NewError(http.StatusServiceUnavailable, "refresh disabled")
	}

	scheduled := c.refresher.Trigger(context.Background())
	return ctx.Status(http.StatusAccepted).JSON(fiber.Map{"scheduled": scheduled})
}

type sessionResponse struct {
	Display string                  `json:"display"`
	Tracked []model.TrackedCurrency `json:"tracked"`
}

// Session returns the calculator display and tracked amounts
//
//	GET /session
func (c *Converter) Session(ctx *fiber.Ctx) error {
	return ctx.JSON(sessionResponse{
		Display: c.session.Display(),
		Tracked: c.session.Tracked(),
	})
}

type keysRequest struct {
	Keys []string `json:"keys"`
}

// Keys presses calculator keys in order
//
//	POST /session/keys {"keys":["1","0","0"]}
func (c *Converter) Keys(ctx *fiber.Ctx) error {
	var req keysRequest
	if err := ctx.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, "invalid body")
	}

	// reject the whole batch before any key is applied
	for _, key := range req.Keys {
		if !calculator.ValidKey(key) {
			return fiber.NewError(http.StatusBadRequest, "unknown key: "+key)
		}
	}

	for _, key := range req.Keys {
		if _, err := c.session.Press(key); err != nil {
			return err
		}
	}

	return c.Session(ctx)
}

// SetActive makes a tracked currency active
//
//	PUT /session/active/:code
func (c *Converter) SetActive(ctx *fiber.Ctx) error {
	c.session.SetActive(ctx.Params("code"))
	return c.Session(ctx)
}

// AddCurrency tracks a catalog currency
//
//	POST /session/currencies/:code
func (c *Converter) AddCurrency(ctx *fiber.Ctx) error {
	currency, ok := c.catalog[model.NormalizeCode(ctx.Params("code"))]
	if !ok {
		return fiber.NewError(http.StatusNotFound, "unknown currency: "+ctx.Params("code"))
	}

	c.session.AddTracked(currency)
	return c.Session(ctx)
}

// RemoveCurrency stops tracking a currency
//
//	DELETE /session/currencies/:code
func (c *Converter) RemoveCurrency(ctx *fiber.Ctx) error {
	err := c.session.RemoveTracked(ctx.Params("code"))
	switch {
	case errors.Is(err, session.ErrCannotRemoveLastCurrency):
		return fiber.NewError(http.StatusConflict, err.Error())
	case errors.Is(err, session.ErrNotTracked):
		return fiber.NewError(http.StatusNotFound, err.Error())
	case err != nil:
		return err
	}

	return c.Session(ctx)
}
