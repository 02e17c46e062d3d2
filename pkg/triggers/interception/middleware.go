package interception

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/dukex/flowgate/pkg/web"
	"github.com/gofiber/fiber/v3"
)

// Resolver extracts the intercepted action from a request. ok is false for requests
// that are not collection actions; they pass through untouched.
type Resolver func(c fiber.Ctx) (req Request, ok bool, err error)

// Locals keys read by DefaultResolver for the authenticated caller.
const (
	UserLocal     = "user"
	RoleNameLocal = "roleName"
)

// Middleware runs Intercept ahead of the handler chain. Rejections are returned as
// *RequestInterceptionError for the error chain to render.
func (t *Trigger) Middleware(resolve Resolver) fiber.Handler {
	if resolve == nil {
		resolve = DefaultResolver
	}

	return func(c fiber.Ctx) error {
		req, ok, err := resolve(c)
		if err != nil {
			return fiber.NewError(fiber.StatusBadRequest, err.Error())
		}

		if !ok {
			return c.Next()
		}

		if err := t.Intercept(c.Context(), req); err != nil {
			return err
		}

		return c.Next()
	}
}

// DefaultResolver reads :collection and :action route params, the filter and
// filterByTk query parameters, a JSON body as values and the caller from locals.
func DefaultResolver(c fiber.Ctx) (Request, bool, error) {
	req := Request{
		Collection:       c.Params("collection"),
		Action:           c.Params("action"),
		FilterByTk:       c.Query("filterByTk"),
		TriggerWorkflows: c.Query("triggerWorkflows"),
		User:             c.Locals(UserLocal),
	}

	if req.Collection == "" || req.Action == "" {
		return req, false, nil
	}

	if req.FilterByTk == "" {
		req.FilterByTk = nil
	}

	if role, ok := c.Locals(RoleNameLocal).(string); ok {
		req.RoleName = role
	}

	if filter := c.Query("filter"); filter != "" {
		if err := json.Unmarshal([]byte(filter), &req.Filter); err != nil {
			return req, false, fmt.Errorf("invalid filter: %w", err)
		}
	}

	if body := c.Body(); len(body) > 0 {
		if err := json.Unmarshal(body, &req.Values); err != nil {
			return req, false, fmt.Errorf("invalid request body: %w", err)
		}
	}

	return req, true, nil
}

// RegisterErrorRenderer installs the rendering of RequestInterceptionError into the
// application error chain as {"errors": [{"message": ...}]}.
func RegisterErrorRenderer(handlers *web.ErrorHandlers) {
	handlers.Register(RenderError)
}

func RenderError(c fiber.Ctx, err error) (bool, error) {
	var rejection *RequestInterceptionError
	if !errors.As(err, &rejection) {
		return false, nil
	}

	messages := make([]fiber.Map, 0, len(rejection.Messages))
	for _, message := range rejection.Messages {
		messages = append(messages, fiber.Map{"message": message})
	}

	return true, c.Status(rejection.Status).JSON(fiber.Map{"errors": messages})
}
