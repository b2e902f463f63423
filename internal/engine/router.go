package engine

import "github.com/gofiber/fiber/v2"

func RegisterEntityRoutes(app *fiber.App, h *Handler, mw ...fiber.Handler) {
	api := app.Group("/api")
	for _, m := range mw {
		api.Use(m)
	}

	api.Get("/:entity", h.List)
	api.Get("/:entity/:id", h.GetByID)
	api.Post("/:entity", h.Create)
	api.Put("/:entity/:id", h.Update)
	api.Delete("/:entity/:id", h.Delete)
}
