package server

import (
	"net/http"

	"cartsync/internal/config"
	"cartsync/internal/handler"

	"github.com/labstack/echo/v4"
)

func RegisterRoutes(e *echo.Echo, cartH *handler.CartSyncHandler, cfg config.Config) {
	e.GET("/healthz", func(c echo.Context) error {
		return c.NoContent(http.StatusOK)
	})

	cartH.RegisterRoutes(e, cfg)
}
