package server

import (
	"cartsync/internal/config"
	"cartsync/internal/handler"

	"github.com/labstack/echo/v4"
)

func Start(addr string, cartH *handler.CartSyncHandler, cfg config.Config) error {
	e := echo.New()
	e.HideBanner = true

	RegisterRoutes(e, cartH, cfg)
	return e.Start(addr)
}
