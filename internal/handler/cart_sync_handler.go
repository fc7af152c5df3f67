package handler

import (
	"net/http"
	"strconv"

	"cartsync/internal/config"
	"cartsync/internal/middleware"
	"cartsync/internal/usecase"

	"github.com/labstack/echo/v4"
)

type ErrorResponse struct {
	Error          string `json:"error"`
	AvailableStock *int64 `json:"available_stock,omitempty"`
}

func writeError(c echo.Context, err error) error {
	if err == nil {
		return nil
	}
	if he, ok := usecase.AsHTTPError(err); ok {
		return c.JSON(he.Status, ErrorResponse{Error: he.Message})
	}

	//500
	return c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "internal error"})
}

// /cartのHTTP
type CartSyncHandler struct {
	uc *usecase.CartSyncUsecase
}

// DI
func NewCartSyncHandler(uc *usecase.CartSyncUsecase) *CartSyncHandler {
	return &CartSyncHandler{uc: uc}
}

// /cart 以下を登録
func (h *CartSyncHandler) RegisterRoutes(e *echo.Echo, cfg config.Config) {
	g := e.Group("/cart")
	g.Use(middleware.SessionJWT(cfg))

	g.GET("", h.getCart)
	g.POST("/refresh", h.refresh)
	g.POST("/items/:id/increase", h.increase)
	g.POST("/items/:id/decrease", h.decrease)
	g.POST("/items/:id/dismiss-error", h.dismissError)
	g.DELETE("/items/:id", h.remove)
}

func getSessionIDFromContext(c echo.Context) (string, bool) {
	sid, ok := c.Get(middleware.CtxSessionIDKey).(string)
	if !ok || sid == "" {
		return "", false
	}
	return sid, true
}

func (h *CartSyncHandler) getCart(c echo.Context) error {
	sid, ok := getSessionIDFromContext(c)
	if !ok {
		return c.JSON(http.StatusUnauthorized, ErrorResponse{Error: "unauthorized"})
	}

	out, err := h.uc.GetCart(c.Request().Context(), sid)
	if err != nil {
		return writeError(c, err)
	}

	return c.JSON(http.StatusOK, out)
}

func (h *CartSyncHandler) refresh(c echo.Context) error {
	sid, ok := getSessionIDFromContext(c)
	if !ok {
		return c.JSON(http.StatusUnauthorized, ErrorResponse{Error: "unauthorized"})
	}

	out, err := h.uc.Refresh(c.Request().Context(), sid)
	if err != nil {
		return writeError(c, err)
	}

	return c.JSON(http.StatusOK, out)
}

func (h *CartSyncHandler) increase(c echo.Context) error {
	sid, ok := getSessionIDFromContext(c)
	if !ok {
		return c.JSON(http.StatusUnauthorized, ErrorResponse{Error: "unauthorized"})
	}

	productID, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		return c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid id"})
	}

	out, err := h.uc.Increase(c.Request().Context(), sid, productID)
	if err != nil {
		return writeError(c, err)
	}

	// 在庫上限超過は409で上限値を返す（ダイアログ表示用のシグナル）
	if out.StockExceeded {
		stock := out.AvailableStock
		return c.JSON(http.StatusConflict, ErrorResponse{Error: "stock exceeded", AvailableStock: &stock})
	}

	return c.JSON(http.StatusOK, out)
}

func (h *CartSyncHandler) decrease(c echo.Context) error {
	sid, ok := getSessionIDFromContext(c)
	if !ok {
		return c.JSON(http.StatusUnauthorized, ErrorResponse{Error: "unauthorized"})
	}

	productID, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		return c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid id"})
	}

	out, err := h.uc.Decrease(c.Request().Context(), sid, productID)
	if err != nil {
		return writeError(c, err)
	}

	return c.JSON(http.StatusOK, out)
}

func (h *CartSyncHandler) remove(c echo.Context) error {
	sid, ok := getSessionIDFromContext(c)
	if !ok {
		return c.JSON(http.StatusUnauthorized, ErrorResponse{Error: "unauthorized"})
	}

	productID, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		return c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid id"})
	}

	out, err := h.uc.Remove(c.Request().Context(), sid, productID)
	if err != nil {
		return writeError(c, err)
	}

	return c.JSON(http.StatusOK, out)
}

func (h *CartSyncHandler) dismissError(c echo.Context) error {
	sid, ok := getSessionIDFromContext(c)
	if !ok {
		return c.JSON(http.StatusUnauthorized, ErrorResponse{Error: "unauthorized"})
	}

	productID, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		return c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid id"})
	}

	if err := h.uc.DismissError(c.Request().Context(), sid, productID); err != nil {
		return writeError(c, err)
	}

	return c.NoContent(http.StatusNoContent)
}
