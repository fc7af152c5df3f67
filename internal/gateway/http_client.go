package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"cartsync/internal/domain/model"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// 1呼び出しのタイムアウト。超過はtransient failure扱い。
const callTimeout = 15 * time.Second

// CartGateway のHTTP実装。
type HTTPCartGateway struct {
	baseURL string
	token   string
	client  *http.Client
	log     zerolog.Logger
}

func NewHTTPCartGateway(baseURL string, token string, log zerolog.Logger) *HTTPCartGateway {
	return &HTTPCartGateway{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		client: &http.Client{
			Timeout: callTimeout,
		},
		log: log,
	}
}

type setQuantityRequest struct {
	Quantity int64 `json:"quantity"`
}

func (g *HTTPCartGateway) SetQuantity(ctx context.Context, productID int64, quantity int64) (model.CartSnapshot, error) {
	if quantity < 1 {
		return model.CartSnapshot{}, fmt.Errorf("invalid quantity: %d", quantity)
	}

	body, err := json.Marshal(setQuantityRequest{Quantity: quantity})
	if err != nil {
		return model.CartSnapshot{}, err
	}

	url := g.baseURL + "/cart/items/" + strconv.FormatInt(productID, 10)
	return g.do(ctx, http.MethodPut, url, body)
}

func (g *HTTPCartGateway) RemoveItem(ctx context.Context, productID int64) (model.CartSnapshot, error) {
	url := g.baseURL + "/cart/items/" + strconv.FormatInt(productID, 10)
	return g.do(ctx, http.MethodDelete, url, nil)
}

func (g *HTTPCartGateway) ReadCart(ctx context.Context) (model.CartSnapshot, error) {
	return g.do(ctx, http.MethodGet, g.baseURL+"/cart", nil)
}

func (g *HTTPCartGateway) do(ctx context.Context, method string, url string, body []byte) (model.CartSnapshot, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return model.CartSnapshot{}, err
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Request-Id", uuid.NewString())
	if g.token != "" {
		req.Header.Set("Authorization", "Bearer "+g.token)
	}

	resp, err := g.client.Do(req)
	if err != nil {
		g.log.Warn().Err(err).Str("method", method).Str("url", url).Msg("cart gateway call failed")
		return model.CartSnapshot{}, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		// 読み捨てて接続を再利用できるようにする
		io.Copy(io.Discard, resp.Body)
		g.log.Warn().Int("status", resp.StatusCode).Str("method", method).Str("url", url).Msg("cart gateway returned error status")
		return model.CartSnapshot{}, fmt.Errorf("cart gateway status %d", resp.StatusCode)
	}

	var snap model.CartSnapshot
	if err := json.NewDecoder(resp.Body).Decode(&snap); err != nil {
		return model.CartSnapshot{}, fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}

	//数量が負のスナップショットは解釈できない
	for _, it := range snap.Items {
		if it.Quantity < 0 {
			return model.CartSnapshot{}, fmt.Errorf("%w: negative quantity for product %d", ErrMalformedResponse, it.ProductID)
		}
	}

	return snap, nil
}
