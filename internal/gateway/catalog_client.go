package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// カタログの在庫上限を引くHTTP実装。
// 値はadvisoryで、古くてもサーバ側で再検証される前提。
type HTTPCatalogGateway struct {
	baseURL string
	token   string
	client  *http.Client
	log     zerolog.Logger
}

func NewHTTPCatalogGateway(baseURL string, token string, log zerolog.Logger) *HTTPCatalogGateway {
	return &HTTPCatalogGateway{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		client: &http.Client{
			Timeout: 5 * time.Second,
		},
		log: log,
	}
}

type productStockResponse struct {
	Stock int64 `json:"stock"`
}

func (g *HTTPCatalogGateway) AvailableStock(ctx context.Context, productID int64) (int64, error) {
	url := g.baseURL + "/products/" + strconv.FormatInt(productID, 10)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return 0, err
	}
	req.Header.Set("X-Request-Id", uuid.NewString())
	if g.token != "" {
		req.Header.Set("Authorization", "Bearer "+g.token)
	}

	resp, err := g.client.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		io.Copy(io.Discard, resp.Body)
		return 0, fmt.Errorf("catalog status %d", resp.StatusCode)
	}

	var body productStockResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return 0, fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}
	if body.Stock < 0 {
		return 0, fmt.Errorf("%w: negative stock for product %d", ErrMalformedResponse, productID)
	}

	return body.Stock, nil
}
