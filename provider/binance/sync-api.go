package binance

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/HuzaifaIlyas02/FootPrintChart/domain"
)

const snapshotTimeout = 10 * time.Second

// SyncAPI fetches point-in-time order book snapshots from the futures REST
// depth endpoint. Retry policy lives in the synchronizer; a fetch here is a
// single attempt bounded by snapshotTimeout.
type SyncAPI struct {
	baseURL    string
	httpClient *http.Client
	log        *logrus.Entry
}

func NewSyncAPI(baseURL string, log *logrus.Entry) *SyncAPI {
	return &SyncAPI{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: snapshotTimeout},
		log:        log.WithField("component", "sync-api"),
	}
}

func (api *SyncAPI) OrderBookSnapshot(ctx context.Context, symbol *domain.MarketSymbol, limit int) (*domain.OrderBookSnapshot, error) {
	url := fmt.Sprintf("%s/fapi/v1/depth?symbol=%s&limit=%d", api.baseURL, symbol.Upper(), limit)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}

	api.log.WithField("symbol", symbol.Upper()).Debug("fetching depth snapshot")

	resp, err := api.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("depth snapshot request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("depth snapshot: unexpected status %d: %s", resp.StatusCode, body)
	}

	var snapshot domain.OrderBookSnapshot
	if err := json.NewDecoder(resp.Body).Decode(&snapshot); err != nil {
		return nil, fmt.Errorf("depth snapshot decode: %w", err)
	}
	if snapshot.LastUpdateID == 0 {
		return nil, fmt.Errorf("depth snapshot: missing lastUpdateId")
	}

	return &snapshot, nil
}
