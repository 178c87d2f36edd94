package binance

import (
	"encoding/json"
	"fmt"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/HuzaifaIlyas02/FootPrintChart/domain"
	promclient "github.com/HuzaifaIlyas02/FootPrintChart/infrastructure/prometheus"
)

// tradeMessage is the futures @trade stream payload.
type tradeMessage struct {
	EventType    string `json:"e"`
	EventTime    int64  `json:"E"`
	Symbol       string `json:"s"`
	TradeID      int64  `json:"t"`
	Price        string `json:"p"`
	Quantity     string `json:"q"`
	TradeTime    int64  `json:"T"`
	IsBuyerMaker bool   `json:"m"`
}

// depthMessage is the futures @depth diff payload. pu is the final update id
// of the previous event on the stream.
type depthMessage struct {
	EventType         string     `json:"e"`
	EventTime         int64      `json:"E"`
	Symbol            string     `json:"s"`
	FirstUpdateID     int64      `json:"U"`
	FinalUpdateID     int64      `json:"u"`
	PrevFinalUpdateID int64      `json:"pu"`
	Bids              [][]string `json:"b"`
	Asks              [][]string `json:"a"`
}

// StreamAPI decodes raw combined-stream payloads into domain events. Malformed
// payloads never reach the aggregator or the synchronizer: they are dropped
// here with a logged warning.
type StreamAPI struct {
	client *StreamClient
	log    *logrus.Entry
}

func NewStreamAPI(client *StreamClient, log *logrus.Entry) *StreamAPI {
	return &StreamAPI{
		client: client,
		log:    log.WithField("component", "stream-api"),
	}
}

// TradeStream subscribes to the trade stream for a symbol.
func (s *StreamAPI) TradeStream(symbol *domain.MarketSymbol) (*domain.Subscription[*domain.Trade], error) {
	topic := symbol.Join("") + "@trade"
	raw, unsubscribe, err := s.client.Subscribe(topic)
	if err != nil {
		return nil, err
	}

	out := make(chan *domain.Trade, subscriptionBuffer)
	go func() {
		defer close(out)
		for msg := range raw {
			trade, err := parseTradeMessage(msg)
			if err != nil {
				promclient.MalformedMessages.Inc()
				s.log.WithError(err).WithField("topic", topic).Warn("dropping malformed trade")
				continue
			}
			out <- trade
		}
	}()

	return &domain.Subscription[*domain.Trade]{
		Stream:      out,
		Topic:       topic,
		Unsubscribe: unsubscribe,
	}, nil
}

// DepthDiffStream subscribes to the depth diff stream for a symbol.
func (s *StreamAPI) DepthDiffStream(symbol *domain.MarketSymbol) (*domain.Subscription[*domain.DepthDiff], error) {
	topic := symbol.Join("") + "@depth"
	raw, unsubscribe, err := s.client.Subscribe(topic)
	if err != nil {
		return nil, err
	}

	out := make(chan *domain.DepthDiff, subscriptionBuffer)
	go func() {
		defer close(out)
		for msg := range raw {
			diff, err := parseDepthMessage(msg)
			if err != nil {
				promclient.MalformedMessages.Inc()
				s.log.WithError(err).WithField("topic", topic).Warn("dropping malformed depth diff")
				continue
			}
			out <- diff
		}
	}()

	return &domain.Subscription[*domain.DepthDiff]{
		Stream:      out,
		Topic:       topic,
		Unsubscribe: unsubscribe,
	}, nil
}

func parseTradeMessage(raw []byte) (*domain.Trade, error) {
	var msg tradeMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		return nil, err
	}

	price, err := decimal.NewFromString(msg.Price)
	if err != nil {
		return nil, fmt.Errorf("price: %w", err)
	}
	quantity, err := decimal.NewFromString(msg.Quantity)
	if err != nil {
		return nil, fmt.Errorf("quantity: %w", err)
	}
	if !quantity.IsPositive() {
		return nil, fmt.Errorf("non-positive quantity %s", msg.Quantity)
	}
	if msg.TradeTime <= 0 {
		return nil, fmt.Errorf("missing trade time")
	}

	// The buyer being the maker means the taker sold.
	side := domain.SideBuy
	if msg.IsBuyerMaker {
		side = domain.SideSell
	}

	return &domain.Trade{
		Symbol:    msg.Symbol,
		ID:        msg.TradeID,
		Price:     price,
		Quantity:  quantity,
		Timestamp: msg.TradeTime,
		Side:      side,
	}, nil
}

func parseDepthMessage(raw []byte) (*domain.DepthDiff, error) {
	var msg depthMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		return nil, err
	}
	if msg.FinalUpdateID == 0 {
		return nil, fmt.Errorf("missing update id range")
	}

	bids, err := parseLevelDeltas(msg.Bids)
	if err != nil {
		return nil, fmt.Errorf("bids: %w", err)
	}
	asks, err := parseLevelDeltas(msg.Asks)
	if err != nil {
		return nil, fmt.Errorf("asks: %w", err)
	}

	return &domain.DepthDiff{
		EventTime:         msg.EventTime,
		FirstUpdateID:     msg.FirstUpdateID,
		FinalUpdateID:     msg.FinalUpdateID,
		PrevFinalUpdateID: msg.PrevFinalUpdateID,
		Bids:              bids,
		Asks:              asks,
	}, nil
}

func parseLevelDeltas(levels [][]string) ([]domain.LevelDelta, error) {
	deltas := make([]domain.LevelDelta, 0, len(levels))
	for _, level := range levels {
		if len(level) != 2 {
			return nil, fmt.Errorf("level must be a [price, quantity] pair")
		}
		price, err := decimal.NewFromString(level[0])
		if err != nil {
			return nil, err
		}
		quantity, err := decimal.NewFromString(level[1])
		if err != nil {
			return nil, err
		}
		deltas = append(deltas, domain.LevelDelta{Price: price, Quantity: quantity})
	}
	return deltas, nil
}
