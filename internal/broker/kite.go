package broker

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	kiteconnect "github.com/zerodha/gokiteconnect/v4"

	apperrors "paper-trader/internal/errors"
	"paper-trader/internal/models"
	"paper-trader/pkg/utils"
)

// kiteAPI is the subset of the Kite Connect client used for market data.
type kiteAPI interface {
	GetLTP(instruments ...string) (kiteconnect.QuoteLTP, error)
	GetHistoricalData(instrumentToken int, interval string, fromDate time.Time, toDate time.Time, continuous bool, OI bool) ([]kiteconnect.HistoricalData, error)
	GetInstruments() (kiteconnect.Instruments, error)
}

// NewKiteClient returns a Kite Connect client bound to an access token.
func NewKiteClient(apiKey, accessToken string) *kiteconnect.Client {
	client := kiteconnect.New(apiKey)
	if accessToken != "" {
		client.SetAccessToken(accessToken)
	}
	return client
}

// KiteSource reads prices from Kite Connect. It never places orders.
type KiteSource struct {
	client   kiteAPI
	exchange string
	retry    utils.RetryConfig

	mu     sync.RWMutex
	tokens map[string]int
}

// NewKiteSource creates a Kite-backed price source.
func NewKiteSource(client kiteAPI, exchange string) *KiteSource {
	if exchange == "" {
		exchange = string(models.NSE)
	}
	retry := utils.DefaultRetryConfig()
	retry.Retryable = func(err error) bool { return !apperrors.Is(err, apperrors.ErrDataNotFound) }
	return &KiteSource{
		client:   client,
		exchange: exchange,
		retry:    retry,
		tokens:   make(map[string]int),
	}
}

func (k *KiteSource) Name() string { return "kite" }

// CurrentPrice returns the last traded price.
func (k *KiteSource) CurrentPrice(ctx context.Context, symbol string) (decimal.Decimal, error) {
	key := k.exchange + ":" + symbol
	ltp, err := k.client.GetLTP(key)
	if err != nil {
		return decimal.Zero, apperrors.NewDataError(k.Name(), symbol, "ltp request failed", err)
	}
	q, ok := ltp[key]
	if !ok || q.LastPrice <= 0 {
		return decimal.Zero, apperrors.NewDataError(k.Name(), symbol, "no ltp returned", apperrors.ErrDataNotFound)
	}
	return decimal.NewFromFloat(q.LastPrice).Round(2), nil
}

// History returns daily candles covering the last days calendar days.
func (k *KiteSource) History(ctx context.Context, symbol string, days int) ([]models.Candle, error) {
	token, err := k.instrumentToken(ctx, symbol)
	if err != nil {
		return nil, err
	}

	to := time.Now().In(utils.IndiaLocation)
	from := to.AddDate(0, 0, -days)
	data, err := utils.RetryWithResult(ctx, k.retry, func() ([]kiteconnect.HistoricalData, error) {
		return k.client.GetHistoricalData(token, "day", from, to, false, false)
	})
	if err != nil {
		return nil, apperrors.NewDataError(k.Name(), symbol, "historical request failed", err)
	}

	candles := make([]models.Candle, len(data))
	for i, d := range data {
		candles[i] = models.Candle{
			Timestamp: d.Date.Time,
			Open:      d.Open,
			High:      d.High,
			Low:       d.Low,
			Close:     d.Close,
			Volume:    int64(d.Volume),
		}
	}
	return candles, nil
}

func (k *KiteSource) instrumentToken(ctx context.Context, symbol string) (int, error) {
	k.mu.RLock()
	token, ok := k.tokens[symbol]
	loaded := len(k.tokens) > 0
	k.mu.RUnlock()
	if ok {
		return token, nil
	}
	if loaded {
		return 0, apperrors.NewDataError(k.Name(), symbol, "instrument not found", apperrors.ErrDataNotFound)
	}

	instruments, err := utils.RetryWithResult(ctx, k.retry, k.client.GetInstruments)
	if err != nil {
		return 0, apperrors.NewDataError(k.Name(), symbol, "instrument list request failed", err)
	}

	k.mu.Lock()
	for _, inst := range instruments {
		if inst.Exchange == k.exchange && inst.Segment == k.exchange && strings.EqualFold(inst.InstrumentType, "EQ") {
			k.tokens[inst.Tradingsymbol] = inst.InstrumentToken
		}
	}
	token, ok = k.tokens[symbol]
	k.mu.Unlock()

	if !ok {
		return 0, apperrors.NewDataError(k.Name(), symbol, fmt.Sprintf("not an %s equity", k.exchange), apperrors.ErrDataNotFound)
	}
	return token, nil
}

// KiteAuth performs the Kite Connect login handshake.
type KiteAuth struct {
	client    *kiteconnect.Client
	apiSecret string
}

// NewKiteAuth creates a login helper.
func NewKiteAuth(apiKey, apiSecret string) *KiteAuth {
	return &KiteAuth{client: kiteconnect.New(apiKey), apiSecret: apiSecret}
}

// LoginURL is where the operator signs in to obtain a request token.
func (a *KiteAuth) LoginURL() string {
	return a.client.GetLoginURL()
}

// Exchange trades a request token for an access token.
func (a *KiteAuth) Exchange(requestToken string) (string, error) {
	session, err := a.client.GenerateSession(requestToken, a.apiSecret)
	if err != nil {
		return "", apperrors.NewBrokerError("SESSION", "failed to generate session", err)
	}
	return session.AccessToken, nil
}
