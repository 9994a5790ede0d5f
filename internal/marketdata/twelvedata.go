package marketdata

import (
	"context"
	"fmt"
	"net/url"
	"time"

	"github.com/rotisserie/eris"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/sells-group/signal-outcomes/internal/fetcher"
	"github.com/sells-group/signal-outcomes/internal/model"
	"github.com/sells-group/signal-outcomes/internal/resilience"
)

const twelveDataBaseURL = "https://api.twelvedata.com"

// TwelveData reads daily bars from the Twelve Data time_series API.
type TwelveData struct {
	f       fetcher.Fetcher
	baseURL string
	apiKey  string
	aliases Aliases
	nowFunc func() time.Time
}

// NewTwelveData creates a Twelve Data provider.
func NewTwelveData(f fetcher.Fetcher, baseURL, apiKey string, aliases Aliases) *TwelveData {
	if baseURL == "" {
		baseURL = twelveDataBaseURL
	}
	return &TwelveData{f: f, baseURL: baseURL, apiKey: apiKey, aliases: aliases, nowFunc: time.Now}
}

// Name returns "twelvedata".
func (t *TwelveData) Name() string { return "twelvedata" }

type twelveDataSeries struct {
	Status  string `json:"status"`
	Code    int    `json:"code"`
	Message string `json:"message"`
	Values  []struct {
		Datetime string `json:"datetime"`
		Open     string `json:"open"`
		High     string `json:"high"`
		Low      string `json:"low"`
		Close    string `json:"close"`
		Volume   string `json:"volume"`
	} `json:"values"`
}

// FetchHistory implements Provider. The API reports errors in the body with
// a 200 status; 400 and 404 codes mean the symbol has no data.
func (t *TwelveData) FetchHistory(ctx context.Context, symbol string, start, end time.Time) ([]model.PriceBar, error) {
	ticker := t.aliases.Resolve(symbol)
	q := url.Values{}
	q.Set("symbol", ticker)
	q.Set("interval", "1day")
	q.Set("start_date", model.FormatDate(start))
	q.Set("end_date", model.FormatDate(model.AddDays(end, 1)))
	q.Set("order", "ASC")
	q.Set("outputsize", "5000")
	q.Set("apikey", t.apiKey)
	u := fmt.Sprintf("%s/time_series?%s", t.baseURL, q.Encode())

	series, err := fetcher.FetchJSON[twelveDataSeries](ctx, t.f, u, nil)
	if err != nil {
		return nil, eris.Wrapf(err, "twelvedata: fetch %s", ticker)
	}
	if series.Status == "error" {
		switch {
		case series.Code == 400 || series.Code == 404:
			return []model.PriceBar{}, nil
		case resilience.IsTransientHTTPStatus(series.Code):
			return nil, resilience.NewTransientError(eris.Errorf("twelvedata: %s", series.Message), series.Code)
		default:
			return nil, eris.Errorf("twelvedata: api error %d for %s: %s", series.Code, ticker, series.Message)
		}
	}

	fetchedAt := t.nowFunc().UTC()
	bars := make([]model.PriceBar, 0, len(series.Values))
	for _, v := range series.Values {
		d, err := model.ParseDate(firstN(v.Datetime, len(model.DateLayout)))
		if err != nil {
			zap.L().Warn("twelvedata: skipping bar with bad date",
				zap.String("symbol", ticker), zap.String("datetime", v.Datetime))
			continue
		}
		bar := model.PriceBar{
			Symbol:    model.NormalizeSymbol(symbol),
			Date:      d,
			Open:      parseNum(v.Open),
			High:      parseNum(v.High),
			Low:       parseNum(v.Low),
			Source:    t.Name(),
			FetchedAt: fetchedAt,
		}
		if c, err := decimal.NewFromString(v.Close); err == nil {
			bar.Close = model.Float(c.InexactFloat64())
		}
		bar.Volume = int64(parseNum(v.Volume))
		bars = append(bars, bar)
	}
	return clampBars(bars, start, end), nil
}

func parseNum(s string) float64 {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return 0
	}
	return d.InexactFloat64()
}

func firstN(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
