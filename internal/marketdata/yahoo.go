package marketdata

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/signal-outcomes/internal/fetcher"
	"github.com/sells-group/signal-outcomes/internal/model"
)

const yahooBaseURL = "https://query1.finance.yahoo.com"

// Yahoo reads daily bars from the Yahoo Finance chart API.
type Yahoo struct {
	f       fetcher.Fetcher
	baseURL string
	aliases Aliases
	nowFunc func() time.Time
}

// NewYahoo creates a Yahoo provider. An empty baseURL uses the public API.
func NewYahoo(f fetcher.Fetcher, baseURL string, aliases Aliases) *Yahoo {
	if baseURL == "" {
		baseURL = yahooBaseURL
	}
	return &Yahoo{f: f, baseURL: baseURL, aliases: aliases, nowFunc: time.Now}
}

// Name returns "yahoo".
func (y *Yahoo) Name() string { return "yahoo" }

type yahooChart struct {
	Chart struct {
		Result []struct {
			Meta struct {
				Symbol    string `json:"symbol"`
				GMTOffset int64  `json:"gmtoffset"`
			} `json:"meta"`
			Timestamp  []int64 `json:"timestamp"`
			Indicators struct {
				Quote []struct {
					Open   []*float64 `json:"open"`
					High   []*float64 `json:"high"`
					Low    []*float64 `json:"low"`
					Close  []*float64 `json:"close"`
					Volume []*float64 `json:"volume"`
				} `json:"quote"`
				AdjClose []struct {
					AdjClose []*float64 `json:"adjclose"`
				} `json:"adjclose"`
			} `json:"indicators"`
		} `json:"result"`
		Error *struct {
			Code        string `json:"code"`
			Description string `json:"description"`
		} `json:"error"`
	} `json:"chart"`
}

// FetchHistory implements Provider.
func (y *Yahoo) FetchHistory(ctx context.Context, symbol string, start, end time.Time) ([]model.PriceBar, error) {
	ticker := y.aliases.Resolve(symbol)
	q := url.Values{}
	q.Set("period1", fmt.Sprint(model.Day(start).Unix()))
	q.Set("period2", fmt.Sprint(model.AddDays(end, 1).Unix()))
	q.Set("interval", "1d")
	q.Set("events", "history")
	q.Set("includeAdjustedClose", "true")
	u := fmt.Sprintf("%s/v8/finance/chart/%s?%s", y.baseURL, url.PathEscape(ticker), q.Encode())

	chart, err := fetcher.FetchJSON[yahooChart](ctx, y.f, u, nil)
	if err != nil {
		// Unknown and delisted tickers come back as 404.
		if fetcher.StatusCode(err) == http.StatusNotFound {
			return []model.PriceBar{}, nil
		}
		return nil, eris.Wrapf(err, "yahoo: fetch %s", ticker)
	}
	if chart.Chart.Error != nil {
		if chart.Chart.Error.Code == "Not Found" {
			return []model.PriceBar{}, nil
		}
		return nil, eris.Errorf("yahoo: api error for %s: %s", ticker, chart.Chart.Error.Description)
	}
	if len(chart.Chart.Result) == 0 {
		return []model.PriceBar{}, nil
	}

	res := chart.Chart.Result[0]
	if len(res.Indicators.Quote) == 0 {
		return []model.PriceBar{}, nil
	}
	quote := res.Indicators.Quote[0]
	var adj []*float64
	if len(res.Indicators.AdjClose) > 0 {
		adj = res.Indicators.AdjClose[0].AdjClose
	}

	fetchedAt := y.nowFunc().UTC()
	bars := make([]model.PriceBar, 0, len(res.Timestamp))
	for i, ts := range res.Timestamp {
		o, h, l, c := at(quote.Open, i), at(quote.High, i), at(quote.Low, i), at(quote.Close, i)
		if o == nil && h == nil && l == nil && c == nil {
			continue // holiday placeholder
		}
		bar := model.PriceBar{
			Symbol:        model.NormalizeSymbol(symbol),
			Date:          model.Day(time.Unix(ts+res.Meta.GMTOffset, 0)),
			Open:          deref(o),
			High:          deref(h),
			Low:           deref(l),
			Close:         c,
			AdjustedClose: at(adj, i),
			Source:        y.Name(),
			FetchedAt:     fetchedAt,
		}
		if v := at(quote.Volume, i); v != nil {
			bar.Volume = int64(*v)
		}
		bars = append(bars, bar)
	}
	return clampBars(bars, start, end), nil
}

func at(vals []*float64, i int) *float64 {
	if i < 0 || i >= len(vals) {
		return nil
	}
	return vals[i]
}

func deref(v *float64) float64 {
	if v == nil {
		return 0
	}
	return *v
}
