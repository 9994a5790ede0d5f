package model

import (
	"strings"
	"time"
)

// Sentiment is the direction a prediction calls for an asset.
type Sentiment string

const (
	SentimentBullish Sentiment = "bullish"
	SentimentBearish Sentiment = "bearish"
	SentimentNeutral Sentiment = "neutral"
)

// ParseSentiment normalizes a sentiment label. ok is false for anything
// outside bullish, bearish, and neutral.
func ParseSentiment(s string) (Sentiment, bool) {
	switch Sentiment(strings.ToLower(strings.TrimSpace(s))) {
	case SentimentBullish:
		return SentimentBullish, true
	case SentimentBearish:
		return SentimentBearish, true
	case SentimentNeutral:
		return SentimentNeutral, true
	default:
		return "", false
	}
}

// AnalysisStatus is the analyzer's processing state for a prediction.
type AnalysisStatus string

const (
	AnalysisPending   AnalysisStatus = "pending"
	AnalysisCompleted AnalysisStatus = "completed"
	AnalysisFailed    AnalysisStatus = "failed"
	AnalysisBypassed  AnalysisStatus = "bypassed"
)

// AssetSentiment pairs one asset with the direction predicted for it.
type AssetSentiment struct {
	Asset     string    `json:"asset"`
	Sentiment Sentiment `json:"sentiment"`
}

// Prediction is produced by the external analyzer and is read-only here.
type Prediction struct {
	ID             string           `json:"id"`
	Assets         []AssetSentiment `json:"assets"`
	Confidence     float64          `json:"confidence"`
	Timestamp      time.Time        `json:"timestamp"`
	AnalysisStatus AnalysisStatus   `json:"analysis_status"`
}

// Date is the calendar date the prediction was made.
func (p Prediction) Date() time.Time {
	return Day(p.Timestamp)
}

// Evaluable reports whether the prediction can produce outcomes at all.
func (p Prediction) Evaluable() bool {
	return p.AnalysisStatus == AnalysisCompleted && len(p.Assets) > 0
}

// NormalizeSymbol upper-cases and trims an asset ticker.
func NormalizeSymbol(s string) string {
	return strings.ToUpper(strings.TrimSpace(s))
}
