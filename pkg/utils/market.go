package utils

import (
	"time"

	"paper-trader/internal/models"
)

// IndiaLocation is the timezone for Indian markets.
var IndiaLocation *time.Location

func init() {
	var err error
	IndiaLocation, err = time.LoadLocation("Asia/Kolkata")
	if err != nil {
		IndiaLocation = time.FixedZone("IST", 5*60*60+30*60)
	}
}

// Session boundaries in minutes after midnight IST.
const (
	preOpenMinute = 9 * 60
	openMinute    = 9*60 + 15
	closeMinute   = 15*60 + 30
)

// MarketStatusAt returns the NSE session state at t.
// Exchange holidays are not modelled.
func MarketStatusAt(t time.Time) models.MarketStatus {
	now := t.In(IndiaLocation)
	if now.Weekday() == time.Saturday || now.Weekday() == time.Sunday {
		return models.MarketClosed
	}

	m := now.Hour()*60 + now.Minute()
	switch {
	case m >= preOpenMinute && m < openMinute:
		return models.MarketPreOpen
	case m >= openMinute && m < closeMinute:
		return models.MarketOpen
	}
	return models.MarketClosed
}

// GetMarketStatus returns the current market status.
func GetMarketStatus() models.MarketStatus {
	return MarketStatusAt(time.Now())
}

// IsMarketOpen returns true if the market is currently open.
func IsMarketOpen() bool {
	return GetMarketStatus() == models.MarketOpen
}

// NextMarketOpen returns the next 09:15 IST on a weekday after t.
func NextMarketOpen(t time.Time) time.Time {
	now := t.In(IndiaLocation)
	next := time.Date(now.Year(), now.Month(), now.Day(), 9, 15, 0, 0, IndiaLocation)
	if !now.Before(next) {
		next = next.AddDate(0, 0, 1)
	}
	for next.Weekday() == time.Saturday || next.Weekday() == time.Sunday {
		next = next.AddDate(0, 0, 1)
	}
	return next
}

// TradingDay returns midnight IST of the calendar day containing t.
func TradingDay(t time.Time) time.Time {
	d := t.In(IndiaLocation)
	return time.Date(d.Year(), d.Month(), d.Day(), 0, 0, 0, 0, IndiaLocation)
}

// DayBounds returns the half-open interval [start, end) covering the IST
// calendar day that contains t.
func DayBounds(t time.Time) (time.Time, time.Time) {
	start := TradingDay(t)
	return start, start.AddDate(0, 0, 1)
}

// TokenExpiry returns 06:00 IST on the day after t, when Kite access tokens lapse.
func TokenExpiry(t time.Time) time.Time {
	d := TradingDay(t).AddDate(0, 0, 1)
	return d.Add(6 * time.Hour)
}
