package models

import "time"

// UsageSnapshot is the persisted form of the usage ledger.
type UsageSnapshot struct {
	DailyCalls    int64     `json:"dailyCalls"`
	DailyCostUSD  float64   `json:"dailyCostUsd"`
	MonthlyCalls  int64     `json:"monthlyCalls"`
	MonthlyCost   float64   `json:"monthlyCostUsd"`
	DailyResetAt  time.Time `json:"dailyResetAt"`
	MonthlyResetAt time.Time `json:"monthlyResetAt"`
}

// UsageReport is the read-only view exposed to callers.
type UsageReport struct {
	DailyCalls          int64   `json:"dailyCalls"`
	DailyCallLimit      int64   `json:"dailyCallLimit"`
	RemainingDailyCalls int64   `json:"remainingDailyCalls"`
	DailyCostUSD        float64 `json:"dailyCostUsd"`
	MonthlyCalls        int64   `json:"monthlyCalls"`
	MonthlyCallLimit    int64   `json:"monthlyCallLimit"`
	MonthlyCostUSD      float64 `json:"monthlyCostUsd"`
}
