package models

// Provider payload shapes, one tagged struct per endpoint response. They are
// validated and transformed at the gateway boundary; nothing downstream ever
// sees raw provider JSON.

// FMPQuote is a full quote row from /quote/{symbols}.
type FMPQuote struct {
	Symbol               string  `json:"symbol"`
	Name                 string  `json:"name"`
	Price                float64 `json:"price"`
	ChangesPercentage    float64 `json:"changesPercentage"`
	Change               float64 `json:"change"`
	DayLow               float64 `json:"dayLow"`
	DayHigh              float64 `json:"dayHigh"`
	YearHigh             float64 `json:"yearHigh"`
	YearLow              float64 `json:"yearLow"`
	MarketCap            float64 `json:"marketCap"`
	Exchange             string  `json:"exchange"`
	Volume               int64   `json:"volume"`
	AvgVolume            int64   `json:"avgVolume"`
	Open                 float64 `json:"open"`
	PreviousClose        float64 `json:"previousClose"`
	EPS                  float64 `json:"eps"`
	PE                   float64 `json:"pe"`
	EarningsAnnouncement string  `json:"earningsAnnouncement"`
	Timestamp            int64   `json:"timestamp"`
}

// FMPProfile is a company profile row from /profile/{symbol}.
type FMPProfile struct {
	Symbol            string  `json:"symbol"`
	CompanyName       string  `json:"companyName"`
	Currency          string  `json:"currency"`
	ExchangeShortName string  `json:"exchangeShortName"`
	Industry          string  `json:"industry"`
	Sector            string  `json:"sector"`
	Website           string  `json:"website"`
	Description       string  `json:"description"`
	MktCap            float64 `json:"mktCap"`
	LastDiv           float64 `json:"lastDiv"`
	Beta              float64 `json:"beta"`
}

// FMPDividend is one row of a dividend history.
type FMPDividend struct {
	Date            string  `json:"date"`
	Label           string  `json:"label"`
	AdjDividend     float64 `json:"adjDividend"`
	Dividend        float64 `json:"dividend"`
	RecordDate      string  `json:"recordDate"`
	PaymentDate     string  `json:"paymentDate"`
	DeclarationDate string  `json:"declarationDate"`
}

// FMPDividendHistory wraps /historical-price-full/stock_dividend/{symbol}.
type FMPDividendHistory struct {
	Symbol     string        `json:"symbol"`
	Historical []FMPDividend `json:"historical"`
}

// FMPNewsItem is one row from /stock_news.
type FMPNewsItem struct {
	Symbol        string `json:"symbol"`
	PublishedDate string `json:"publishedDate"`
	Title         string `json:"title"`
	Image         string `json:"image"`
	Site          string `json:"site"`
	Text          string `json:"text"`
	URL           string `json:"url"`
}

// FMPSearchResult is one row from /search.
type FMPSearchResult struct {
	Symbol            string `json:"symbol"`
	Name              string `json:"name"`
	Currency          string `json:"currency"`
	StockExchange     string `json:"stockExchange"`
	ExchangeShortName string `json:"exchangeShortName"`
}

// FMPHistoricalBar is one row of daily history.
type FMPHistoricalBar struct {
	Date     string  `json:"date"`
	Open     float64 `json:"open"`
	High     float64 `json:"high"`
	Low      float64 `json:"low"`
	Close    float64 `json:"close"`
	AdjClose float64 `json:"adjClose"`
	Volume   int64   `json:"volume"`
}

// FMPHistoricalPrices wraps /historical-price-full/{symbol}.
type FMPHistoricalPrices struct {
	Symbol     string             `json:"symbol"`
	Historical []FMPHistoricalBar `json:"historical"`
}

// FMPAftermarketQuote is an extended-hours quote row.
type FMPAftermarketQuote struct {
	Symbol    string  `json:"symbol"`
	Price     float64 `json:"price"`
	Bid       float64 `json:"bid"`
	Ask       float64 `json:"ask"`
	BidSize   int64   `json:"bsize"`
	AskSize   int64   `json:"asize"`
	Timestamp int64   `json:"timestamp"`
}
