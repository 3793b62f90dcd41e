package models

// SubscribeRequest adds or removes tracked symbols.
type SubscribeRequest struct {
	Symbols []string `json:"symbols" validate:"required,min=1,max=100"`
}

// FetchRequest forces a fresh batch pull.
type FetchRequest struct {
	Symbols []string `json:"symbols" validate:"required,min=1,max=100"`
}

// SearchRequest looks up symbols by name or ticker fragment.
type SearchRequest struct {
	Query string `query:"query" validate:"required"`
	Limit int    `query:"limit" default:"10" validate:"min=1,max=100"`
}

// NewsRequest fetches recent articles.
type NewsRequest struct {
	Symbols []string `query:"symbols" validate:"required,min=1"`
	Limit   int      `query:"limit" default:"50" validate:"min=1,max=200"`
}

// HistoricalRequest fetches daily bars for one symbol.
type HistoricalRequest struct {
	From string `query:"from"`
	To   string `query:"to"`
}
