package model

import "time"

// FeedItem is one published record of a ParsedEvent. The GUID is a
// content-derived hash of the event identity tuple and never changes, even
// after the item migrates to an archive blob.
type FeedItem struct {
	Title       string    `json:"title"`
	Description string    `json:"description"`
	Link        string    `json:"link"`
	GUID        string    `json:"guid"`
	Categories  []string  `json:"categories,omitempty"`
	Author      string    `json:"author,omitempty"`
	PubDate     time.Time `json:"pubDate"`
	BlockNumber uint64    `json:"blockNumber"`
}

// FeedDocument is the durable feed blob: the ordered main list plus channel
// metadata. Archive blobs share the same shape.
type FeedDocument struct {
	Title       string     `json:"title"`
	Link        string     `json:"link"`
	Description string     `json:"description"`
	UpdatedAt   string     `json:"updatedAt,omitempty"`
	Items       []FeedItem `json:"items"`
}

// ItemDescription is the JSON payload serialized into FeedItem.Description.
type ItemDescription struct {
	EventDetails   EventDetails   `json:"eventDetails"`
	GovernanceInfo GovernanceInfo `json:"governanceInfo"`
	EventData      Args           `json:"eventData"`
}

// EventDetails locates the event on chain.
type EventDetails struct {
	Network   string `json:"network"`
	ChainID   uint64 `json:"chainId"`
	Block     uint64 `json:"block"`
	Timestamp string `json:"timestamp"`
}

// GovernanceInfo carries the governance classification of the event.
type GovernanceInfo struct {
	GovernanceBody  string `json:"governanceBody"`
	EventType       string `json:"eventType"`
	ContractAddress string `json:"contractAddress"`
	ProposalLink    string `json:"proposalLink,omitempty"`
}
