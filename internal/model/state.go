package model

// FailedSegment is a block range abandoned after exhausting splits and
// retries, retained so operators can replay the gap out of band.
type FailedSegment struct {
	From  uint64 `json:"from"`
	To    uint64 `json:"to"`
	Error string `json:"error"`
}

// ProcessingState is the per-network durable record of collection progress.
type ProcessingState struct {
	LastProcessedBlock  uint64          `json:"lastProcessedBlock"`
	HasError            bool            `json:"hasError"`
	LastError           string          `json:"lastError,omitempty"`
	LastUpdated         string          `json:"lastUpdated"`
	RetryCount          int             `json:"retryCount,omitempty"`
	ConsecutiveFailures int             `json:"consecutiveFailures,omitempty"`
	APICallCount        int             `json:"apiCallCount,omitempty"`
	FailedSegments      []FailedSegment `json:"failedSegments,omitempty"`
}

// MergeFailedSegments unions two failed-segment lists keyed by (from, to).
// Existing order is preserved; new segments are appended in input order.
func MergeFailedSegments(existing, incoming []FailedSegment) []FailedSegment {
	type key struct{ from, to uint64 }
	seen := make(map[key]struct{}, len(existing))
	merged := make([]FailedSegment, 0, len(existing)+len(incoming))
	for _, seg := range existing {
		k := key{seg.From, seg.To}
		if _, ok := seen[k]; ok {
			continue
		}
		seen[k] = struct{}{}
		merged = append(merged, seg)
	}
	for _, seg := range incoming {
		k := key{seg.From, seg.To}
		if _, ok := seen[k]; ok {
			continue
		}
		seen[k] = struct{}{}
		merged = append(merged, seg)
	}
	return merged
}

// ProcessingRecord is one line of the append-only run audit trail.
type ProcessingRecord struct {
	Network    string   `json:"network"`
	FromBlock  uint64   `json:"fromBlock"`
	ToBlock    uint64   `json:"toBlock"`
	Timestamp  string   `json:"timestamp"`
	Errors     []string `json:"errors,omitempty"`
	EventCount int      `json:"eventCount"`
}

// ArchivedShard describes one archived batch of history records.
type ArchivedShard struct {
	Path      string `json:"path"`
	Count     int    `json:"count"`
	Timestamp string `json:"timestamp"`
}

// ProcessingHistory is the durable history document.
type ProcessingHistory struct {
	Records              []ProcessingRecord `json:"records"`
	LastArchiveTimestamp string             `json:"lastArchiveTimestamp"`
	ArchivedRecords      []ArchivedShard    `json:"archivedRecords,omitempty"`
}
