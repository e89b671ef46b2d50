package cache

// TxStatus is the terminal status of an indexed transaction.
type TxStatus string

const (
	TxSuccess TxStatus = "success"
	TxFailed  TxStatus = "failed"
	TxUnknown TxStatus = "unknown"
)

// SlotRecord is cached slot metadata, keyed by slot number.
// Records are immutable once cached; updates replace the record wholesale.
type SlotRecord struct {
	Slot      uint64 `json:"slot"`
	Leader    string `json:"leader"`
	BlockHash string `json:"block_hash"`
	Timestamp int64  `json:"timestamp"`
	Confirmed bool   `json:"confirmed"`
	Finalized bool   `json:"finalized"`

	// CachedAt is stamped by the Manager at insertion, never taken
	// from the caller, so TTL bookkeeping is consistent.
	CachedAt int64 `json:"cached_at"`
}

// TransactionRecord is a cached transaction, keyed by signature.
type TransactionRecord struct {
	Signature string   `json:"signature"`
	Slot      uint64   `json:"slot"`
	From      string   `json:"from"`
	To        string   `json:"to"`
	Amount    uint64   `json:"amount"`
	Fee       uint64   `json:"fee"`
	Status    TxStatus `json:"status"`
	CachedAt  int64    `json:"cached_at"`
}

// AccountRecord is a cached account state, keyed by pubkey. It carries the
// account's data length rather than the data itself to keep the tier's
// memory bounded by its weigher.
type AccountRecord struct {
	Pubkey     string `json:"pubkey"`
	Lamports   uint64 `json:"lamports"`
	Owner      string `json:"owner"`
	Executable bool   `json:"executable"`
	RentEpoch  uint64 `json:"rent_epoch"`
	DataLen    int    `json:"data_len"`
	CachedAt   int64  `json:"cached_at"`
}

// BlockBlob is an opaque raw block payload, keyed by slot and weighed
// directly by its byte length.
type BlockBlob struct {
	Slot uint64 `json:"slot"`
	Data []byte `json:"data"`
}

// MetricSample is a named counter or gauge value stored in the metrics tier.
type MetricSample struct {
	Name      string  `json:"name"`
	Value     float64 `json:"value"`
	Timestamp int64   `json:"timestamp"`
}

// Weighers for the entity tiers. Transactions and accounts carry a fixed
// per-entry overhead on top of their variable part; blocks are weighed by
// payload size alone.

func weighTransaction(tx TransactionRecord) uint64 {
	return uint64(len(tx.Signature) + 200)
}

func weighAccount(acc AccountRecord) uint64 {
	return uint64(acc.DataLen + 500)
}

func weighBlock(b BlockBlob) uint64 {
	return uint64(len(b.Data))
}
