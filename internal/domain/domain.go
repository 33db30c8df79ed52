package domain

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

type Status string

const (
	StatusPending       Status = "pending"
	StatusBrandbanCheck Status = "brandbanCheck"
	StatusBrandbanned   Status = "brandbanned"
	StatusNotbanned     Status = "notbanned"
	StatusProcessing    Status = "processing"
	StatusSuccess       Status = "success"
	StatusFail          Status = "fail"
	StatusCommit        Status = "commit"
	StatusEnded         Status = "ended"
)

// Terminal reports whether a record in this status leaves the preprocessing
// pipeline for good. A terminal record never transitions again.
func (s Status) Terminal() bool {
	switch s {
	case StatusBrandbanned, StatusSuccess, StatusFail, StatusCommit, StatusEnded:
		return true
	}
	return false
}

type Category string

const (
	CategoryImage          Category = "image"
	CategoryNukki          Category = "nukki"
	CategoryOption         Category = "option"
	CategoryAttribute      Category = "attribute"
	CategoryKeyword        Category = "keyword"
	CategorySeo            Category = "seo"
	CategoryMarketRegister Category = "market-register"
)

// Counter names one of the three independent countdown counters on a
// ProcessingRecord.
type Counter string

const (
	CounterImage   Counter = "image"
	CounterOption  Counter = "option"
	CounterOverall Counter = "overall"
)

// Counter maps a task category onto the record counter it drains.
// Market registration runs after preprocessing and drains none.
func (c Category) Counter() (Counter, bool) {
	switch c {
	case CategoryImage, CategoryNukki:
		return CounterImage, true
	case CategoryOption:
		return CounterOption, true
	case CategoryAttribute, CategoryKeyword, CategorySeo:
		return CounterOverall, true
	}
	return "", false
}

// CompositeKey identifies one unit of work: the owning record plus a
// category specific sub-key (image order, option path, market code).
type CompositeKey struct {
	UserID    int64
	ProductID int64
	SubKey    string
}

func (k CompositeKey) String() string {
	return fmt.Sprintf("%d:%d:%s", k.UserID, k.ProductID, k.SubKey)
}

// ParseCompositeKey splits on the first two separators only; the sub-key may
// itself contain ':' (option paths do).
func ParseCompositeKey(s string) (CompositeKey, error) {
	parts := strings.SplitN(s, ":", 3)
	if len(parts) != 3 {
		return CompositeKey{}, fmt.Errorf("composite key %q: want user:product:subkey", s)
	}
	userID, err := strconv.ParseInt(parts[0], 10, 64)
	if err != nil {
		return CompositeKey{}, fmt.Errorf("composite key %q: user id: %w", s, err)
	}
	productID, err := strconv.ParseInt(parts[1], 10, 64)
	if err != nil {
		return CompositeKey{}, fmt.Errorf("composite key %q: product id: %w", s, err)
	}
	return CompositeKey{UserID: userID, ProductID: productID, SubKey: parts[2]}, nil
}

// Task is one enqueued unit of work, JSON-encoded on the wire and decoded at
// pop time. Payload shape depends on Category.
type Task struct {
	Category  Category        `json:"category"`
	UserID    int64           `json:"user_id"`
	ProductID int64           `json:"product_id"`
	SubKey    string          `json:"sub_key"`
	Payload   json.RawMessage `json:"payload,omitempty"`
}

func (t Task) Key() CompositeKey {
	return CompositeKey{UserID: t.UserID, ProductID: t.ProductID, SubKey: t.SubKey}
}

func DecodeTask(data []byte) (Task, error) {
	var t Task
	if err := json.Unmarshal(data, &t); err != nil {
		return Task{}, fmt.Errorf("decode task: %w", err)
	}
	return t, nil
}

// ResultEntry is a worker's report for one attempted Task. Error holds the
// failure detail when the entry arrived on an error channel.
type ResultEntry struct {
	Key      string          `json:"key"`
	Category Category        `json:"category"`
	Payload  json.RawMessage `json:"payload,omitempty"`
	Error    string          `json:"error,omitempty"`
}

func DecodeResult(data []byte) (ResultEntry, error) {
	var e ResultEntry
	if err := json.Unmarshal(data, &e); err != nil {
		return ResultEntry{}, fmt.Errorf("decode result: %w", err)
	}
	return e, nil
}

// StageSet records which enrichment stages were requested for a product, so
// "0 remaining because none were requested" is distinguishable from
// "0 remaining because all finished". Diagnostic metadata only; the counters
// alone drive the completion decision.
type StageSet struct {
	Image       bool `json:"image"`
	Nukki       bool `json:"nukki"`
	Option      bool `json:"option"`
	Text        bool `json:"text"`
	BrandFilter bool `json:"brand_filter"`
}

func (s StageSet) Categories() []Category {
	var cats []Category
	if s.Image {
		cats = append(cats, CategoryImage)
	}
	if s.Nukki {
		cats = append(cats, CategoryNukki)
	}
	if s.Option {
		cats = append(cats, CategoryOption)
	}
	if s.Text {
		cats = append(cats, CategoryAttribute, CategoryKeyword, CategorySeo)
	}
	return cats
}

// Counts holds the initial per-counter task totals computed at dispatch time.
type Counts struct {
	Image   int
	Option  int
	Overall int
}

func (c *Counts) Add(counter Counter, n int) {
	switch counter {
	case CounterImage:
		c.Image += n
	case CounterOption:
		c.Option += n
	case CounterOverall:
		c.Overall += n
	}
}

func (c Counts) Zero() bool {
	return c.Image == 0 && c.Option == 0 && c.Overall == 0
}

type ProcessingRecord struct {
	UserID    int64
	ProductID int64

	Status Status

	ImageRemaining   int
	OptionRemaining  int
	OverallRemaining int

	Requested StageSet
	GroupCode string

	CreatedAt time.Time
	UpdatedAt time.Time
}

func (r ProcessingRecord) AllZero() bool {
	return r.ImageRemaining == 0 && r.OptionRemaining == 0 && r.OverallRemaining == 0
}

// TaskInput is one unit of source material for a category, as reported by the
// external content collaborator (one per image URL, option path, attribute job).
type TaskInput struct {
	SubKey  string
	Payload json.RawMessage
}

// HeldItem is a product parked in the brand-filter hold together with
// everything needed to dispatch it once a no-ban decision arrives.
type HeldItem struct {
	ProductID int64    `json:"product_id"`
	Stages    StageSet `json:"stages"`
}

// BrandDecision is the external classifier's verdict for one held product.
type BrandDecision struct {
	ProductID int64
	Banned    bool
}

// BacklogEstimate is the human-facing wait figure derived from queue depths.
type BacklogEstimate struct {
	Channel string
	Backlog int64
	Wait    time.Duration
}

type RegisterResult struct {
	Queued               int
	ImmediatelyCompleted int
	HeldForBrandCheck    int
	Failed               int
	GroupCode            string
}

var (
	ErrRecordNotFound = errors.New("processing record not found")
	ErrHoldNotFound   = errors.New("brand-filter hold not found")
)
