package cache

import (
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
)

// Symbols lists the quote currencies in their stored column order.
var Symbols = []string{"btc", "eur", "usd", "cny", "jpy", "krw", "eth", "gbp"}

var symbolIndex = func() map[string]int {
	m := make(map[string]int, len(Symbols))
	for i, s := range Symbols {
		m[s] = i
	}
	return m
}()

// SymbolIndex returns the column position of a quote symbol.
func SymbolIndex(symbol string) (int, bool) {
	i, ok := symbolIndex[strings.ToLower(symbol)]
	return i, ok
}

// QuoteRow holds one price per entry of Symbols.
type QuoteRow []float64

// Quotes is an append-only index of per-level prices.
type Quotes struct {
	mu   sync.Mutex
	snap atomic.Pointer[[]QuoteRow]
}

func NewQuotes(rows []QuoteRow) *Quotes {
	q := &Quotes{}
	seed := append([]QuoteRow(nil), rows...)
	q.snap.Store(&seed)
	return q
}

func (q *Quotes) load() []QuoteRow {
	if p := q.snap.Load(); p != nil {
		return *p
	}
	return nil
}

// Get returns the price of symbol at level.
func (q *Quotes) Get(symbol string, level int64) (float64, bool) {
	i, ok := SymbolIndex(symbol)
	if !ok {
		return 0, false
	}
	rows := q.load()
	if level < 0 || level >= int64(len(rows)) {
		return 0, false
	}
	row := rows[level]
	if i >= len(row) {
		return 0, false
	}
	return row[i], true
}

// Head returns the last quoted level, or -1 when empty.
func (q *Quotes) Head() int64 {
	return int64(len(q.load())) - 1
}

// Append adds quote rows starting at level from, which must be Head()+1.
func (q *Quotes) Append(from int64, rows []QuoteRow) error {
	if len(rows) == 0 {
		return nil
	}
	q.mu.Lock()
	defer q.mu.Unlock()

	cur := q.load()
	if from != int64(len(cur)) {
		return fmt.Errorf("quotes: append at %d, expected %d", from, len(cur))
	}
	next := make([]QuoteRow, len(cur), len(cur)+len(rows))
	copy(next, cur)
	next = append(next, rows...)
	q.snap.Store(&next)
	return nil
}

// Truncate drops every level above head.
func (q *Quotes) Truncate(head int64) {
	q.mu.Lock()
	defer q.mu.Unlock()

	cur := q.load()
	if head+1 >= int64(len(cur)) {
		return
	}
	if head < -1 {
		head = -1
	}
	next := append([]QuoteRow(nil), cur[:head+1]...)
	q.snap.Store(&next)
}
