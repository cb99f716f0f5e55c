// Package export maintains the customer export cart: the merged,
// deduplicated, ordered view of the current live estimate lines plus
// everything the user has explicitly locked in across category switches.
package export

import (
	"errors"
	"sort"
	"strings"

	"github.com/google/uuid"
)

// ErrLineNotFound indicates a removal targeted an id that is neither a
// locked line nor a live line in the current pack.
var ErrLineNotFound = errors.New("export: line not found")

// Kind is the closed set of line variants the merge/sort logic handles.
type Kind string

const (
	KindInstall Kind = "install"
	KindRemoval Kind = "removal"
	KindCaps    Kind = "caps"
	// KindLocked marks lines whose origin is outside the live pack, such
	// as the synthetic seed row.
	KindLocked Kind = "locked"
)

// LineItem is one sellable row of the export preview.
type LineItem struct {
	ID          string  `json:"id"`
	Kind        Kind    `json:"kind"`
	Qty         float64 `json:"qty"`
	Unit        string  `json:"unit"`
	Description string  `json:"description"`
	UnitPrice   float64 `json:"unitPrice"`
	LineTotal   float64 `json:"lineTotal"`
}

// LiveID returns the deterministic id for a live line of the given kind,
// stable across evaluation passes so re-rendering never duplicates rows.
func LiveID(kind Kind) string {
	return "live_" + string(kind)
}

// NewLockedID mints a globally unique id for a committed line.
func NewLockedID() string {
	return "locked_" + uuid.NewString()
}

// IsLiveID reports whether the id belongs to the live pack.
func IsLiveID(id string) bool {
	return strings.HasPrefix(id, "live_")
}

// CategoryKey identifies the category-defining inputs of an estimate.
// Structural equality on this record replaces string fingerprinting so
// two selections compare equal exactly when their fields do.
type CategoryKey struct {
	Category  string `json:"category"`
	Subtype   string `json:"subtype"`
	SpacingFt int    `json:"spacingFt"`
}

// IsZero reports whether no key has been recorded yet.
func (k CategoryKey) IsZero() bool {
	return k == CategoryKey{}
}

// State is the session-scoped cart state. It round-trips through the
// session store as JSON between evaluation passes.
type State struct {
	LockedLines   []LineItem   `json:"lockedLines"`
	HiddenLiveIDs []string     `json:"hiddenLiveIds"`
	LastKey       *CategoryKey `json:"lastKey,omitempty"`
}

func (s *State) hidden() map[string]struct{} {
	set := make(map[string]struct{}, len(s.HiddenLiveIDs))
	for _, id := range s.HiddenLiveIDs {
		set[id] = struct{}{}
	}
	return set
}

// VisibleLive filters the live pack down to lines not suppressed by a
// prior deletion.
func (s *State) VisibleLive(live []LineItem) []LineItem {
	hidden := s.hidden()
	out := make([]LineItem, 0, len(live))
	for _, ln := range live {
		if _, ok := hidden[ln.ID]; !ok {
			out = append(out, ln)
		}
	}
	return out
}

// LockOnKeyChange records the current category key and, when it differs
// from the previously recorded one, commits every visible live line into
// LockedLines under a fresh locked id and resets suppression. Evaluating
// again with an unchanged key does nothing, so the transition is locked
// exactly once. Returns how many lines were locked.
func (s *State) LockOnKeyChange(key CategoryKey, live []LineItem) int {
	defer func() {
		k := key
		s.LastKey = &k
	}()
	if s.LastKey == nil || *s.LastKey == key {
		return 0
	}
	locked := 0
	for _, ln := range s.VisibleLive(live) {
		ln.ID = NewLockedID()
		s.LockedLines = append(s.LockedLines, ln)
		locked++
	}
	s.HiddenLiveIDs = nil
	return locked
}

// Add explicitly commits every visible live line as a new locked entry.
// Additive: existing locked lines are untouched, and re-adding the same
// selection produces another copy under new ids. Suppression is cleared so
// the live pack shows in full alongside the new locked rows.
func (s *State) Add(live []LineItem) int {
	added := 0
	for _, ln := range s.VisibleLive(live) {
		ln.ID = NewLockedID()
		s.LockedLines = append(s.LockedLines, ln)
		added++
	}
	s.HiddenLiveIDs = nil
	return added
}

// Remove deletes a locked line permanently, or suppresses a live line
// until the next key change. Unknown ids are an error so the caller can
// return 404 rather than silently dropping the request.
func (s *State) Remove(id string, live []LineItem) error {
	for i, ln := range s.LockedLines {
		if ln.ID == id {
			s.LockedLines = append(s.LockedLines[:i], s.LockedLines[i+1:]...)
			return nil
		}
	}
	if IsLiveID(id) {
		for _, ln := range live {
			if ln.ID == id {
				if _, ok := s.hidden()[id]; !ok {
					s.HiddenLiveIDs = append(s.HiddenLiveIDs, id)
				}
				return nil
			}
		}
	}
	return ErrLineNotFound
}

// Clear drops every locked line and suppresses the currently visible live
// lines in one action. The confirmation handshake guarding this lives at
// the transport layer.
func (s *State) Clear(live []LineItem) {
	hidden := s.hidden()
	for _, ln := range s.VisibleLive(live) {
		if _, ok := hidden[ln.ID]; !ok {
			s.HiddenLiveIDs = append(s.HiddenLiveIDs, ln.ID)
		}
	}
	s.LockedLines = nil
}

// MergePreview builds the displayed preview: locked lines plus the visible
// live pack, deduplicated by id with locked entries winning, ordered
// install-footage first, removal second, everything else last. The sort is
// stable, so merging twice with unchanged state yields an identical list.
func (s *State) MergePreview(live []LineItem) []LineItem {
	seen := make(map[string]struct{}, len(s.LockedLines)+len(live))
	merged := make([]LineItem, 0, len(s.LockedLines)+len(live))
	for _, ln := range s.LockedLines {
		if _, ok := seen[ln.ID]; ok {
			continue
		}
		seen[ln.ID] = struct{}{}
		merged = append(merged, ln)
	}
	for _, ln := range s.VisibleLive(live) {
		if _, ok := seen[ln.ID]; ok {
			continue
		}
		seen[ln.ID] = struct{}{}
		merged = append(merged, ln)
	}
	sort.SliceStable(merged, func(i, j int) bool {
		return sortRank(merged[i]) < sortRank(merged[j])
	})
	return merged
}

func sortRank(ln LineItem) int {
	switch {
	case ln.Kind == KindInstall && strings.EqualFold(ln.Unit, "LF"):
		return 0
	case ln.Kind == KindRemoval:
		return 1
	default:
		return 2
	}
}

// SeedRow returns the synthetic demo line offered when the cart is empty.
func SeedRow() LineItem {
	return LineItem{
		ID:          NewLockedID(),
		Kind:        KindLocked,
		Qty:         100,
		Unit:        "LF",
		Description: "12.5 Gauge Silt Fence",
		UnitPrice:   2.50,
		LineTotal:   250.00,
	}
}

// Totals is the preview footer: what the customer would be billed for the
// merged line list.
type Totals struct {
	Subtotal   float64 `json:"subtotal"`
	TaxRate    float64 `json:"taxRate"`
	SalesTax   float64 `json:"salesTax"`
	GrandTotal float64 `json:"grandTotal"`
	TaxRemoved bool    `json:"taxRemoved"`
}

// ComputeTotals sums line totals and applies sales tax unless the customer
// printout has tax removed, in which case the rate reports as zero.
func ComputeTotals(lines []LineItem, taxRate float64, removeTax bool) Totals {
	var subtotal float64
	for _, ln := range lines {
		subtotal += ln.LineTotal
	}
	t := Totals{Subtotal: subtotal, TaxRate: taxRate, TaxRemoved: removeTax}
	if removeTax {
		t.TaxRate = 0
	} else {
		t.SalesTax = subtotal * taxRate
	}
	t.GrandTotal = t.Subtotal + t.SalesTax
	return t
}
