package renderer

import (
	"time"

	"github.com/etnz/ledger"
)

// Pending lists pending transfer markers, or the outcome of their recovery.
type Pending struct {
	Title string       `json:"title"`
	Rows  []PendingRow `json:"rows"`
}

// PendingRow describes one marker. Fields of unreadable markers are empty,
// except for the ID.
type PendingRow struct {
	ID          string `json:"id"`
	Source      string `json:"source"`
	Destination string `json:"destination"`
	Amount      string `json:"amount"`
	Created     string `json:"created"`
	Status      string `json:"status"`
}

// NewPending builds the report of recoveries.
func NewPending(title string, recoveries []ledger.Recovery, currency string) *Pending {
	p := &Pending{Title: title}
	for _, r := range recoveries {
		row := PendingRow{
			ID:     r.Marker.ID,
			Status: string(r.Resolution),
		}
		if row.Status == "" {
			row.Status = "pending"
		}
		if r.Marker.Source != "" {
			row.Source = cell(r.Marker.Source)
			row.Destination = cell(r.Marker.Destination)
			row.Amount = r.Marker.Amount.Display(currency)
			row.Created = r.Marker.Created.UTC().Format(time.RFC3339)
		}
		p.Rows = append(p.Rows, row)
	}
	return p
}
