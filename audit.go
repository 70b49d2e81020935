package ledger

import (
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// Kind identifies the mutation an audit record describes.
type Kind string

// Kinds of audited mutations.
const (
	KindDeposit    Kind = "deposit"
	KindWithdrawal Kind = "withdrawal"
	KindTransfer   Kind = "transfer"
)

// Record describes one completed mutation.
type Record struct {
	Kind   Kind
	Time   time.Time
	Amount Amount
	// Account is the credited account of a deposit, the debited account of a
	// withdrawal, and the source of a transfer.
	Account string
	// Counterparty is the destination of a transfer.
	Counterparty string
}

// Line formats the record as a single human readable line, amounts are
// displayed in currency.
func (r Record) Line(currency string) string {
	when := r.Time.Format(time.RFC3339)
	amount := r.Amount.Display(currency)
	switch r.Kind {
	case KindDeposit:
		return fmt.Sprintf("%s | deposit of %s to %s", when, amount, r.Account)
	case KindWithdrawal:
		return fmt.Sprintf("%s | withdrawal of %s from %s", when, amount, r.Account)
	case KindTransfer:
		return fmt.Sprintf("%s | transfer of %s from %s to %s", when, amount, r.Account, r.Counterparty)
	default:
		return fmt.Sprintf("%s | %s of %s on %s", when, r.Kind, amount, r.Account)
	}
}

//go:generate mockgen -source=audit.go -destination=mocks/auditor.go -package=mock_ledger

// Auditor receives a record for every completed mutation.
//
// An Auditor failure never undoes the mutation it describes.
type Auditor interface {
	Append(r Record) error
}

// AuditLog is an Auditor appending lines to one text file per kind of
// mutation. It never reads them back.
type AuditLog struct {
	dir      string
	currency string
}

// NewAuditLog returns an audit log writing in the logs folder of cfg.Root.
func NewAuditLog(cfg Config) *AuditLog {
	return &AuditLog{dir: filepath.Join(cfg.Root, "logs"), currency: cfg.Currency}
}

// Path returns the file receiving records of kind k.
func (l *AuditLog) Path(k Kind) string {
	return filepath.Join(l.dir, string(k)+".log")
}

// Append appends r to the log of its kind.
func (l *AuditLog) Append(r Record) error {
	if err := os.MkdirAll(l.dir, 0o755); err != nil {
		return fmt.Errorf("cannot create audit folder: %w", err)
	}
	filename := l.Path(r.Kind)
	// Open the file in append mode, creating it if it doesn't exist.
	f, err := os.OpenFile(filename, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("cannot open audit log %q: %w", filename, err)
	}
	defer f.Close()

	if _, err := fmt.Fprintln(f, r.Line(l.currency)); err != nil {
		return fmt.Errorf("cannot write to audit log %q: %w", filename, err)
	}
	return nil
}
