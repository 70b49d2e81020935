package ledger_test

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/Rhymond/go-money"
	"github.com/etnz/ledger"
	mock_ledger "github.com/etnz/ledger/mocks"
	"github.com/golang/mock/gomock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

var testTime = time.Date(2025, 3, 14, 9, 26, 53, 0, time.UTC)

// openTest opens a ledger in a temporary folder, in USD so that amounts
// display in a familiar way.
func openTest(t *testing.T, opts ...ledger.Option) (*ledger.Engine, ledger.Config) {
	t.Helper()
	cfg := ledger.Config{Root: t.TempDir(), Currency: money.USD, LockTimeout: 50 * time.Millisecond}
	opts = append([]ledger.Option{ledger.WithClock(func() time.Time { return testTime })}, opts...)
	e, err := ledger.Open(cfg, opts...)
	require.NoError(t, err)
	return e, cfg
}

// seed creates accounts with initial balances.
func seed(t *testing.T, e *ledger.Engine, balances map[string]string) {
	t.Helper()
	for id, raw := range balances {
		require.NoError(t, e.CreateAccount(id))
		if raw != "0" {
			require.NoError(t, e.Deposit(id, raw))
		}
	}
}

func balance(t *testing.T, e *ledger.Engine, id string) int64 {
	t.Helper()
	b, err := e.GetBalance(id)
	require.NoError(t, err)
	return b.Int64()
}

func TestEngine_Example(t *testing.T) {
	e, _ := openTest(t)
	seed(t, e, map[string]string{"alice": "100", "bob": "20"})

	require.NoError(t, e.Transfer("alice", "bob", "30"))
	assert.Equal(t, int64(70), balance(t, e, "alice"))
	assert.Equal(t, int64(50), balance(t, e, "bob"))

	err := e.Withdraw("alice", "1000")
	assert.ErrorIs(t, err, ledger.ErrInsufficientFunds)
	assert.True(t, ledger.IsRecoverable(err))
	assert.Equal(t, int64(70), balance(t, e, "alice"))
}

func TestEngine_CreateAccount(t *testing.T) {
	e, _ := openTest(t)

	require.NoError(t, e.CreateAccount("alice"))
	assert.Equal(t, int64(0), balance(t, e, "alice"))
	require.NoError(t, e.Deposit("alice", "42"))

	err := e.CreateAccount("alice")
	assert.ErrorIs(t, err, ledger.ErrAccountAlreadyExists)
	assert.Equal(t, int64(42), balance(t, e, "alice"))

	assert.ErrorIs(t, e.CreateAccount("../alice"), ledger.ErrInvalidAccountID)
	assert.ErrorIs(t, e.CreateAccount(""), ledger.ErrInvalidAccountID)
}

func TestEngine_ListAccounts(t *testing.T) {
	e, _ := openTest(t)
	for _, id := range []string{"zoe", "alice", "Bob", "mallory"} {
		require.NoError(t, e.CreateAccount(id))
	}
	ids, err := e.ListAccounts()
	require.NoError(t, err)
	assert.Equal(t, []string{"Bob", "alice", "mallory", "zoe"}, ids)
}

func TestEngine_Deposit(t *testing.T) {
	e, cfg := openTest(t)
	seed(t, e, map[string]string{"alice": "0"})

	for _, d := range []int64{1, 30, 999, 1} {
		before := balance(t, e, "alice")
		require.NoError(t, e.Deposit("alice", ledger.A(d).String()))
		assert.Equal(t, before+d, balance(t, e, "alice"))
	}

	data, err := os.ReadFile(filepath.Join(cfg.Root, "logs", "deposit.log"))
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	require.Len(t, lines, 4)
	assert.Equal(t, "2025-03-14T09:26:53Z | deposit of $9.99 to alice", lines[2])
}

func TestEngine_Withdraw(t *testing.T) {
	e, cfg := openTest(t)
	seed(t, e, map[string]string{"alice": "100"})

	require.NoError(t, e.Withdraw("alice", "40"))
	assert.Equal(t, int64(60), balance(t, e, "alice"))

	// The whole balance can be withdrawn.
	require.NoError(t, e.Withdraw("alice", "60"))
	assert.Equal(t, int64(0), balance(t, e, "alice"))

	assert.ErrorIs(t, e.Withdraw("alice", "1"), ledger.ErrInsufficientFunds)
	assert.Equal(t, int64(0), balance(t, e, "alice"))

	data, err := os.ReadFile(filepath.Join(cfg.Root, "logs", "withdrawal.log"))
	require.NoError(t, err)
	assert.Equal(t, 2, strings.Count(string(data), "\n"))
	assert.Contains(t, string(data), "withdrawal of $0.40 from alice")
}

func TestEngine_Transfer(t *testing.T) {
	e, cfg := openTest(t)
	seed(t, e, map[string]string{"alice": "500", "bob": "20", "carol": "0"})

	total := func() int64 {
		return balance(t, e, "alice") + balance(t, e, "bob") + balance(t, e, "carol")
	}
	before := total()

	transfers := []struct{ src, dst, amount string }{
		{"alice", "bob", "30"},
		{"bob", "carol", "50"},
		{"carol", "alice", "1"},
		{"alice", "carol", "469"},
	}
	for _, tr := range transfers {
		src, dst := balance(t, e, tr.src), balance(t, e, tr.dst)
		require.NoError(t, e.Transfer(tr.src, tr.dst, tr.amount))
		a, _ := ledger.NewAmountParser(cfg).Parse(tr.amount)
		assert.Equal(t, src-a.Int64(), balance(t, e, tr.src))
		assert.Equal(t, dst+a.Int64(), balance(t, e, tr.dst))
		assert.Equal(t, before, total(), "transfers conserve the total")
	}
	assert.Equal(t, int64(0), balance(t, e, "alice"))

	// no marker or staging file is left behind.
	pending, err := e.Pending()
	require.NoError(t, err)
	assert.Empty(t, pending)
	leftovers, err := filepath.Glob(filepath.Join(cfg.Root, "accounts", ".*"))
	require.NoError(t, err)
	assert.Empty(t, leftovers)

	data, err := os.ReadFile(filepath.Join(cfg.Root, "logs", "transfer.log"))
	require.NoError(t, err)
	assert.Contains(t, string(data), "transfer of $0.30 from alice to bob")
}

func TestEngine_TransferFailures(t *testing.T) {
	e, _ := openTest(t)
	seed(t, e, map[string]string{"alice": "100", "bob": "20"})

	testCases := []struct {
		name     string
		src, dst string
		amount   string
		want     error
	}{
		{"same account", "alice", "alice", "10", ledger.ErrSameAccountTransfer},
		{"same account with bad amount", "bob", "bob", "abc", ledger.ErrSameAccountTransfer},
		{"unknown source", "nobody", "bob", "10", ledger.ErrAccountNotFound},
		{"unknown destination", "alice", "nobody", "10", ledger.ErrAccountNotFound},
		{"insufficient funds", "alice", "bob", "101", ledger.ErrInsufficientFunds},
		{"zero", "alice", "bob", "0", ledger.ErrInvalidAmount},
		{"invalid source id", "a/b", "bob", "1", ledger.ErrInvalidAccountID},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			err := e.Transfer(tc.src, tc.dst, tc.amount)
			assert.ErrorIs(t, err, tc.want)
			assert.True(t, ledger.IsRecoverable(err))
			assert.Equal(t, int64(100), balance(t, e, "alice"))
			assert.Equal(t, int64(20), balance(t, e, "bob"))
		})
	}
}

func TestEngine_InvalidAmounts(t *testing.T) {
	e, cfg := openTest(t)
	seed(t, e, map[string]string{"alice": "100", "bob": "20"})

	ops := map[string]func(raw string) error{
		"deposit":  func(raw string) error { return e.Deposit("alice", raw) },
		"withdraw": func(raw string) error { return e.Withdraw("alice", raw) },
		"transfer": func(raw string) error { return e.Transfer("alice", "bob", raw) },
	}
	for name, op := range ops {
		for _, raw := range []string{"", "0", "-10", "+10", "10.5", "ten", "1e2", " 10", "00"} {
			err := op(raw)
			assert.ErrorIs(t, err, ledger.ErrInvalidAmount, "%s(%q)", name, raw)
		}
	}
	assert.Equal(t, int64(100), balance(t, e, "alice"))
	assert.Equal(t, int64(20), balance(t, e, "bob"))

	// Only the seeding deposits were audited.
	data, err := os.ReadFile(filepath.Join(cfg.Root, "logs", "deposit.log"))
	require.NoError(t, err)
	assert.Equal(t, 2, strings.Count(string(data), "\n"))
	assert.NoFileExists(t, filepath.Join(cfg.Root, "logs", "withdrawal.log"))
	assert.NoFileExists(t, filepath.Join(cfg.Root, "logs", "transfer.log"))
}

func TestEngine_Overflow(t *testing.T) {
	e, _ := openTest(t)
	seed(t, e, map[string]string{"alice": "9223372036854775807", "bob": "1"})

	assert.ErrorIs(t, e.Deposit("alice", "1"), ledger.ErrInvalidAmount)
	assert.ErrorIs(t, e.Transfer("bob", "alice", "1"), ledger.ErrInvalidAmount)
	assert.Equal(t, int64(1), balance(t, e, "bob"))
}

func TestEngine_NotFoundPerformsNoWrite(t *testing.T) {
	e, cfg := openTest(t)

	assert.ErrorIs(t, e.Deposit("ghost", "10"), ledger.ErrAccountNotFound)
	assert.ErrorIs(t, e.Withdraw("ghost", "10"), ledger.ErrAccountNotFound)
	_, err := e.GetBalance("ghost")
	assert.ErrorIs(t, err, ledger.ErrAccountNotFound)

	assert.ErrorIs(t, e.Transfer("ghost", "casper", "10"), ledger.ErrAccountNotFound)

	for _, folder := range []string{"accounts", "locks"} {
		entries, err := os.ReadDir(filepath.Join(cfg.Root, folder))
		require.NoError(t, err)
		assert.Empty(t, entries, folder)
	}
	assert.NoDirExists(t, filepath.Join(cfg.Root, "logs"))
}

// recordMatcher matches audit records, comparing amounts by value.
type recordMatcher struct{ want ledger.Record }

func sameRecord(r ledger.Record) gomock.Matcher { return recordMatcher{r} }

func (m recordMatcher) Matches(x any) bool {
	got, ok := x.(ledger.Record)
	if !ok {
		return false
	}
	w := m.want
	return got.Kind == w.Kind && got.Time.Equal(w.Time) && got.Amount.Equal(w.Amount) &&
		got.Account == w.Account && got.Counterparty == w.Counterparty
}

func (m recordMatcher) String() string { return "is " + m.want.Line(money.USD) }

func TestEngine_AuditRecords(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()
	audit := mock_ledger.NewMockAuditor(ctrl)

	e, _ := openTest(t, ledger.WithAuditor(audit))
	require.NoError(t, e.CreateAccount("alice"))
	require.NoError(t, e.CreateAccount("bob"))

	gomock.InOrder(
		audit.EXPECT().Append(sameRecord(ledger.Record{Kind: ledger.KindDeposit, Time: testTime, Amount: ledger.A(100), Account: "alice"})),
		audit.EXPECT().Append(sameRecord(ledger.Record{Kind: ledger.KindWithdrawal, Time: testTime, Amount: ledger.A(10), Account: "alice"})),
		audit.EXPECT().Append(sameRecord(ledger.Record{Kind: ledger.KindTransfer, Time: testTime, Amount: ledger.A(25), Account: "alice", Counterparty: "bob"})),
	)
	require.NoError(t, e.Deposit("alice", "100"))
	require.NoError(t, e.Withdraw("alice", "10"))
	require.NoError(t, e.Transfer("alice", "bob", "25"))

	// failures are never audited.
	require.Error(t, e.Withdraw("alice", "1000"))
	require.Error(t, e.Transfer("alice", "alice", "1"))
}

func TestEngine_AuditFailureKeepsMutation(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()
	audit := mock_ledger.NewMockAuditor(ctrl)
	audit.EXPECT().Append(gomock.Any()).Return(errors.New("disk full")).Times(2)

	core, logs := observer.New(zapcore.WarnLevel)
	e, _ := openTest(t, ledger.WithAuditor(audit), ledger.WithLogger(zap.New(core)))

	require.NoError(t, e.CreateAccount("alice"))
	require.NoError(t, e.Deposit("alice", "100"))
	require.NoError(t, e.Withdraw("alice", "30"))
	assert.Equal(t, int64(70), balance(t, e, "alice"))

	warnings := logs.FilterMessage("audit append failed").All()
	require.Len(t, warnings, 2)
	assert.Equal(t, "alice", warnings[0].ContextMap()["account"])
}

func TestEngine_StorageFailureQuarantines(t *testing.T) {
	core, logs := observer.New(zapcore.ErrorLevel)
	e, cfg := openTest(t, ledger.WithLogger(zap.New(core)))
	seed(t, e, map[string]string{"alice": "100", "bob": "20"})

	// Replace bob's record with something that cannot be read.
	record := filepath.Join(cfg.Root, "accounts", "bob.json")
	require.NoError(t, os.Remove(record))
	require.NoError(t, os.Mkdir(record, 0o755))

	err := e.Deposit("bob", "10")
	require.ErrorIs(t, err, ledger.ErrStorageIO)
	assert.False(t, ledger.IsRecoverable(err))
	assert.Contains(t, e.Quarantined(), "bob")
	assert.Equal(t, 1, logs.FilterMessage("account quarantined").Len())

	// Even once repaired, bob is refused for the lifetime of this engine.
	require.NoError(t, os.Remove(record))
	require.NoError(t, os.WriteFile(record, []byte(`{"balance": 20}`), 0o644))
	err = e.Transfer("alice", "bob", "10")
	assert.ErrorIs(t, err, ledger.ErrQuarantined)
	assert.Equal(t, int64(100), balance(t, e, "alice"))

	// but can still be read, and other accounts are unaffected.
	assert.Equal(t, int64(20), balance(t, e, "bob"))
	require.NoError(t, e.Deposit("alice", "1"))

	// A fresh engine starts clean.
	e2, err := ledger.Open(cfg)
	require.NoError(t, err)
	require.NoError(t, e2.Deposit("bob", "10"))
	assert.Equal(t, int64(30), balance(t, e2, "bob"))
}
