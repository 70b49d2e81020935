// Package ledger implements a small personal-finance ledger: named accounts
// holding a single balance, and the deposits, withdrawals and transfers that
// change them.
//
// The ledger is local-first and human readable. Every account is one small
// json file in a folder, every completed mutation is one line in an
// append-only text log:
//   - Amounts are exact counts of minor units (see Amount), never floats.
//   - Records are replaced atomically, and guarded by per-account file locks
//     so that several processes can share the same folder.
//   - Transfers update two files. They record their intent in a pending
//     marker first, so that a crash in the middle is resolved to either both
//     records updated or neither (see Engine.Recover).
//
// This package is the engine behind the `lcs` command-line tool.
package ledger
