package library

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// The inventory ledger keeps books.available_copies in step with the loan
// ledger. Both helpers must run inside the caller's transaction.

// takeCopy removes one copy of bookID from the shelf.
func takeCopy(ctx context.Context, q Querier, bookID int64) error {
	n, _, err := execWrite(ctx, q,
		`UPDATE books SET available_copies = available_copies - 1 WHERE id=? AND available_copies > 0`, bookID)
	if err != nil {
		return err
	}
	if n == 1 {
		return nil
	}
	ok, err := exists(ctx, q, `SELECT EXISTS(SELECT 1 FROM books WHERE id=?)`, bookID)
	if err != nil {
		return err
	}
	if !ok {
		return ErrBookNotFound
	}
	return ErrBookUnavailable
}

// returnCopy puts one copy of bookID back on the shelf. A book already at its
// total means the counters disagree with the loan ledger.
func returnCopy(ctx context.Context, q Querier, bookID int64) error {
	n, _, err := execWrite(ctx, q,
		`UPDATE books SET available_copies = available_copies + 1 WHERE id=? AND available_copies < total_copies`, bookID)
	if err != nil {
		return err
	}
	if n != 1 {
		return fmt.Errorf("%w: book %d has no copy out on loan", ErrConsistency, bookID)
	}
	return nil
}

// availableCopies reads the shelf count of bookID.
func availableCopies(ctx context.Context, q Querier, bookID int64) (int, error) {
	var n int
	err := q.QueryRowContext(ctx, `SELECT available_copies FROM books WHERE id=?`, bookID).Scan(&n)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, ErrBookNotFound
	}
	if err != nil {
		return 0, mapError(err)
	}
	return n, nil
}
