// Package repository defines error types that are reused across the
// seat and waiting queue stores. These sentinel values allow the
// admission engine to decide, once per error kind, whether a failure is
// retried (ErrVersionConflict, ErrLockTimeout, ErrDeadlock) or surfaced
// to the caller unchanged. Every store implementation, MySQL or
// in-memory, must return these values (possibly wrapped).
package repository

import (
	"errors"

	"github.com/go-sql-driver/mysql"
)

// ErrNotFound is returned when a seat, seat detail or waiting queue
// entry does not exist. Handlers translate it into HTTP 404.
var ErrNotFound = errors.New("not found")

// ErrVersionConflict is returned when a version-checked write lost
// against a concurrent writer.
var ErrVersionConflict = errors.New("optimistic lock conflict: row was modified by another transaction")

// ErrLockTimeout is returned when an exclusive row lock could not be
// acquired within the lock wait timeout.
var ErrLockTimeout = errors.New("lock wait timeout exceeded")

// ErrDeadlock is returned when the database chose this transaction as a
// deadlock victim.
var ErrDeadlock = errors.New("deadlock detected")

// ErrDuplicateWaiting is returned when a user already holds a WAITING
// entry for the same seat detail.
var ErrDuplicateWaiting = errors.New("waiting entry already exists")

// ErrCapacityExceeded is returned when a seat has no room for another
// reserved seat detail.
var ErrCapacityExceeded = errors.New("seat capacity exceeded")

// MySQL server error numbers mapped onto the sentinels above.
const (
	mysqlErrDupEntry    = 1062
	mysqlErrLockTimeout = 1205
	mysqlErrDeadlock    = 1213
)

// translate maps driver errors onto the store sentinels. Errors that are
// not recognised are returned unchanged.
func translate(err error) error {
	if err == nil {
		return nil
	}
	var me *mysql.MySQLError
	if !errors.As(err, &me) {
		return err
	}
	switch me.Number {
	case mysqlErrLockTimeout:
		return errors.Join(ErrLockTimeout, err)
	case mysqlErrDeadlock:
		return errors.Join(ErrDeadlock, err)
	case mysqlErrDupEntry:
		return errors.Join(ErrDuplicateWaiting, err)
	}
	return err
}
