package common

import "fmt"

var (
	ErrInvariant           = fmt.Errorf("invariant violation")
	ErrUpstreamContract    = fmt.Errorf("upstream contract violation")
	ErrUnknownHost         = fmt.Errorf("unknown host tag")
	ErrNoStorageRoot       = fmt.Errorf("host has no storage root")
	ErrSyncAlreadyRunning  = fmt.Errorf("another synchronization run holds the archive lock")
	ErrNoItemsFound        = fmt.Errorf("no catalog items found")
	ErrLedgerNotConfigured = fmt.Errorf("sync ledger is not configured")
)
