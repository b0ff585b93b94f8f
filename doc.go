// Package billing provides the invoice lifecycle and double-entry
// ledger core of a school payment platform.
//
// Billing is designed as a library, not a service. Import it directly
// into your Go application. It provides:
//
//   - An invoice aggregate with a guarded payment-instrument state machine
//   - Double-entry ledger transactions between the institution's and the
//     platform's side, booked per billing plan strategy
//   - Overdue fines, early-payment discount tiers and inflation correction
//   - Transfer, retention and payback settlement flows
//   - Pluggable payment processor gateways
//   - Memory, MongoDB and Postgres storage backends
//
// # Quick Start
//
// Create a manager with your preferred store:
//
//	import (
//	    "github.com/edupay/billing"
//	    "github.com/edupay/billing/store/memory"
//	)
//
//	settings := billing.DefaultSettings()
//	mgr := billing.New(memory.New(), settings)
//
//	inv, err := mgr.Create(ctx, invoice.Params{...})
//	if err != nil {
//	    log.Fatal(err)
//	}
//
// # Core Concepts
//
// An Invoice is one receivable owed by a payer to an institution. Its
// lifecycle (close, pay, cancel, duplicate, expire) issues and retires
// payment instruments, and every lifecycle event books a balanced set
// of ledger transactions through the plan's strategy. The institution
// side and the platform side of the books always sum to zero per event,
// within a ten cent rounding tolerance.
//
// All monetary calculations use integer arithmetic to avoid
// floating-point precision issues. The Money type represents amounts in
// the smallest currency unit (centavos for BRL). Fractional rates are
// applied through decimal arithmetic and truncated toward zero.
//
// # TypeID
//
// All entities use TypeID for globally unique, type-safe identifiers:
//
//	inv_01h455vb4pex5vsknk084sn02q   // Invoice ID
//	chg_01h2xcejqtf2nbrexx3vqjhp41   // Payment instrument ID
//	txn_01h2xcejqtf2nbrexx3vqjhp41   // Ledger transaction ID
//
// TypeIDs are K-sortable, making them ideal for database indexes and
// providing natural time-ordering of entities.
package billing
