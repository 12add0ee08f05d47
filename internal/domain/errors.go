/**
 * @description
 * This file defines the error taxonomy for the purchase orchestration core.
 * Infrastructure faults and expected business outcomes are kept on separate
 * channels: faults feed the circuit breaker's failure accounting, business
 * outcomes bypass it entirely and propagate to the caller unchanged.
 */

package domain

import "errors"

var (
	// ErrBillerNotSupported is returned when a requested operation is not
	// implemented for a biller (e.g. cheque on Netbilling).
	ErrBillerNotSupported = errors.New("operation not supported by biller")

	// ErrInvalidResponse is returned when a biller responds with an
	// unexpected shape.
	ErrInvalidResponse = errors.New("invalid biller response")

	// ErrTransactionDataNotFound is returned when a retrieve targets an
	// unknown transaction id.
	ErrTransactionDataNotFound = errors.New("transaction data not found")

	// ErrUnableToProcessTransaction is the circuit-breaker fallback,
	// surfaced to the orchestrator as a generic service-unavailable outcome.
	ErrUnableToProcessTransaction = errors.New("unable to process transaction")

	// ErrUnableToCompleteThreeD is returned when a 3DS completion reports
	// an aborted result.
	ErrUnableToCompleteThreeD = errors.New("unable to complete 3ds transaction")

	// ErrUnknownBillerName is returned when a supplied biller name does not
	// map to one of the known billers.
	ErrUnknownBillerName = errors.New("unknown biller name")

	// ErrInvalidForceCascade is returned when a force-cascade override does
	// not map to a known biller.
	ErrInvalidForceCascade = errors.New("invalid force cascade")

	// ErrMalformedPayload is the business outcome for a callback whose
	// payload fails validation.
	ErrMalformedPayload = errors.New("malformed callback payload")

	// ErrTransactionAlreadyProcessed is the business outcome for a callback
	// replay against an already-settled transaction.
	ErrTransactionAlreadyProcessed = errors.New("transaction already processed")

	// ErrSessionNotFound is returned when a purchase session id does not
	// resolve to a stored session.
	ErrSessionNotFound = errors.New("purchase session not found")
)

// IsBusinessOutcome reports whether err is an expected alternate outcome
// rather than an infrastructure fault. Business outcomes must bypass the
// circuit breaker's failure accounting and reach the caller unchanged.
func IsBusinessOutcome(err error) bool {
	return errors.Is(err, ErrMalformedPayload) || errors.Is(err, ErrTransactionAlreadyProcessed)
}
