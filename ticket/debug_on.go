//go:build ticketdebug || race

package ticket

// debugChecks turns lock misuse (double unlock, too many waiters) into panics.
const debugChecks = true
