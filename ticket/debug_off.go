//go:build !ticketdebug && !race

package ticket

const debugChecks = false
