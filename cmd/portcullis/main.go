// Portcullis is an access decision and integrity ledger daemon for
// gated facilities.
//
// It evaluates gate access requests against a priority-ordered policy
// set and seals every outcome into a hash-chained append-only ledger:
//   - Schema-flexible entity registry (people, vehicles, visits, ...)
//   - Priority-ordered deny policies with hot reload
//   - Tamper-evident event chain with scheduled verification
//   - Operator-visible audit trail beside the cryptographic ledger
//
// Usage:
//
//	# Start the daemon with default configuration
//	portcullis run
//
//	# Start with a custom configuration file
//	portcullis run --config /etc/portcullis/config.yaml
//
//	# Verify ledger chain integrity
//	portcullis verify
//
//	# Show version information
//	portcullis version
package main

func main() {
	Execute()
}
