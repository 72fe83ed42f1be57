// Package cli implements the pact-stub-server command line interface.
//
// The command has a single behavior: load contracts from the configured
// sources, build the interaction index, and serve HTTP until
// interrupted. Exit codes are part of the interface:
//
//	0  clean shutdown
//	1  contract load failure
//	2  command line parse failure
//	3  listener bind failure
package cli
