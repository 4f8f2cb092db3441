// Command sentineld is the malware triage daemon.
//
// It serves the analysis API, or with the scan subcommand analyzes files
// given on the command line. Settings come from the environment (see the
// config package) and a few flags override them:
//
//	sentineld --dev --guest-module analyzer.wasm
//	sentineld --native=false scan ./downloads/*.exe
//
// The same binary hosts the sandbox init entry point: the native analyzer
// re-executes it inside fresh namespaces, so main must call
// native.MaybeRunInit before doing anything else.
//
// SIGINT and SIGTERM shut the server down gracefully.
package main
