// Package server wires the analysis pipeline and its HTTP surface.
//
// Lifecycle:
//
//  1. Load configuration from environment and flags
//  2. Create the logger and the Prometheus registry
//  3. Start the guest runtime and load the analysis module, if configured
//  4. Create the native sandbox and load its syscall policy
//  5. Build the verdict cache, quarantine store and orchestrator
//  6. Mount middleware and routes, then serve until the context ends
//
// Typical use:
//
//	cfg := config.LoadOrDefault()
//	srv, err := server.NewServer(ctx, cfg, server.Options{})
//	if err != nil {
//		log.Fatal(err)
//	}
//	defer srv.Close(context.Background())
//	err = srv.Run(ctx)
package server
