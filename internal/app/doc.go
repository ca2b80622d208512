// Package app assembles the license service: it builds the vendor and
// consumer license managers from the configuration, mounts the REST API
// and manages the HTTP server lifecycle.
//
// The initialization sequence is:
//
//  1. Load configuration from defaults, file and environment
//  2. Initialize logging and OpenTelemetry
//  3. Open the license stores and build the managers
//  4. Set up HTTP handlers and middleware
//  5. Start the HTTP server and wait for a shutdown signal
package app
