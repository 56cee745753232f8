// Package config provides configuration management for the job relay.
//
// Configuration is loaded from environment variables using the env package.
// Most values have sensible defaults for development use; the remote API
// token and the job updates nonce must always be supplied.
//
// Example usage:
//
//	cfg, err := config.Load()
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	fmt.Printf("HTTP server will listen on %s\n", cfg.GetHTTPAddr())
package config
