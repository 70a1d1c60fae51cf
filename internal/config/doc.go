// Package config loads the security gateway configuration.
//
// Configuration is a YAML file decoded over DefaultConfig, so a file only
// needs the settings it changes. ${VAR} and ${VAR:-default} are replaced
// from the environment before decoding; "$$" is a literal dollar sign.
//
//	server:
//	  listenAddr: ${SECGW_LISTEN_ADDR:-:8080}
//	rateLimit:
//	  policies:
//	    auth:
//	      window: 15m
//	      maxRequests: 5
//	cors:
//	  allowOrigins:
//	    - https://alo17.vercel.app
//
// Watcher reloads the file on change. Only configurations that pass
// ValidateConfig reach the callback; the previous one stays active
// otherwise.
package config
