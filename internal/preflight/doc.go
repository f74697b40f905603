// Package preflight runs environment checks before the daemon starts:
// directory permissions, media binaries and reachability of the provider
// gateway and publish relay.
//
// The daemon logs failed checks at startup; `recast config check` prints them.
package preflight
