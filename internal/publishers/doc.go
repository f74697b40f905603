// Package publishers holds the destination upload clients: an archive
// publisher that records a manifest in artefact storage, and a relay
// publisher that streams media to a per-platform upload relay (YouTube, VK,
// Rutube).
package publishers
