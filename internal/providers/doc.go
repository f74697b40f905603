// Package providers implements the AI stages (transcription, topic
// extraction, subtitle generation) on top of an HTTP provider gateway.
// Each stage reads an earlier artefact from storage, submits it, and stores
// the returned JSON document under its own stage key.
package providers
