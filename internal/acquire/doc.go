// Package acquire implements the download stage: it streams a recording's
// source (http, https or file URI) into artefact storage.
package acquire
