// Package services defines shared utilities consumed by the pipeline stages
// and the external collaborators they call.
//
// Key responsibilities:
//   - Context helpers that stamp recording IDs, tenants, stage names, pool
//     names and correlation identifiers for logging and tracing.
//   - Structured error markers, the Wrap helper and ClassifiedError, which let
//     a collaborator declare whether a failure is transient or permanent.
//   - Classify and Details, which the workflow uses to decide between an
//     automatic resume and an operator-triggered retry.
//
// Use these helpers when wiring new stage logic so operational behaviour (error
// handling, observability, retries) stays uniform across the pipeline.
package services
