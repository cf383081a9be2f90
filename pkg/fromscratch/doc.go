// Package fromscratch is the core library of the "From Scratch"
// blog-and-portfolio backend: analytics event ingestion with per-session
// rate limiting and best-effort enrichment, dashboard aggregation, preview
// tokens for unpublished drafts, and post/project content management.
//
// Construct a Service with functional options:
//
//	svc, err := fromscratch.New(
//		fromscratch.WithRepository(memory.New()),
//		fromscratch.WithGeoClient(geo.NewHTTPClient("")),
//		fromscratch.WithEnvironment("production"),
//	)
//
// Persistence is pluggable through the Repository interface; see
// repo/memory, repo/mongo and repo/postgres.
package fromscratch
