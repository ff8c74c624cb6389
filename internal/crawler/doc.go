// Package crawler defines the data model and collaborator contracts shared by
// the patent extraction engine: candidates, records, run configuration, fetch
// modes, and the interfaces the engine depends on (fetchers, stores,
// publishers, clocks, and ID generators).
package crawler
