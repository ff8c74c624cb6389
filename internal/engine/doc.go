// Package engine sequences one extraction run: it picks a fetch mode,
// searches (retrying once on the alternate endpoint), enriches every
// candidate, hands the records to the result store, and announces the run.
//
// The run moves through Init, BrowserReady or HTTPFallback, Searching,
// AltSearch when the first convention finds nothing, Enriching, and Done.
// Done is the only terminal state: failures surface as an empty record list
// plus diagnostic events, never as an error.
package engine
