// Package extract pulls normalized text fields out of parsed patent pages.
//
// A field is described by a FieldSpec: an ordered list of tactics (CSS text,
// CSS attribute, labeled path queries, raw-markup patterns, in-page scripts,
// and structural readers for citations, timelines, classifications, and
// people). The Extractor runs them in order and keeps the first non-empty
// result. A tactic that errors or panics counts as "no result"; nothing
// escapes Extract.
package extract
