// Package dataset loads the stop dataset into the store and keeps it fresh.
//
// Two sources are supported: a local CSV file for development, and a
// published snapshot pipeline for production where an SSM parameter names
// the current snapshot by SHA-256 and S3 holds the CSV object under that
// hash. Downloads are checksum-verified, and optionally signature-verified
// against a KMS signing key. A Watcher polls SSM and hot-swaps the store
// contents when a new snapshot is published.
package dataset
