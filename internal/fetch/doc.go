// Package fetch downloads vendor packages over HTTP.
//
// Downloads are retried with exponential backoff, written to a temporary
// file and renamed into a per-version cache directory, so an interrupted run
// never leaves a partial package behind. A 404 is reported as
// ErrNotPublished and is not retried.
package fetch
