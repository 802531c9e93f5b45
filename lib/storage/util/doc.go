// Package util provides statistics helpers for storage backends. This file
// implements a size histogram with exponential buckets so engines can report
// value-size distributions without retaining every sample.
package util
