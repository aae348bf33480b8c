// Package logging sets up structured JSON logging for esvacuum.
// Logs go to a size-rotated file under ~/.esvacuum/logs/ and, unless
// disabled, are mirrored to stderr so long vacuum runs stay observable.
package logging
