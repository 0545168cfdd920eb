// Package log holds the process-wide zerolog logger.
//
// The logger discards everything until Init is called. Components derive
// child loggers with WithComponent, WithNodeID or WithPodID so every line
// carries the identifiers it is about.
package log
