// Package log provides the leveled logging layer used across the agent graph
// engine. It defines a small Logger interface, a standard-library default,
// a kataras/golog implementation, and a process-wide default logger that
// components fall back to when no logger is injected.
package log
