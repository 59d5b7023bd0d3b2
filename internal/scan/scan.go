// Package scan nudges the platform update orchestrator to refresh its view
// of available updates before a search.
package scan
