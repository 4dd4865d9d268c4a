// Package catalog defines the domain types, error taxonomy, and capability
// interfaces shared by the crawl pipeline, the stores, and the fetchers.
package catalog
