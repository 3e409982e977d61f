// Package tracker holds the price-tracking domain types and the ports the
// scrape pipeline depends on.
package tracker
