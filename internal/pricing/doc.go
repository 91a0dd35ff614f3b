// Package pricing implements the bulk-negotiation pricing engine: it resolves
// a mandi reference price for a commodity, derives a floor/target/stretch
// band adjusted for quality grade, and classifies offers against that band so
// farmers are protected from lowball bulk offers.
//
// The Calculator and ClassifyOffer are pure; only the Resolver performs I/O,
// through a MarketDataSource supplied by the caller.
package pricing
