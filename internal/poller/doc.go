// Package poller keeps the shared ticker cache warm.
//
// On every interval it pulls the full ticker list with one REST request and
// writes the watched symbols into the cache, so single-symbol lookups made
// during a send cycle are usually served without touching the ticker API.
package poller
