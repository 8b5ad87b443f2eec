// Package endpoint submits queued actions to the remote batch sync endpoint.
//
// A batch is POSTed as {"items":[...]} with each item's id, type, payload and
// createdAt (Unix milliseconds). Any 2xx response is an acceptance; the body
// may narrow it with processedIds, in which case only those items count as
// delivered. Every failure is returned as a *DeliveryError.
package endpoint
