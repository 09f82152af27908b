// Package cluster defines node identity: the (id, port) address every other
// package uses as map key, ring sort key and message endpoint.
package cluster
