// Package user contains the customer account entity and its management
// service.
package user
