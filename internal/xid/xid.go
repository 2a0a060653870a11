// Package xid issues ledger identifiers. They are 24 hex characters so that
// every backend, including the document store, shares one id format.
package xid

import (
	"strings"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

func New() string {
	return primitive.NewObjectID().Hex()
}

func Valid(id string) bool {
	_, err := primitive.ObjectIDFromHex(strings.TrimSpace(id))
	return err == nil
}
