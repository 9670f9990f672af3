/*
Copyright Claimset Contributors. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package common

import (
	"crypto"
	"encoding/base64"
	"fmt"

	"github.com/go-jose/go-jose/v3/json"
)

const (
	saltIndex = 0

	objectClaimParts = 3
	claimNameIndex   = 1
	claimValueIndex  = 2

	arrayElementParts      = 2
	arrayElementValueIndex = 1
)

// DisclosureClaimType describes what a disclosure carries.
type DisclosureClaimType int

const (
	// DisclosureClaimTypePlain is an object claim with a scalar or object value.
	DisclosureClaimTypePlain = DisclosureClaimType(0)
	// DisclosureClaimTypeArrayElement is a single array element.
	DisclosureClaimTypeArrayElement = DisclosureClaimType(1)
)

// DisclosureClaim is a single decoded disclosure together with its digest.
type DisclosureClaim struct {
	Digest     string
	Disclosure string
	Salt       string
	Name       string
	Value      interface{}
	Type       DisclosureClaimType

	// IsValueParsed is set once the verification walk has resolved this
	// disclosure against a digest in the signed payload.
	IsValueParsed bool
}

// ParseDisclosure decodes a single disclosure string. A two-element array is
// an array element disclosure, a three-element array is an object claim.
func ParseDisclosure(disclosure string, hash crypto.Hash) (*DisclosureClaim, error) {
	decoded, err := base64.RawURLEncoding.DecodeString(disclosure)
	if err != nil {
		return nil, fmt.Errorf("%w: decode disclosure: %v", ErrEncoding, err)
	}

	var disclosureArr []interface{}

	err = json.Unmarshal(decoded, &disclosureArr)
	if err != nil {
		return nil, fmt.Errorf("%w: unmarshal disclosure array: %v", ErrEncoding, err)
	}

	digest, err := GetHash(hash, disclosure)
	if err != nil {
		return nil, err
	}

	claim := &DisclosureClaim{Digest: digest, Disclosure: disclosure}

	switch len(disclosureArr) {
	case arrayElementParts:
		claim.Type = DisclosureClaimTypeArrayElement
		claim.Value = disclosureArr[arrayElementValueIndex]
	case objectClaimParts:
		name, ok := disclosureArr[claimNameIndex].(string)
		if !ok {
			return nil, fmt.Errorf("%w: disclosure claim name is not a string", ErrEncoding)
		}

		claim.Name = name
		claim.Value = disclosureArr[claimValueIndex]
	default:
		return nil, fmt.Errorf("%w: disclosure array must have two or three elements, got %d",
			ErrEncoding, len(disclosureArr))
	}

	salt, ok := disclosureArr[saltIndex].(string)
	if !ok {
		return nil, fmt.Errorf("%w: disclosure salt is not a string", ErrEncoding)
	}

	claim.Salt = salt

	return claim, nil
}

// BuildDigestIndex parses disclosures and indexes them by digest.
// A digest collision between two distinct disclosures aborts with
// ErrDuplicateDigest; equal disclosure strings are rejected the same way
// since presenting the same disclosure twice is never legitimate.
func BuildDigestIndex(disclosures []string, hash crypto.Hash) (map[string]*DisclosureClaim, error) {
	index := make(map[string]*DisclosureClaim, len(disclosures))

	for _, disclosure := range disclosures {
		claim, err := ParseDisclosure(disclosure, hash)
		if err != nil {
			return nil, err
		}

		if _, ok := index[claim.Digest]; ok {
			return nil, fmt.Errorf("%w: '%s'", ErrDuplicateDigest, claim.Digest)
		}

		index[claim.Digest] = claim
	}

	return index, nil
}

// GetDisclosureClaims decodes disclosures into claims, preserving order.
func GetDisclosureClaims(disclosures []string, hash crypto.Hash) ([]*DisclosureClaim, error) {
	claims := make([]*DisclosureClaim, 0, len(disclosures))

	for _, disclosure := range disclosures {
		claim, err := ParseDisclosure(disclosure, hash)
		if err != nil {
			return nil, err
		}

		claims = append(claims, claim)
	}

	return claims, nil
}
