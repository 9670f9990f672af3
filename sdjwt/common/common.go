/*
Copyright Claimset Contributors. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

// Package common shares the combined format grammar, disclosure codec and
// verification walk between the issuer, holder and verifier packages.
package common

import (
	"crypto"
	"encoding/base64"
	"fmt"
	"reflect"
	"strings"
)

// CombinedFormatSeparator separates the SD-JWT, the disclosures and the
// optional holder verification JWT in the combined formats.
const (
	CombinedFormatSeparator = "~"

	SDAlgorithmKey = "_sd_alg"
	SDKey          = "_sd"
	CNFKey         = "cnf"

	// ArrayElementDigestKey marks a selectively disclosable array element.
	ArrayElementDigestKey = "..."
)

// CombinedFormatForIssuance holds SD-JWT and disclosures.
type CombinedFormatForIssuance struct {
	SDJWT       string
	Disclosures []string
}

// Serialize assembles the combined format for issuance.
func (cf *CombinedFormatForIssuance) Serialize() string {
	issuance := cf.SDJWT
	for _, disclosure := range cf.Disclosures {
		issuance += CombinedFormatSeparator + disclosure
	}

	return issuance
}

// CombinedFormatForPresentation holds SD-JWT, disclosures and the optional
// holder verification JWT.
type CombinedFormatForPresentation struct {
	SDJWT       string
	Disclosures []string

	HolderVerification string
}

// Serialize assembles the combined format for presentation. The trailing
// separator is emitted even when holder verification is absent, so the
// artifact is unambiguous about whether a binding JWT follows.
func (cf *CombinedFormatForPresentation) Serialize() string {
	presentation := cf.SDJWT
	for _, disclosure := range cf.Disclosures {
		presentation += CombinedFormatSeparator + disclosure
	}

	presentation += CombinedFormatSeparator
	presentation += cf.HolderVerification

	return presentation
}

// ParseCombinedFormatForIssuance parses combined format for issuance into CombinedFormatForIssuance parts.
func ParseCombinedFormatForIssuance(combinedFormatForIssuance string) *CombinedFormatForIssuance {
	parts := strings.Split(combinedFormatForIssuance, CombinedFormatSeparator)

	var disclosures []string
	if len(parts) > 1 {
		disclosures = parts[1:]
	}

	return &CombinedFormatForIssuance{SDJWT: parts[0], Disclosures: disclosures}
}

// ParseCombinedFormatForPresentation parses combined format for presentation
// into CombinedFormatForPresentation parts. The part after the last separator
// is the holder verification JWT; an empty last part means binding is absent.
func ParseCombinedFormatForPresentation(combinedFormatForPresentation string) *CombinedFormatForPresentation {
	parts := strings.Split(combinedFormatForPresentation, CombinedFormatSeparator)

	var disclosures []string
	if len(parts) > 2 {
		disclosures = parts[1 : len(parts)-1]
	}

	var holderVerification string
	if len(parts) > 1 {
		holderVerification = parts[len(parts)-1]
	}

	return &CombinedFormatForPresentation{
		SDJWT:              parts[0],
		Disclosures:        disclosures,
		HolderVerification: holderVerification,
	}
}

// GetHash calculates base64url-encoded hash of data using the hash function identified by hash.
func GetHash(hash crypto.Hash, value string) (string, error) {
	if !hash.Available() {
		return "", fmt.Errorf("hash function not available for: %d", hash)
	}

	h := hash.New()

	if _, hashErr := h.Write([]byte(value)); hashErr != nil {
		return "", hashErr
	}

	return base64.RawURLEncoding.EncodeToString(h.Sum(nil)), nil
}

// GetCryptoHashFromClaims returns crypto hash from the _sd_alg claim.
// An absent _sd_alg defaults to sha-256.
func GetCryptoHashFromClaims(claims map[string]interface{}) (crypto.Hash, error) {
	sdAlg, err := GetSDAlg(claims)
	if err != nil {
		return 0, err
	}

	if sdAlg == "" {
		return crypto.SHA256, nil
	}

	return GetCryptoHash(sdAlg)
}

// GetCryptoHash maps an _sd_alg value to a crypto hash. Weak algorithms
// (MD5, SHA-1 and friends) are rejected.
func GetCryptoHash(sdAlg string) (crypto.Hash, error) {
	switch strings.ToUpper(sdAlg) {
	case crypto.SHA256.String():
		return crypto.SHA256, nil
	case crypto.SHA384.String():
		return crypto.SHA384, nil
	case crypto.SHA512.String():
		return crypto.SHA512, nil
	default:
		return 0, fmt.Errorf("%s '%s' not supported", SDAlgorithmKey, sdAlg)
	}
}

// GetSDAlg returns the _sd_alg claim value, or empty string if absent.
func GetSDAlg(claims map[string]interface{}) (string, error) {
	obj, ok := claims[SDAlgorithmKey]
	if !ok {
		return "", nil
	}

	alg, ok := obj.(string)
	if !ok {
		return "", fmt.Errorf("%s must be a string", SDAlgorithmKey)
	}

	return alg, nil
}

// GetCNF returns confirmation claim 'cnf'.
func GetCNF(claims map[string]interface{}) (map[string]interface{}, error) {
	obj, ok := claims[CNFKey]
	if !ok {
		return nil, fmt.Errorf("%s must be present in SD-JWT", CNFKey)
	}

	cnf, ok := obj.(map[string]interface{})
	if !ok {
		return nil, fmt.Errorf("%s must be an object", CNFKey)
	}

	return cnf, nil
}

func getDisclosureDigests(claims map[string]interface{}) (map[string]bool, error) {
	disclosuresObj, ok := claims[SDKey]
	if !ok {
		return nil, nil
	}

	disclosures, err := stringArray(disclosuresObj)
	if err != nil {
		return nil, fmt.Errorf("get disclosure digests: %w", err)
	}

	return SliceToMap(disclosures), nil
}

func getMap(value interface{}) (map[string]interface{}, bool) {
	val, ok := value.(map[string]interface{})

	return val, ok
}

func stringArray(entry interface{}) ([]string, error) {
	if entry == nil {
		return nil, nil
	}

	sliceValue := reflect.ValueOf(entry)
	if sliceValue.Kind() != reflect.Slice {
		return nil, fmt.Errorf("entry type[%T] is not an array", entry)
	}

	stringSlice := make([]string, sliceValue.Len())

	for i := 0; i < sliceValue.Len(); i++ {
		sliceVal := sliceValue.Index(i).Interface()
		val, ok := sliceVal.(string)

		if !ok {
			return nil, fmt.Errorf("entry item type[%T] is not a string", sliceVal)
		}

		stringSlice[i] = val
	}

	return stringSlice, nil
}

// SliceToMap converts slice to map.
func SliceToMap(ids []string) map[string]bool {
	values := make(map[string]bool)
	for _, id := range ids {
		values[id] = true
	}

	return values
}

// KeyExistsInMap checks if key exists in map, descending into nested objects.
func KeyExistsInMap(key string, m map[string]interface{}) bool {
	for k, v := range m {
		if k == key {
			return true
		}

		if obj, ok := v.(map[string]interface{}); ok {
			if KeyExistsInMap(key, obj) {
				return true
			}
		}
	}

	return false
}
