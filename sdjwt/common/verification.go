/*
Copyright Claimset Contributors. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package common

import (
	"errors"
	"fmt"
	"time"

	"golang.org/x/exp/slices"

	"github.com/go-jose/go-jose/v3/jwt"
	"github.com/mitchellh/mapstructure"

	"github.com/claimset/sdjwt-go/doc/jose"

	afgjwt "github.com/claimset/sdjwt-go/jwt"
	utils "github.com/claimset/sdjwt-go/util/maphelpers"
)

// recursiveData carries the walk state: the digest index of presented
// disclosures and every digest seen so far, for duplicate placement detection.
type recursiveData struct {
	disclosures          map[string]*DisclosureClaim
	nestedSD             []string
	cleanupDigestsClaims bool
}

// VerifySigningAlg ensures that a signing algorithm was used that was deemed secure for the application.
// The none algorithm MUST NOT be accepted.
func VerifySigningAlg(joseHeaders jose.Headers, secureAlgs []string) error {
	alg, ok := joseHeaders.Algorithm()
	if !ok {
		return fmt.Errorf("missing alg")
	}

	if alg == afgjwt.AlgorithmNone {
		return fmt.Errorf("alg value cannot be 'none'")
	}

	if !slices.Contains(secureAlgs, alg) {
		return fmt.Errorf("alg '%s' is not in the allowed list", alg)
	}

	return nil
}

// VerifyJWT checks that the JWT is valid using nbf, iat, and exp claims (if provided in the JWT).
func VerifyJWT(signedJWT *afgjwt.JSONWebToken, leeway time.Duration) error {
	var claims jwt.Claims

	d, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           &claims,
		TagName:          "json",
		Squash:           true,
		WeaklyTypedInput: true,
		DecodeHook:       utils.JSONNumberToJwtNumericDate(),
	})
	if err != nil {
		return fmt.Errorf("mapstruct verifyJWT. error: %w", err)
	}

	if err = d.Decode(signedJWT.Payload); err != nil {
		return fmt.Errorf("mapstruct verifyJWT decode. error: %w", err)
	}

	// Claims are validated against time.Now.
	err = claims.ValidateWithLeeway(jwt.Expected{}, leeway)

	switch {
	case err == nil:
		return nil
	case errors.Is(err, jwt.ErrExpired):
		return fmt.Errorf("%w: %v", ErrExpired, err)
	case errors.Is(err, jwt.ErrNotValidYet), errors.Is(err, jwt.ErrIssuedInTheFuture):
		return fmt.Errorf("%w: %v", ErrNotYetValid, err)
	default:
		return fmt.Errorf("invalid JWT time values: %w", err)
	}
}

// VerifyTyp checks the typ JWT header parameter.
func VerifyTyp(joseHeaders jose.Headers, expectedTyp string) error {
	typ, ok := joseHeaders.Type()
	if !ok {
		return fmt.Errorf("missing typ")
	}

	if typ != expectedTyp {
		return fmt.Errorf("unexpected typ \"%s\"", typ)
	}

	return nil
}

// VerifyDisclosuresInSDJWT checks that every presented disclosure resolves to
// a digest in the SD-JWT payload. A disclosure whose digest is referenced
// nowhere fails with ErrUnresolvedDigest.
func VerifyDisclosuresInSDJWT(disclosures []string, signedJWT *afgjwt.JSONWebToken) error {
	claims := utils.CopyMap(signedJWT.Payload)

	cryptoHash, err := GetCryptoHashFromClaims(claims)
	if err != nil {
		return err
	}

	index, err := BuildDigestIndex(disclosures, cryptoHash)
	if err != nil {
		return err
	}

	recData := &recursiveData{
		disclosures:          index,
		cleanupDigestsClaims: false,
	}

	_, err = discloseClaimValue(claims, recData)
	if err != nil {
		return err
	}

	for _, disclosure := range index {
		if !disclosure.IsValueParsed {
			return fmt.Errorf("%w: disclosure digest '%s' not found in SD-JWT disclosure digests",
				ErrUnresolvedDigest, disclosure.Digest)
		}
	}

	return nil
}

// GetDisclosedClaims builds the verified claim set: digests resolved by a
// presented disclosure are replaced by the disclosed claim, withheld digests
// and selective disclosure bookkeeping keys are dropped.
func GetDisclosedClaims(disclosures []string, claims map[string]interface{}) (map[string]interface{}, error) {
	cryptoHash, err := GetCryptoHashFromClaims(claims)
	if err != nil {
		return nil, fmt.Errorf("get disclosed claims: %w", err)
	}

	index, err := BuildDigestIndex(disclosures, cryptoHash)
	if err != nil {
		return nil, fmt.Errorf("get disclosed claims: %w", err)
	}

	recData := &recursiveData{
		disclosures:          index,
		cleanupDigestsClaims: true,
	}

	output, err := discloseClaimValue(utils.CopyMap(claims), recData)
	if err != nil {
		return nil, fmt.Errorf("get disclosed claims: %w", err)
	}

	outputMap, ok := output.(map[string]interface{})
	if !ok {
		return nil, fmt.Errorf("get disclosed claims: unexpected output type %T", output)
	}

	return outputMap, nil
}

func setDisclosureClaimValue(recData *recursiveData, disclosureClaim *DisclosureClaim) error {
	if disclosureClaim.IsValueParsed {
		return nil
	}

	newValue, err := discloseClaimValue(disclosureClaim.Value, recData)
	if err != nil {
		return err
	}

	disclosureClaim.Value = newValue
	disclosureClaim.IsValueParsed = true

	return nil
}

// discloseClaimValue returns new value of claim, resolving dependencies on other disclosures.
func discloseClaimValue(claim interface{}, recData *recursiveData) (interface{}, error) { // nolint:funlen,gocyclo
	switch disclosureValue := claim.(type) {
	case []interface{}:
		newValues := make([]interface{}, 0, len(disclosureValue))

		for _, value := range disclosureValue {
			parsedMap, ok := getMap(value)
			if !ok {
				// Not a map, use value as it is.
				newValues = append(newValues, value)
				continue
			}

			// Array elements subject to selective disclosure are objects
			// with a single "..." key referring to a digest string.
			arrayElementDigestIface, ok := parsedMap[ArrayElementDigestKey]
			if !ok {
				newValues = append(newValues, value)
				continue
			}

			arrayElementDigest, ok := arrayElementDigestIface.(string)
			if !ok {
				return nil, errors.New("invalid array element digest struct")
			}

			if slices.Contains(recData.nestedSD, arrayElementDigest) {
				return nil, fmt.Errorf("%w: digest '%s' has been included in more than one place",
					ErrDuplicateDigest, arrayElementDigest)
			}

			recData.nestedSD = append(recData.nestedSD, arrayElementDigest)

			disclosureClaim, ok := recData.disclosures[arrayElementDigest]
			if !ok {
				if recData.cleanupDigestsClaims {
					// Withheld array element, dropped from the output.
					continue
				}

				newValues = append(newValues, value)

				continue
			}

			if disclosureClaim.Type != DisclosureClaimTypeArrayElement {
				return nil, fmt.Errorf("invalid disclosure associated with array element digest %s",
					arrayElementDigest)
			}

			if err := setDisclosureClaimValue(recData, disclosureClaim); err != nil {
				return nil, err
			}

			newValues = append(newValues, disclosureClaim.Value)
		}

		// An array stays an array even when every element was withheld;
		// the key itself was issued in clear text.
		return newValues, nil
	case map[string]interface{}:
		newValues := make(map[string]interface{}, len(disclosureValue))

		if nestedSDListIface, ok := disclosureValue[SDKey]; ok { // nolint:nestif
			nestedSDList, err := stringArray(nestedSDListIface)
			if err != nil {
				return nil, fmt.Errorf("get disclosure digests: %w", err)
			}

			var missingSDs []interface{}

			for _, digest := range nestedSDList {
				if slices.Contains(recData.nestedSD, digest) {
					return nil, fmt.Errorf("%w: digest '%s' has been included in more than one place",
						ErrDuplicateDigest, digest)
				}

				recData.nestedSD = append(recData.nestedSD, digest)

				disclosureClaim, ok := recData.disclosures[digest]
				if !ok {
					missingSDs = append(missingSDs, digest)
					continue
				}

				if disclosureClaim.Type != DisclosureClaimTypePlain {
					return nil, fmt.Errorf("invalid disclosure associated with sd element digest %s", digest)
				}

				if err = setDisclosureClaimValue(recData, disclosureClaim); err != nil {
					return nil, err
				}

				// If the claim name already exists at the same level, the SD-JWT MUST be rejected.
				if _, ok = newValues[disclosureClaim.Name]; ok {
					return nil, fmt.Errorf("claim name '%s' already exists at the same level", disclosureClaim.Name)
				}

				newValues[disclosureClaim.Name] = disclosureClaim.Value
			}

			if !recData.cleanupDigestsClaims && len(missingSDs) > 0 {
				newValues[SDKey] = missingSDs
			}
		}

		for k, disclosureNestedClaim := range disclosureValue {
			if k == SDKey {
				continue
			}

			if k == SDAlgorithmKey && recData.cleanupDigestsClaims {
				continue
			}

			newValue, err := discloseClaimValue(disclosureNestedClaim, recData)
			if err != nil {
				return nil, err
			}

			if _, ok := newValues[k]; ok {
				return nil, fmt.Errorf("claim name '%s' already exists at the same level", k)
			}

			newValues[k] = newValue
		}

		return newValues, nil
	default:
		return claim, nil
	}
}
