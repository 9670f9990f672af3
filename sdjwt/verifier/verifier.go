/*
Copyright Claimset Contributors. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

/*
Package verifier enables the Verifier: An entity that requests, checks and
extracts the claims from an SD-JWT and respective Disclosures.
*/
package verifier

import (
	"fmt"
	"time"

	gojose "github.com/go-jose/go-jose/v3"
	"github.com/go-jose/go-jose/v3/json"
	"github.com/go-jose/go-jose/v3/jwt"
	"github.com/mitchellh/mapstructure"

	"github.com/claimset/sdjwt-go/doc/jose"
	afgjwt "github.com/claimset/sdjwt-go/jwt"
	"github.com/claimset/sdjwt-go/sdjwt/common"
	utils "github.com/claimset/sdjwt-go/util/maphelpers"
)

// ParseOpt is the SD-JWT Parser option.
type ParseOpt = common.ParseOpt

// WithJWTDetachedPayload option is for definition of JWT detached payload.
func WithJWTDetachedPayload(payload []byte) common.ParseOpt {
	return common.WithJWTDetachedPayload(payload)
}

// WithSignatureVerifier option is for definition of signature verifier.
func WithSignatureVerifier(signatureVerifier jose.SignatureVerifier) common.ParseOpt {
	return common.WithSignatureVerifier(signatureVerifier)
}

// WithIssuerKeyResolver option resolves the issuer verification key from the iss claim.
func WithIssuerKeyResolver(resolver common.IssuerKeyResolver) common.ParseOpt {
	return common.WithIssuerKeyResolver(resolver)
}

// WithIssuerSigningAlgorithms option is for defining secure signing algorithms (for issuer).
func WithIssuerSigningAlgorithms(algorithms []string) common.ParseOpt {
	return common.WithIssuerSigningAlgorithms(algorithms)
}

// WithHolderSigningAlgorithms option is for defining secure signing algorithms (for holder).
func WithHolderSigningAlgorithms(algorithms []string) common.ParseOpt {
	return common.WithHolderSigningAlgorithms(algorithms)
}

// WithHolderVerificationRequired option is for enforcing holder verification.
func WithHolderVerificationRequired(flag bool) common.ParseOpt {
	return common.WithHolderVerificationRequired(flag)
}

// WithExpectedAudienceForHolderVerification option is to pass expected audience for holder verification.
func WithExpectedAudienceForHolderVerification(audience string) common.ParseOpt {
	return common.WithExpectedAudienceForHolderVerification(audience)
}

// WithExpectedNonceForHolderVerification option is to pass nonce value for holder verification.
func WithExpectedNonceForHolderVerification(nonce string) common.ParseOpt {
	return common.WithExpectedNonceForHolderVerification(nonce)
}

// WithLeewayForClaimsValidation is an option for claims time(s) validation.
func WithLeewayForClaimsValidation(duration time.Duration) common.ParseOpt {
	return common.WithLeewayForClaimsValidation(duration)
}

// Parse parses combined format for presentation and returns verified claims.
// The Verifier has to verify that all disclosed claim values were part of the original, Issuer-signed SD-JWT.
//
// At a high level, the Verifier:
//   - receives the Combined Format for Presentation from the Holder and verifies the signature of the SD-JWT using the
//     Issuer's public key,
//   - verifies the Holder Verification JWT, if holder verification is required by the Verifier's policy,
//     using the public key included in the SD-JWT,
//   - calculates the digests over the Holder-Selected Disclosures and verifies that each digest
//     is contained in the SD-JWT.
//
// The Verifier will not, however, learn any claim values not disclosed in the Disclosures.
func Parse(combinedFormatForPresentation string, opts ...common.ParseOpt) (map[string]interface{}, error) {
	pOpts := common.NewParseOpts(opts...)
	if pOpts.SigVerifier == nil && pOpts.IssuerKeyResolver == nil {
		return nil, fmt.Errorf("either signature verifier or issuer key resolver must be provided")
	}

	// Separate the Presentation into the SD-JWT, the Disclosures (if any), and the Holder Verification JWT (if provided)
	cfp := common.ParseCombinedFormatForPresentation(combinedFormatForPresentation)

	signedJWT, err := common.ValidateIssuerSignedSDJWT(cfp.SDJWT, cfp.Disclosures, opts...)
	if err != nil {
		return nil, err
	}

	err = verifyHolderVerification(signedJWT, cfp.HolderVerification, opts...)
	if err != nil {
		return nil, err
	}

	return getDisclosedClaims(cfp.Disclosures, signedJWT)
}

func verifyHolderVerification(sdJWT *afgjwt.JSONWebToken, holderVerification string,
	opts ...common.ParseOpt) error {
	pOpts := common.NewParseOpts(opts...)
	if pOpts.HolderSigningAlgorithms == nil {
		pOpts.HolderSigningAlgorithms = common.DefaultSigningAlgorithms
	}

	if holderVerification == "" {
		if pOpts.HolderVerificationRequired {
			return common.ErrMissingBinding
		}

		// not required and not present, nothing to do
		return nil
	}

	signatureVerifier, err := getSignatureVerifier(utils.CopyMap(sdJWT.Payload))
	if err != nil {
		return fmt.Errorf("%w: get signature verifier from presentation claims: %v",
			common.ErrHolderBinding, err)
	}

	holderJWT, _, err := afgjwt.Parse(holderVerification,
		afgjwt.WithSignatureVerifier(signatureVerifier))
	if err != nil {
		return fmt.Errorf("%w: parse holder verification JWT: %v", common.ErrHolderBinding, err)
	}

	err = verifyHolderVerificationJWT(holderJWT, pOpts)
	if err != nil {
		return err
	}

	return nil
}

func verifyHolderVerificationJWT(holderJWT *afgjwt.JSONWebToken, pOpts *common.ParseOpts) error {
	// Ensure that a signing algorithm was used that was deemed secure for the application.
	// The none algorithm MUST NOT be accepted.
	err := common.VerifySigningAlg(holderJWT.Headers, pOpts.HolderSigningAlgorithms)
	if err != nil {
		return fmt.Errorf("%w: verify holder signing algorithm: %v", common.ErrHolderBinding, err)
	}

	err = common.VerifyJWT(holderJWT, pOpts.LeewayForClaimsValidation)
	if err != nil {
		return err
	}

	var bindingPayload holderVerificationPayload

	d, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           &bindingPayload,
		TagName:          "json",
		Squash:           true,
		WeaklyTypedInput: true,
		DecodeHook:       utils.JSONNumberToJwtNumericDate(),
	})
	if err != nil {
		return fmt.Errorf("mapstruct verifyHolder. error: %w", err)
	}

	if err = d.Decode(holderJWT.Payload); err != nil {
		return fmt.Errorf("mapstruct verifyHolder decode. error: %w", err)
	}

	if pOpts.ExpectedNonceForHolderVerification != "" && pOpts.ExpectedNonceForHolderVerification != bindingPayload.Nonce {
		return fmt.Errorf("%w: nonce value '%s' does not match expected nonce value '%s'",
			common.ErrHolderBinding, bindingPayload.Nonce, pOpts.ExpectedNonceForHolderVerification)
	}

	if pOpts.ExpectedAudienceForHolderVerification != "" && pOpts.ExpectedAudienceForHolderVerification != bindingPayload.Audience {
		return fmt.Errorf("%w: audience value '%s' does not match expected audience value '%s'",
			common.ErrHolderBinding, bindingPayload.Audience, pOpts.ExpectedAudienceForHolderVerification)
	}

	return nil
}

func getSignatureVerifier(claims map[string]interface{}) (jose.SignatureVerifier, error) {
	cnf, err := common.GetCNF(claims)
	if err != nil {
		return nil, err
	}

	return getSignatureVerifierFromCNF(cnf)
}

// getSignatureVerifierFromCNF supports the cnf "jwk" mode only.
func getSignatureVerifierFromCNF(cnf map[string]interface{}) (jose.SignatureVerifier, error) {
	jwkObj, ok := cnf["jwk"]
	if !ok {
		return nil, fmt.Errorf("jwk must be present in cnf")
	}

	jwkObjBytes, err := json.Marshal(jwkObj)
	if err != nil {
		return nil, fmt.Errorf("marshal jwk: %w", err)
	}

	var holderJWK gojose.JSONWebKey

	err = holderJWK.UnmarshalJSON(jwkObjBytes)
	if err != nil {
		return nil, fmt.Errorf("unmarshal jwk: %w", err)
	}

	signatureVerifier, err := afgjwt.NewVerifier(holderJWK.Key)
	if err != nil {
		return nil, fmt.Errorf("get verifier from jwk: %w", err)
	}

	return signatureVerifier, nil
}

func getDisclosedClaims(disclosures []string, signedJWT *afgjwt.JSONWebToken) (map[string]interface{}, error) {
	disclosedClaims, err := common.GetDisclosedClaims(disclosures, signedJWT.Payload)
	if err != nil {
		return nil, fmt.Errorf("failed to get disclosed claims: %w", err)
	}

	return disclosedClaims, nil
}

// holderVerificationPayload represents expected holder verification payload.
type holderVerificationPayload struct {
	Nonce    string           `json:"nonce,omitempty"`
	Audience string           `json:"aud,omitempty"`
	IssuedAt *jwt.NumericDate `json:"iat,omitempty"`
}
