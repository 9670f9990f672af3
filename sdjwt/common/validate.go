/*
Copyright Claimset Contributors. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package common

import (
	"fmt"
	"time"

	"github.com/go-jose/go-jose/v3/jwt"

	"github.com/claimset/sdjwt-go/doc/jose"
	afgjwt "github.com/claimset/sdjwt-go/jwt"
)

// DefaultSigningAlgorithms are the signing algorithms accepted when the
// caller does not supply an allowlist.
var DefaultSigningAlgorithms = []string{"EdDSA", "RS256"} // nolint:gochecknoglobals

// IssuerKeyResolver resolves the signature verifier for an issuer identifier
// taken from the iss claim.
type IssuerKeyResolver func(issuerID string) (jose.SignatureVerifier, error)

// ParseOpts holds options for the SD-JWT parsing.
type ParseOpts struct {
	DetachedPayload   []byte
	SigVerifier       jose.SignatureVerifier
	IssuerKeyResolver IssuerKeyResolver

	IssuerSigningAlgorithms []string
	HolderSigningAlgorithms []string

	HolderVerificationRequired            bool
	ExpectedAudienceForHolderVerification string
	ExpectedNonceForHolderVerification    string

	LeewayForClaimsValidation time.Duration
}

// ParseOpt is the SD-JWT Parser option.
type ParseOpt func(opts *ParseOpts)

// WithJWTDetachedPayload option is for definition of JWT detached payload.
func WithJWTDetachedPayload(payload []byte) ParseOpt {
	return func(opts *ParseOpts) {
		opts.DetachedPayload = payload
	}
}

// WithSignatureVerifier option is for definition of signature verifier.
func WithSignatureVerifier(signatureVerifier jose.SignatureVerifier) ParseOpt {
	return func(opts *ParseOpts) {
		opts.SigVerifier = signatureVerifier
	}
}

// WithIssuerKeyResolver option resolves the issuer verification key from the
// unverified iss claim. It is consulted only when no signature verifier was
// set explicitly; a resolver failure fails the parse.
func WithIssuerKeyResolver(resolver IssuerKeyResolver) ParseOpt {
	return func(opts *ParseOpts) {
		opts.IssuerKeyResolver = resolver
	}
}

// WithIssuerSigningAlgorithms option is for defining secure signing algorithms (for issuer).
func WithIssuerSigningAlgorithms(algorithms []string) ParseOpt {
	return func(opts *ParseOpts) {
		opts.IssuerSigningAlgorithms = algorithms
	}
}

// WithHolderSigningAlgorithms option is for defining secure signing algorithms (for holder).
func WithHolderSigningAlgorithms(algorithms []string) ParseOpt {
	return func(opts *ParseOpts) {
		opts.HolderSigningAlgorithms = algorithms
	}
}

// WithHolderVerificationRequired option is for enforcing holder verification.
func WithHolderVerificationRequired(flag bool) ParseOpt {
	return func(opts *ParseOpts) {
		opts.HolderVerificationRequired = flag
	}
}

// WithExpectedAudienceForHolderVerification option is to pass expected audience for holder verification.
func WithExpectedAudienceForHolderVerification(audience string) ParseOpt {
	return func(opts *ParseOpts) {
		opts.ExpectedAudienceForHolderVerification = audience
	}
}

// WithExpectedNonceForHolderVerification option is to pass nonce value for holder verification.
func WithExpectedNonceForHolderVerification(nonce string) ParseOpt {
	return func(opts *ParseOpts) {
		opts.ExpectedNonceForHolderVerification = nonce
	}
}

// WithLeewayForClaimsValidation is an option for claims time(s) validation.
func WithLeewayForClaimsValidation(duration time.Duration) ParseOpt {
	return func(opts *ParseOpts) {
		opts.LeewayForClaimsValidation = duration
	}
}

// NewParseOpts applies opts over defaults.
func NewParseOpts(opts ...ParseOpt) *ParseOpts {
	pOpts := &ParseOpts{
		IssuerSigningAlgorithms:   DefaultSigningAlgorithms,
		LeewayForClaimsValidation: jwt.DefaultLeeway,
	}

	for _, opt := range opts {
		opt(pOpts)
	}

	return pOpts
}

// ValidateIssuerSignedSDJWT validates the issuer-signed SD-JWT and its
// disclosures. Structural failures wrap ErrEncoding, signature failures wrap
// ErrInvalidSignature, temporal failures wrap ErrExpired or ErrNotYetValid.
func ValidateIssuerSignedSDJWT(sdjwt string, disclosures []string, opts ...ParseOpt) (*afgjwt.JSONWebToken, error) {
	pOpts := NewParseOpts(opts...)

	// Structural parse first, without signature verification, so that a
	// malformed token is reported as such rather than as a bad signature.
	unverifiedJWT, _, err := afgjwt.Parse(sdjwt, afgjwt.WithJWTDetachedPayload(pOpts.DetachedPayload))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEncoding, err)
	}

	sigVerifier := pOpts.SigVerifier
	if sigVerifier == nil && pOpts.IssuerKeyResolver != nil {
		issuerID, _ := unverifiedJWT.Payload["iss"].(string)
		if issuerID == "" {
			return nil, fmt.Errorf("iss claim is required to resolve the issuer key")
		}

		sigVerifier, err = pOpts.IssuerKeyResolver(issuerID)
		if err != nil {
			return nil, fmt.Errorf("resolve key for issuer '%s': %w", issuerID, err)
		}

		// A resolver that "succeeds" with no verifier must not downgrade the
		// parse to unverified.
		if sigVerifier == nil {
			return nil, fmt.Errorf("issuer key resolver returned no verifier for issuer '%s'", issuerID)
		}
	}

	signedJWT := unverifiedJWT

	if sigVerifier != nil {
		signedJWT, _, err = afgjwt.Parse(sdjwt,
			afgjwt.WithSignatureVerifier(sigVerifier),
			afgjwt.WithJWTDetachedPayload(pOpts.DetachedPayload))
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidSignature, err)
		}
	}

	// Ensure that a signing algorithm was used that was deemed secure for the application.
	// The none algorithm MUST NOT be accepted.
	err = VerifySigningAlg(signedJWT.Headers, pOpts.IssuerSigningAlgorithms)
	if err != nil {
		return nil, fmt.Errorf("failed to verify issuer signing algorithm: %w", err)
	}

	// Check that the SD-JWT is valid using nbf, iat, and exp claims,
	// if provided in the SD-JWT, and not selectively disclosed.
	err = VerifyJWT(signedJWT, pOpts.LeewayForClaimsValidation)
	if err != nil {
		return nil, err
	}

	err = checkForDuplicates(disclosures)
	if err != nil {
		return nil, fmt.Errorf("check disclosures: %w", err)
	}

	// Verify that all disclosures resolve to digests in the SD-JWT.
	// Check that the _sd_alg value is understood and the hash algorithm is deemed secure.
	err = VerifyDisclosuresInSDJWT(disclosures, signedJWT)
	if err != nil {
		return nil, err
	}

	return signedJWT, nil
}

func checkForDuplicates(values []string) error {
	valuesMap := make(map[string]bool)

	for _, val := range values {
		if _, ok := valuesMap[val]; ok {
			return fmt.Errorf("%w: disclosure presented more than once", ErrDuplicateDigest)
		}

		valuesMap[val] = true
	}

	return nil
}
