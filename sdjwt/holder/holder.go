/*
Copyright Claimset Contributors. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

// Package holder enables the Holder: an entity that receives SD-JWTs from the
// Issuer and has control over them. The Holder selects which disclosures to
// reveal and assembles the Combined Format for Presentation, optionally
// proving possession of the binding key from the cnf claim.
package holder

import (
	"fmt"
	"time"

	"github.com/go-jose/go-jose/v3/jwt"

	"github.com/claimset/sdjwt-go/doc/jose"
	afgjwt "github.com/claimset/sdjwt-go/jwt"
	"github.com/claimset/sdjwt-go/sdjwt/common"
)

// Claim defines a claim the holder can choose to disclose.
type Claim struct {
	Disclosure string
	Name       string
	Value      interface{}
}

// ParseOpt is the SD-JWT Parser option.
type ParseOpt = common.ParseOpt

// WithJWTDetachedPayload option is for definition of JWT detached payload.
func WithJWTDetachedPayload(payload []byte) ParseOpt {
	return common.WithJWTDetachedPayload(payload)
}

// WithSignatureVerifier option is for definition of signature verifier.
func WithSignatureVerifier(signatureVerifier jose.SignatureVerifier) ParseOpt {
	return common.WithSignatureVerifier(signatureVerifier)
}

// WithIssuerKeyResolver option resolves the issuer verification key from the iss claim.
func WithIssuerKeyResolver(resolver common.IssuerKeyResolver) ParseOpt {
	return common.WithIssuerKeyResolver(resolver)
}

// WithIssuerSigningAlgorithms option is for defining secure signing algorithms (for issuer).
func WithIssuerSigningAlgorithms(algorithms []string) ParseOpt {
	return common.WithIssuerSigningAlgorithms(algorithms)
}

// WithLeewayForClaimsValidation is an option for claims time(s) validation.
func WithLeewayForClaimsValidation(duration time.Duration) ParseOpt {
	return common.WithLeewayForClaimsValidation(duration)
}

// Parse parses issuer SD-JWT and returns claims that can be selected.
// The Holder MUST perform the following (or equivalent) steps when receiving a Combined Format for Issuance:
//
//   - Separate the SD-JWT and the Disclosures in the Combined Format for Issuance.
//   - Hash all of the Disclosures separately.
//   - Find the places in the SD-JWT where the digests of the Disclosures are included.
//   - If any of the digests cannot be found in the SD-JWT, the Holder MUST reject the SD-JWT.
//   - Decode Disclosures and obtain plaintext of the claim values.
func Parse(combinedFormatForIssuance string, opts ...ParseOpt) ([]*Claim, error) {
	cfi := common.ParseCombinedFormatForIssuance(combinedFormatForIssuance)

	signedJWT, err := common.ValidateIssuerSignedSDJWT(cfi.SDJWT, cfi.Disclosures, opts...)
	if err != nil {
		return nil, err
	}

	cryptoHash, err := common.GetCryptoHashFromClaims(signedJWT.Payload)
	if err != nil {
		return nil, err
	}

	disclosureClaims, err := common.GetDisclosureClaims(cfi.Disclosures, cryptoHash)
	if err != nil {
		return nil, err
	}

	var claims []*Claim
	for _, dc := range disclosureClaims {
		claims = append(claims, &Claim{
			Disclosure: dc.Disclosure,
			Name:       dc.Name,
			Value:      dc.Value,
		})
	}

	return claims, nil
}

// SelectDisclosures picks the disclosures for the named claims. Array element
// disclosures have no name and cannot be selected this way. A name that
// matches no claim fails with ErrUnknownClaimSelected.
func SelectDisclosures(claims []*Claim, names []string) ([]string, error) {
	byName := make(map[string]string, len(claims))
	for _, claim := range claims {
		if claim.Name != "" {
			byName[claim.Name] = claim.Disclosure
		}
	}

	var disclosures []string

	for _, name := range names {
		disclosure, ok := byName[name]
		if !ok {
			return nil, fmt.Errorf("%w: '%s'", common.ErrUnknownClaimSelected, name)
		}

		disclosures = append(disclosures, disclosure)
	}

	return disclosures, nil
}

// BindingPayload represents holder verification payload.
type BindingPayload struct {
	Nonce    string           `json:"nonce,omitempty"`
	Audience string           `json:"aud,omitempty"`
	IssuedAt *jwt.NumericDate `json:"iat,omitempty"`
}

// BindingInfo defines holder verification payload and signer.
type BindingInfo struct {
	Payload BindingPayload
	Signer  jose.Signer
	Headers jose.Headers
}

// options holds options for creating the presentation.
type options struct {
	holderVerificationInfo *BindingInfo
}

// Option is an option for creating the presentation.
type Option func(opts *options)

// WithHolderVerification option to set holder verification.
func WithHolderVerification(info *BindingInfo) Option {
	return func(opts *options) {
		opts.holderVerificationInfo = info
	}
}

// CreatePresentation is a convenience method to assemble combined format for presentation from
// issuer SD-JWT, selected holder disclosures and optional holder verification.
// Selected disclosures keep their issuance order. If the SD-JWT was issued
// against a holder key (cnf claim), binding info must be supplied.
func CreatePresentation(combinedFormatForIssuance string, claimsToDisclose []string,
	opts ...Option) (string, error) {
	hOpts := &options{}

	for _, opt := range opts {
		opt(hOpts)
	}

	cfi := common.ParseCombinedFormatForIssuance(combinedFormatForIssuance)

	if len(cfi.Disclosures) == 0 && len(claimsToDisclose) > 0 {
		return "", fmt.Errorf("no disclosures found in SD-JWT")
	}

	disclosureSet := common.SliceToMap(cfi.Disclosures)

	for _, claimToDisclose := range claimsToDisclose {
		if _, ok := disclosureSet[claimToDisclose]; !ok {
			return "", fmt.Errorf("%w: disclosure '%s' not found in SD-JWT",
				common.ErrUnknownClaimSelected, claimToDisclose)
		}
	}

	if hOpts.holderVerificationInfo == nil {
		if err := checkBindingRequirement(cfi.SDJWT); err != nil {
			return "", err
		}
	}

	// keep the issuance order of selected disclosures
	selected := common.SliceToMap(claimsToDisclose)

	var disclosures []string

	for _, disclosure := range cfi.Disclosures {
		if _, ok := selected[disclosure]; ok {
			disclosures = append(disclosures, disclosure)
		}
	}

	var holderVerification string

	if hOpts.holderVerificationInfo != nil {
		var err error

		holderVerification, err = CreateHolderVerification(hOpts.holderVerificationInfo)
		if err != nil {
			return "", fmt.Errorf("failed to create holder verification: %w", err)
		}
	}

	cf := common.CombinedFormatForPresentation{
		SDJWT:              cfi.SDJWT,
		Disclosures:        disclosures,
		HolderVerification: holderVerification,
	}

	return cf.Serialize(), nil
}

// checkBindingRequirement fails when the credential was issued against a
// holder key but no binding info was supplied.
func checkBindingRequirement(sdJWT string) error {
	unverifiedJWT, _, err := afgjwt.Parse(sdJWT)
	if err != nil {
		return fmt.Errorf("%w: %v", common.ErrEncoding, err)
	}

	if _, ok := unverifiedJWT.Payload[common.CNFKey]; ok {
		return fmt.Errorf("%w: credential requires holder binding", common.ErrMissingBindingKey)
	}

	return nil
}

// CreateHolderVerification will create holder verification JWT from binding info.
func CreateHolderVerification(info *BindingInfo) (string, error) {
	hbJWT, err := afgjwt.NewSigned(info.Payload, info.Headers, info.Signer)
	if err != nil {
		return "", err
	}

	return hbJWT.Serialize(false)
}

// NoopSignatureVerifier is a signature verifier that skips verification.
// Used when the holder trusts the channel the SD-JWT arrived on.
type NoopSignatureVerifier struct{}

// Verify implements signature verification.
func (sv *NoopSignatureVerifier) Verify(_ jose.Headers, _, _, _ []byte) error {
	return nil
}
