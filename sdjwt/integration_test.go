/*
Copyright Claimset Contributors. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package sdjwt

import (
	"crypto/ed25519"
	"crypto/rand"
	"testing"
	"time"

	gojose "github.com/go-jose/go-jose/v3"
	"github.com/go-jose/go-jose/v3/jwt"
	"github.com/stretchr/testify/require"

	afjwt "github.com/claimset/sdjwt-go/jwt"
	"github.com/claimset/sdjwt-go/sdjwt/common"
	"github.com/claimset/sdjwt-go/sdjwt/holder"
	"github.com/claimset/sdjwt-go/sdjwt/issuer"
	"github.com/claimset/sdjwt-go/sdjwt/verifier"
)

const (
	testIssuer   = "https://example.com/issuer"
	testAudience = "https://example.com/verifier"
	testNonce    = "nonce"
)

// TestSDJWTFlow walks the full issue, hold, present and verify cycle with
// holder binding, the way the three parties would use the packages together.
func TestSDJWTFlow(t *testing.T) {
	r := require.New(t)

	issuerPublicKey, issuerPrivateKey, e := ed25519.GenerateKey(rand.Reader)
	r.NoError(e)

	signer := afjwt.NewEd25519Signer(issuerPrivateKey)

	signatureVerifier, e := afjwt.NewEd25519Verifier(issuerPublicKey)
	r.NoError(e)

	holderPublicKey, holderPrivateKey, e := ed25519.GenerateKey(rand.Reader)
	r.NoError(e)

	holderPublicJWK := &gojose.JSONWebKey{Key: holderPublicKey}

	claims := map[string]interface{}{
		"given_name":  "Alice",
		"family_name": "Doe",
		"email":       "alice.doe@example.com",
	}

	// issuer creates the SD-JWT bound to the holder's key
	token, e := issuer.New(testIssuer, claims, nil, signer,
		issuer.WithHolderPublicKey(holderPublicJWK),
		issuer.WithIssuedAt(jwt.NewNumericDate(time.Now())),
		issuer.WithExpiry(jwt.NewNumericDate(time.Now().Add(time.Hour))))
	r.NoError(e)

	combinedFormatForIssuance, e := token.Serialize(false)
	r.NoError(e)

	// holder reviews the received claims
	holderClaims, e := holder.Parse(combinedFormatForIssuance,
		holder.WithSignatureVerifier(signatureVerifier))
	r.NoError(e)
	r.Len(holderClaims, 3)

	// holder reveals given_name and email only
	disclosures, e := holder.SelectDisclosures(holderClaims, []string{"given_name", "email"})
	r.NoError(e)

	presentation, e := holder.CreatePresentation(combinedFormatForIssuance, disclosures,
		holder.WithHolderVerification(&holder.BindingInfo{
			Payload: holder.BindingPayload{
				Nonce:    testNonce,
				Audience: testAudience,
				IssuedAt: jwt.NewNumericDate(time.Now()),
			},
			Signer: afjwt.NewEd25519Signer(holderPrivateKey),
		}))
	r.NoError(e)

	// verifier checks the presentation against the nonce it handed out
	verifiedClaims, e := verifier.Parse(presentation,
		verifier.WithSignatureVerifier(signatureVerifier),
		verifier.WithHolderVerificationRequired(true),
		verifier.WithExpectedNonceForHolderVerification(testNonce),
		verifier.WithExpectedAudienceForHolderVerification(testAudience))
	r.NoError(e)

	r.Equal("Alice", verifiedClaims["given_name"])
	r.Equal("alice.doe@example.com", verifiedClaims["email"])
	r.NotContains(verifiedClaims, "family_name")
	r.NotContains(verifiedClaims, common.SDKey)
	r.NotContains(verifiedClaims, common.SDAlgorithmKey)

	// the same presentation verified by an attacker's key fails
	attackerPublicKey, _, e := ed25519.GenerateKey(rand.Reader)
	r.NoError(e)

	attackerVerifier, e := afjwt.NewEd25519Verifier(attackerPublicKey)
	r.NoError(e)

	verifiedClaims, e = verifier.Parse(presentation,
		verifier.WithSignatureVerifier(attackerVerifier))
	r.Nil(verifiedClaims)
	r.ErrorIs(e, common.ErrInvalidSignature)
}

// TestRoundTripAllCombinations checks the round-trip law: for every subset of
// disclosures the verified output contains exactly the revealed claims plus
// the clear-text payload.
func TestRoundTripAllCombinations(t *testing.T) {
	r := require.New(t)

	issuerPublicKey, issuerPrivateKey, e := ed25519.GenerateKey(rand.Reader)
	r.NoError(e)

	signer := afjwt.NewEd25519Signer(issuerPrivateKey)

	signatureVerifier, e := afjwt.NewEd25519Verifier(issuerPublicKey)
	r.NoError(e)

	claims := map[string]interface{}{
		"given_name":  "Alice",
		"family_name": "Doe",
	}

	token, e := issuer.New(testIssuer, claims, nil, signer)
	r.NoError(e)

	combinedFormatForIssuance, e := token.Serialize(false)
	r.NoError(e)

	holderClaims, e := holder.Parse(combinedFormatForIssuance,
		holder.WithSignatureVerifier(signatureVerifier))
	r.NoError(e)

	subsets := [][]string{
		nil,
		{"given_name"},
		{"family_name"},
		{"given_name", "family_name"},
	}

	for _, subset := range subsets {
		disclosures, e := holder.SelectDisclosures(holderClaims, subset)
		r.NoError(e)

		presentation, e := holder.CreatePresentation(combinedFormatForIssuance, disclosures)
		r.NoError(e)

		verifiedClaims, e := verifier.Parse(presentation,
			verifier.WithSignatureVerifier(signatureVerifier))
		r.NoError(e)

		revealed := common.SliceToMap(subset)

		for name, value := range claims {
			if revealed[name] {
				r.Equal(value, verifiedClaims[name])
			} else {
				r.NotContains(verifiedClaims, name)
			}
		}
	}
}

// TestArrayElementDisclosure checks per-element array disclosure and the
// relative order of revealed elements.
func TestArrayElementDisclosure(t *testing.T) {
	r := require.New(t)

	issuerPublicKey, issuerPrivateKey, e := ed25519.GenerateKey(rand.Reader)
	r.NoError(e)

	signer := afjwt.NewEd25519Signer(issuerPrivateKey)

	signatureVerifier, e := afjwt.NewEd25519Verifier(issuerPublicKey)
	r.NoError(e)

	claims := map[string]interface{}{
		"nationalities": []interface{}{"DE", "FR", "US"},
	}

	token, e := issuer.New(testIssuer, claims, nil, signer)
	r.NoError(e)
	r.Len(token.Disclosures, 3)

	combinedFormatForIssuance, e := token.Serialize(false)
	r.NoError(e)

	holderClaims, e := holder.Parse(combinedFormatForIssuance,
		holder.WithSignatureVerifier(signatureVerifier))
	r.NoError(e)

	// pick the disclosures for DE and US
	var selected []string

	for _, claim := range holderClaims {
		if claim.Value == "DE" || claim.Value == "US" {
			selected = append(selected, claim.Disclosure)
		}
	}

	r.Len(selected, 2)

	presentation, e := holder.CreatePresentation(combinedFormatForIssuance, selected)
	r.NoError(e)

	verifiedClaims, e := verifier.Parse(presentation,
		verifier.WithSignatureVerifier(signatureVerifier))
	r.NoError(e)

	// withheld element dropped, relative order preserved
	r.Equal([]interface{}{"DE", "US"}, verifiedClaims["nationalities"])
}

// TestArrayClaimKeySurvives checks that the array claim key stays in the
// verified output even when no element is revealed. The key itself was issued
// in clear text and withholding elements must not erase it.
func TestArrayClaimKeySurvives(t *testing.T) {
	r := require.New(t)

	issuerPublicKey, issuerPrivateKey, e := ed25519.GenerateKey(rand.Reader)
	r.NoError(e)

	signer := afjwt.NewEd25519Signer(issuerPrivateKey)

	signatureVerifier, e := afjwt.NewEd25519Verifier(issuerPublicKey)
	r.NoError(e)

	t.Run("all array elements withheld", func(t *testing.T) {
		claims := map[string]interface{}{
			"given_name":    "Alice",
			"nationalities": []interface{}{"DE", "FR"},
		}

		token, e := issuer.New(testIssuer, claims, nil, signer)
		r.NoError(e)

		combinedFormatForIssuance, e := token.Serialize(false)
		r.NoError(e)

		holderClaims, e := holder.Parse(combinedFormatForIssuance,
			holder.WithSignatureVerifier(signatureVerifier))
		r.NoError(e)

		selected, e := holder.SelectDisclosures(holderClaims, []string{"given_name"})
		r.NoError(e)

		presentation, e := holder.CreatePresentation(combinedFormatForIssuance, selected)
		r.NoError(e)

		verifiedClaims, e := verifier.Parse(presentation,
			verifier.WithSignatureVerifier(signatureVerifier))
		r.NoError(e)

		r.Equal("Alice", verifiedClaims["given_name"])
		r.Equal([]interface{}{}, verifiedClaims["nationalities"])
	})

	t.Run("empty array round trip", func(t *testing.T) {
		claims := map[string]interface{}{
			"given_name": "Alice",
			"tags":       []interface{}{},
		}

		token, e := issuer.New(testIssuer, claims, nil, signer)
		r.NoError(e)

		combinedFormatForIssuance, e := token.Serialize(false)
		r.NoError(e)

		cfi := common.ParseCombinedFormatForIssuance(combinedFormatForIssuance)

		presentation, e := holder.CreatePresentation(combinedFormatForIssuance, cfi.Disclosures)
		r.NoError(e)

		verifiedClaims, e := verifier.Parse(presentation,
			verifier.WithSignatureVerifier(signatureVerifier))
		r.NoError(e)

		r.Equal("Alice", verifiedClaims["given_name"])
		r.Equal([]interface{}{}, verifiedClaims["tags"])
	})
}

// TestDuplicateDisclosureRejected checks that presenting the same disclosure
// twice is rejected no matter how it is smuggled in.
func TestDuplicateDisclosureRejected(t *testing.T) {
	r := require.New(t)

	issuerPublicKey, issuerPrivateKey, e := ed25519.GenerateKey(rand.Reader)
	r.NoError(e)

	signer := afjwt.NewEd25519Signer(issuerPrivateKey)

	signatureVerifier, e := afjwt.NewEd25519Verifier(issuerPublicKey)
	r.NoError(e)

	token, e := issuer.New(testIssuer, map[string]interface{}{"given_name": "Alice"}, nil, signer)
	r.NoError(e)

	sdJWT, e := token.SignedJWT.Serialize(false)
	r.NoError(e)

	cfp := common.CombinedFormatForPresentation{
		SDJWT:       sdJWT,
		Disclosures: []string{token.Disclosures[0], token.Disclosures[0], token.Disclosures[0]},
	}

	verifiedClaims, e := verifier.Parse(cfp.Serialize(),
		verifier.WithSignatureVerifier(signatureVerifier))
	r.Nil(verifiedClaims)
	r.ErrorIs(e, common.ErrDuplicateDigest)
}

// TestStructuredAndRecursiveClaims exercises nested _sd arrays and recursive
// object disclosure through the whole cycle.
func TestStructuredAndRecursiveClaims(t *testing.T) {
	r := require.New(t)

	issuerPublicKey, issuerPrivateKey, e := ed25519.GenerateKey(rand.Reader)
	r.NoError(e)

	signer := afjwt.NewEd25519Signer(issuerPrivateKey)

	signatureVerifier, e := afjwt.NewEd25519Verifier(issuerPublicKey)
	r.NoError(e)

	claims := map[string]interface{}{
		"given_name": "Alice",
		"address": map[string]interface{}{
			"street_address": "123 Main St",
			"country":        "US",
		},
	}

	t.Run("structured claims", func(t *testing.T) {
		token, e := issuer.New(testIssuer, claims, nil, signer,
			issuer.WithStructuredClaims(true))
		r.NoError(e)
		r.Len(token.Disclosures, 3)

		combinedFormatForIssuance, e := token.Serialize(false)
		r.NoError(e)

		cfi := common.ParseCombinedFormatForIssuance(combinedFormatForIssuance)

		presentation, e := holder.CreatePresentation(combinedFormatForIssuance, cfi.Disclosures)
		r.NoError(e)

		verifiedClaims, e := verifier.Parse(presentation,
			verifier.WithSignatureVerifier(signatureVerifier))
		r.NoError(e)

		address, ok := verifiedClaims["address"].(map[string]interface{})
		r.True(ok)
		r.Equal("123 Main St", address["street_address"])
		r.Equal("US", address["country"])
		r.NotContains(address, common.SDKey)
	})

	t.Run("recursive claims", func(t *testing.T) {
		token, e := issuer.New(testIssuer, claims, nil, signer,
			issuer.WithRecursiveClaimsObjects([]string{"address"}))
		r.NoError(e)

		combinedFormatForIssuance, e := token.Serialize(false)
		r.NoError(e)

		cfi := common.ParseCombinedFormatForIssuance(combinedFormatForIssuance)

		presentation, e := holder.CreatePresentation(combinedFormatForIssuance, cfi.Disclosures)
		r.NoError(e)

		verifiedClaims, e := verifier.Parse(presentation,
			verifier.WithSignatureVerifier(signatureVerifier))
		r.NoError(e)

		address, ok := verifiedClaims["address"].(map[string]interface{})
		r.True(ok)
		r.Equal("US", address["country"])
		r.NotContains(address, common.SDKey)
	})
}
