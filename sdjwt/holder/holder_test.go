/*
Copyright Claimset Contributors. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package holder

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"strings"
	"testing"
	"time"

	gojose "github.com/go-jose/go-jose/v3"
	"github.com/go-jose/go-jose/v3/jwt"
	"github.com/stretchr/testify/require"

	"github.com/claimset/sdjwt-go/doc/jose"
	afgjwt "github.com/claimset/sdjwt-go/jwt"
	"github.com/claimset/sdjwt-go/sdjwt/common"
	"github.com/claimset/sdjwt-go/sdjwt/issuer"
)

const testIssuer = "https://example.com/issuer"

func TestParse(t *testing.T) {
	r := require.New(t)

	issuerPubKey, issuerPrivKey, err := ed25519.GenerateKey(rand.Reader)
	r.NoError(err)

	signer := afgjwt.NewEd25519Signer(issuerPrivKey)

	claims := map[string]interface{}{
		"given_name":  "Albert",
		"family_name": "Smith",
	}

	token, err := issuer.New(testIssuer, claims, nil, signer)
	r.NoError(err)

	combinedFormatForIssuance, err := token.Serialize(false)
	r.NoError(err)

	verifier, err := afgjwt.NewEd25519Verifier(issuerPubKey)
	r.NoError(err)

	t.Run("success", func(t *testing.T) {
		holderClaims, err := Parse(combinedFormatForIssuance, WithSignatureVerifier(verifier))
		r.NoError(err)
		r.Len(holderClaims, 2)

		names := make(map[string]interface{})
		for _, claim := range holderClaims {
			names[claim.Name] = claim.Value
		}

		r.Equal("Albert", names["given_name"])
		r.Equal("Smith", names["family_name"])
	})

	t.Run("success - with issuer key resolver", func(t *testing.T) {
		resolver := func(issuerID string) (jose.SignatureVerifier, error) {
			r.Equal(testIssuer, issuerID)

			return verifier, nil
		}

		holderClaims, err := Parse(combinedFormatForIssuance, WithIssuerKeyResolver(resolver))
		r.NoError(err)
		r.Len(holderClaims, 2)
	})

	t.Run("error - malformed SD-JWT", func(t *testing.T) {
		holderClaims, err := Parse("invalid-jwt~", WithSignatureVerifier(verifier))
		r.Nil(holderClaims)
		r.ErrorIs(err, common.ErrEncoding)
	})

	t.Run("error - wrong issuer key", func(t *testing.T) {
		otherPubKey, _, err := ed25519.GenerateKey(rand.Reader)
		r.NoError(err)

		otherVerifier, err := afgjwt.NewEd25519Verifier(otherPubKey)
		r.NoError(err)

		holderClaims, err := Parse(combinedFormatForIssuance, WithSignatureVerifier(otherVerifier))
		r.Nil(holderClaims)
		r.ErrorIs(err, common.ErrInvalidSignature)
	})

	t.Run("error - tampered disclosure", func(t *testing.T) {
		cfi := common.ParseCombinedFormatForIssuance(combinedFormatForIssuance)

		tamperedDisclosure := makeTestDisclosure(t, "salt", "given_name", "Mallory")
		tampered := cfi.SDJWT + common.CombinedFormatSeparator + tamperedDisclosure

		holderClaims, err := Parse(tampered, WithSignatureVerifier(verifier))
		r.Nil(holderClaims)
		r.ErrorIs(err, common.ErrUnresolvedDigest)
	})
}

func TestSelectDisclosures(t *testing.T) {
	r := require.New(t)

	claims := []*Claim{
		{Disclosure: "disclosureOne", Name: "given_name", Value: "Albert"},
		{Disclosure: "disclosureTwo", Name: "family_name", Value: "Smith"},
		{Disclosure: "disclosureThree", Name: "", Value: "DE"},
	}

	t.Run("success", func(t *testing.T) {
		disclosures, err := SelectDisclosures(claims, []string{"family_name"})
		r.NoError(err)
		r.Equal([]string{"disclosureTwo"}, disclosures)
	})

	t.Run("success - empty selection", func(t *testing.T) {
		disclosures, err := SelectDisclosures(claims, nil)
		r.NoError(err)
		r.Empty(disclosures)
	})

	t.Run("error - unknown claim", func(t *testing.T) {
		disclosures, err := SelectDisclosures(claims, []string{"email"})
		r.Nil(disclosures)
		r.ErrorIs(err, common.ErrUnknownClaimSelected)
	})
}

func TestCreatePresentation(t *testing.T) {
	r := require.New(t)

	_, issuerPrivKey, err := ed25519.GenerateKey(rand.Reader)
	r.NoError(err)

	signer := afgjwt.NewEd25519Signer(issuerPrivKey)

	claims := map[string]interface{}{
		"given_name":  "Albert",
		"family_name": "Smith",
		"email":       "albert@example.com",
	}

	token, err := issuer.New(testIssuer, claims, nil, signer)
	r.NoError(err)

	combinedFormatForIssuance, err := token.Serialize(false)
	r.NoError(err)

	cfi := common.ParseCombinedFormatForIssuance(combinedFormatForIssuance)
	r.Len(cfi.Disclosures, 3)

	t.Run("success", func(t *testing.T) {
		presentation, err := CreatePresentation(combinedFormatForIssuance, cfi.Disclosures[:2])
		r.NoError(err)

		cfp := common.ParseCombinedFormatForPresentation(presentation)
		r.Equal(cfi.SDJWT, cfp.SDJWT)
		r.Equal(cfi.Disclosures[:2], cfp.Disclosures)
		r.Empty(cfp.HolderVerification)

		// binding absent still leaves the trailing separator in place
		r.True(strings.HasSuffix(presentation, common.CombinedFormatSeparator))
	})

	t.Run("success - selection keeps issuance order", func(t *testing.T) {
		reversed := []string{cfi.Disclosures[2], cfi.Disclosures[0]}

		presentation, err := CreatePresentation(combinedFormatForIssuance, reversed)
		r.NoError(err)

		cfp := common.ParseCombinedFormatForPresentation(presentation)
		r.Equal([]string{cfi.Disclosures[0], cfi.Disclosures[2]}, cfp.Disclosures)
	})

	t.Run("success - no claims disclosed", func(t *testing.T) {
		presentation, err := CreatePresentation(combinedFormatForIssuance, nil)
		r.NoError(err)

		cfp := common.ParseCombinedFormatForPresentation(presentation)
		r.Empty(cfp.Disclosures)
	})

	t.Run("error - disclosure not found", func(t *testing.T) {
		unknownDisclosure := makeTestDisclosure(t, "salt", "email", "other@example.com")

		presentation, err := CreatePresentation(combinedFormatForIssuance, []string{unknownDisclosure})
		r.Empty(presentation)
		r.ErrorIs(err, common.ErrUnknownClaimSelected)
	})

	t.Run("error - credential requires holder binding", func(t *testing.T) {
		holderPubKey, _, err := ed25519.GenerateKey(rand.Reader)
		r.NoError(err)

		boundToken, err := issuer.New(testIssuer, claims, nil, signer,
			issuer.WithHolderPublicKey(&gojose.JSONWebKey{Key: holderPubKey}))
		r.NoError(err)

		boundIssuance, err := boundToken.Serialize(false)
		r.NoError(err)

		presentation, err := CreatePresentation(boundIssuance, nil)
		r.Empty(presentation)
		r.ErrorIs(err, common.ErrMissingBindingKey)
	})

	t.Run("success - with holder verification", func(t *testing.T) {
		holderPubKey, holderPrivKey, err := ed25519.GenerateKey(rand.Reader)
		r.NoError(err)

		boundToken, err := issuer.New(testIssuer, claims, nil, signer,
			issuer.WithHolderPublicKey(&gojose.JSONWebKey{Key: holderPubKey}))
		r.NoError(err)

		boundIssuance, err := boundToken.Serialize(false)
		r.NoError(err)

		presentation, err := CreatePresentation(boundIssuance, nil,
			WithHolderVerification(&BindingInfo{
				Payload: BindingPayload{
					Nonce:    "nonce",
					Audience: "https://example.com/verifier",
					IssuedAt: jwt.NewNumericDate(time.Now()),
				},
				Signer: afgjwt.NewEd25519Signer(holderPrivKey),
			}))
		r.NoError(err)

		cfp := common.ParseCombinedFormatForPresentation(presentation)
		r.True(afgjwt.IsJWS(cfp.HolderVerification))
	})
}

func TestCreateHolderVerification(t *testing.T) {
	r := require.New(t)

	holderPubKey, holderPrivKey, err := ed25519.GenerateKey(rand.Reader)
	r.NoError(err)

	holderVerification, err := CreateHolderVerification(&BindingInfo{
		Payload: BindingPayload{
			Nonce:    "nonce",
			Audience: "https://example.com/verifier",
			IssuedAt: jwt.NewNumericDate(time.Now()),
		},
		Signer: afgjwt.NewEd25519Signer(holderPrivKey),
	})
	r.NoError(err)

	verifier, err := afgjwt.NewEd25519Verifier(holderPubKey)
	r.NoError(err)

	hbToken, _, err := afgjwt.Parse(holderVerification, afgjwt.WithSignatureVerifier(verifier))
	r.NoError(err)
	r.Equal("nonce", hbToken.Payload["nonce"])
	r.Equal("https://example.com/verifier", hbToken.Payload["aud"])
}

func makeTestDisclosure(t *testing.T, salt, name string, value interface{}) string {
	t.Helper()

	disclosureJSON, err := json.Marshal([]interface{}{salt, name, value})
	require.NoError(t, err)

	return base64.RawURLEncoding.EncodeToString(disclosureJSON)
}
