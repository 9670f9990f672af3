/*
Copyright Claimset Contributors. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

/*
Package issuer enables the Issuer: An entity that creates SD-JWTs.

An SD-JWT is a digitally signed document containing digests over the claims
(per claim: a random salt, the claim name and the claim value).
It MAY further contain clear-text claims that are always disclosed to the Verifier.
It MUST be digitally signed using the Issuer's private key.

	SD-JWT-DOC = (METADATA, SD-CLAIMS, NON-SD-CLAIMS)
	SD-JWT = SD-JWT-DOC | SIG(SD-JWT-DOC, ISSUER-PRIV-KEY)

SD-CLAIMS is an array of digest values that ensure the integrity of
and map to the respective Disclosures. Digest values are calculated
over the Disclosures, each of which contains the claim name (CLAIM-NAME),
the claim value (CLAIM-VALUE), and a random salt (SALT).
Array elements are disclosed individually with two-element Disclosures
(SALT, CLAIM-VALUE), each replaced in place by {"...": digest}.

The SD-JWT and the Disclosures are sent to the Holder by the Issuer:

	COMBINED-ISSUANCE = SD-JWT | DISCLOSURES
*/
package issuer

import (
	"crypto"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	mathrand "math/rand"
	"strings"
	"time"

	gojose "github.com/go-jose/go-jose/v3"
	"github.com/go-jose/go-jose/v3/jwt"

	"github.com/claimset/sdjwt-go/doc/jose"
	afgjwt "github.com/claimset/sdjwt-go/jwt"
	"github.com/claimset/sdjwt-go/sdjwt/common"
)

const (
	defaultHash = crypto.SHA256

	saltSizeBytes = 128 / 8
)

var mr = mathrand.New(mathrand.NewSource(time.Now().Unix())) // nolint:gochecknoglobals,gosec

// Claims defines JSON Web Token Claims (https://tools.ietf.org/html/rfc7519#section-4)
type Claims jwt.Claims

// newOpts holds options for creating new SD-JWT.
type newOpts struct {
	Subject  string
	Audience string
	JTI      string
	ID       string

	Expiry    *jwt.NumericDate
	NotBefore *jwt.NumericDate
	IssuedAt  *jwt.NumericDate

	HolderPublicKey *gojose.JSONWebKey

	HashAlg crypto.Hash

	jsonMarshal func(v interface{}) ([]byte, error)
	getSalt     func() (string, error)

	decoyStrategy DecoyStrategy

	structuredClaims bool

	nonSDClaimsMap    map[string]bool
	sdClaimsAllowList map[string]bool
	alwaysInclude     map[string]bool
	recursiveClaimMap map[string]bool
}

// NewOpt is the SD-JWT New option.
type NewOpt func(opts *newOpts)

// WithJSONMarshaller is option is for marshalling disclosure.
func WithJSONMarshaller(jsonMarshal func(v interface{}) ([]byte, error)) NewOpt {
	return func(opts *newOpts) {
		opts.jsonMarshal = jsonMarshal
	}
}

// WithSaltFnc is an option for generating salt. Mostly used for testing.
// A new salt MUST be chosen for each claim independently of other salts.
// The RECOMMENDED minimum length of the randomly-generated portion of the salt is 128 bits.
// It is RECOMMENDED to base64url-encode the salt value, producing a string.
func WithSaltFnc(fnc func() (string, error)) NewOpt {
	return func(opts *newOpts) {
		opts.getSalt = fnc
	}
}

// WithIssuedAt is an option for SD-JWT payload. This is a clear-text claim that is always disclosed.
func WithIssuedAt(issuedAt *jwt.NumericDate) NewOpt {
	return func(opts *newOpts) {
		opts.IssuedAt = issuedAt
	}
}

// WithAudience is an option for SD-JWT payload. This is a clear-text claim that is always disclosed.
func WithAudience(audience string) NewOpt {
	return func(opts *newOpts) {
		opts.Audience = audience
	}
}

// WithExpiry is an option for SD-JWT payload. This is a clear-text claim that is always disclosed.
func WithExpiry(expiry *jwt.NumericDate) NewOpt {
	return func(opts *newOpts) {
		opts.Expiry = expiry
	}
}

// WithNotBefore is an option for SD-JWT payload. This is a clear-text claim that is always disclosed.
func WithNotBefore(notBefore *jwt.NumericDate) NewOpt {
	return func(opts *newOpts) {
		opts.NotBefore = notBefore
	}
}

// WithSubject is an option for SD-JWT payload. This is a clear-text claim that is always disclosed.
func WithSubject(subject string) NewOpt {
	return func(opts *newOpts) {
		opts.Subject = subject
	}
}

// WithJTI is an option for SD-JWT payload. This is a clear-text claim that is always disclosed.
func WithJTI(jti string) NewOpt {
	return func(opts *newOpts) {
		opts.JTI = jti
	}
}

// WithID is an option for SD-JWT payload. This is a clear-text claim that is always disclosed.
func WithID(id string) NewOpt {
	return func(opts *newOpts) {
		opts.ID = id
	}
}

// WithHolderPublicKey is an option for SD-JWT payload.
// The Holder can prove legitimate possession of an SD-JWT by proving control over the same private key during
// the issuance and presentation. An SD-JWT with Holder Binding contains a public key or a reference to a public key
// that matches to the private key controlled by the Holder.
// The "cnf" claim value MUST represent only a single proof-of-possession key. This implementation is using CNF "jwk".
func WithHolderPublicKey(key *gojose.JSONWebKey) NewOpt {
	return func(opts *newOpts) {
		opts.HolderPublicKey = key
	}
}

// WithHashAlgorithm is an option for hashing disclosures.
func WithHashAlgorithm(alg crypto.Hash) NewOpt {
	return func(opts *newOpts) {
		opts.HashAlg = alg
	}
}

// WithDecoyDigests is an option for adding decoy digests (default is false).
// Each _sd array gets between one and four decoy digests, indistinguishable
// from real ones.
func WithDecoyDigests(flag bool) NewOpt {
	return func(opts *newOpts) {
		if flag {
			opts.decoyStrategy = RandomDecoyStrategy{}
		} else {
			opts.decoyStrategy = nil
		}
	}
}

// WithDecoyStrategy is an option for controlling how many decoy digests are
// added per _sd array. Mostly used for testing and fixture generation.
func WithDecoyStrategy(strategy DecoyStrategy) NewOpt {
	return func(opts *newOpts) {
		opts.decoyStrategy = strategy
	}
}

// WithStructuredClaims is an option for handling structured claims(default is false).
func WithStructuredClaims(flag bool) NewOpt {
	return func(opts *newOpts) {
		opts.structuredClaims = flag
	}
}

// WithSelectivelyDisclosableClaims is an option to restrict selective
// disclosure to the named claims only; all other claims stay in clear text.
// Nested claims are addressed with dotted paths, e.g. "address.street_address".
// A path that matches no claim fails issuance.
func WithSelectivelyDisclosableClaims(sdClaims []string) NewOpt {
	return func(opts *newOpts) {
		opts.sdClaimsAllowList = common.SliceToMap(sdClaims)
	}
}

// WithNonSelectivelyDisclosableClaims is an option for provide claim names that should be ignored when creating
// selectively disclosable claims.
// For example if you would like to not selectively disclose id and degree type from the following claims:
// {
//
//	"degree": {
//	   "degree": "MIT",
//	   "type": "BachelorDegree",
//	 },
//	 "name": "Jayden Doe",
//	 "id": "did:example:ebfeb1f712ebc6f1c276e12ec21",
//	}
//
// you should specify the following array: []string{"id", "degree.type"}.
func WithNonSelectivelyDisclosableClaims(nonSDClaims []string) NewOpt {
	return func(opts *newOpts) {
		opts.nonSDClaimsMap = common.SliceToMap(nonSDClaims)
	}
}

// WithAlwaysIncludeObjects is an option for provide object keys that should be a part of
// selectively disclosable claims. The object itself stays in the payload with
// its own _sd array; only its members are selectively disclosable.
func WithAlwaysIncludeObjects(alwaysIncludeObjects []string) NewOpt {
	return func(opts *newOpts) {
		opts.alwaysInclude = common.SliceToMap(alwaysIncludeObjects)
	}
}

// WithRecursiveClaimsObjects is an option for provide object keys that should be selective disclosed recursively, e.g.
// output digest for given object will refer to the disclosure, that contains digests of nested claims.
func WithRecursiveClaimsObjects(recursiveClaimsObject []string) NewOpt {
	return func(opts *newOpts) {
		opts.recursiveClaimMap = common.SliceToMap(recursiveClaimsObject)
	}
}

// New creates new signed Selective Disclosure JWT based on input claims.
// The Issuer MUST create a Disclosure for each selectively disclosable claim as follows:
// Create an array of three elements in this order:
//
//	A salt value. Generated by the system, the salt value MUST be unique for each claim that is to be selectively
//	disclosed.
//	The claim name, or key, as it would be used in a regular JWT body. This MUST be a string.
//	The claim's value, as it would be used in a regular JWT body. The value MAY be of any type that is allowed in JSON,
//	including numbers, strings, booleans, arrays, and objects.
//
// Then JSON-encode the array such that an UTF-8 string is produced.
// Then base64url-encode the byte representation of the UTF-8 string to create the Disclosure.
func New(issuer string, claims interface{}, headers jose.Headers,
	signer jose.Signer, opts ...NewOpt) (*SelectiveDisclosureJWT, error) {
	nOpts := &newOpts{
		jsonMarshal:    json.Marshal,
		HashAlg:        defaultHash,
		nonSDClaimsMap: make(map[string]bool),
	}

	for _, opt := range opts {
		opt(nOpts)
	}

	if nOpts.getSalt == nil {
		nOpts.getSalt = func() (string, error) {
			return generateSalt(saltSizeBytes)
		}
	}

	claimsMap, err := afgjwt.PayloadToMap(claims)
	if err != nil {
		return nil, fmt.Errorf("convert payload to map: %w", err)
	}

	if common.KeyExistsInMap(common.SDKey, claimsMap) {
		return nil, fmt.Errorf("key '%s' cannot be present in the claims", common.SDKey)
	}

	if common.KeyExistsInMap(common.ArrayElementDigestKey, claimsMap) {
		return nil, fmt.Errorf("key '%s' cannot be present in the claims", common.ArrayElementDigestKey)
	}

	if err = validateAllowList(nOpts.sdClaimsAllowList, claimsMap); err != nil {
		return nil, err
	}

	b := &builder{opts: nOpts}

	disclosures, digestsMap, err := b.createDisclosuresAndDigests("", claimsMap)
	if err != nil {
		return nil, err
	}

	payloadMap, err := afgjwt.PayloadToMap(createPayload(issuer, nOpts))
	if err != nil {
		return nil, fmt.Errorf("convert payload to map: %w", err)
	}

	for k, v := range digestsMap {
		if _, ok := payloadMap[k]; ok {
			return nil, fmt.Errorf("claim '%s' conflicts with a registered claim", k)
		}

		payloadMap[k] = v
	}

	signedJWT, err := afgjwt.NewSigned(payloadMap, headers, signer)
	if err != nil {
		return nil, fmt.Errorf("failed to create SD-JWT from payload[%+v]: %w", payloadMap, err)
	}

	var disArr []string
	for _, d := range disclosures {
		disArr = append(disArr, d.Result)
	}

	return &SelectiveDisclosureJWT{
		SignedJWT:    signedJWT,
		Disclosures:  disArr,
		DecoyDigests: b.decoyDigests,
	}, nil
}

func createPayload(issuer string, nOpts *newOpts) *payload {
	var cnf map[string]interface{}
	if nOpts.HolderPublicKey != nil {
		cnf = make(map[string]interface{})
		cnf["jwk"] = nOpts.HolderPublicKey
	}

	return &payload{
		Issuer:    issuer,
		JTI:       nOpts.JTI,
		ID:        nOpts.ID,
		Subject:   nOpts.Subject,
		Audience:  nOpts.Audience,
		IssuedAt:  nOpts.IssuedAt,
		Expiry:    nOpts.Expiry,
		NotBefore: nOpts.NotBefore,
		CNF:       cnf,
		SDAlg:     strings.ToLower(nOpts.HashAlg.String()),
	}
}

// validateAllowList ensures every allow-listed path addresses an existing claim.
func validateAllowList(allowList map[string]bool, claims map[string]interface{}) error {
	for path := range allowList {
		if !claimPathExists(path, claims) {
			return fmt.Errorf("%w: selectively disclosable claim '%s' not found", common.ErrPolicy, path)
		}
	}

	return nil
}

func claimPathExists(path string, claims map[string]interface{}) bool {
	parts := strings.Split(path, ".")

	current := claims

	for i, part := range parts {
		value, ok := current[part]
		if !ok {
			return false
		}

		if i == len(parts)-1 {
			return true
		}

		current, ok = value.(map[string]interface{})
		if !ok {
			return false
		}
	}

	return false
}

// SelectiveDisclosureJWT defines Selective Disclosure JSON Web Token (https://tools.ietf.org/html/rfc7519)
type SelectiveDisclosureJWT struct {
	SignedJWT   *afgjwt.JSONWebToken
	Disclosures []string

	// DecoyDigests are the decoy digests embedded in the payload, kept for
	// inspection and fixture generation. They are not part of the artifact.
	DecoyDigests []string
}

// DecodeClaims fills input c with claims of a token.
func (j *SelectiveDisclosureJWT) DecodeClaims(c interface{}) error {
	return j.SignedJWT.DecodeClaims(c)
}

// LookupStringHeader makes look up of particular header with string value.
func (j *SelectiveDisclosureJWT) LookupStringHeader(name string) string {
	return j.SignedJWT.LookupStringHeader(name)
}

// Serialize makes (compact) serialization of token into combined format for issuance.
func (j *SelectiveDisclosureJWT) Serialize(detached bool) (string, error) {
	if j.SignedJWT == nil {
		return "", errors.New("JWS serialization is supported only")
	}

	signedJWT, err := j.SignedJWT.Serialize(detached)
	if err != nil {
		return "", err
	}

	cf := common.CombinedFormatForIssuance{
		SDJWT:       signedJWT,
		Disclosures: j.Disclosures,
	}

	return cf.Serialize(), nil
}

func generateSalt(sizeBytes int) (string, error) {
	salt := make([]byte, sizeBytes)

	_, err := rand.Read(salt)
	if err != nil {
		return "", err
	}

	// it is RECOMMENDED to base64url-encode the salt value, producing a string.
	return base64.RawURLEncoding.EncodeToString(salt), nil
}

// payload represents SD-JWT payload.
type payload struct {
	// registered claim names
	Issuer    string           `json:"iss,omitempty"`
	Subject   string           `json:"sub,omitempty"`
	Audience  string           `json:"aud,omitempty"`
	JTI       string           `json:"jti,omitempty"`
	Expiry    *jwt.NumericDate `json:"exp,omitempty"`
	NotBefore *jwt.NumericDate `json:"nbf,omitempty"`
	IssuedAt  *jwt.NumericDate `json:"iat,omitempty"`

	// non-registered name that can be used for claims based holder binding
	ID string `json:"id,omitempty"`

	// SD-JWT specific
	CNF   map[string]interface{} `json:"cnf,omitempty"`
	SDAlg string                 `json:"_sd_alg,omitempty"`
}
