/*
Copyright Claimset Contributors. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

// Package jose provides JWS compact serialization with pluggable signing and
// verification primitives. The SD-JWT engines treat signature creation and
// verification as black-box services behind the Signer and SignatureVerifier
// contracts defined here.
package jose

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// Signer makes signing of data and provides the JWS headers relevant to the signer.
type Signer interface {
	// Sign signs.
	Sign(data []byte) ([]byte, error)

	// Headers provides JWS headers. "alg" header must be provided.
	Headers() Headers
}

// SignatureVerifier makes verification of a JWS signing input against a signature.
type SignatureVerifier interface {
	// Verify verifies JWS signature.
	Verify(joseHeaders Headers, payload, signingInput, signature []byte) error
}

// SignatureVerifierFunc is a function wrapper for SignatureVerifier.
type SignatureVerifierFunc func(joseHeaders Headers, payload, signingInput, signature []byte) error

// Verify verifies JWS signature.
func (s SignatureVerifierFunc) Verify(joseHeaders Headers, payload, signingInput, signature []byte) error {
	return s(joseHeaders, payload, signingInput, signature)
}

// AlgSignatureVerifier defines verifier for particular signature algorithm.
type AlgSignatureVerifier struct {
	Alg      string
	Verifier SignatureVerifier
}

// CompositeAlgSigVerifier defines composite verifier based on the algorithm
// taken from JOSE header alg.
type CompositeAlgSigVerifier struct {
	verifierByAlg map[string]SignatureVerifier
}

// NewCompositeAlgSigVerifier creates a new CompositeAlgSigVerifier.
func NewCompositeAlgSigVerifier(v AlgSignatureVerifier, vOther ...AlgSignatureVerifier) *CompositeAlgSigVerifier {
	verifierByAlg := make(map[string]SignatureVerifier, 1+len(vOther))
	verifierByAlg[v.Alg] = v.Verifier

	for _, v := range vOther {
		verifierByAlg[v.Alg] = v.Verifier
	}

	return &CompositeAlgSigVerifier{verifierByAlg: verifierByAlg}
}

// Verify verifies JWS signature.
func (v *CompositeAlgSigVerifier) Verify(joseHeaders Headers, payload, signingInput, signature []byte) error {
	alg, ok := joseHeaders.Algorithm()
	if !ok {
		return errors.New("'alg' JOSE header is not present")
	}

	verifier, ok := v.verifierByAlg[alg]
	if !ok {
		return fmt.Errorf("no verifier found for %s algorithm", alg)
	}

	return verifier.Verify(joseHeaders, payload, signingInput, signature)
}

// JSONWebSignature defines JSON Web Signature (https://tools.ietf.org/html/rfc7515)
// in compact serialization.
type JSONWebSignature struct {
	ProtectedHeaders Headers
	Payload          []byte

	signature []byte
}

// Signature returns a copy of JWS signature.
func (s *JSONWebSignature) Signature() []byte {
	if s.signature == nil {
		return nil
	}

	sCopy := make([]byte, len(s.signature))
	copy(sCopy, s.signature)

	return sCopy
}

// NewJWS creates a JSON Web Signature over the payload. JWS compact serialization
// uses only protected headers; headers of the signer are merged into provided ones.
func NewJWS(protectedHeaders Headers, payload []byte, signer Signer) (*JSONWebSignature, error) {
	headers := mergeHeaders(protectedHeaders, signer.Headers())

	if _, ok := headers.Algorithm(); !ok {
		return nil, errors.New("alg JWS header is not defined")
	}

	signingInput, err := signingInput(headers, payload)
	if err != nil {
		return nil, fmt.Errorf("build signing input: %w", err)
	}

	signature, err := signer.Sign([]byte(signingInput))
	if err != nil {
		return nil, fmt.Errorf("sign JWS verification data: %w", err)
	}

	return &JSONWebSignature{
		ProtectedHeaders: headers,
		Payload:          payload,
		signature:        signature,
	}, nil
}

// SerializeCompact makes JWS compact serialization (https://tools.ietf.org/html/rfc7515#section-7.1).
func (s *JSONWebSignature) SerializeCompact(detached bool) (string, error) {
	input, err := signingInput(s.ProtectedHeaders, s.Payload)
	if err != nil {
		return "", fmt.Errorf("serialize JWS headers: %w", err)
	}

	if detached {
		headersPart := strings.SplitN(input, ".", 2)[0]
		input = headersPart + "."
	}

	return input + "." + base64.RawURLEncoding.EncodeToString(s.signature), nil
}

func mergeHeaders(h1, h2 Headers) Headers {
	h := make(Headers, len(h1)+len(h2))

	for k, v := range h2 {
		h[k] = v
	}

	for k, v := range h1 {
		h[k] = v
	}

	return h
}

func signingInput(headers Headers, payload []byte) (string, error) {
	headersBytes, err := json.Marshal(headers)
	if err != nil {
		return "", fmt.Errorf("marshal JWS headers: %w", err)
	}

	return base64.RawURLEncoding.EncodeToString(headersBytes) + "." +
		base64.RawURLEncoding.EncodeToString(payload), nil
}

// jwsParseOpts holds options for the JWS parsing.
type jwsParseOpts struct {
	detachedPayload []byte
}

// JWSParseOpt is the JWS parser option.
type JWSParseOpt func(opts *jwsParseOpts)

// WithJWSDetachedPayload option is for definition of JWS detached payload.
func WithJWSDetachedPayload(payload []byte) JWSParseOpt {
	return func(opts *jwsParseOpts) {
		opts.detachedPayload = payload
	}
}

// IsCompactJWS checks weather input is a compact JWS (based on https://tools.ietf.org/html/rfc7516#section-9).
func IsCompactJWS(s string) bool {
	parts := strings.Split(s, ".")

	return len(parts) == 3
}

// ParseJWS parses serialized JWS. Currently only JWS compact serialization is supported.
// A nil verifier skips signature verification; the parsed JWS is then structurally
// validated only.
func ParseJWS(jws string, verifier SignatureVerifier, opts ...JWSParseOpt) (*JSONWebSignature, error) {
	pOpts := &jwsParseOpts{}

	for _, opt := range opts {
		opt(pOpts)
	}

	if strings.HasPrefix(jws, "{") {
		return nil, errors.New("JWS JSON serialization is not supported")
	}

	return parseCompactJWS(jws, verifier, pOpts)
}

func parseCompactJWS(jws string, verifier SignatureVerifier, opts *jwsParseOpts) (*JSONWebSignature, error) {
	parts := strings.Split(jws, ".")
	if len(parts) != 3 {
		return nil, errors.New("invalid JWS compact format")
	}

	joseHeaders, err := parseCompactJWSHeaders(parts[0])
	if err != nil {
		return nil, err
	}

	payload := opts.detachedPayload
	if payload == nil {
		payload, err = base64.RawURLEncoding.DecodeString(parts[1])
		if err != nil {
			return nil, fmt.Errorf("decode base64 payload: %w", err)
		}
	}

	signature, err := base64.RawURLEncoding.DecodeString(parts[2])
	if err != nil {
		return nil, fmt.Errorf("decode base64 signature: %w", err)
	}

	s := &JSONWebSignature{
		ProtectedHeaders: joseHeaders,
		Payload:          payload,
		signature:        signature,
	}

	if verifier != nil {
		// The received serialized form is the signing input; re-marshalling headers
		// may reorder keys, so verify over the received parts as-is.
		signingInput := parts[0] + "." + parts[1]
		if opts.detachedPayload != nil {
			signingInput = parts[0] + "." + base64.RawURLEncoding.EncodeToString(payload)
		}

		err = verifier.Verify(joseHeaders, payload, []byte(signingInput), signature)
		if err != nil {
			return nil, err
		}
	}

	return s, nil
}

func parseCompactJWSHeaders(headersPart string) (Headers, error) {
	headersBytes, err := base64.RawURLEncoding.DecodeString(headersPart)
	if err != nil {
		return nil, fmt.Errorf("decode base64 header: %w", err)
	}

	var joseHeaders Headers

	err = json.Unmarshal(headersBytes, &joseHeaders)
	if err != nil {
		return nil, fmt.Errorf("unmarshal JSON headers: %w", err)
	}

	if _, ok := joseHeaders.Algorithm(); !ok {
		return nil, errors.New("alg JWS header is not defined")
	}

	return joseHeaders, nil
}
