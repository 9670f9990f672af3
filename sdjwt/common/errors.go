/*
Copyright Claimset Contributors. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package common

import "errors"

// Error taxonomy of the SD-JWT engines. Every terminal failure wraps one of these
// sentinels so that callers can classify it with errors.Is without parsing messages.
// Verification errors are definitional, not transient: callers receive either a fully
// verified claim set or one of these.
var (
	// ErrEncoding indicates an artifact that is not parseable per the combined format grammar.
	ErrEncoding = errors.New("malformed artifact")

	// ErrInvalidSignature indicates that the SD-JWT or the holder verification JWT
	// signature failed verification.
	ErrInvalidSignature = errors.New("invalid signature")

	// ErrUnresolvedDigest indicates a presented disclosure whose digest is not
	// referenced anywhere in the issuer-signed payload.
	ErrUnresolvedDigest = errors.New("unresolved disclosure digest")

	// ErrDuplicateDigest indicates a digest collision between disclosures, or a digest
	// referenced in more than one place of the payload.
	ErrDuplicateDigest = errors.New("duplicate disclosure digest")

	// ErrExpired indicates that the exp claim has passed.
	ErrExpired = errors.New("credential is expired")

	// ErrNotYetValid indicates violation of the nbf or iat claims.
	ErrNotYetValid = errors.New("credential is not valid yet")

	// ErrHolderBinding indicates a holder verification JWT that is present but invalid
	// or mismatched against the expected nonce/audience.
	ErrHolderBinding = errors.New("invalid holder verification")

	// ErrMissingBinding indicates that holder verification is required by policy but absent.
	ErrMissingBinding = errors.New("holder verification is required")

	// ErrPolicy indicates an issuer-side disclosure policy misconfiguration.
	ErrPolicy = errors.New("disclosure policy error")

	// ErrUnknownClaimSelected indicates a holder selection that references no known disclosure.
	ErrUnknownClaimSelected = errors.New("unknown claim selected")

	// ErrMissingBindingKey indicates a credential issued with holder binding for which
	// no holder signing key was supplied at presentation time.
	ErrMissingBindingKey = errors.New("missing holder binding key")
)
