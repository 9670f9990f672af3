/*
Copyright Claimset Contributors. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package issuer

import (
	"encoding/base64"
	"fmt"
	"strings"

	"github.com/claimset/sdjwt-go/sdjwt/common"
)

// disclosureEntity is a created disclosure with its encoding and digest.
type disclosureEntity struct {
	Salt   string
	Key    string
	Value  interface{}
	Result string
	Digest string
}

// builder walks the claims tree and produces disclosures and the digest map
// that replaces selectively disclosable claims in the payload.
type builder struct {
	opts         *newOpts
	decoyDigests []string
}

// createDisclosuresAndDigests processes one object level. Object claims are
// replaced by digests collected in the level's _sd array; array elements are
// replaced in place by {"...": digest}.
func (b *builder) createDisclosuresAndDigests( // nolint:funlen,gocyclo
	path string, claims map[string]interface{}) ([]*disclosureEntity, map[string]interface{}, error) {
	var disclosures []*disclosureEntity

	var levelEntities []*disclosureEntity

	digestsMap := make(map[string]interface{})

	for key, value := range claims {
		curPath := key
		if path != "" {
			curPath = path + "." + key
		}

		if !b.selectivelyDisclosable(curPath) {
			digestsMap[key] = value

			continue
		}

		switch typedValue := value.(type) {
		case map[string]interface{}:
			switch {
			case b.isRecursive(curPath):
				nestedDisclosures, nestedDigestsMap, err := b.createDisclosuresAndDigests(curPath, typedValue)
				if err != nil {
					return nil, nil, err
				}

				disclosure, err := b.createDisclosure(key, nestedDigestsMap)
				if err != nil {
					return nil, nil, fmt.Errorf("create disclosure: %w", err)
				}

				disclosures = append(disclosures, nestedDisclosures...)
				levelEntities = append(levelEntities, disclosure)
			case b.keepObjectStructure(curPath):
				nestedDisclosures, nestedDigestsMap, err := b.createDisclosuresAndDigests(curPath, typedValue)
				if err != nil {
					return nil, nil, err
				}

				digestsMap[key] = nestedDigestsMap

				disclosures = append(disclosures, nestedDisclosures...)
			default:
				disclosure, err := b.createDisclosure(key, typedValue)
				if err != nil {
					return nil, nil, fmt.Errorf("create disclosure: %w", err)
				}

				levelEntities = append(levelEntities, disclosure)
			}
		case []interface{}:
			digestArr := make([]interface{}, 0, len(typedValue))

			for _, element := range typedValue {
				disclosure, err := b.createDisclosure("", element)
				if err != nil {
					return nil, nil, fmt.Errorf("create array element disclosure: %w", err)
				}

				disclosures = append(disclosures, disclosure)
				digestArr = append(digestArr, map[string]interface{}{
					common.ArrayElementDigestKey: disclosure.Digest,
				})
			}

			digestsMap[key] = digestArr
		default:
			disclosure, err := b.createDisclosure(key, value)
			if err != nil {
				return nil, nil, fmt.Errorf("create disclosure: %w", err)
			}

			levelEntities = append(levelEntities, disclosure)
		}
	}

	disclosures = append(disclosures, levelEntities...)

	digests, err := b.createDigests(levelEntities)
	if err != nil {
		return nil, nil, err
	}

	if len(digests) > 0 {
		digestsMap[common.SDKey] = digests
	}

	return disclosures, digestsMap, nil
}

// createDisclosure encodes one disclosure. An empty key produces a
// two-element array element disclosure.
func (b *builder) createDisclosure(key string, value interface{}) (*disclosureEntity, error) {
	salt, err := b.opts.getSalt()
	if err != nil {
		return nil, fmt.Errorf("generate salt: %w", err)
	}

	disclosure := []interface{}{salt}
	if key != "" {
		disclosure = append(disclosure, key)
	}

	disclosure = append(disclosure, value)

	disclosureBytes, err := b.opts.jsonMarshal(disclosure)
	if err != nil {
		return nil, fmt.Errorf("marshal disclosure: %w", err)
	}

	result := base64.RawURLEncoding.EncodeToString(disclosureBytes)

	digest, err := common.GetHash(b.opts.HashAlg, result)
	if err != nil {
		return nil, fmt.Errorf("hash disclosure: %w", err)
	}

	return &disclosureEntity{
		Salt:   salt,
		Key:    key,
		Value:  value,
		Result: result,
		Digest: digest,
	}, nil
}

// createDigests collects digests of a level's disclosures, mixes in decoy
// digests and shuffles, so digest order reveals nothing about claim order.
func (b *builder) createDigests(levelEntities []*disclosureEntity) ([]string, error) {
	var digests []string

	for _, disclosure := range levelEntities {
		digests = append(digests, disclosure.Digest)
	}

	decoys, err := b.createDecoyDigests()
	if err != nil {
		return nil, err
	}

	digests = append(digests, decoys...)

	mr.Shuffle(len(digests), func(i, j int) {
		digests[i], digests[j] = digests[j], digests[i]
	})

	return digests, nil
}

// createDecoyDigests hashes fresh salts, so decoys are indistinguishable from
// real disclosure digests.
func (b *builder) createDecoyDigests() ([]string, error) {
	if b.opts.decoyStrategy == nil {
		return nil, nil
	}

	n := b.opts.decoyStrategy.Count()

	var decoys []string

	for i := 0; i < n; i++ {
		salt, err := b.opts.getSalt()
		if err != nil {
			return nil, err
		}

		digest, err := common.GetHash(b.opts.HashAlg, salt)
		if err != nil {
			return nil, err
		}

		decoys = append(decoys, digest)
	}

	b.decoyDigests = append(b.decoyDigests, decoys...)

	return decoys, nil
}

func (b *builder) selectivelyDisclosable(path string) bool {
	if b.opts.nonSDClaimsMap[path] {
		return false
	}

	if b.opts.sdClaimsAllowList != nil {
		return b.allowListed(path)
	}

	return true
}

// allowListed reports whether the path or any of its descendants is in the
// allow list.
func (b *builder) allowListed(path string) bool {
	if b.opts.sdClaimsAllowList[path] {
		return true
	}

	prefix := path + "."
	for p := range b.opts.sdClaimsAllowList {
		if strings.HasPrefix(p, prefix) {
			return true
		}
	}

	return false
}

func (b *builder) isRecursive(path string) bool {
	return b.opts.recursiveClaimMap[path]
}

// keepObjectStructure reports whether an object claim keeps its shape in the
// payload with a nested _sd array instead of being disclosed as a whole.
func (b *builder) keepObjectStructure(path string) bool {
	if b.opts.structuredClaims || b.opts.alwaysInclude[path] {
		return true
	}

	// A path allowed only through a descendant entry must keep its structure,
	// otherwise claims outside the allow list would leak into a disclosure.
	return b.opts.sdClaimsAllowList != nil && !b.opts.sdClaimsAllowList[path]
}
