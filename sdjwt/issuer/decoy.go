/*
Copyright Claimset Contributors. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package issuer

const (
	decoyMinElements = 1
	decoyMaxElements = 4
)

// DecoyStrategy controls how many decoy digests are added to each _sd array.
type DecoyStrategy interface {
	Count() int
}

// RandomDecoyStrategy adds between one and four decoy digests per _sd array.
type RandomDecoyStrategy struct{}

// Count returns a random decoy count.
func (RandomDecoyStrategy) Count() int {
	return mr.Intn(decoyMaxElements-decoyMinElements+1) + decoyMinElements
}

// FixedDecoyStrategy adds a fixed number of decoy digests per _sd array.
type FixedDecoyStrategy struct {
	N int
}

// Count returns the configured decoy count.
func (s FixedDecoyStrategy) Count() int {
	return s.N
}
