/*
Copyright Claimset Contributors. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

// Package maphelpers provides claim-map helpers shared by the SD-JWT engines.
package maphelpers

// CopyMap performs a deep copy of the map, descending into nested maps and
// slices. Array elements carry selective disclosure digests, so slices must
// not stay shared with the source.
func CopyMap(m map[string]interface{}) map[string]interface{} {
	cm := make(map[string]interface{})

	for k, v := range m {
		cm[k] = copyValue(v)
	}

	return cm
}

func copyValue(v interface{}) interface{} {
	switch typedValue := v.(type) {
	case map[string]interface{}:
		return CopyMap(typedValue)
	case []interface{}:
		cs := make([]interface{}, len(typedValue))

		for i, element := range typedValue {
			cs[i] = copyValue(element)
		}

		return cs
	default:
		return v
	}
}
