/*
Copyright Claimset Contributors. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package maphelpers

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCopyMap(t *testing.T) {
	r := require.New(t)

	original := map[string]interface{}{
		"scalar": "value",
		"nested": map[string]interface{}{
			"inner": "value",
		},
		"list": []interface{}{
			"element",
			map[string]interface{}{"...": "digestValue"},
		},
	}

	copied := CopyMap(original)
	r.Equal(original, copied)

	// mutating the copy must not touch the source
	copied["scalar"] = "changed"
	copied["nested"].(map[string]interface{})["inner"] = "changed"
	copied["list"].([]interface{})[0] = "changed"
	copied["list"].([]interface{})[1].(map[string]interface{})["..."] = "changed"

	r.Equal("value", original["scalar"])
	r.Equal("value", original["nested"].(map[string]interface{})["inner"])
	r.Equal("element", original["list"].([]interface{})[0])
	r.Equal("digestValue", original["list"].([]interface{})[1].(map[string]interface{})["..."])
}
