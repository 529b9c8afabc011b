// SPDX-License-Identifier: MIT

package api

import _ "embed"

// OpenAPISpec is the embedded API contract. The contract test keeps it in
// lockstep with the router.
//
//go:embed openapi.yaml
var OpenAPISpec []byte
