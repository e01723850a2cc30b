// Package api embeds the OpenAPI document of the hub REST surface.
package api

import _ "embed"

//go:embed openapi.yaml
var OpenAPISpec []byte
