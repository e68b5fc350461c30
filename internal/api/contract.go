// # internal/api/contract.go
//
// The embedded OpenAPI document is the API's contract: it is validated at
// server construction, served verbatim on /openapi.yaml, and the parse
// handler's format whitelist is read out of it rather than duplicated in
// code.
package api

import (
	"context"
	_ "embed"
	"fmt"

	"github.com/getkin/kin-openapi/openapi3"

	errs "strata/internal/core/errors"
)

//go:embed openapi.yaml
var contractYAML []byte

func loadContract() (*openapi3.T, error) {
	loader := openapi3.NewLoader()
	doc, err := loader.LoadFromData(contractYAML)
	if err != nil {
		return nil, errs.Wrap(err, errs.CodeAPI, "load openapi contract")
	}
	if doc == nil {
		return nil, errs.New(errs.CodeAPI, "openapi contract resolved to nil document")
	}
	if err := doc.Validate(context.Background()); err != nil {
		return nil, errs.Wrap(err, errs.CodeAPI, "validate openapi contract")
	}
	return doc, nil
}

// contractFormats extracts the report-format enum from the parse operation's
// request schema. A contract without it is a defect caught at startup.
func contractFormats(doc *openapi3.T) (map[string]bool, error) {
	if doc.Paths == nil {
		return nil, errs.New(errs.CodeAPI, "contract has no paths")
	}
	item := doc.Paths.Map()["/v1/parse"]
	if item == nil || item.Post == nil {
		return nil, errs.New(errs.CodeAPI, "contract is missing POST /v1/parse")
	}
	body := item.Post.RequestBody
	if body == nil || body.Value == nil {
		return nil, errs.New(errs.CodeAPI, "parse operation has no request body")
	}
	media := body.Value.Content.Get("application/json")
	if media == nil || media.Schema == nil || media.Schema.Value == nil {
		return nil, errs.New(errs.CodeAPI, "parse request body has no json schema")
	}
	format, ok := media.Schema.Value.Properties["format"]
	if !ok || format.Value == nil || len(format.Value.Enum) == 0 {
		return nil, errs.New(errs.CodeAPI, "parse request schema has no format enum")
	}

	formats := make(map[string]bool, len(format.Value.Enum))
	for _, value := range format.Value.Enum {
		name, ok := value.(string)
		if !ok {
			return nil, errs.New(errs.CodeAPI, fmt.Sprintf("format enum value %v is not a string", value))
		}
		formats[name] = true
	}
	return formats, nil
}

// contractRoutes lists the paths the contract declares, for agreement
// checks against the served mux.
func contractRoutes(doc *openapi3.T) []string {
	if doc.Paths == nil {
		return nil
	}
	pathMap := doc.Paths.Map()
	routes := make([]string, 0, len(pathMap))
	for path := range pathMap {
		routes = append(routes, path)
	}
	return routes
}
