// # internal/engine/tier/structural/queries.go
package structural

import "strata/internal/lang"

// Query names, used as the second half of the compiled-query cache key.
const (
	queryDeclarations = "declarations"
	queryImports      = "imports"
)

// Declaration queries capture the declaration node under its normalized
// kind name plus the name node as @name. Name nodes are matched with a
// wildcard so minor grammar revisions don't invalidate the pattern.

const goDecls = `
(function_declaration name: (_) @name) @function
(method_declaration name: (_) @name) @function
(type_declaration (type_spec name: (_) @name)) @type
(const_declaration (const_spec name: (identifier) @name)) @variable
(var_declaration (var_spec name: (identifier) @name)) @variable
`

const goImports = `
(import_spec path: (_) @path) @import
`

const pythonDecls = `
(function_definition name: (_) @name) @function
(class_definition name: (_) @name) @container
(module (expression_statement (assignment left: (identifier) @name) @variable))
`

const pythonImports = `
(import_statement) @import
(import_from_statement) @import
`

const javascriptDecls = `
(function_declaration name: (_) @name) @function
(generator_function_declaration name: (_) @name) @function
(class_declaration name: (_) @name) @container
(method_definition name: (_) @name) @function
(lexical_declaration (variable_declarator name: (identifier) @name)) @variable
(variable_declaration (variable_declarator name: (identifier) @name)) @variable
`

const javascriptImports = `
(import_statement) @import
`

const typescriptDecls = javascriptDecls + `
(interface_declaration name: (_) @name) @type
(type_alias_declaration name: (_) @name) @type
(enum_declaration name: (_) @name) @type
`

const rustDecls = `
(function_item name: (_) @name) @function
(struct_item name: (_) @name) @type
(enum_item name: (_) @name) @type
(trait_item name: (_) @name) @type
(mod_item name: (_) @name) @container
(impl_item type: (_) @name) @container
(const_item name: (_) @name) @variable
(static_item name: (_) @name) @variable
`

const rustImports = `
(use_declaration) @import
`

const javaDecls = `
(class_declaration name: (_) @name) @container
(interface_declaration name: (_) @name) @type
(enum_declaration name: (_) @name) @type
(method_declaration name: (_) @name) @function
(constructor_declaration name: (_) @name) @function
(field_declaration (variable_declarator name: (_) @name)) @variable
`

const javaImports = `
(import_declaration) @import
`

const htmlDecls = `
(script_element (start_tag (tag_name) @name)) @container
(style_element (start_tag (tag_name) @name)) @container
`

const cssDecls = `
(rule_set (selectors) @name) @container
(media_statement) @container
`

const cssImports = `
(import_statement) @import
`

type querySet struct {
	decls   string
	imports string
}

var queries = map[string]querySet{
	lang.Go:         {decls: goDecls, imports: goImports},
	lang.Python:     {decls: pythonDecls, imports: pythonImports},
	lang.JavaScript: {decls: javascriptDecls, imports: javascriptImports},
	lang.TypeScript: {decls: typescriptDecls, imports: javascriptImports},
	lang.TSX:        {decls: typescriptDecls, imports: javascriptImports},
	lang.Rust:       {decls: rustDecls, imports: rustImports},
	lang.Java:       {decls: javaDecls, imports: javaImports},
	lang.HTML:       {decls: htmlDecls},
	lang.CSS:        {decls: cssDecls, imports: cssImports},
}
