// # internal/engine/tier/structural/grammars.go
package structural

import (
	"strata/internal/lang"

	sitter "github.com/tree-sitter/go-tree-sitter"
	tree_sitter_css "github.com/tree-sitter/tree-sitter-css/bindings/go"
	tree_sitter_go "github.com/tree-sitter/tree-sitter-go/bindings/go"
	tree_sitter_html "github.com/tree-sitter/tree-sitter-html/bindings/go"
	tree_sitter_java "github.com/tree-sitter/tree-sitter-java/bindings/go"
	tree_sitter_javascript "github.com/tree-sitter/tree-sitter-javascript/bindings/go"
	tree_sitter_python "github.com/tree-sitter/tree-sitter-python/bindings/go"
	tree_sitter_rust "github.com/tree-sitter/tree-sitter-rust/bindings/go"
	tree_sitter_typescript "github.com/tree-sitter/tree-sitter-typescript/bindings/go"
)

// loadGrammars binds the statically linked grammars. The language pointers
// stay valid for the process lifetime.
func loadGrammars() map[string]*sitter.Language {
	return map[string]*sitter.Language{
		lang.Go:         sitter.NewLanguage(tree_sitter_go.Language()),
		lang.Python:     sitter.NewLanguage(tree_sitter_python.Language()),
		lang.JavaScript: sitter.NewLanguage(tree_sitter_javascript.Language()),
		lang.TypeScript: sitter.NewLanguage(tree_sitter_typescript.LanguageTypescript()),
		lang.TSX:        sitter.NewLanguage(tree_sitter_typescript.LanguageTSX()),
		lang.Rust:       sitter.NewLanguage(tree_sitter_rust.Language()),
		lang.Java:       sitter.NewLanguage(tree_sitter_java.Language()),
		lang.HTML:       sitter.NewLanguage(tree_sitter_html.Language()),
		lang.CSS:        sitter.NewLanguage(tree_sitter_css.Language()),
	}
}
