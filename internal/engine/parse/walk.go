// # internal/engine/parse/walk.go
package parse

import "fmt"

// Declaration trees can be arbitrarily deep on generated input, so every
// traversal here runs on an explicit stack instead of the call stack.

// CloneDeclarations deep-copies a declaration forest.
func CloneDeclarations(decls []Declaration) []Declaration {
	if decls == nil {
		return nil
	}
	out := make([]Declaration, len(decls))
	copy(out, decls)

	stack := [][]Declaration{out}
	for len(stack) > 0 {
		cur := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		for i := range cur {
			if cur[i].Modifiers != nil {
				m := make(map[string]bool, len(cur[i].Modifiers))
				for k, v := range cur[i].Modifiers {
					m[k] = v
				}
				cur[i].Modifiers = m
			}
			if cur[i].Children != nil {
				ch := make([]Declaration, len(cur[i].Children))
				copy(ch, cur[i].Children)
				cur[i].Children = ch
				stack = append(stack, ch)
			}
		}
	}
	return out
}

// CloneDeclaration deep-copies one declaration and its subtree.
func CloneDeclaration(d Declaration) Declaration {
	return CloneDeclarations([]Declaration{d})[0]
}

// CountDeclarations counts every declaration at every depth.
func CountDeclarations(decls []Declaration) int {
	count := 0
	stack := [][]Declaration{decls}
	for len(stack) > 0 {
		cur := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		count += len(cur)
		for i := range cur {
			if len(cur[i].Children) > 0 {
				stack = append(stack, cur[i].Children)
			}
		}
	}
	return count
}

type containFrame struct {
	d  *Declaration
	lo int
	hi int
}

// ValidateContainment checks start <= end on every declaration and that
// children lie inside their parent's range. lo/hi of zero means no
// enclosing range applies.
func ValidateContainment(decls []Declaration) error {
	stack := make([]containFrame, 0, len(decls))
	for i := range decls {
		stack = append(stack, containFrame{d: &decls[i]})
	}
	for len(stack) > 0 {
		f := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		if f.d.StartLine > f.d.EndLine {
			return fmt.Errorf("declaration %q: start_line %d > end_line %d", f.d.Name, f.d.StartLine, f.d.EndLine)
		}
		if f.hi > 0 && (f.d.StartLine < f.lo || f.d.EndLine > f.hi) {
			return fmt.Errorf("declaration %q: range %d-%d escapes parent range %d-%d", f.d.Name, f.d.StartLine, f.d.EndLine, f.lo, f.hi)
		}
		for i := range f.d.Children {
			stack = append(stack, containFrame{d: &f.d.Children[i], lo: f.d.StartLine, hi: f.d.EndLine})
		}
	}
	return nil
}

// Clone builds an independent copy of the result. The merger relies on
// this to never mutate its inputs.
func (r *Result) Clone() *Result {
	if r == nil {
		return nil
	}
	out := *r
	out.Declarations = CloneDeclarations(r.Declarations)
	if r.Imports != nil {
		out.Imports = make([]Import, len(r.Imports))
		copy(out.Imports, r.Imports)
	}
	if r.MissedFeatures != nil {
		out.MissedFeatures = make(map[string]bool, len(r.MissedFeatures))
		for k, v := range r.MissedFeatures {
			out.MissedFeatures[k] = v
		}
	}
	if r.SecurityIssues != nil {
		out.SecurityIssues = make([]SecurityIssue, len(r.SecurityIssues))
		copy(out.SecurityIssues, r.SecurityIssues)
	}
	return &out
}
