package normalize_test

import (
	"testing"

	"github.com/n9te9/federation-router/federation/normalize"
	"github.com/n9te9/graphql-parser/ast"
	"github.com/n9te9/graphql-parser/lexer"
	"github.com/n9te9/graphql-parser/parser"
	"github.com/stretchr/testify/require"
)

func parseDoc(t *testing.T, query string) *ast.Document {
	t.Helper()
	l := lexer.New(query)
	p := parser.New(l)
	doc := p.ParseDocument()
	require.Empty(t, p.Errors())
	return doc
}

func rootSelections(t *testing.T, doc *ast.Document) []ast.Selection {
	t.Helper()
	for _, def := range doc.Definitions {
		if op, ok := def.(*ast.OperationDefinition); ok {
			return op.SelectionSet
		}
	}
	t.Fatal("document defines no operation")
	return nil
}

func TestNormalize_MergesDuplicateSiblingsWithSameArguments(t *testing.T) {
	doc := parseDoc(t, `{ product(id: "1") { name } product(id: "1") { price } }`)

	normalized, aliases, err := normalize.Normalize(doc, "")
	require.NoError(t, err)
	require.Empty(t, aliases)

	selections := rootSelections(t, normalized)
	require.Len(t, selections, 1)

	field := selections[0].(*ast.Field)
	require.Equal(t, "product", field.Name.String())
	require.Len(t, field.SelectionSet, 2)
}

func TestNormalize_InlinesFragmentSpreads(t *testing.T) {
	doc := parseDoc(t, `{
		product(id: "1") { ...ProductFields }
	}
	fragment ProductFields on Product { id name }`)

	normalized, _, err := normalize.Normalize(doc, "")
	require.NoError(t, err)

	for _, def := range normalized.Definitions {
		_, isFrag := def.(*ast.FragmentDefinition)
		require.False(t, isFrag, "fragment definitions must not survive normalization")
	}

	field := rootSelections(t, normalized)[0].(*ast.Field)
	require.Len(t, field.SelectionSet, 2)
}

func TestNormalize_DropsStaticallyFalseSkip(t *testing.T) {
	doc := parseDoc(t, `{ product(id: "1") { name @skip(if: true) price } }`)

	normalized, _, err := normalize.Normalize(doc, "")
	require.NoError(t, err)

	field := rootSelections(t, normalized)[0].(*ast.Field)
	require.Len(t, field.SelectionSet, 1)
	require.Equal(t, "price", field.SelectionSet[0].(*ast.Field).Name.String())
}

func TestNormalize_KeepsVariableDrivenIncludeForPlanning(t *testing.T) {
	doc := parseDoc(t, `query($show: Boolean!) { product(id: "1") { name @include(if: $show) } }`)

	normalized, _, err := normalize.Normalize(doc, "")
	require.NoError(t, err)

	field := rootSelections(t, normalized)[0].(*ast.Field)
	require.Len(t, field.SelectionSet, 1)
	name := field.SelectionSet[0].(*ast.Field)
	require.Len(t, name.Directives, 1)
	require.Equal(t, "include", name.Directives[0].Name)
}

func TestNormalize_AliasesCollidingResponseKeyWithDifferentArguments(t *testing.T) {
	doc := parseDoc(t, `{ product(id: "1") { name } product(id: "2") { price } }`)

	normalized, aliases, err := normalize.Normalize(doc, "")
	require.NoError(t, err)
	require.Len(t, aliases, 1)
	require.Equal(t, "product", aliases[0].OriginalKey)
	require.Empty(t, aliases[0].Path)

	selections := rootSelections(t, normalized)
	require.Len(t, selections, 2)

	first := selections[0].(*ast.Field)
	require.Equal(t, "product", first.Name.String())
	require.Nil(t, first.Alias)

	second := selections[1].(*ast.Field)
	require.Equal(t, "product", second.Name.String())
	require.NotNil(t, second.Alias)
	require.Equal(t, aliases[0].Generated, second.Alias.String())
}

func TestReverseAliases_FoldsGeneratedKeyBackUnderOriginal(t *testing.T) {
	data := map[string]interface{}{
		"product":                  map[string]interface{}{"name": "widget"},
		"_internal_qp_alias_0": map[string]interface{}{"price": 42},
	}
	aliases := []normalize.Alias{{Generated: "_internal_qp_alias_0", OriginalKey: "product", Path: nil}}

	got := normalize.ReverseAliases(data, aliases)

	_, stillPresent := got["_internal_qp_alias_0"]
	require.False(t, stillPresent)
	require.Equal(t, map[string]interface{}{"name": "widget"}, got["product"])
}

func TestReverseAliases_NestedPathLocatesParentObject(t *testing.T) {
	data := map[string]interface{}{
		"me": map[string]interface{}{
			"cart":                     map[string]interface{}{"name": "winner"},
			"_internal_qp_alias_0": map[string]interface{}{"name": "loser"},
		},
	}
	aliases := []normalize.Alias{{Generated: "_internal_qp_alias_0", OriginalKey: "cart", Path: []string{"me"}}}

	got := normalize.ReverseAliases(data, aliases)

	me := got["me"].(map[string]interface{})
	_, stillPresent := me["_internal_qp_alias_0"]
	require.False(t, stillPresent)
	require.Equal(t, map[string]interface{}{"name": "winner"}, me["cart"])
}
