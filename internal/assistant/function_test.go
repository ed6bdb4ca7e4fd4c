package assistant

import (
	"context"
	"reflect"
	"strings"
	"testing"
)

func noopHandler(ctx context.Context, args map[string]any) (any, error) {
	return nil, nil
}

func TestNewFunctionSchema(t *testing.T) {
	fn, err := NewFunction("CMS\\Posts\\Get_Posts", "Get the posts on the site.", []Param{
		{Name: "a", Type: "string", Description: "a search string"},
		{Name: "b", Type: "int", Default: 5},
	}, noopHandler)
	if err != nil {
		t.Fatalf("NewFunction: %v", err)
	}

	if fn.Name != "cms_posts_get_posts" {
		t.Errorf("name = %q", fn.Name)
	}
	if !reflect.DeepEqual(fn.Parameters.Required, []string{"a"}) {
		t.Errorf("required = %v, want [a]", fn.Parameters.Required)
	}
	if got := fn.Parameters.Properties["a"].Type; got != "string" {
		t.Errorf("properties.a.type = %q", got)
	}
	if got := fn.Parameters.Properties["b"].Type; got != "integer" {
		t.Errorf("properties.b.type = %q", got)
	}
	if got := fn.Parameters.Properties["b"].Default; got != 5 {
		t.Errorf("properties.b.default = %v", got)
	}
}

func TestNewFunctionArrayParam(t *testing.T) {
	fn, err := NewFunction("tag_posts", "Tag posts.", []Param{
		{Name: "ids", Type: "int[]"},
	}, noopHandler)
	if err != nil {
		t.Fatalf("NewFunction: %v", err)
	}
	prop := fn.Parameters.Properties["ids"]
	if prop.Type != "array" || prop.Items == nil || prop.Items.Type != "integer" {
		t.Errorf("unexpected array property %+v", prop)
	}
}

func TestNewFunctionUnsupportedType(t *testing.T) {
	_, err := NewFunction("bad", "A function with a bad param.", []Param{
		{Name: "cb", Type: "callable"},
	}, noopHandler)
	if err == nil {
		t.Fatal("unsupported parameter type must fail registration")
	}
	if !strings.Contains(err.Error(), "unsupported type") {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestNormalizeName(t *testing.T) {
	tests := map[string]string{
		"AI\\Dashboard\\Get_Posts": "ai_dashboard_get_posts",
		"site/functions.GetUser":   "site_functions_getuser",
		"simple":                   "simple",
	}
	for in, want := range tests {
		if got := normalizeName(in); got != want {
			t.Errorf("normalizeName(%q) = %q, want %q", in, got, want)
		}
	}
}
