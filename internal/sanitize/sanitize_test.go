package sanitize

import "testing"

func TestValue_StripsHTMLTags(t *testing.T) {
	value, _ := Value("<b>Important</b>")
	if value != "Important" {
		t.Fatalf("expected tags stripped, got %q", value)
	}
}

func TestValue_ExtractsHref(t *testing.T) {
	value, extractedURL := Value(`<a href="https://example.com/doc?id=1">View</a>`)
	if value != "View" {
		t.Fatalf("expected inner text 'View', got %q", value)
	}
	if extractedURL != "https://example.com/doc?id=1" {
		t.Fatalf("expected extracted URL, got %q", extractedURL)
	}
}

func TestValue_DecodesHTMLEntities(t *testing.T) {
	value, _ := Value("Tom &amp; Jerry &lt;show&gt;")
	if value != "Tom & Jerry show" {
		t.Fatalf("unexpected decode result: %q", value)
	}
}

func TestValue_DecodesNumericEntity(t *testing.T) {
	value, _ := Value("Caf&#233;")
	if value != "Café" {
		t.Fatalf("expected numeric entity decoded, got %q", value)
	}
}

func TestValue_PercentDecodesURL(t *testing.T) {
	value, _ := Value("https://example.com/path%20with%20spaces?q=a%26b")
	if value != "https://example.com/path with spaces?q=a&b" {
		t.Fatalf("unexpected decode result: %q", value)
	}
}

func TestValue_StripsControlCharactersExceptTabNewlineCR(t *testing.T) {
	value, _ := Value("line1\tline2\nline3\rline4\x00\x07end")
	if value != "line1\tline2\nline3\rline4end" {
		t.Fatalf("unexpected sanitized value: %q", value)
	}
}

func TestValue_PlainValueUnchanged(t *testing.T) {
	value, extractedURL := Value("a normal value")
	if value != "a normal value" || extractedURL != "" {
		t.Fatalf("expected passthrough, got value=%q url=%q", value, extractedURL)
	}
}

func TestFieldName_ReplacesSpecialCharacters(t *testing.T) {
	cases := map[string]string{
		"user@domain.com":  "user_at_domain_dot_com",
		"price$total":       "price_dollar_total",
		"Title":             "Title",
		"a@@b":              "a_at_at_b",
		"a.b.c":             "a_dot_b_dot_c",
	}
	for input, want := range cases {
		if got := FieldName(input); got != want {
			t.Errorf("FieldName(%q) = %q, want %q", input, got, want)
		}
	}
}

func TestFields_SanitizesValuesAndKeys(t *testing.T) {
	in := map[string]interface{}{
		"author@email": `<a href="https://x.com/u">u@x.com</a>`,
		"size":         959868,
	}
	out := Fields(in)

	if out["author_at_email"] != "u@x.com" {
		t.Fatalf("expected sanitized value, got %+v", out)
	}
	if out["author_at_email_url"] != "https://x.com/u" {
		t.Fatalf("expected extracted URL sub-field, got %+v", out)
	}
	if out["size"] != 959868 {
		t.Fatalf("expected non-string values to pass through unchanged, got %+v", out)
	}
}

func TestFields_KeysMatchAllowedCharset(t *testing.T) {
	in := map[string]interface{}{
		"a@b.c$d": "value",
	}
	out := Fields(in)
	for k := range out {
		for _, r := range k {
			if !((r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') || r == '_') {
				t.Fatalf("key %q contains disallowed character %q", k, r)
			}
		}
	}
}
