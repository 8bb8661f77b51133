package network

import "testing"

func TestClassifyResource(t *testing.T) {
	cases := []struct {
		contentType string
		url         string
		want        string
	}{
		{"text/html; charset=utf-8", "https://a.com/", TypeDocument},
		{"text/css", "https://a.com/app.weird", TypeStylesheet},
		{"application/javascript", "https://a.com/x", TypeScript},
		{"image/png", "https://a.com/x", TypeImage},
		{"application/json", "https://a.com/api", TypeXHR},
		{"font/woff2", "https://a.com/x", TypeFont},
		{"video/mp4", "https://a.com/x", TypeMedia},
		// Extension fallback when no content type is known yet.
		{"", "https://a.com/styles/main.css?v=3", TypeStylesheet},
		{"", "https://a.com/bundle.js", TypeScript},
		{"", "https://a.com/logo.svg", TypeImage},
		{"", "https://a.com/font.woff2", TypeFont},
		{"", "https://a.com/api/data", TypeOther},
		// Content type wins over extension.
		{"text/css", "https://a.com/loader.js", TypeStylesheet},
	}
	for _, tc := range cases {
		if got := ClassifyResource(tc.contentType, tc.url); got != tc.want {
			t.Errorf("ClassifyResource(%q, %q) = %q, want %q", tc.contentType, tc.url, got, tc.want)
		}
	}
}

func TestRenderBlockingAndCriticalPath(t *testing.T) {
	if !IsRenderBlocking(TypeStylesheet) {
		t.Error("stylesheets are render-blocking")
	}
	if IsRenderBlocking(TypeScript) {
		t.Error("scripts are not treated as render-blocking")
	}
	if !IsCriticalPath(TypeStylesheet, false) {
		t.Error("stylesheets are on the critical path")
	}
	if !IsCriticalPath(TypeOther, true) {
		t.Error("the main document is on the critical path")
	}
	if IsCriticalPath(TypeImage, false) {
		t.Error("images are not on the critical path")
	}
}
