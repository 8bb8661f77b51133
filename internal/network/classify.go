package network

import (
	"net/url"
	"path"
	"strings"
)

// Resource type tags used in classification and per-type aggregates.
const (
	TypeDocument   = "document"
	TypeStylesheet = "stylesheet"
	TypeScript     = "script"
	TypeImage      = "image"
	TypeFont       = "font"
	TypeXHR        = "xhr"
	TypeMedia      = "media"
	TypeOther      = "other"
)

var contentTypeTags = []struct {
	fragment string
	tag      string
}{
	{"text/html", TypeDocument},
	{"text/css", TypeStylesheet},
	{"javascript", TypeScript},
	{"ecmascript", TypeScript},
	{"image/", TypeImage},
	{"font", TypeFont},
	{"json", TypeXHR},
	{"xml", TypeXHR},
	{"audio/", TypeMedia},
	{"video/", TypeMedia},
}

var extensionTags = map[string]string{
	".html": TypeDocument,
	".htm":  TypeDocument,
	".css":  TypeStylesheet,
	".js":   TypeScript,
	".mjs":  TypeScript,
	".png":  TypeImage,
	".jpg":  TypeImage,
	".jpeg": TypeImage,
	".gif":  TypeImage,
	".webp": TypeImage,
	".svg":  TypeImage,
	".ico":  TypeImage,
	".woff": TypeFont,
	".ttf":  TypeFont,
	".otf":  TypeFont,
	".json": TypeXHR,
	".mp3":  TypeMedia,
	".mp4":  TypeMedia,
	".webm": TypeMedia,
	".ogg":  TypeMedia,
}

// ClassifyResource tags a request by its content-type header first, falling
// back to the URL's file extension.
func ClassifyResource(contentType, rawURL string) string {
	ct := strings.ToLower(contentType)
	for _, entry := range contentTypeTags {
		if strings.Contains(ct, entry.fragment) {
			return entry.tag
		}
	}
	if ext := urlExtension(rawURL); ext != "" {
		if strings.HasPrefix(ext, ".woff") {
			return TypeFont
		}
		if tag, ok := extensionTags[ext]; ok {
			return tag
		}
	}
	return TypeOther
}

// IsRenderBlocking reports whether a resource type delays first paint. Only
// stylesheets are treated as render-blocking.
func IsRenderBlocking(resourceType string) bool {
	return resourceType == TypeStylesheet
}

// IsCriticalPath reports whether a resource gates first render: the main
// document or any stylesheet.
func IsCriticalPath(resourceType string, isMainDocument bool) bool {
	return isMainDocument || resourceType == TypeStylesheet
}

func urlExtension(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	return strings.ToLower(path.Ext(u.Path))
}

func hostOf(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	return u.Host
}
