package keys

import (
	"path"
	"strings"
)

// RenderEngineRaw is the only rendering engine currently implemented.
// Other engine names parse successfully but are reported as
// unsupported by the handler layer.
const RenderEngineRaw = "raw"

// KeyPair is the result of resolving an upload target.
type KeyPair struct {
	// FullKey addresses the original blob, e.g. "acme/photos/cat.jpg".
	FullKey string
	// KeyBase is FullKey with its extension removed. It is the stable
	// identity under which the metadata sidecar and all derived
	// variants are filed.
	KeyBase string
}

// RenderRequest is a parsed item-retrieval path.
type RenderRequest struct {
	Path   string
	Engine string
}

// DeriveKeys maps a URL path segment plus the uploaded file name onto
// the storage key pair. If the path already carries the upload's
// extension it is used as-is; otherwise the upload's extension is
// appended. A path whose extension differs from the upload's still gets
// the upload extension appended so no byte of the user's name is lost.
func DeriveKeys(pathParam, uploadName string) KeyPair {
	uploadExt := strings.ToLower(path.Ext(uploadName))
	urlExt := strings.ToLower(path.Ext(pathParam))

	fullKey := pathParam
	if urlExt == "" || urlExt != uploadExt {
		fullKey = pathParam + uploadExt
	}

	keyBase := fullKey
	if uploadExt != "" {
		keyBase = fullKey[:len(fullKey)-len(uploadExt)]
	}

	return KeyPair{FullKey: fullKey, KeyBase: keyBase}
}

// ParseRenderRequest splits "foo/bar.png#raw" into its path and engine
// parts. The engine defaults to "raw" when absent.
func ParseRenderRequest(raw string) RenderRequest {
	p, engine, found := strings.Cut(raw, "#")
	if !found || engine == "" {
		engine = RenderEngineRaw
	}
	return RenderRequest{Path: p, Engine: engine}
}

// Ext returns the extension of key without the leading dot, lowercased.
func Ext(key string) string {
	return strings.TrimPrefix(strings.ToLower(path.Ext(key)), ".")
}

// TrimExt strips the final extension from key, if any.
func TrimExt(key string) string {
	if ext := path.Ext(key); ext != "" {
		return key[:len(key)-len(ext)]
	}
	return key
}

// mimeByExt maps common file extensions to MIME types for entries that
// predate sidecar metadata.
var mimeByExt = map[string]string{
	"png":  "image/png",
	"jpg":  "image/jpeg",
	"jpeg": "image/jpeg",
	"gif":  "image/gif",
	"webp": "image/webp",
	"jfif": "image/jpeg",
	"mp4":  "video/mp4",
	"webm": "video/webm",
	"mp3":  "audio/mpeg",
	"wav":  "audio/wav",
	"pdf":  "application/pdf",
	"txt":  "text/plain",
	"csv":  "text/csv",
	"json": "application/json",
	"xml":  "application/xml",
	"html": "text/html",
	"css":  "text/css",
	"js":   "application/javascript",
}

// InferMIMEType guesses a content type from the key's extension,
// falling back to application/octet-stream.
func InferMIMEType(key string) string {
	if mt, ok := mimeByExt[Ext(key)]; ok {
		return mt
	}
	return "application/octet-stream"
}
