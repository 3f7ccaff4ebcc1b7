package offlinecache

import (
	"net/http"
	"path"
	"strings"
)

// Destination is the kind of resource a request is for, as reported by
// the Sec-Fetch-Dest header.
type Destination string

const (
	DestinationEmpty    Destination = ""
	DestinationDocument Destination = "document"
	DestinationStyle    Destination = "style"
	DestinationScript   Destination = "script"
	DestinationImage    Destination = "image"
	DestinationFont     Destination = "font"
	DestinationIFrame   Destination = "iframe"
	DestinationFrame    Destination = "frame"
)

const (
	headerSecFetchDest = "Sec-Fetch-Dest"
	headerSecFetchMode = "Sec-Fetch-Mode"
)

var extensionDestinations = map[string]Destination{
	".css":  DestinationStyle,
	".js":   DestinationScript,
	".mjs":  DestinationScript,
	".png":  DestinationImage,
	".jpg":  DestinationImage,
	".jpeg": DestinationImage,
	".gif":  DestinationImage,
	".svg":  DestinationImage,
	".webp": DestinationImage,
	".ico":  DestinationImage,
	".avif": DestinationImage,
}

// RequestDestination classifies r. Browsers send Sec-Fetch-Dest; for other
// clients a navigation mode means a document and the path extension decides
// the rest.
func RequestDestination(r *http.Request) Destination {
	if d := strings.ToLower(strings.TrimSpace(r.Header.Get(headerSecFetchDest))); d != "" && d != "empty" {
		return Destination(d)
	}
	if strings.EqualFold(r.Header.Get(headerSecFetchMode), "navigate") {
		return DestinationDocument
	}
	if d, ok := extensionDestinations[strings.ToLower(path.Ext(r.URL.Path))]; ok {
		return d
	}
	return DestinationEmpty
}

// isDocument reports whether a failed r may be answered with a fallback
// document. Framed documents count as documents too.
func isDocument(r *http.Request) bool {
	switch RequestDestination(r) {
	case DestinationDocument, DestinationIFrame, DestinationFrame:
		return true
	}
	return false
}
