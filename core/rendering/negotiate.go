package rendering

import "github.com/munnerz/goautoneg"

// Supported media types.
const (
	MediaTextPlain = "text/plain"
	MediaTextOCCI  = "text/occi"
	MediaURIList   = "text/uri-list"
	MediaJSON      = "application/json"
)

// offered is in preference order; the first entry is the default.
var offered = []string{MediaTextPlain, MediaTextOCCI, MediaURIList, MediaJSON}

// Negotiate picks the response media type from an Accept header. An empty
// header or one that matches nothing yields text/plain.
func Negotiate(accept string) string {
	if accept == "" {
		return MediaTextPlain
	}
	if mt := goautoneg.Negotiate(accept, offered); mt != "" {
		return mt
	}
	return MediaTextPlain
}
