package export

import (
	"bytes"
	"net/url"
	"strings"

	"golang.org/x/net/html"
)

// assetPrefixes are the site-relative locations assets are copied from.
// Bedrock installs serve from /app, stock installs from /wp-*.
var assetPrefixes = []string{"/wp", "/app"}

// extractAssets returns the local script and stylesheet paths referenced by
// page, without query strings. base is the site URL; absolute references to
// its host are treated as local.
func extractAssets(page []byte, base *url.URL) (scripts, styles []string) {
	z := html.NewTokenizer(bytes.NewReader(page))
	for {
		tt := z.Next()
		switch tt {
		case html.ErrorToken:
			return scripts, styles
		case html.StartTagToken, html.SelfClosingTagToken:
			tok := z.Token()
			switch tok.Data {
			case "script":
				if p, ok := localAsset(attr(tok, "src"), base); ok {
					scripts = append(scripts, p)
				}
			case "link":
				if isStylesheet(attr(tok, "rel")) {
					if p, ok := localAsset(attr(tok, "href"), base); ok {
						styles = append(styles, p)
					}
				}
			}
		}
	}
}

func attr(tok html.Token, name string) string {
	for _, a := range tok.Attr {
		if a.Key == name {
			return a.Val
		}
	}
	return ""
}

func isStylesheet(rel string) bool {
	for _, v := range strings.Fields(strings.ToLower(rel)) {
		if v == "stylesheet" {
			return true
		}
	}
	return false
}

func localAsset(ref string, base *url.URL) (string, bool) {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return "", false
	}
	u, err := url.Parse(ref)
	if err != nil {
		return "", false
	}
	if u.Host != "" && (base == nil || !strings.EqualFold(u.Hostname(), base.Hostname())) {
		return "", false
	}
	p := u.Path
	for _, prefix := range assetPrefixes {
		if strings.HasPrefix(p, prefix) {
			return p, true
		}
	}
	return "", false
}
