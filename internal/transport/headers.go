package transport

const DefaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64; rv:128.0) Gecko/20100101 Firefox/128.0"

var (
	commonHeaders = map[string]string{
		"Accept-Language": "en-US,en;q=0.9",
		"Sec-GPC":         "1",
	}
	pageHeaders = map[string]string{
		"Accept":                    "text/html,application/xhtml+xml,application/xml;q=0.9,image/avif,image/webp,*/*;q=0.8",
		"Sec-Fetch-Site":            "same-origin",
		"Sec-Fetch-Mode":            "navigate",
		"Sec-Fetch-Dest":            "document",
		"Upgrade-Insecure-Requests": "1",
	}
	imageHeaders = map[string]string{
		"Accept":         "image/avif,image/webp,image/apng,image/svg+xml,image/*,*/*;q=0.8",
		"Sec-Fetch-Site": "cross-site",
		"Sec-Fetch-Mode": "no-cors",
		"Sec-Fetch-Dest": "image",
	}
)

// PageHeaders returns the browser-like header set for HTML and API requests.
func PageHeaders(userAgent string) map[string]string {
	return MergeHeaders(commonHeaders, pageHeaders, map[string]string{"User-Agent": userAgent})
}

// ImageHeaders returns the header set for image requests. referer is
// usually the source's base URL; sites hotlink-protect on it.
func ImageHeaders(userAgent, referer string) map[string]string {
	h := MergeHeaders(commonHeaders, imageHeaders, map[string]string{"User-Agent": userAgent})
	if referer != "" {
		h["Referer"] = referer
	}
	return h
}

// MergeHeaders combines header sets; later sets win.
func MergeHeaders(sets ...map[string]string) map[string]string {
	out := make(map[string]string)
	for _, set := range sets {
		for k, v := range set {
			out[k] = v
		}
	}
	return out
}
