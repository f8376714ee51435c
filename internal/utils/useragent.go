package utils

import (
	"fmt"

	"github.com/medama-io/go-useragent"
)

var uaParser = useragent.NewParser()

// DescribeUserAgent turns a user agent string into peer metadata entries.
func DescribeUserAgent(inputUA string) map[string]string {
	if inputUA == "" {
		return nil
	}
	ua := uaParser.Parse(inputUA)

	md := map[string]string{"userAgent": inputUA}
	if browser := fmt.Sprint(ua.Browser()); browser != "" {
		md["browser"] = browser
	}
	if os := fmt.Sprint(ua.OS()); os != "" {
		md["os"] = os
	}
	return md
}
