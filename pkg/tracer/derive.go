package tracer

import (
	"fmt"
	"math"
	"net/url"
	"sort"
	"strings"

	"github.com/spf13/cast"
)

// Tag keys the derivation reads.
const (
	TagHTTPMethod = "http.method"
	TagHTTPURL    = "http.url"
	TagHTTPURI    = "http.uri"
	TagHTTPPath   = "http.path"
	TagComponent  = "component"
)

const defaultEndpointType = "HTTP"

// PropertyType tags the value of a Property.
type PropertyType string

const (
	PropertyNumber PropertyType = "Number"
	PropertyText   PropertyType = "Text"
)

// Property is a typed tag. Value is a float64 for Number, a string for Text.
type Property struct {
	Name  string       `json:"name"`
	Value interface{}  `json:"value"`
	Type  PropertyType `json:"type"`
}

// DeriveOperation returns the operation name, else the http.method tag.
func DeriveOperation(operationName string, tags map[string]interface{}) string {
	if operationName != "" {
		return operationName
	}
	return cast.ToString(tags[TagHTTPMethod])
}

// DeriveURL returns the path of http.url, else of http.uri, else the raw
// http.path tag. Empty when none is set.
func DeriveURL(tags map[string]interface{}) string {
	if u := cast.ToString(tags[TagHTTPURL]); u != "" {
		return pathOf(u)
	}
	if u := cast.ToString(tags[TagHTTPURI]); u != "" {
		return pathOf(u)
	}
	return cast.ToString(tags[TagHTTPPath])
}

func pathOf(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return raw
	}
	if u.Path == "" && u.Host != "" {
		return "/"
	}
	return u.Path
}

// DeriveComponentType returns the component tag, else the url-derived type.
func DeriveComponentType(tags map[string]interface{}) string {
	if c := cast.ToString(tags[TagComponent]); c != "" {
		return c
	}
	return deriveTypeFromURL(tags)
}

// DeriveEndpointType returns the url-derived type, defaulting to HTTP.
func DeriveEndpointType(tags map[string]interface{}) string {
	if t := deriveTypeFromURL(tags); t != "" {
		return t
	}
	return defaultEndpointType
}

// deriveTypeFromURL upper-cases the prefix of the first (by name) tag key
// ending in .url or .uri, e.g. jdbc.url -> JDBC. http.url and http.uri are
// consumed by DeriveURL and do not name a type.
func deriveTypeFromURL(tags map[string]interface{}) string {
	candidates := make([]string, 0, 2)
	for k := range tags {
		if k == TagHTTPURL || k == TagHTTPURI {
			continue
		}
		if strings.HasSuffix(k, ".url") || strings.HasSuffix(k, ".uri") {
			candidates = append(candidates, k)
		}
	}
	if len(candidates) == 0 {
		return ""
	}
	sort.Strings(candidates)
	return strings.ToUpper(strings.TrimSuffix(strings.TrimSuffix(candidates[0], ".url"), ".uri"))
}

// TagsToProperties turns every tag into a typed property, sorted by name.
// Values parsing as a finite number become Number, everything else Text.
func TagsToProperties(tags map[string]interface{}) []Property {
	if len(tags) == 0 {
		return nil
	}
	ret := make([]Property, 0, len(tags))
	for k, v := range tags {
		if f, ok := toNumber(v); ok {
			ret = append(ret, Property{Name: k, Value: f, Type: PropertyNumber})
			continue
		}
		ret = append(ret, Property{Name: k, Value: toText(v), Type: PropertyText})
	}
	sort.Slice(ret, func(i, j int) bool { return ret[i].Name < ret[j].Name })
	return ret
}

func toNumber(v interface{}) (float64, bool) {
	switch s := v.(type) {
	case nil, bool:
		return 0, false
	case string:
		v = strings.TrimSpace(s)
		if v == "" {
			return 0, false
		}
	}
	f, err := cast.ToFloat64E(v)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}
	return f, true
}

func toText(v interface{}) string {
	if s, err := cast.ToStringE(v); err == nil {
		return s
	}
	return fmt.Sprint(v)
}
