package endpoints

import (
	"regexp"
	"strings"
)

// RoutePattern recognizes one form of route declaration on a single line.
// Pattern must define a "path" group and may define "method" (one verb) or
// "methods" (a list of verbs). Without either, Method is used.
type RoutePattern struct {
	Name    string
	Pattern *regexp.Regexp
	Method  string
}

// route is one recognized declaration in one version of a file.
type route struct {
	method string
	path   string
	line   int
}

const anyMethod = "ANY"

var verbRe = regexp.MustCompile(`[A-Za-z]+`)

var httpVerbs = map[string]struct{}{
	"GET": {}, "POST": {}, "PUT": {}, "PATCH": {}, "DELETE": {}, "HEAD": {}, "OPTIONS": {}, "ANY": {},
}

// RoutePatterns is the ordered pattern table per language. The first
// matching pattern claims a line.
var RoutePatterns = map[string][]RoutePattern{
	"python": {
		{
			Name:    "decorator-verb",
			Pattern: regexp.MustCompile(`^\s*@(?:\w+\.)*(?P<method>(?i:get|post|put|patch|delete|head|options))\s*\(\s*[rbuf]?["'](?P<path>/[^"']*)["']`),
		},
		{
			Name:    "decorator-route",
			Pattern: regexp.MustCompile(`^\s*@(?:\w+\.)*(?:route|api_route)\s*\(\s*[rbuf]?["'](?P<path>/[^"']*)["'](?:.*?methods\s*=\s*[\[(](?P<methods>[^\])]*))?`),
			Method:  "GET",
		},
	},
	"go": {
		{
			Name:    "router-verb",
			Pattern: regexp.MustCompile(`\.(?P<method>GET|POST|PUT|PATCH|DELETE|HEAD|OPTIONS|Get|Post|Put|Patch|Delete|Head|Options)\s*\(\s*"(?P<path>/[^"]*)"`),
		},
		{
			Name:    "handle-func",
			Pattern: regexp.MustCompile(`\bHandle(?:Func)?\s*\(\s*"(?:(?P<method>[A-Z]+)\s+)?(?P<path>/[^"]*)"(?:.*?\.Methods\(\s*(?P<methods>[^)]*)\))?`),
			Method:  anyMethod,
		},
	},
	"ruby": {
		{
			Name:    "verb",
			Pattern: regexp.MustCompile(`^\s*(?P<method>get|post|put|patch|delete|head|options)\s*\(?\s*["'](?P<path>/[^"']*)["']`),
		},
		{
			Name:    "match",
			Pattern: regexp.MustCompile(`^\s*match\s*\(?\s*["'](?P<path>/[^"']*)["'](?:.*?via:\s*(?P<methods>\[[^\]]*\]|:\w+))?`),
			Method:  anyMethod,
		},
	},
}

// commentPrefixes marks lines that cannot declare a route.
var commentPrefixes = map[string]string{
	"python": "#",
	"ruby":   "#",
	"go":     "//",
}

// scanRoutes returns every route declared in source, in line order. A line
// declaring several methods yields one route per method.
func scanRoutes(language string, source []byte) []route {
	patterns := RoutePatterns[language]
	if len(patterns) == 0 || len(source) == 0 {
		return nil
	}
	comment := commentPrefixes[language]

	var routes []route
	for i, line := range strings.Split(string(source), "\n") {
		if comment != "" && strings.HasPrefix(strings.TrimSpace(line), comment) {
			continue
		}
		for _, p := range patterns {
			m := p.Pattern.FindStringSubmatch(line)
			if m == nil {
				continue
			}
			for _, method := range methodsOf(p, m) {
				routes = append(routes, route{method: method, path: group(p.Pattern, m, "path"), line: i + 1})
			}
			break
		}
	}
	return routes
}

func methodsOf(p RoutePattern, m []string) []string {
	if list := group(p.Pattern, m, "methods"); list != "" {
		var methods []string
		for _, v := range verbRe.FindAllString(list, -1) {
			v = strings.ToUpper(v)
			if _, ok := httpVerbs[v]; ok {
				methods = append(methods, v)
			}
		}
		if len(methods) > 0 {
			return methods
		}
	}
	if method := group(p.Pattern, m, "method"); method != "" {
		return []string{strings.ToUpper(method)}
	}
	return []string{p.Method}
}

func group(re *regexp.Regexp, m []string, name string) string {
	if i := re.SubexpIndex(name); i >= 0 && i < len(m) {
		return m[i]
	}
	return ""
}
