// Package httpgw is the inbound HTTP boundary: CORS, header propagation,
// and content negotiation in front of the gateway handler.
//
// cors.go is grounded on original_source/bin/router/src/pipeline/cors.rs:
// a global policy with optional per-origin overrides, `allow_any_origin`
// short-circuiting straight to the global policy, preflight answered with
// 204 plus the same header set, `null` for unmatched origins, and `Vary`
// accumulated rather than overwritten. Origin matching uses the standard
// library's regexp instead of a third-party regex engine: the corpus's
// only regex usage (the Rust original's regex_automata) has no equivalent
// import anywhere in the example pack, and Go's regexp covers the same
// anchored-pattern-matching need the config surface asks for.
package httpgw

import (
	"net/http"
	"regexp"
	"strconv"
	"strings"
)

// PolicyConfig is one named origin policy: exact origins, optional regex
// patterns, and the header values it contributes.
type PolicyConfig struct {
	Origins          []string `yaml:"origins"`
	MatchOrigin      []string `yaml:"match_origin"`
	Methods          []string `yaml:"methods"`
	AllowHeaders     []string `yaml:"allow_headers"`
	ExposeHeaders    []string `yaml:"expose_headers"`
	AllowCredentials bool     `yaml:"allow_credentials"`
	MaxAge           int      `yaml:"max_age"`
}

// Config is the top-level CORS configuration surface.
type Config struct {
	Enabled          bool           `yaml:"enable" default:"false"`
	AllowAnyOrigin   bool           `yaml:"allow_any_origin" default:"false"`
	Methods          []string       `yaml:"methods"`
	AllowHeaders     []string       `yaml:"allow_headers"`
	ExposeHeaders    []string       `yaml:"expose_headers"`
	AllowCredentials bool           `yaml:"allow_credentials"`
	MaxAge           int            `yaml:"max_age"`
	Policies         []PolicyConfig `yaml:"policies"`
}

type compiledPolicy struct {
	methods          string
	allowHeaders     string
	exposeHeaders    string
	allowCredentials bool
	maxAge           string
}

func compilePolicy(p PolicyConfig, global compiledPolicy) compiledPolicy {
	out := compiledPolicy{
		methods:          headerValueFromList(p.Methods),
		allowHeaders:     headerValueFromList(p.AllowHeaders),
		exposeHeaders:    headerValueFromList(p.ExposeHeaders),
		allowCredentials: p.AllowCredentials || global.allowCredentials,
		maxAge:           global.maxAge,
	}
	if out.methods == "" {
		out.methods = global.methods
	}
	if out.allowHeaders == "" {
		out.allowHeaders = global.allowHeaders
	}
	if out.exposeHeaders == "" {
		out.exposeHeaders = global.exposeHeaders
	}
	if p.MaxAge > 0 {
		out.maxAge = strconv.Itoa(p.MaxAge)
	}
	return out
}

func (p compiledPolicy) applyTo(r *http.Request, headers http.Header, origin string) {
	headers.Set("Access-Control-Allow-Origin", origin)
	if origin != "null" {
		appendVary(headers, "Origin")
	}

	if p.methods != "" {
		headers.Set("Access-Control-Allow-Methods", p.methods)
	} else if reqMethod := r.Header.Get("Access-Control-Request-Method"); reqMethod != "" {
		headers.Set("Access-Control-Allow-Methods", reqMethod)
	}

	if p.allowHeaders != "" {
		headers.Set("Access-Control-Allow-Headers", p.allowHeaders)
	} else if reqHeaders := r.Header.Get("Access-Control-Request-Headers"); reqHeaders != "" {
		headers.Set("Access-Control-Allow-Headers", reqHeaders)
		appendVary(headers, "Access-Control-Request-Headers")
	}

	if p.allowCredentials {
		headers.Set("Access-Control-Allow-Credentials", "true")
	}
	if p.exposeHeaders != "" {
		headers.Set("Access-Control-Expose-Headers", p.exposeHeaders)
	}
	if p.maxAge != "" {
		headers.Set("Access-Control-Max-Age", p.maxAge)
	}
}

type originRule struct {
	origins []string
	pattern *regexp.Regexp
	policy  compiledPolicy
}

func (r *originRule) matches(origin string) bool {
	for _, o := range r.origins {
		if o == origin {
			return true
		}
	}
	return r.pattern != nil && r.pattern.MatchString(origin)
}

// CORS is the compiled CORS engine: either allow-any-origin (a single
// global policy applied to every request) or a set of per-origin rules
// matched in declaration order.
type CORS struct {
	allowAll   bool
	global     compiledPolicy
	rules      []*originRule
}

// Compile builds a CORS engine from cfg, or returns nil (no CORS applied)
// when cfg is disabled or carries no usable policy.
func Compile(cfg Config) (*CORS, error) {
	if !cfg.Enabled {
		return nil, nil
	}

	global := compiledPolicy{
		methods:          headerValueFromList(cfg.Methods),
		allowHeaders:     headerValueFromList(cfg.AllowHeaders),
		exposeHeaders:    headerValueFromList(cfg.ExposeHeaders),
		allowCredentials: cfg.AllowCredentials,
	}
	if cfg.MaxAge > 0 {
		global.maxAge = strconv.Itoa(cfg.MaxAge)
	}

	if cfg.AllowAnyOrigin {
		return &CORS{allowAll: true, global: global}, nil
	}

	var rules []*originRule
	for _, p := range cfg.Policies {
		var pattern *regexp.Regexp
		if len(p.MatchOrigin) > 0 {
			combined := "(?:" + strings.Join(p.MatchOrigin, ")|(?:") + ")"
			re, err := regexp.Compile(combined)
			if err != nil {
				return nil, err
			}
			pattern = re
		}
		rules = append(rules, &originRule{
			origins: p.Origins,
			pattern: pattern,
			policy:  compilePolicy(p, global),
		})
	}

	if len(rules) == 0 {
		return nil, nil
	}

	return &CORS{rules: rules, global: global}, nil
}

func (c *CORS) findPolicy(origin string) (compiledPolicy, bool) {
	if c.allowAll {
		return c.global, true
	}
	for _, r := range c.rules {
		if r.matches(origin) {
			return r.policy, true
		}
	}
	return compiledPolicy{}, false
}

// EarlyResponse answers an OPTIONS preflight with 204 and the CORS
// headers, reporting true when it handled the request.
func (c *CORS) EarlyResponse(w http.ResponseWriter, r *http.Request) bool {
	if r.Method != http.MethodOptions {
		return false
	}
	c.SetHeaders(r, w.Header())
	w.Header().Set("Content-Length", "0")
	w.WriteHeader(http.StatusNoContent)
	return true
}

// SetHeaders applies the matched origin's policy (or "null" for an
// unmatched origin) to headers. A no-op when the request carries no
// Origin header.
func (c *CORS) SetHeaders(r *http.Request, headers http.Header) {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return
	}

	if policy, ok := c.findPolicy(origin); ok {
		policy.applyTo(r, headers, origin)
		return
	}

	headers.Set("Access-Control-Allow-Origin", "null")
}

func headerValueFromList(values []string) string {
	if len(values) == 0 {
		return ""
	}
	return strings.Join(values, ", ")
}

func appendVary(headers http.Header, token string) {
	existing := headers.Get("Vary")
	if existing == "" {
		headers.Set("Vary", token)
		return
	}
	for _, t := range strings.Split(existing, ",") {
		if strings.EqualFold(strings.TrimSpace(t), token) {
			return
		}
	}
	headers.Set("Vary", existing+", "+token)
}
