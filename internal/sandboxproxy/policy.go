package sandboxproxy

import "regexp"

// Action is a policy decision for one host.
type Action int

const (
	Allow Action = iota
	Block
)

// Decide applies the blacklist-then-whitelist policy to host. Blacklist
// always wins: if it's non-empty and any entry matches, the result is
// Block regardless of the whitelist. An empty whitelist is an open proxy
// (everything not blacklisted is allowed); a non-empty whitelist requires
// a match to Allow.
func Decide(whitelist, blacklist []*regexp.Regexp, host string) Action {
	for _, re := range blacklist {
		if re.MatchString(host) {
			return Block
		}
	}
	if len(whitelist) == 0 {
		return Allow
	}
	for _, re := range whitelist {
		if re.MatchString(host) {
			return Allow
		}
	}
	return Block
}

// CompileList compiles each pattern as a full-match anchored regex. Patterns
// are used unchanged: callers that want substring matching must anchor
// themselves with `.*` or similar.
func CompileList(patterns []string) ([]*regexp.Regexp, error) {
	out := make([]*regexp.Regexp, 0, len(patterns))
	for _, p := range patterns {
		re, err := regexp.Compile("^" + p + "$")
		if err != nil {
			return nil, err
		}
		out = append(out, re)
	}
	return out, nil
}
