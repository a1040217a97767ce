package urlutil

import (
	"net/url"
	"path"

	"github.com/pkg/errors"
)

// LogoutPattern is a parsed, scheme-less logout URL pattern. Its Path is
// a shell-glob, matched with path.Match, against a request's path
// component.
type LogoutPattern struct {
	Path string
}

// ParseLogoutPattern parses a configured logout glob. The pattern must be
// a relative URL (empty scheme), so that an attacker-controlled absolute
// URI in a request can never be mistaken for a configured logout pattern.
func ParseLogoutPattern(pattern string) (*LogoutPattern, error) {
	u, err := url.Parse(pattern)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to parse logout pattern %q", pattern)
	}
	if u.Scheme != "" {
		return nil, errors.Errorf("logout pattern %q must be a relative URL", pattern)
	}
	return &LogoutPattern{Path: u.Path}, nil
}

// DoesURLMatchPattern compares a request URI against a parsed logout
// pattern: the pattern's scheme must be empty (checked at parse time),
// and the request URI's path component must shell-glob-match the
// pattern's path.
func DoesURLMatchPattern(requestURI string, pattern *LogoutPattern) bool {
	if pattern == nil {
		return false
	}
	u, err := url.Parse(requestURI)
	if err != nil {
		return false
	}
	matched, err := path.Match(pattern.Path, u.Path)
	if err != nil {
		return false
	}
	return matched
}
