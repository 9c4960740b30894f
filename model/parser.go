package model

import (
	"errors"
	"strings"
)

var ErrNoJSON = errors.New("no valid json found")

// ExtractJSON returns the substring between the first '{' and the last '}'.
func ExtractJSON(s string) (string, error) {
	start := strings.Index(s, "{")
	end := strings.LastIndex(s, "}")

	if start == -1 || end == -1 || end <= start {
		return s, ErrNoJSON
	}

	return s[start : end+1], nil
}
