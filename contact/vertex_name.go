package contact

import (
	"strings"

	"github.com/pkg/errors"
)

// FormatVertexName renders mode ids as a tuple string: ('a', 'b'), or ('a',) for a single id.
func FormatVertexName(ids []string) string {
	quoted := make([]string, len(ids))
	for i, id := range ids {
		quoted[i] = "'" + id + "'"
	}
	if len(ids) == 1 {
		return "(" + quoted[0] + ",)"
	}
	return "(" + strings.Join(quoted, ", ") + ")"
}

// ParseVertexName is the inverse of FormatVertexName.
func ParseVertexName(name string) ([]string, error) {
	name = strings.TrimSpace(name)
	if !strings.HasPrefix(name, "(") || !strings.HasSuffix(name, ")") {
		return nil, errors.Errorf("vertex name %q is not a tuple", name)
	}
	body := strings.TrimSpace(name[1 : len(name)-1])
	body = strings.TrimSuffix(body, ",")
	if body == "" {
		return nil, nil
	}
	parts := strings.Split(body, ",")
	ids := make([]string, 0, len(parts))
	for _, part := range parts {
		part = strings.TrimSpace(part)
		if len(part) < 2 || part[0] != '\'' || part[len(part)-1] != '\'' {
			return nil, errors.Errorf("vertex name %q has an unquoted element %q", name, part)
		}
		ids = append(ids, part[1:len(part)-1])
	}
	return ids, nil
}

// BodiesOfMode returns the two body names of a mode id such as IC|obj0_f3-rob0_v0.
func BodiesOfMode(id string) (string, string, error) {
	_, pair, ok := strings.Cut(id, "|")
	if !ok {
		return "", "", errors.Errorf("mode id %q has no kind prefix", id)
	}
	a, b, ok := strings.Cut(pair, "-")
	if !ok {
		return "", "", errors.Errorf("mode id %q has no location pair", id)
	}
	bodyOf := func(loc string) (string, error) {
		i := strings.LastIndex(loc, "_")
		if i <= 0 {
			return "", errors.Errorf("location %q of mode %q has no body", loc, id)
		}
		return loc[:i], nil
	}
	bodyA, err := bodyOf(a)
	if err != nil {
		return "", "", err
	}
	bodyB, err := bodyOf(b)
	if err != nil {
		return "", "", err
	}
	return bodyA, bodyB, nil
}
