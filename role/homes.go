package role

import "strings"

// Homes maps each role to its landing path.
type Homes map[Role]string

// DefaultHomes sends each role to a path named after it.
func DefaultHomes() Homes {
	return Homes{
		Student:  "/student",
		Teacher:  "/teacher",
		Guardian: "/guardian",
		Admin:    "/admin",
	}
}

// Path returns the landing path for r, or "/" when none is known.
func (h Homes) Path(r Role) string {
	if p, ok := h[r]; ok && p != "" {
		return p
	}
	return "/"
}

// Merge returns a copy of h with overrides applied. Override keys are parsed
// as roles and unknown roles are ignored.
func (h Homes) Merge(overrides map[string]string) Homes {
	out := make(Homes, len(h))
	for r, p := range h {
		out[r] = p
	}
	for k, p := range overrides {
		r, err := Parse(k)
		if err != nil || p == "" {
			continue
		}
		if !strings.HasPrefix(p, "/") {
			p = "/" + p
		}
		out[r] = p
	}
	return out
}
