package rbac

import (
	"strings"

	"k8s.io/apimachinery/pkg/util/sets"
)

type Checker struct {
	exact    map[string]sets.Set[string]
	prefixes map[string][]string
}

// NewChecker compiles a role policy; nil means RolePermissions.
func NewChecker(rp map[string][]string) *Checker {
	if rp == nil {
		rp = RolePermissions
	}
	c := &Checker{exact: map[string]sets.Set[string]{}, prefixes: map[string][]string{}}
	for role, perms := range rp {
		c.exact[role] = sets.New[string]()
		for _, p := range perms {
			if strings.HasSuffix(p, "*") {
				c.prefixes[role] = append(c.prefixes[role], strings.TrimSuffix(p, "*"))
				continue
			}
			c.exact[role].Insert(p)
		}
	}
	return c
}

func (c *Checker) Has(role, perm string) bool {
	if c.exact[role].Has(perm) {
		return true
	}
	for _, p := range c.prefixes[role] {
		if strings.HasPrefix(perm, p) {
			return true
		}
	}
	return false
}

func (c *Checker) Any(role string, perms ...string) bool {
	for _, p := range perms {
		if c.Has(role, p) {
			return true
		}
	}
	return false
}
