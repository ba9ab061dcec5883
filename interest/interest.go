// Package interest implements the predicate language over instance.Info
// used to filter registry snapshots and notification streams.
package interest

import "fleetreg/instance"

// Well-known attribute tags the atomic interests match against. The core
// registry only cares that these keys exist in an Info's attribute bag; it
// assigns them no other meaning.
const (
	AttrAppName    = "appName"
	AttrVipAddress = "vipAddress"
)

// Interest is a pure, side-effect-free predicate over instance.Info.
type Interest struct {
	name  string
	match func(instance.Info) bool
}

// Matches reports whether info satisfies the interest.
func (i Interest) Matches(info instance.Info) bool {
	if i.match == nil {
		return false
	}
	return i.match(info)
}

// String names the interest for logging.
func (i Interest) String() string {
	if i.name == "" {
		return "Interest(anonymous)"
	}
	return i.name
}

// Full matches every instance.
func Full() Interest {
	return Interest{name: "Full", match: func(instance.Info) bool { return true }}
}

// None matches no instance.
func None() Interest {
	return Interest{name: "None", match: func(instance.Info) bool { return false }}
}

// ById matches the instance whose ID equals id.
func ById(id string) Interest {
	return Interest{
		name:  "ById(" + id + ")",
		match: func(info instance.Info) bool { return info.ID == id },
	}
}

// ByAppName matches instances whose AttrAppName attribute equals name.
func ByAppName(name string) Interest {
	return Interest{
		name: "ByAppName(" + name + ")",
		match: func(info instance.Info) bool {
			v, ok := info.Attribute(AttrAppName)
			if !ok {
				return false
			}
			s, ok := v.(string)
			return ok && s == name
		},
	}
}

// ByVipAddress matches instances whose AttrVipAddress attribute equals vip.
func ByVipAddress(vip string) Interest {
	return Interest{
		name: "ByVipAddress(" + vip + ")",
		match: func(info instance.Info) bool {
			v, ok := info.Attribute(AttrVipAddress)
			if !ok {
				return false
			}
			s, ok := v.(string)
			return ok && s == vip
		},
	}
}

// Or combines interests disjunctively: the result matches an instance iff
// any one of interests matches it. Or() with no arguments is equivalent to
// None.
func Or(interests ...Interest) Interest {
	cp := make([]Interest, len(interests))
	copy(cp, interests)
	return Interest{
		name: "Or(...)",
		match: func(info instance.Info) bool {
			for _, in := range cp {
				if in.Matches(info) {
					return true
				}
			}
			return false
		},
	}
}
