package region

import (
	"strings"
)

// NameDelimiter separates the components of hierarchical key names.  Removing
// a plain key whose name ends with it removes every key under that prefix.
const NameDelimiter = ":"

// GroupID names a group of keys inside a cache.
type GroupID struct {
	Cache string `msgpack:"c"`
	Group string `msgpack:"g"`
}

// Key identifies one element of a region.  Plain keys only carry a Name.
// Grouped keys carry a GroupID and use Name as the attribute name; a grouped
// key with an empty Name stands for the whole group on removal.
type Key struct {
	Group GroupID `msgpack:"grp"`
	Name  string  `msgpack:"name"`
}

// NewKey returns a plain key.
func NewKey(name string) Key {
	return Key{Name: name}
}

// NewGroupKey returns the key of attribute attr in group.
func NewGroupKey(cache, group, attr string) Key {
	return Key{Group: GroupID{Cache: cache, Group: group}, Name: attr}
}

// GroupWildcard returns a key that removes every attribute of group.
func GroupWildcard(cache, group string) Key {
	return Key{Group: GroupID{Cache: cache, Group: group}}
}

// IsGrouped reports whether k belongs to a group.
func (k Key) IsGrouped() bool {
	return k.Group != GroupID{}
}

func (k Key) isPrefix() bool {
	return !k.IsGrouped() && strings.HasSuffix(k.Name, NameDelimiter)
}

func (k Key) isGroupWildcard() bool {
	return k.IsGrouped() && k.Name == ""
}

// storable reports whether an element can be put under k.  Prefixes and group
// wildcards only make sense for removal.
func (k Key) storable() bool {
	return k.Name != "" && !k.isPrefix()
}

func (k Key) String() string {
	if k.IsGrouped() {
		return "[" + k.Group.Cache + "/" + k.Group.Group + "]" + k.Name
	}
	return k.Name
}

// Element is what a region stores for a key.
type Element struct {
	Key   Key    `msgpack:"key"`
	Value []byte `msgpack:"value"`
	// CreatedAt is the unix time in nanoseconds of the put.
	CreatedAt int64 `msgpack:"created_at"`
}
