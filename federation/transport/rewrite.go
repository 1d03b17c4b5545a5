package transport

// ValueSetter rewrites one path within a representation before dispatch,
// used for @interfaceObject subgraphs that expect the interface's
// __typename rather than the concrete entity's. Path segments alternate
// between TypenameEquals guards and Key lookups.
type ValueSetter struct {
	Path       []PathSegment
	SetValueTo interface{}
}

type SegmentKind int

const (
	SegmentTypenameEquals SegmentKind = iota
	SegmentKey
)

type PathSegment struct {
	Kind SegmentKind
	Name string
}

func TypenameEquals(name string) PathSegment { return PathSegment{Kind: SegmentTypenameEquals, Name: name} }
func Key(name string) PathSegment            { return PathSegment{Kind: SegmentKey, Name: name} }

// ApplyRewrites runs every setter against every representation, mutating
// matching maps in place.
func ApplyRewrites(representations []interface{}, setters []ValueSetter) {
	for _, rep := range representations {
		m, ok := rep.(map[string]interface{})
		if !ok {
			continue
		}
		for _, s := range setters {
			applyOne(m, s.Path, s.SetValueTo)
		}
	}
}

func applyOne(m map[string]interface{}, path []PathSegment, value interface{}) {
	if len(path) == 0 {
		return
	}

	seg := path[0]
	switch seg.Kind {
	case SegmentTypenameEquals:
		typename, _ := m["__typename"].(string)
		if typename != seg.Name {
			return
		}
		if len(path) == 1 {
			return
		}
		applyOne(m, path[1:], value)

	case SegmentKey:
		if len(path) == 1 {
			m[seg.Name] = value
			return
		}
		next, ok := m[seg.Name].(map[string]interface{})
		if !ok {
			return
		}
		applyOne(next, path[1:], value)
	}
}
