package osmparser

import (
	"bytes"
	"encoding/xml"
	"fmt"
	"io"
	"strconv"

	"github.com/zerebubuth/openstreetmap-cgimap-sub000/internal/apierror"
	"github.com/zerebubuth/openstreetmap-cgimap-sub000/internal/osm"
)

// xmlState is one level of the context stack from spec.md §4.1.1:
// root -> top -> {in_create|in_modify|in_delete} -> {node|way|relation} -> in_object.
type xmlState int

const (
	stateRoot xmlState = iota
	stateTop
	stateAction
	stateEntity
)

// ParseXML streams an osmChange XML document into cb, enforcing the
// structure and value-range invariants of spec.md §4.1.1 and §3.
func ParseXML(data []byte, limits Limits, cb Callback) error {
	p := &xmlParser{
		dec:    xml.NewDecoder(bytes.NewReader(data)),
		limits: limits,
		cb:     cb,
	}
	return p.run()
}

type xmlParser struct {
	dec    *xml.Decoder
	limits Limits
	cb     Callback

	state    xmlState
	op       osm.Operation
	ifUnused bool

	entityType osm.ElementType
	node       *osm.Node
	way        *osm.Way
	rel        *osm.Relation
	inEntity   bool
}

func (p *xmlParser) loc() string {
	line, col := p.dec.InputPos()
	return fmt.Sprintf("line %d, column %d", line, col)
}

func (p *xmlParser) errf(format string, args ...any) error {
	return apierror.BadRequest(format, args...).WithLocation(p.loc())
}

func (p *xmlParser) run() error {
	if err := p.cb.StartDocument(); err != nil {
		return err
	}
	rootSeen := false
	for {
		tok, err := p.dec.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			return p.errf("xml parse error: %v", err)
		}
		switch t := tok.(type) {
		case xml.StartElement:
			if !rootSeen {
				if t.Name.Local != "osmChange" {
					return p.errf("expected root element osmChange, got %s", t.Name.Local)
				}
				rootSeen = true
				p.state = stateTop
				continue
			}
			if err := p.handleStart(t); err != nil {
				return err
			}
		case xml.EndElement:
			if err := p.handleEnd(t); err != nil {
				return err
			}
		}
	}
	if !rootSeen {
		return p.errf("empty document: missing osmChange root")
	}
	return p.cb.EndDocument()
}

func (p *xmlParser) handleStart(t xml.StartElement) error {
	switch p.state {
	case stateTop:
		switch t.Name.Local {
		case "create":
			p.op, p.ifUnused = osm.OpCreate, false
		case "modify":
			p.op, p.ifUnused = osm.OpModify, false
		case "delete":
			p.op = osm.OpDelete
			p.ifUnused = attrBool(t, "if-unused")
		default:
			return p.errf("unknown action element %q", t.Name.Local)
		}
		p.state = stateAction
		return nil
	case stateAction:
		et, err := osm.ParseElementType(t.Name.Local)
		if err != nil {
			return p.errf("unknown entity type %q", t.Name.Local)
		}
		p.entityType = et
		if err := p.startEntity(t); err != nil {
			return err
		}
		p.state = stateEntity
		return nil
	case stateEntity:
		return p.handleNested(t)
	default:
		return p.errf("unexpected element %q", t.Name.Local)
	}
}

func (p *xmlParser) handleEnd(t xml.EndElement) error {
	switch p.state {
	case stateEntity:
		switch t.Name.Local {
		case "node", "way", "relation":
			if err := p.endEntity(); err != nil {
				return err
			}
			p.state = stateAction
		}
		return nil
	case stateAction:
		switch t.Name.Local {
		case "create", "modify", "delete":
			p.state = stateTop
		}
		return nil
	}
	return nil
}

func (p *xmlParser) startEntity(t xml.StartElement) error {
	id, err := attrInt64(t, "id", true)
	if err != nil {
		return p.errf("%v", err)
	}
	cs, err := attrInt64(t, "changeset", true)
	if err != nil {
		return p.errf("%v", err)
	}
	var version int64
	if p.op != osm.OpCreate {
		version, err = attrInt64(t, "version", true)
		if err != nil {
			return p.errf("%v", err)
		}
	}
	visible, visibleSet := attrBoolSet(t, "visible")

	base := osm.Element{
		ID:         osm.SignedObjectID(id),
		Changeset:  osm.ChangesetID(cs),
		Version:    osm.Version(version),
		Visible:    visible,
		VisibleSet: visibleSet,
		Tags:       osm.Tags{},
	}

	switch p.entityType {
	case osm.TypeNode:
		n := &osm.Node{Element: base}
		if lat, ok := attrFloatOpt(t, "lat"); ok {
			n.Lat, n.LatSet = lat, true
		}
		if lon, ok := attrFloatOpt(t, "lon"); ok {
			n.Lon, n.LonSet = lon, true
		}
		p.node = n
	case osm.TypeWay:
		p.way = &osm.Way{Element: base}
	case osm.TypeRelation:
		p.rel = &osm.Relation{Element: base}
	}
	p.inEntity = true
	return nil
}

func (p *xmlParser) handleNested(t xml.StartElement) error {
	switch t.Name.Local {
	case "tag":
		k, ok1 := attrString(t, "k")
		v, ok2 := attrString(t, "v")
		if !ok1 || !ok2 {
			return p.errf("tag requires both k and v attributes")
		}
		p.currentTags()[k] = v
		return p.consumeLeaf("tag")
	case "nd":
		if p.entityType != osm.TypeWay {
			return p.errf("nd only valid inside way")
		}
		ref, err := attrInt64(t, "ref", true)
		if err != nil {
			return p.errf("%v", err)
		}
		p.way.Nodes = append(p.way.Nodes, osm.SignedObjectID(ref))
		return p.consumeLeaf("nd")
	case "member":
		if p.entityType != osm.TypeRelation {
			return p.errf("member only valid inside relation")
		}
		typStr, ok := attrString(t, "type")
		if !ok {
			return p.errf("member requires type attribute")
		}
		mt, err := osm.ParseElementType(typStr)
		if err != nil {
			return p.errf("member has unknown type %q", typStr)
		}
		ref, err := attrInt64(t, "ref", true)
		if err != nil {
			return p.errf("%v", err)
		}
		role, _ := attrString(t, "role")
		p.rel.Members = append(p.rel.Members, osm.Member{
			MemberType: mt,
			Ref:        osm.SignedObjectID(ref),
			Role:       role,
			Seq:        osm.SequenceID(len(p.rel.Members)),
		})
		return p.consumeLeaf("member")
	default:
		return p.errf("unexpected nested element %q inside %s", t.Name.Local, p.entityType)
	}
}

// consumeLeaf reads and discards tokens until the matching end element for
// a self-closed or leaf child (tag/nd/member never nest further).
func (p *xmlParser) consumeLeaf(name string) error {
	for {
		tok, err := p.dec.Token()
		if err != nil {
			return p.errf("xml parse error inside %s: %v", name, err)
		}
		switch t := tok.(type) {
		case xml.EndElement:
			if t.Name.Local == name {
				return nil
			}
			return p.errf("unexpected close of %q while inside %q", t.Name.Local, name)
		case xml.StartElement:
			return p.errf("unexpected nesting inside %q: %q", name, t.Name.Local)
		}
	}
}

func (p *xmlParser) currentTags() osm.Tags {
	switch p.entityType {
	case osm.TypeNode:
		return p.node.Tags
	case osm.TypeWay:
		return p.way.Tags
	default:
		return p.rel.Tags
	}
}

func (p *xmlParser) endEntity() error {
	p.inEntity = false
	switch p.entityType {
	case osm.TypeNode:
		if err := p.node.Validate(p.op, p.limits.MaxTagsPerElement, p.limits.TagCodepoints); err != nil {
			return withLoc(err, p.loc())
		}
		n := p.node
		p.node = nil
		return p.cb.ProcessNode(n, p.op, p.op == osm.OpDelete && p.ifUnused)
	case osm.TypeWay:
		if err := p.way.Validate(p.op, p.limits.MaxTagsPerElement, p.limits.TagCodepoints, p.limits.MaxWayNodes); err != nil {
			return withLoc(err, p.loc())
		}
		w := p.way
		p.way = nil
		return p.cb.ProcessWay(w, p.op, p.op == osm.OpDelete && p.ifUnused)
	default:
		if err := p.rel.Validate(p.op, p.limits.MaxTagsPerElement, p.limits.TagCodepoints, p.limits.MaxRelationMembers); err != nil {
			return withLoc(err, p.loc())
		}
		r := p.rel
		p.rel = nil
		return p.cb.ProcessRelation(r, p.op, p.op == osm.OpDelete && p.ifUnused)
	}
}

func withLoc(err error, loc string) error {
	var ae *apierror.Error
	if e, ok := err.(*apierror.Error); ok {
		ae = e
	} else {
		return err
	}
	if ae.Location == "" {
		ae.WithLocation(loc)
	}
	return ae
}

func attrString(t xml.StartElement, name string) (string, bool) {
	for _, a := range t.Attr {
		if a.Name.Local == name {
			return a.Value, true
		}
	}
	return "", false
}

func attrInt64(t xml.StartElement, name string, required bool) (int64, error) {
	v, ok := attrString(t, name)
	if !ok {
		if required {
			return 0, fmt.Errorf("%s requires %s attribute", t.Name.Local, name)
		}
		return 0, nil
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%s attribute %s=%q is not an integer", t.Name.Local, name, v)
	}
	return n, nil
}

func attrFloatOpt(t xml.StartElement, name string) (float64, bool) {
	v, ok := attrString(t, name)
	if !ok {
		return 0, false
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, false
	}
	return f, true
}

func attrBool(t xml.StartElement, name string) bool {
	v, ok := attrString(t, name)
	if !ok {
		return false
	}
	b, _ := strconv.ParseBool(v)
	return b
}

func attrBoolSet(t xml.StartElement, name string) (bool, bool) {
	v, ok := attrString(t, name)
	if !ok {
		return false, false
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, true
	}
	return b, true
}
