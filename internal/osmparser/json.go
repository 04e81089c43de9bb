package osmparser

import (
	"encoding/json"
	"fmt"

	"github.com/zerebubuth/openstreetmap-cgimap-sub000/internal/apierror"
	"github.com/zerebubuth/openstreetmap-cgimap-sub000/internal/osm"
)

type jsonDocument struct {
	Version   string            `json:"version"`
	Generator string            `json:"generator"`
	OsmChange []json.RawMessage `json:"osmChange"`
}

type jsonMember struct {
	Type string  `json:"type"`
	Ref  int64   `json:"ref"`
	Role *string `json:"role"`
}

type jsonElement struct {
	Type      string             `json:"type"`
	Action    string             `json:"action"`
	ID        int64              `json:"id"`
	Changeset int64              `json:"changeset"`
	IfUnused  *bool              `json:"if-unused"`
	Version   *int64             `json:"version"`
	Lat       *float64           `json:"lat"`
	Lon       *float64           `json:"lon"`
	Tags      map[string]string  `json:"tags"`
	Nodes     []int64            `json:"nodes"`
	Members   []jsonMember       `json:"members"`
}

// ParseJSON streams an osmChange JSON document into cb, enforcing the
// structure and per-type exclusivity rules of spec.md §4.1.2.
func ParseJSON(data []byte, limits Limits, cb Callback) error {
	var doc jsonDocument
	if err := json.Unmarshal(data, &doc); err != nil {
		return apierror.BadRequest("invalid JSON document: %v", err)
	}
	if doc.Version != "0.6" {
		return apierror.BadRequest("osmChange version must be \"0.6\", got %q", doc.Version)
	}

	if err := cb.StartDocument(); err != nil {
		return err
	}

	for i, raw := range doc.OsmChange {
		// presence map lets us distinguish "field absent" from "field present with zero value".
		var presence map[string]json.RawMessage
		if err := json.Unmarshal(raw, &presence); err != nil {
			return apierror.BadRequest("osmChange[%d]: invalid element: %v", i, err)
		}
		var el jsonElement
		if err := json.Unmarshal(raw, &el); err != nil {
			return apierror.BadRequest("osmChange[%d]: invalid element: %v", i, err)
		}

		op, err := parseAction(el.Action)
		if err != nil {
			return apierror.BadRequest("osmChange[%d]: %v", i, err).WithLocation(fmt.Sprintf("element %d", i))
		}
		et, err := osm.ParseElementType(el.Type)
		if err != nil {
			return apierror.BadRequest("osmChange[%d]: %v", i, err).WithLocation(fmt.Sprintf("element %d", i))
		}

		if _, ok := presence["if-unused"]; ok && op != osm.OpDelete {
			return apierror.BadRequest("osmChange[%d]: if-unused only valid on delete", i)
		}
		if _, ok := presence["lat"]; ok && et != osm.TypeNode {
			return apierror.BadRequest("osmChange[%d]: lat only valid on node", i)
		}
		if _, ok := presence["lon"]; ok && et != osm.TypeNode {
			return apierror.BadRequest("osmChange[%d]: lon only valid on node", i)
		}
		if _, ok := presence["nodes"]; ok && et != osm.TypeWay {
			return apierror.BadRequest("osmChange[%d]: nodes only valid on way", i)
		}
		if _, ok := presence["members"]; ok && et != osm.TypeRelation {
			return apierror.BadRequest("osmChange[%d]: members only valid on relation", i)
		}
		if et == osm.TypeRelation && op != osm.OpDelete {
			if _, ok := presence["members"]; !ok {
				return apierror.BadRequest("osmChange[%d]: members required on relation %s", i, op)
			}
		}
		if et == osm.TypeRelation && op == osm.OpDelete {
			if _, ok := presence["members"]; ok {
				return apierror.BadRequest("osmChange[%d]: members forbidden on relation delete", i)
			}
		}

		ifUnused := false
		if el.IfUnused != nil {
			ifUnused = *el.IfUnused
		}

		version := int64(0)
		if el.Version != nil {
			version = *el.Version
		} else if op != osm.OpCreate {
			return apierror.BadRequest("osmChange[%d]: version required on %s", i, op)
		}

		base := osm.Element{
			ID:        osm.SignedObjectID(el.ID),
			Changeset: osm.ChangesetID(el.Changeset),
			Version:   osm.Version(version),
			Tags:      osm.Tags(el.Tags),
		}

		switch et {
		case osm.TypeNode:
			n := &osm.Node{Element: base}
			if el.Lat != nil {
				n.Lat, n.LatSet = *el.Lat, true
			}
			if el.Lon != nil {
				n.Lon, n.LonSet = *el.Lon, true
			}
			if err := n.Validate(op, limits.MaxTagsPerElement, limits.TagCodepoints); err != nil {
				return withLoc(err, fmt.Sprintf("element %d", i))
			}
			if err := cb.ProcessNode(n, op, op == osm.OpDelete && ifUnused); err != nil {
				return err
			}
		case osm.TypeWay:
			w := &osm.Way{Element: base}
			for _, nd := range el.Nodes {
				w.Nodes = append(w.Nodes, osm.SignedObjectID(nd))
			}
			if err := w.Validate(op, limits.MaxTagsPerElement, limits.TagCodepoints, limits.MaxWayNodes); err != nil {
				return withLoc(err, fmt.Sprintf("element %d", i))
			}
			if err := cb.ProcessWay(w, op, op == osm.OpDelete && ifUnused); err != nil {
				return err
			}
		case osm.TypeRelation:
			r := &osm.Relation{Element: base}
			for seq, m := range el.Members {
				mt, err := osm.ParseElementType(m.Type)
				if err != nil {
					return apierror.BadRequest("osmChange[%d]: member %d has unknown type %q", i, seq, m.Type)
				}
				role := ""
				if m.Role != nil {
					role = *m.Role
				}
				r.Members = append(r.Members, osm.Member{
					MemberType: mt,
					Ref:        osm.SignedObjectID(m.Ref),
					Role:       role,
					Seq:        osm.SequenceID(seq),
				})
			}
			if err := r.Validate(op, limits.MaxTagsPerElement, limits.TagCodepoints, limits.MaxRelationMembers); err != nil {
				return withLoc(err, fmt.Sprintf("element %d", i))
			}
			if err := cb.ProcessRelation(r, op, op == osm.OpDelete && ifUnused); err != nil {
				return err
			}
		}
	}

	return cb.EndDocument()
}

func parseAction(s string) (osm.Operation, error) {
	switch s {
	case "create":
		return osm.OpCreate, nil
	case "modify":
		return osm.OpModify, nil
	case "delete":
		return osm.OpDelete, nil
	default:
		return 0, fmt.Errorf("unknown action %q", s)
	}
}
