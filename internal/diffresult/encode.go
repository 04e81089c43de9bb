package diffresult

import (
	"encoding/json"
	"encoding/xml"
	"strconv"
	"strings"
)

// EncodeXML renders entries as the <diffResult> document of spec.md §6.2.
func EncodeXML(entries []Entry, generator string) ([]byte, error) {
	var b strings.Builder
	b.WriteString(`<?xml version="1.0" encoding="UTF-8"?>` + "\n")
	b.WriteString(`<diffResult version="0.6" generator="`)
	xml.EscapeText(&b, []byte(generator))
	b.WriteString("\">\n")
	for _, e := range entries {
		b.WriteString("  <")
		b.WriteString(e.Type.String())
		b.WriteString(` old_id="`)
		b.WriteString(itoa(int64(e.OldID)))
		b.WriteString(`"`)
		if e.HasNewID {
			b.WriteString(` new_id="`)
			b.WriteString(itoa(int64(e.NewID)))
			b.WriteString(`"`)
		}
		if e.HasNewVersion {
			b.WriteString(` new_version="`)
			b.WriteString(itoa(int64(e.NewVersion)))
			b.WriteString(`"`)
		}
		b.WriteString("/>\n")
	}
	b.WriteString("</diffResult>\n")
	return []byte(b.String()), nil
}

func itoa(n int64) string {
	return strconv.FormatInt(n, 10)
}

// jsonEntry mirrors Entry for the JSON encoding of §6.2; fields are
// omitted (rather than emitted as null/zero) when not applicable, matching
// the XML encoding's optional-attribute behavior.
type jsonEntry struct {
	Type            string `json:"type"`
	OldID           int64  `json:"old_id"`
	NewID           *int64 `json:"new_id,omitempty"`
	NewVersion      *int64 `json:"new_version,omitempty"`
	DeletionSkipped bool   `json:"deletion_skipped,omitempty"`
}

type jsonDoc struct {
	Version   string      `json:"version"`
	Generator string      `json:"generator"`
	DiffResult []jsonEntry `json:"diffResult"`
}

// EncodeJSON renders entries as the JSON mirror of the XML diffResult document.
func EncodeJSON(entries []Entry, generator string) ([]byte, error) {
	doc := jsonDoc{Version: "0.6", Generator: generator}
	for _, e := range entries {
		je := jsonEntry{Type: e.Type.String(), OldID: int64(e.OldID), DeletionSkipped: e.DeletionSkipped}
		if e.HasNewID {
			v := int64(e.NewID)
			je.NewID = &v
		}
		if e.HasNewVersion {
			v := int64(e.NewVersion)
			je.NewVersion = &v
		}
		doc.DiffResult = append(doc.DiffResult, je)
	}
	return json.MarshalIndent(doc, "", "  ")
}
