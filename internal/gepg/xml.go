package gepg

import (
	"bytes"
	"encoding/json"
	"encoding/xml"
	"fmt"
	"strings"
)

// xmlNode is a generic element tree used for tolerant parsing of inbound
// gateway payloads. The gateway nests elements differently per message
// type, so lookups search by element name anywhere under the root.
type xmlNode struct {
	XMLName xml.Name
	Content string    `xml:",chardata"`
	Nodes   []xmlNode `xml:",any"`
}

func parseTree(data []byte) (*xmlNode, error) {
	var root xmlNode
	if err := xml.Unmarshal(data, &root); err != nil {
		return nil, fmt.Errorf("parse xml: %w", err)
	}
	return &root, nil
}

// findText returns the trimmed text of the first element with the given
// local name, searched depth-first, or "" when absent.
func (n *xmlNode) findText(name string) string {
	if node := n.find(name); node != nil {
		return strings.TrimSpace(node.Content)
	}
	return ""
}

func (n *xmlNode) find(name string) *xmlNode {
	if n.XMLName.Local == name {
		return n
	}
	for i := range n.Nodes {
		if found := n.Nodes[i].find(name); found != nil {
			return found
		}
	}
	return nil
}

// findAll collects every element with the given local name.
func (n *xmlNode) findAll(name string) []*xmlNode {
	var out []*xmlNode
	if n.XMLName.Local == name {
		out = append(out, n)
	}
	for i := range n.Nodes {
		out = append(out, n.Nodes[i].findAll(name)...)
	}
	return out
}

func (n *xmlNode) toMap() any {
	if len(n.Nodes) == 0 {
		return strings.TrimSpace(n.Content)
	}
	m := make(map[string]any, len(n.Nodes))
	for i := range n.Nodes {
		child := &n.Nodes[i]
		val := child.toMap()
		if existing, ok := m[child.XMLName.Local]; ok {
			if list, ok := existing.([]any); ok {
				m[child.XMLName.Local] = append(list, val)
			} else {
				m[child.XMLName.Local] = []any{existing, val}
			}
		} else {
			m[child.XMLName.Local] = val
		}
	}
	return m
}

// XMLToJSON converts a gateway XML payload to its JSON form for storage
// in the ledger's jsonb columns. Malformed input falls back to a raw
// string wrapper so the audit trail never drops a payload.
func XMLToJSON(data []byte) json.RawMessage {
	root, err := parseTree(data)
	if err != nil {
		raw, _ := json.Marshal(map[string]string{"raw": string(data)})
		return raw
	}
	out, err := json.Marshal(map[string]any{root.XMLName.Local: root.toMap()})
	if err != nil {
		raw, _ := json.Marshal(map[string]string{"raw": string(data)})
		return raw
	}
	return out
}

// envelope wraps a serialized body element and its signature into the
// outer Gepg document.
func envelope(body []byte, signature string) []byte {
	var buf bytes.Buffer
	buf.WriteString("<Gepg>")
	buf.Write(body)
	buf.WriteString("<signature>")
	buf.WriteString(signature) // base64, no escaping needed
	buf.WriteString("</signature></Gepg>")
	return buf.Bytes()
}

// seal marshals the body, signs the serialized element and returns the
// complete signed envelope.
func seal(body any, signer Signer) ([]byte, error) {
	raw, err := xml.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("marshal payload body: %w", err)
	}
	sig, err := signer.Sign(raw)
	if err != nil {
		return nil, err
	}
	return envelope(raw, sig), nil
}
