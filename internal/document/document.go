// Package document holds the aggregate export: an ordered mapping from topic
// to JSON fragment. Order is first insertion; a later Set replaces in place.
package document

import (
	"bytes"
	"encoding/json"
	"io"

	"github.com/tidwall/gjson"
	"gopkg.in/yaml.v3"
)

// Document is not safe for concurrent use; the pipeline driver owns it.
type Document struct {
	keys []string
	vals map[string]Value
}

func New() *Document {
	return &Document{vals: make(map[string]Value)}
}

// Set inserts or overwrites the fragment for topic.
func (d *Document) Set(topic string, v Value) {
	if _, ok := d.vals[topic]; !ok {
		d.keys = append(d.keys, topic)
	}
	d.vals[topic] = v
}

// Value returns the stored fragment.
func (d *Document) Value(topic string) (Value, bool) {
	v, ok := d.vals[topic]
	return v, ok
}

// Get returns the fragment as a gjson.Result; the result does not exist when absent.
func (d *Document) Get(topic string) gjson.Result {
	v, ok := d.vals[topic]
	if !ok {
		return gjson.Result{}
	}
	return v.Result()
}

// GetOr returns the fragment or def when the topic is absent.
func (d *Document) GetOr(topic string, def Value) Value {
	if v, ok := d.vals[topic]; ok {
		return v
	}
	return def
}

func (d *Document) Has(topic string) bool {
	_, ok := d.vals[topic]
	return ok
}

// Topics returns the topics in insertion order.
func (d *Document) Topics() []string {
	out := make([]string, len(d.keys))
	copy(out, d.keys)
	return out
}

func (d *Document) Len() int { return len(d.keys) }

func (d *Document) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, k := range d.keys {
		if i > 0 {
			buf.WriteByte(',')
		}
		kb, err := json.Marshal(k)
		if err != nil {
			return nil, err
		}
		buf.Write(kb)
		buf.WriteByte(':')
		vb, _ := d.vals[k].MarshalJSON()
		buf.Write(vb)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// EncodeJSON writes the document, indented by two spaces when pretty is set.
func (d *Document) EncodeJSON(w io.Writer, pretty bool) error {
	b, err := d.MarshalJSON()
	if err != nil {
		return err
	}
	if pretty {
		var out bytes.Buffer
		if err := json.Indent(&out, b, "", "  "); err != nil {
			return err
		}
		b = out.Bytes()
	}
	if _, err := w.Write(b); err != nil {
		return err
	}
	_, err = w.Write([]byte("\n"))
	return err
}

// MarshalYAML renders the document as a block style mapping in topic order.
func (d *Document) MarshalYAML() (any, error) {
	b, err := d.MarshalJSON()
	if err != nil {
		return nil, err
	}
	var root yaml.Node
	if err := yaml.Unmarshal(b, &root); err != nil {
		return nil, err
	}
	if root.Kind != yaml.DocumentNode || len(root.Content) == 0 {
		return &yaml.Node{Kind: yaml.MappingNode, Tag: "!!map"}, nil
	}
	plain(root.Content[0])
	return root.Content[0], nil
}

// EncodeYAML writes the document as YAML.
func (d *Document) EncodeYAML(w io.Writer) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(d); err != nil {
		return err
	}
	return enc.Close()
}

// plain drops the flow and quoting styles inherited from the JSON source so
// the encoder picks block style and quotes only where needed.
func plain(n *yaml.Node) {
	n.Style = 0
	for _, c := range n.Content {
		plain(c)
	}
}

// UnmarshalJSON rebuilds a document from a JSON object, keeping key order.
func (d *Document) UnmarshalJSON(b []byte) error {
	if !gjson.ValidBytes(b) {
		return errInvalidJSON
	}
	r := gjson.ParseBytes(b)
	if !r.IsObject() {
		return errInvalidJSON
	}
	nd := New()
	var bad bool
	r.ForEach(func(k, v gjson.Result) bool {
		val, err := FromRaw([]byte(v.Raw))
		if err != nil {
			bad = true
			return false
		}
		nd.Set(k.String(), val)
		return true
	})
	if bad {
		return errInvalidJSON
	}
	*d = *nd
	return nil
}
