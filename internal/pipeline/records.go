package pipeline

import (
	"bytes"
	"encoding/json"

	"github.com/tidwall/gjson"

	"github.com/loykin/botexport/internal/document"
)

type parentRecord struct {
	ID     string
	Record gjson.Result
}

// parentRecords walks the parent topic. Arrays yield records keyed by the id
// path; objects yield their values keyed by the object key.
func parentRecords(doc *document.Document, s Step) []parentRecord {
	parent := doc.Get(s.Parent)
	var out []parentRecord
	switch {
	case parent.IsArray():
		for _, r := range parent.Array() {
			id := r.Get(s.idPath()).String()
			if id == "" || (s.Filter != nil && !s.Filter(r)) {
				continue
			}
			out = append(out, parentRecord{ID: id, Record: r})
		}
	case parent.IsObject():
		parent.ForEach(func(k, r gjson.Result) bool {
			if s.Filter == nil || s.Filter(r) {
				out = append(out, parentRecord{ID: k.String(), Record: r})
			}
			return true
		})
	}
	return out
}

// mapValue encodes keyed values as a JSON object in ids order.
func mapValue(ids []string, keyed map[string]document.Value) document.Value {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, id := range ids {
		if i > 0 {
			buf.WriteByte(',')
		}
		k, _ := json.Marshal(id)
		buf.Write(k)
		buf.WriteByte(':')
		buf.Write(keyed[id])
	}
	buf.WriteByte('}')
	return document.Value(buf.Bytes())
}

func listValue(items []document.Value) document.Value {
	var buf bytes.Buffer
	buf.WriteByte('[')
	for i, it := range items {
		if i > 0 {
			buf.WriteByte(',')
		}
		buf.Write(it)
	}
	buf.WriteByte(']')
	return document.Value(buf.Bytes())
}

// countItems is the array length, or the number of object keys.
func countItems(v document.Value) int {
	r := v.Result()
	switch {
	case r.IsArray():
		return len(r.Array())
	case r.IsObject():
		n := 0
		r.ForEach(func(_, _ gjson.Result) bool { n++; return true })
		return n
	default:
		return 0
	}
}

// sumLengths adds up the lengths of the arrays held by an object topic,
// such as guild_channels (guild id to channel list).
func sumLengths(doc *document.Document, topic string) int {
	n := 0
	doc.Get(topic).ForEach(func(_, v gjson.Result) bool {
		if v.IsArray() {
			n += len(v.Array())
		}
		return true
	})
	return n
}

// arrayLen is the length of an array topic, 0 otherwise.
func arrayLen(doc *document.Document, topic string) int {
	r := doc.Get(topic)
	if !r.IsArray() {
		return 0
	}
	return len(r.Array())
}
