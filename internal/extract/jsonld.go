package extract

import (
	"encoding/json"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/JakeFAU/runcalcs-crawler/internal/record"
)

// node is one decoded JSON-LD object.
type node map[string]any

// jsonLDNodes decodes every ld+json block in the document and flattens arrays, @graph containers
// and ItemList entries into a single list. Blocks that are not valid JSON are skipped.
func jsonLDNodes(doc *goquery.Document) []node {
	var nodes []node
	doc.Find("script[type='application/ld+json']").Each(func(_ int, s *goquery.Selection) {
		text := strings.TrimSpace(s.Text())
		if text == "" {
			return
		}
		var data any
		if err := json.Unmarshal([]byte(text), &data); err != nil {
			return
		}
		nodes = flattenJSONLD(data, nodes)
	})
	return nodes
}

func flattenJSONLD(data any, into []node) []node {
	switch v := data.(type) {
	case []any:
		for _, item := range v {
			into = flattenJSONLD(item, into)
		}
	case map[string]any:
		n := node(v)
		if graph, ok := v["@graph"]; ok {
			into = flattenJSONLD(graph, into)
		}
		if n.is("ItemList") {
			if elements, ok := v["itemListElement"]; ok {
				into = flattenJSONLD(listItems(elements), into)
			}
			return into
		}
		if n.types() != nil {
			into = append(into, n)
		}
	}
	return into
}

// listItems unwraps ListItem wrappers so the entity they point at is visited directly.
func listItems(elements any) []any {
	list, ok := elements.([]any)
	if !ok {
		list = []any{elements}
	}
	out := make([]any, 0, len(list))
	for _, el := range list {
		m, ok := el.(map[string]any)
		if !ok {
			continue
		}
		if item, ok := m["item"]; ok {
			out = append(out, item)
			continue
		}
		out = append(out, m)
	}
	return out
}

func (n node) types() []string {
	switch v := n["@type"].(type) {
	case string:
		return []string{v}
	case []any:
		var out []string
		for _, t := range v {
			if s, ok := t.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}

// is reports whether the node carries any of the given types, ignoring a schema.org prefix.
func (n node) is(names ...string) bool {
	for _, t := range n.types() {
		t = strings.TrimPrefix(strings.TrimPrefix(t, "https://schema.org/"), "http://schema.org/")
		for _, name := range names {
			if strings.EqualFold(t, name) {
				return true
			}
		}
	}
	return false
}

// isEvent matches Event and every schema.org subtype named *Event.
func (n node) isEvent() bool {
	for _, t := range n.types() {
		if strings.HasSuffix(strings.ToLower(t), "event") {
			return true
		}
	}
	return false
}

func (n node) child(key string) node {
	switch v := n[key].(type) {
	case map[string]any:
		return node(v)
	case []any:
		for _, item := range v {
			if m, ok := item.(map[string]any); ok {
				return node(m)
			}
		}
	}
	return nil
}

// text reads a scalar field. Objects contribute their name, lists their first usable entry.
func (n node) text(key string) record.Optional[string] {
	if n == nil {
		return record.None[string]()
	}
	return scalarText(n[key])
}

func scalarText(v any) record.Optional[string] {
	switch val := v.(type) {
	case string:
		return clean(val)
	case float64:
		return record.Some(strconv.FormatFloat(val, 'f', -1, 64))
	case map[string]any:
		m := node(val)
		return m.text("name").Or(m.text("@value")).Or(m.text("url")).Or(m.text("@id"))
	case []any:
		for _, item := range val {
			if t := scalarText(item); t.Present() {
				return t
			}
		}
	}
	return record.None[string]()
}

func (n node) number(key string) (float64, bool) {
	switch v := n[key].(type) {
	case float64:
		return v, true
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		return f, err == nil
	}
	return 0, false
}

// clean collapses whitespace and treats a blank result as absent.
func clean(s string) record.Optional[string] {
	return record.Text(strings.Join(strings.Fields(s), " "))
}
