// Package xmltext extracts XML islands from free-form LLM output. Model
// responses mix prose with tool-call and workflow-trigger elements, so a
// strict XML decoder is useless here; extraction works on registered tag
// names with lenient, position-ordered matching.
package xmltext

import (
	"regexp"
	"sort"
	"strings"
	"sync"
)

// Child is one direct child element of an extracted element. Text is the
// raw inner content, markup included when the child itself nests elements.
type Child struct {
	Name string
	Text string
}

// Element is one extracted top-level XML element.
type Element struct {
	Name     string
	Raw      string
	Start    int
	End      int
	Attrs    map[string]string
	Children []Child

	// Text is the inner content when the element has no child elements.
	Text string
}

var (
	patternMu    sync.Mutex
	patternCache = map[string]*regexp.Regexp{}

	attrPattern  = regexp.MustCompile(`([\w-]+)\s*=\s*['"]([^'"]*)['"]`)
	childPattern = regexp.MustCompile(`(?s)<([\w-]+)(?:\s[^>]*)?>(.*?)</([\w-]+)\s*>|<([\w-]+)(?:\s[^>]*)?/>`)
)

// elementPattern matches both the paired and the self-closing form of one
// tag name. Group 1 holds the attribute text, group 2 the inner content.
func elementPattern(name string) *regexp.Regexp {
	patternMu.Lock()
	defer patternMu.Unlock()

	if p, ok := patternCache[name]; ok {
		return p
	}
	quoted := regexp.QuoteMeta(name)
	p := regexp.MustCompile(`(?s)<` + quoted + `(\s[^>]*?)?>(.*?)</` + quoted + `\s*>|<` + quoted + `(\s[^>]*?)?/>`)
	patternCache[name] = p
	return p
}

// Extract returns every top-level occurrence of the named elements, in
// order of appearance. An occurrence nested inside an earlier match is
// dropped so a tool element inside another tool's body is not double
// extracted.
func Extract(text string, names []string) []Element {
	var found []Element
	for _, name := range names {
		p := elementPattern(name)
		for _, m := range p.FindAllStringSubmatchIndex(text, -1) {
			found = append(found, buildElement(text, name, m))
		}
	}

	sort.Slice(found, func(i, j int) bool {
		if found[i].Start != found[j].Start {
			return found[i].Start < found[j].Start
		}
		return found[i].End > found[j].End
	})

	out := found[:0]
	lastEnd := -1
	for _, el := range found {
		if el.Start < lastEnd {
			continue
		}
		out = append(out, el)
		lastEnd = el.End
	}
	return out
}

// ExtractFirst returns the first occurrence of one named element.
func ExtractFirst(text, name string) (Element, bool) {
	els := Extract(text, []string{name})
	if len(els) == 0 {
		return Element{}, false
	}
	return els[0], true
}

// buildElement assembles an Element from submatch indexes: groups 1/2 are
// the paired form, group 3 is the self-closing form's attribute text.
func buildElement(text, name string, m []int) Element {
	el := Element{
		Name:  name,
		Raw:   text[m[0]:m[1]],
		Start: m[0],
		End:   m[1],
		Attrs: map[string]string{},
	}

	attrText := ""
	if m[2] >= 0 {
		attrText = text[m[2]:m[3]]
	} else if len(m) > 6 && m[6] >= 0 {
		attrText = text[m[6]:m[7]]
	}
	for _, am := range attrPattern.FindAllStringSubmatch(attrText, -1) {
		el.Attrs[am[1]] = am[2]
	}

	if m[4] >= 0 {
		inner := text[m[4]:m[5]]
		el.Children = parseChildren(inner)
		if len(el.Children) == 0 {
			el.Text = strings.TrimSpace(inner)
		}
	}
	return el
}

// parseChildren splits inner content into direct child elements. Mismatched
// open/close pairs are skipped rather than failing the whole element.
func parseChildren(inner string) []Child {
	var children []Child
	for _, m := range childPattern.FindAllStringSubmatch(inner, -1) {
		if m[4] != "" {
			children = append(children, Child{Name: m[4]})
			continue
		}
		if m[1] != m[3] {
			continue
		}
		children = append(children, Child{Name: m[1], Text: strings.TrimSpace(m[2])})
	}
	return children
}

// Args converts an element's children into a tool argument map. Repeated
// child names accumulate into a list; an element without children yields an
// empty map.
func Args(el Element) map[string]any {
	args := make(map[string]any, len(el.Children))
	for _, c := range el.Children {
		existing, ok := args[c.Name]
		if !ok {
			args[c.Name] = c.Text
			continue
		}
		if list, isList := existing.([]any); isList {
			args[c.Name] = append(list, c.Text)
		} else {
			args[c.Name] = []any{existing, c.Text}
		}
	}
	return args
}

// ChildText returns the text of the first child with the given name.
func (e Element) ChildText(name string) (string, bool) {
	for _, c := range e.Children {
		if c.Name == name {
			return c.Text, true
		}
	}
	return "", false
}

// Strip removes the element's raw text from the input.
func Strip(text string, el Element) string {
	return text[:el.Start] + text[el.End:]
}
