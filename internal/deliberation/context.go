package deliberation

import "strings"

// Context accumulates stage outputs shared with all later stages and the
// debate phases. Sections are pure accumulation: appended in execution
// order, never overwritten.
type Context struct {
	sections []Section
}

// Section is one named contribution to the shared context
type Section struct {
	Name    string
	Content string
}

// NewContext creates an empty shared context
func NewContext() *Context {
	return &Context{}
}

// Append adds a section. Duplicate names are allowed and preserved; later
// sections never replace earlier ones.
func (c *Context) Append(name, content string) {
	c.sections = append(c.sections, Section{Name: name, Content: content})
}

// Sections returns the accumulated sections in order
func (c *Context) Sections() []Section {
	out := make([]Section, len(c.sections))
	copy(out, c.sections)
	return out
}

// Len returns the number of accumulated sections
func (c *Context) Len() int {
	return len(c.sections)
}

// Render flattens the context into a single prompt-ready document
func (c *Context) Render() string {
	var b strings.Builder
	for i, s := range c.sections {
		if i > 0 {
			b.WriteString("\n\n")
		}
		b.WriteString("## ")
		b.WriteString(s.Name)
		b.WriteString("\n")
		b.WriteString(s.Content)
	}
	return b.String()
}
