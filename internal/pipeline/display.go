package pipeline

const noResponse = "No response generated"

// DisplaySource is one numbered source line.
type DisplaySource struct {
	Index    int    `json:"index"`
	Document string `json:"document"`
	Excerpt  string `json:"excerpt,omitempty"`
}

// Display is a Response shaped for rendering.
type Display struct {
	Message   string          `json:"message"`
	Sources   []DisplaySource `json:"sources"`
	HasAnswer bool            `json:"has_answer"`
}

// FormatForDisplay numbers the sources from 1 and reports whether there is
// an answer to show.
func FormatForDisplay(resp Response) Display {
	msg := resp.Answer
	if msg == "" {
		msg = noResponse
	}

	sources := make([]DisplaySource, 0, len(resp.Attributions))
	for i, a := range resp.Attributions {
		name := a.DocumentName
		if name == "" {
			name = "Unknown"
		}
		sources = append(sources, DisplaySource{Index: i + 1, Document: name, Excerpt: a.Excerpt})
	}

	return Display{
		Message:   msg,
		Sources:   sources,
		HasAnswer: msg != noResponse,
	}
}
